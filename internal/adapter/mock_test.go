package adapter_test

import (
	"errors"
	"testing"

	"PerpFunding/internal/adapter"
	"PerpFunding/internal/event"
)

const market = "BTC-USDT-PERP"

// ============================================================================
// Test: Scripted Prices
// ============================================================================

func TestMock_PricesRequireScripting(t *testing.T) {
	m := adapter.NewMockPositionManager()

	if _, err := m.CurrentPrice(market); !errors.Is(err, adapter.ErrNoLiquidity) {
		t.Errorf("expected ErrNoLiquidity for unscripted price, got %v", err)
	}
	if _, err := m.TwapPrice(market, 3_600); !errors.Is(err, adapter.ErrNoLiquidity) {
		t.Errorf("expected ErrNoLiquidity for unscripted twap, got %v", err)
	}

	m.SetMockPrice(market, 256_000)
	m.SetMockTwap(market, 25_600_000)

	pip, err := m.CurrentPrice(market)
	if err != nil || pip != 256_000 {
		t.Errorf("CurrentPrice = (%d, %v), want (256_000, nil)", pip, err)
	}
	twap, err := m.TwapPrice(market, 3_600)
	if err != nil || twap != 25_600_000 {
		t.Errorf("TwapPrice = (%d, %v), want (25_600_000, nil)", twap, err)
	}
}

// ============================================================================
// Test: Order Execution
// ============================================================================

func TestMock_LimitThenMarketMovesPrice(t *testing.T) {
	m := adapter.NewMockPositionManager()
	m.SetMockPrice(market, 256_000)
	m.SetMockTimeAndBlock(1_700_000_000, 42)

	// Limit rests at a higher pip
	limitFill, err := m.OpenLimit(market, event.SideShort, 37_000_000, 260_000, 10)
	if err != nil {
		t.Fatalf("OpenLimit failed: %v", err)
	}
	if limitFill.Pip != 260_000 || limitFill.Quantity != 37_000_000 {
		t.Errorf("limit fill = %+v", limitFill)
	}
	if limitFill.Timestamp != 1_700_000_000 {
		t.Errorf("fill timestamp = %d, want scripted time", limitFill.Timestamp)
	}

	// Market order crosses the resting limit and trades at its pip
	marketFill, err := m.OpenMarket(market, event.SideLong, 37_000_000, 10)
	if err != nil {
		t.Fatalf("OpenMarket failed: %v", err)
	}
	if marketFill.Pip != 260_000 {
		t.Errorf("market fill pip = %d, want 260_000 (resting limit)", marketFill.Pip)
	}
	if pip, _ := m.CurrentPrice(market); pip != 260_000 {
		t.Errorf("current pip after cross = %d, want 260_000", pip)
	}

	// Fill sequences are monotonic
	if marketFill.FillSequence <= limitFill.FillSequence {
		t.Errorf("fill sequences not monotonic: %d then %d",
			limitFill.FillSequence, marketFill.FillSequence)
	}
}

func TestMock_MarketWithoutRestingOrderFillsAtCurrent(t *testing.T) {
	m := adapter.NewMockPositionManager()
	m.SetMockPrice(market, 256_000)

	fill, err := m.OpenMarket(market, event.SideLong, 1_000_000, 10)
	if err != nil {
		t.Fatalf("OpenMarket failed: %v", err)
	}
	if fill.Pip != 256_000 {
		t.Errorf("fill pip = %d, want current 256_000", fill.Pip)
	}
}

func TestMock_InvalidLimitRejected(t *testing.T) {
	m := adapter.NewMockPositionManager()

	if _, err := m.OpenLimit(market, event.SideLong, 0, 256_000, 10); err == nil {
		t.Error("expected error for zero quantity")
	}
	if _, err := m.OpenLimit(market, event.SideLong, 1_000_000, 0, 10); err == nil {
		t.Error("expected error for zero pip")
	}
}

func TestMock_MarketWithNoPriceFails(t *testing.T) {
	m := adapter.NewMockPositionManager()
	if _, err := m.OpenMarket(market, event.SideLong, 1_000_000, 10); !errors.Is(err, adapter.ErrNoLiquidity) {
		t.Errorf("expected ErrNoLiquidity, got %v", err)
	}
}
