package core_test

import (
	"testing"

	"PerpFunding/internal/adapter"
	"PerpFunding/internal/event"

	"github.com/google/uuid"
)

// ============================================================================
// Test: Gateway-Driven Flow
// ============================================================================

// The order gateway routes orders to the external market and settles the
// resulting fills and mark prices into the core. This exercises the full
// path: market execution, fill translation, sequence assignment, and the
// core's position accounting.
func TestGatewayFlow_CrossedOrdersSettleIntoCore(t *testing.T) {
	c, persistCh, _ := newTestCore()
	market := adapter.NewMockPositionManager()
	market.SetMockPrice(testMarket, 256_000)
	market.SetMockTimeAndBlock(baseTime, 100)
	gateway := adapter.NewOrderGateway(market, c)

	maker := uuid.New()
	taker := uuid.New()

	processAll(t, c,
		mustDeposit(maker, 200_000_000, 0),
		mustDeposit(taker, 200_000_000, 1),
	)
	if err := gateway.MarkTick(testMarket, 255_000, baseTime, 100); err != nil {
		t.Fatalf("MarkTick failed: %v", err)
	}

	// Maker rests a short limit above the market; taker crosses it.
	if _, err := gateway.SubmitLimit(maker, testMarket, event.SideShort, 37_000_000, 260_000, 10, 0); err != nil {
		t.Fatalf("SubmitLimit failed: %v", err)
	}
	takerFill, err := gateway.SubmitMarket(taker, testMarket, event.SideLong, 37_000_000, 10, 0)
	if err != nil {
		t.Fatalf("SubmitMarket failed: %v", err)
	}
	if takerFill.Pip != 260_000 {
		t.Fatalf("taker fill pip = %d, want 260_000 (crossed the resting limit)", takerFill.Pip)
	}

	// Both legs settled at the crossed pip: notional 962_000_000, margin
	// locked at notional/leverage.
	short := c.GetPosition(maker, testMarket)
	long := c.GetPosition(taker, testMarket)
	if short == nil || long == nil {
		t.Fatal("expected open positions on both sides")
	}
	if short.Size != -37_000_000 || short.Margin != 96_200_000 {
		t.Errorf("maker position = (size %d, margin %d), want (-37_000_000, 96_200_000)", short.Size, short.Margin)
	}
	if long.Size != 37_000_000 || long.Margin != 96_200_000 {
		t.Errorf("taker position = (size %d, margin %d), want (37_000_000, 96_200_000)", long.Size, long.Margin)
	}

	// The cross moved the market; the next tick carries the new mark.
	market.SetMockTimeAndBlock(baseTime+60, 101)
	if err := gateway.MarkTick(testMarket, 255_500, baseTime+60, 101); err != nil {
		t.Fatalf("second MarkTick failed: %v", err)
	}
	mark, err := c.LatestMarkPrice(testMarket)
	if err != nil {
		t.Fatalf("LatestMarkPrice failed: %v", err)
	}
	if mark != 26_000_000 {
		t.Errorf("latest mark price = %d, want 26_000_000", mark)
	}

	// 2 deposits, 2 ticks, 2 fills
	if outputs := drainOutputs(persistCh); len(outputs) != 6 {
		t.Errorf("expected 6 outputs, got %d", len(outputs))
	}
}
