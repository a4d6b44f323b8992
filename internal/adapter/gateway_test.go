package adapter_test

import (
	"errors"
	"testing"

	"PerpFunding/internal/adapter"
	"PerpFunding/internal/event"

	"github.com/google/uuid"
)

// recordingProcessor captures every event the gateway emits.
type recordingProcessor struct {
	events []event.Event
	fail   error
}

func (r *recordingProcessor) ProcessEvent(evt event.Event) error {
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, evt)
	return nil
}

// ============================================================================
// Test: Fill Translation
// ============================================================================

func TestGateway_LimitFillTranslation(t *testing.T) {
	m := adapter.NewMockPositionManager()
	m.SetMockPrice(market, 256_000)
	m.SetMockTimeAndBlock(1_700_000_000, 42)
	sink := &recordingProcessor{}
	g := adapter.NewOrderGateway(m, sink)
	userID := uuid.New()

	fill, err := g.SubmitLimit(userID, market, event.SideShort, 37_000_000, 260_000, 10, 5_000)
	if err != nil {
		t.Fatalf("SubmitLimit failed: %v", err)
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	tf, ok := sink.events[0].(*event.TradeFill)
	if !ok {
		t.Fatalf("expected *event.TradeFill, got %T", sink.events[0])
	}
	if tf != fill {
		t.Error("returned fill is not the emitted event")
	}
	if tf.UserID != userID || tf.Market != market {
		t.Errorf("fill identity = (%s, %s)", tf.UserID, tf.Market)
	}
	if tf.TradeSide != event.SideShort || tf.Quantity != 37_000_000 || tf.Pip != 260_000 {
		t.Errorf("fill execution = (side %d, qty %d, pip %d)", tf.TradeSide, tf.Quantity, tf.Pip)
	}
	if tf.Leverage != 10 || tf.Fee != 5_000 {
		t.Errorf("fill terms = (leverage %d, fee %d)", tf.Leverage, tf.Fee)
	}
	if tf.SignedQuantity() != -37_000_000 {
		t.Errorf("signed quantity = %d, want -37_000_000", tf.SignedQuantity())
	}
	if tf.FillSequence != 0 {
		t.Errorf("first fill sequence = %d, want 0", tf.FillSequence)
	}
	if tf.Timestamp.Unix() != 1_700_000_000 {
		t.Errorf("timestamp = %d, want scripted time", tf.Timestamp.Unix())
	}
	if tf.OrderID == uuid.Nil || tf.FillID == uuid.Nil {
		t.Error("order and fill IDs must be assigned")
	}
}

func TestGateway_MarketOrderCrossesRestingLimit(t *testing.T) {
	m := adapter.NewMockPositionManager()
	m.SetMockPrice(market, 256_000)
	m.SetMockTimeAndBlock(1_700_000_000, 42)
	sink := &recordingProcessor{}
	g := adapter.NewOrderGateway(m, sink)

	if _, err := g.SubmitLimit(uuid.New(), market, event.SideShort, 37_000_000, 260_000, 10, 0); err != nil {
		t.Fatalf("SubmitLimit failed: %v", err)
	}
	fill, err := g.SubmitMarket(uuid.New(), market, event.SideLong, 37_000_000, 10, 0)
	if err != nil {
		t.Fatalf("SubmitMarket failed: %v", err)
	}

	if fill.Pip != 260_000 {
		t.Errorf("market fill pip = %d, want resting 260_000", fill.Pip)
	}
	if fill.FillSequence != 1 {
		t.Errorf("second fill sequence = %d, want 1", fill.FillSequence)
	}
}

func TestGateway_RejectedFillPropagates(t *testing.T) {
	m := adapter.NewMockPositionManager()
	sink := &recordingProcessor{}
	g := adapter.NewOrderGateway(m, sink)

	// No scripted price: the market reports no liquidity
	if _, err := g.SubmitMarket(uuid.New(), market, event.SideLong, 1_000_000, 10, 0); !errors.Is(err, adapter.ErrNoLiquidity) {
		t.Errorf("expected ErrNoLiquidity, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("rejected order emitted %d events", len(sink.events))
	}

	// Core rejection surfaces to the caller
	m.SetMockPrice(market, 256_000)
	sink.fail = errors.New("insufficient collateral")
	if _, err := g.SubmitMarket(uuid.New(), market, event.SideLong, 1_000_000, 10, 0); err == nil {
		t.Error("expected core rejection to propagate")
	}
}

// ============================================================================
// Test: Price Ticks
// ============================================================================

func TestGateway_MarkTickSequences(t *testing.T) {
	m := adapter.NewMockPositionManager()
	m.SetMockPrice(market, 256_000)
	sink := &recordingProcessor{}
	g := adapter.NewOrderGateway(m, sink)

	if err := g.MarkTick(market, 255_000, 1_700_000_000, 100); err != nil {
		t.Fatalf("MarkTick failed: %v", err)
	}
	if err := g.MarkTick(market, 255_500, 1_700_000_060, 101); err != nil {
		t.Fatalf("MarkTick failed: %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(sink.events))
	}
	first := sink.events[0].(*event.PriceTick)
	second := sink.events[1].(*event.PriceTick)
	if first.PriceSequence != 1 || second.PriceSequence != 2 {
		t.Errorf("price sequences = (%d, %d), want (1, 2)", first.PriceSequence, second.PriceSequence)
	}
	if first.MarkPip != 256_000 || first.IndexPip != 255_000 {
		t.Errorf("first tick = (mark %d, index %d)", first.MarkPip, first.IndexPip)
	}
}

func TestGateway_MarkTickWithoutPriceFails(t *testing.T) {
	m := adapter.NewMockPositionManager()
	g := adapter.NewOrderGateway(m, &recordingProcessor{})

	if err := g.MarkTick(market, 255_000, 1_700_000_000, 100); !errors.Is(err, adapter.ErrNoLiquidity) {
		t.Errorf("expected ErrNoLiquidity, got %v", err)
	}
}
