package adapter

import (
	"fmt"
	"time"

	"PerpFunding/internal/event"

	"github.com/google/uuid"
)

// EventProcessor is the sink the gateway feeds translated events into.
// Satisfied by core.DeterministicCore.
type EventProcessor interface {
	ProcessEvent(evt event.Event) error
}

// OrderGateway sits between the external position manager and the
// settlement core: it routes orders to the market, translates the fills it
// reports into TradeFill events, and pushes mark prices into the core as
// PriceTick events. The gateway assigns the order identity; the market
// assigns the fill identity and execution price.
type OrderGateway struct {
	manager PositionManager
	core    EventProcessor
	// priceSeq tracks the next price sequence per market. Starts at 1 so
	// the first tick is never dropped as stale.
	priceSeq map[string]int64
}

func NewOrderGateway(manager PositionManager, core EventProcessor) *OrderGateway {
	return &OrderGateway{
		manager:  manager,
		core:     core,
		priceSeq: make(map[string]int64),
	}
}

// SubmitLimit places a limit order and settles the resulting fill into the
// core. Returns the translated fill event for callers that need the
// execution details.
func (g *OrderGateway) SubmitLimit(
	userID uuid.UUID,
	marketID string,
	side event.Side,
	quantity, pip, leverage, fee int64,
) (*event.TradeFill, error) {
	fill, err := g.manager.OpenLimit(marketID, side, quantity, pip, leverage)
	if err != nil {
		return nil, fmt.Errorf("open limit on %s: %w", marketID, err)
	}
	return g.settleFill(userID, marketID, side, leverage, fee, fill)
}

// SubmitMarket executes at the best available price and settles the fill.
func (g *OrderGateway) SubmitMarket(
	userID uuid.UUID,
	marketID string,
	side event.Side,
	quantity, leverage, fee int64,
) (*event.TradeFill, error) {
	fill, err := g.manager.OpenMarket(marketID, side, quantity, leverage)
	if err != nil {
		return nil, fmt.Errorf("open market on %s: %w", marketID, err)
	}
	return g.settleFill(userID, marketID, side, leverage, fee, fill)
}

// MarkTick reads the market's current price and feeds it to the core as a
// PriceTick. The index price comes from the caller's oracle feed, not from
// the market itself.
func (g *OrderGateway) MarkTick(marketID string, indexPip, timestamp, blockHeight int64) error {
	markPip, err := g.manager.CurrentPrice(marketID)
	if err != nil {
		return fmt.Errorf("current price on %s: %w", marketID, err)
	}

	seq := g.priceSeq[marketID]
	if seq == 0 {
		seq = 1
	}

	tick := &event.PriceTick{
		Market:         marketID,
		MarkPip:        markPip,
		IndexPip:       indexPip,
		PriceSequence:  seq,
		PriceTimestamp: timestamp,
		BlockHeight:    blockHeight,
	}
	if err := g.core.ProcessEvent(tick); err != nil {
		return fmt.Errorf("process price tick on %s: %w", marketID, err)
	}

	g.priceSeq[marketID] = seq + 1
	return nil
}

func (g *OrderGateway) settleFill(
	userID uuid.UUID,
	marketID string,
	side event.Side,
	leverage, fee int64,
	fill Fill,
) (*event.TradeFill, error) {
	evt := &event.TradeFill{
		FillID:       fill.FillID,
		UserID:       userID,
		Market:       marketID,
		TradeSide:    side,
		Quantity:     fill.Quantity,
		Pip:          fill.Pip,
		Leverage:     leverage,
		Fee:          fee,
		OrderID:      uuid.New(),
		FillSequence: fill.FillSequence,
		Timestamp:    time.Unix(fill.Timestamp, 0).UTC(),
	}
	if err := g.core.ProcessEvent(evt); err != nil {
		return nil, fmt.Errorf("settle fill %s: %w", fill.FillID, err)
	}
	return evt, nil
}
