package adapter

import (
	"errors"

	"PerpFunding/internal/event"

	"github.com/google/uuid"
)

// ErrNoLiquidity is returned when the position manager cannot produce a
// fill for the requested quantity.
var ErrNoLiquidity = errors.New("no liquidity")

// Fill is the execution result the position manager reports back.
type Fill struct {
	FillID       uuid.UUID
	Quantity     int64 // Quantity scale, positive
	Pip          int64 // Pip scale, execution price
	FillSequence int64
	Timestamp    int64 // Unix seconds
}

// PositionManager is the external market/AMM the settlement core consults
// for prices and trade execution. The core depends only on this contract,
// never on a concrete market implementation; the pricing curve itself is
// out of scope.
type PositionManager interface {
	// CurrentPrice returns the current traded price in pips.
	CurrentPrice(marketID string) (int64, error)

	// TwapPrice returns the market's internal mark TWAP over the trailing
	// window, at price scale.
	TwapPrice(marketID string, windowSeconds int64) (int64, error)

	// OpenLimit places a limit order at the given pip and returns the fill
	// once matched. Synchronous: a failure aborts the caller's operation.
	OpenLimit(marketID string, side event.Side, quantity, pip, leverage int64) (Fill, error)

	// OpenMarket executes at the best available price.
	OpenMarket(marketID string, side event.Side, quantity, leverage int64) (Fill, error)
}
