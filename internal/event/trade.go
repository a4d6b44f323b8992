package event

import (
	"time"

	"github.com/google/uuid"
)

// Side represents trade direction
type Side int32

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

// Sign returns +1 for long, -1 for short, 0 for flat.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

func (s Side) String() string {
	switch s {
	case SideLong:
		return "Long"
	case SideShort:
		return "Short"
	default:
		return "Flat"
	}
}

// TradeFill represents a fill produced by the position manager (limit or
// market execution). Idempotency key: fill_id.
type TradeFill struct {
	FillID       uuid.UUID // Idempotency key
	UserID       uuid.UUID
	Market       string
	TradeSide    Side
	Quantity     int64     // Fixed-point: quantity scale, always positive
	Pip          int64     // Fixed-point: pip scale (raw order-book price)
	Leverage     int64
	Fee          int64     // Fixed-point: quote scale
	OrderID      uuid.UUID // Reference to originating order
	FillSequence int64     // Source sequence from the position manager
	Timestamp    time.Time // Versioned input timestamp (NOT wall-clock)
}

// SignedQuantity folds side into the quantity: positive long, negative short.
func (t *TradeFill) SignedQuantity() int64 {
	return t.TradeSide.Sign() * t.Quantity
}

func (t *TradeFill) IdempotencyKey() string {
	return t.FillID.String()
}

func (t *TradeFill) EventType() EventType {
	return EventTypeTradeFill
}

func (t *TradeFill) MarketID() *string {
	m := t.Market
	return &m
}

func (t *TradeFill) SourceSequence() int64 {
	return t.FillSequence
}
