package state

import (
	"errors"

	"github.com/google/uuid"
)

// ErrPositionNotFound is returned for operations on a closed or
// never-opened position.
var ErrPositionNotFound = errors.New("position not found")

// ErrInsufficientMargin is returned when a margin removal or fill would
// breach the maintenance requirement. The operation is rejected with no
// state change.
var ErrInsufficientMargin = errors.New("insufficient margin")

// Position is a trader's exposure in one market. Size is signed: positive
// long, negative short. A position with Size == 0 and Margin == 0 is
// closed and treated as non-existent.
type Position struct {
	UserID       uuid.UUID
	MarketID     string
	Size         int64 // Signed, quantity scale
	Margin       int64 // Quote scale
	OpenNotional int64 // Quote scale
	Leverage     int64
	RealizedPnL  int64 // Quote scale, cumulative
	// LastPremiumFraction is the cumulative premium fraction observed at
	// the last reconciliation (rate scale). Snapshotted at open so no
	// retroactive funding is owed.
	LastPremiumFraction int64
	Version             int64 // Optimistic concurrency control
}

// IsFlat returns true if the position has no exposure.
func (p *Position) IsFlat() bool {
	return p.Size == 0
}

// IsClosed returns true once both exposure and margin are gone.
func (p *Position) IsClosed() bool {
	return p.Size == 0 && p.Margin == 0
}

// SideSign returns +1 for long, -1 for short, 0 for flat.
func (p *Position) SideSign() int64 {
	switch {
	case p.Size > 0:
		return 1
	case p.Size < 0:
		return -1
	default:
		return 0
	}
}

// AbsSize returns the unsigned position size.
func (p *Position) AbsSize() int64 {
	if p.Size < 0 {
		return -p.Size
	}
	return p.Size
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	// user_id (16 bytes UUID binary)
	buf = append(buf, p.UserID[:]...)

	// market_id (length-prefixed)
	buf = append(buf, byte(len(p.MarketID)))
	buf = append(buf, []byte(p.MarketID)...)

	// size (8 bytes LE)
	buf = appendInt64LE(buf, p.Size)

	// margin (8 bytes LE)
	buf = appendInt64LE(buf, p.Margin)

	// open_notional (8 bytes LE)
	buf = appendInt64LE(buf, p.OpenNotional)

	// leverage (8 bytes LE)
	buf = appendInt64LE(buf, p.Leverage)

	// realized_pnl (8 bytes LE)
	buf = appendInt64LE(buf, p.RealizedPnL)

	// last_premium_fraction (8 bytes LE)
	buf = appendInt64LE(buf, p.LastPremiumFraction)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
