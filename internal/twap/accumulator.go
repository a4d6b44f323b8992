package twap

import (
	"errors"
	"math/big"

	fpmath "PerpFunding/internal/math"
)

// ErrOutOfOrderTimestamp is returned when a snapshot arrives with a
// timestamp older than the latest recorded one for the market. The
// snapshot is rejected; history is never corrupted.
var ErrOutOfOrderTimestamp = errors.New("out of order timestamp")

// ErrNoPriceHistory is returned when a TWAP is requested for a market
// with no snapshots.
var ErrNoPriceHistory = errors.New("no price history")

// Snapshot is one (price, timestamp, blockHeight) observation. Prices are
// raw pips (PipConfig scale). Snapshots are append-only and immutable.
type Snapshot struct {
	Price       int64 // Pip scale
	Timestamp   int64 // Unix seconds
	BlockHeight int64
}

// Accumulator maintains a time-ordered snapshot log per market and answers
// trailing time-weighted average price queries. It owns the snapshot
// sequences; all other components read through TwapPrice/LatestPrice.
type Accumulator struct {
	snapshots   map[string][]Snapshot
	maxLookback int64 // Seconds of history retained by Prune; 0 = unbounded
}

func NewAccumulator(maxLookbackSeconds int64) *Accumulator {
	return &Accumulator{
		snapshots:   make(map[string][]Snapshot),
		maxLookback: maxLookbackSeconds,
	}
}

// Append records a new price snapshot for the market. Timestamps must be
// monotonically non-decreasing per market; equal timestamps are allowed
// (the later snapshot supersedes with zero weight for the earlier one).
func (a *Accumulator) Append(marketID string, price, timestamp, blockHeight int64) error {
	snaps := a.snapshots[marketID]
	if n := len(snaps); n > 0 && timestamp < snaps[n-1].Timestamp {
		return ErrOutOfOrderTimestamp
	}

	a.snapshots[marketID] = append(snaps, Snapshot{
		Price:       price,
		Timestamp:   timestamp,
		BlockHeight: blockHeight,
	})
	return nil
}

// LatestPrice returns the most recent pip price for the market.
func (a *Accumulator) LatestPrice(marketID string) (int64, error) {
	snaps := a.snapshots[marketID]
	if len(snaps) == 0 {
		return 0, ErrNoPriceHistory
	}
	return snaps[len(snaps)-1].Price, nil
}

// SnapshotCount returns the number of retained snapshots for the market.
func (a *Accumulator) SnapshotCount(marketID string) int {
	return len(a.snapshots[marketID])
}

// TwapPrice computes the time-weighted average price over the trailing
// window [asOf-windowSeconds, asOf], at PriceConfig scale. Each snapshot is
// weighted by the duration it was the current price inside the window. If
// the earliest snapshot is newer than the window start, the window is
// clamped to the earliest snapshot (partial window, no error).
func (a *Accumulator) TwapPrice(marketID string, windowSeconds, asOf int64) (int64, error) {
	snaps := a.snapshots[marketID]
	if len(snaps) == 0 {
		return 0, ErrNoPriceHistory
	}

	windowStart := asOf - windowSeconds

	weighted := big.NewInt(0)
	term := new(big.Int)
	var covered int64

	for i := len(snaps) - 1; i >= 0; i-- {
		s := snaps[i]

		end := asOf
		if i < len(snaps)-1 && snaps[i+1].Timestamp < end {
			end = snaps[i+1].Timestamp
		}
		if end <= windowStart {
			break
		}

		start := s.Timestamp
		if start < windowStart {
			start = windowStart
		}
		if start < end {
			weight := end - start
			term.SetInt64(s.Price)
			term.Mul(term, big.NewInt(weight))
			weighted.Add(weighted, term)
			covered += weight
		}

		if s.Timestamp <= windowStart {
			break
		}
	}

	if covered == 0 {
		// All snapshots are at asOf itself; fall back to the latest price.
		return fpmath.PipToPrice(snaps[len(snaps)-1].Price), nil
	}

	scaleUp := fpmath.PriceConfig.Scale / fpmath.PipConfig.Scale
	weighted.Mul(weighted, big.NewInt(scaleUp))
	return fpmath.DivideInt128(weighted, covered, fpmath.RoundDown), nil
}

// Prune drops snapshots that fell out of the max lookback window ending at
// asOf, always keeping the last snapshot preceding the cutoff so partial
// windows remain answerable.
func (a *Accumulator) Prune(marketID string, asOf int64) {
	if a.maxLookback <= 0 {
		return
	}
	snaps := a.snapshots[marketID]
	cutoff := asOf - a.maxLookback

	first := 0
	for first < len(snaps) && snaps[first].Timestamp < cutoff {
		first++
	}
	if first > 0 {
		first-- // Retain the boundary predecessor
	}
	if first > 0 {
		a.snapshots[marketID] = append([]Snapshot(nil), snaps[first:]...)
	}
}

// Restore replaces a market's snapshot history, used by snapshot recovery.
func (a *Accumulator) Restore(marketID string, snaps []Snapshot) {
	a.snapshots[marketID] = append([]Snapshot(nil), snaps...)
}

// Snapshots returns a copy of the market's snapshot history.
func (a *Accumulator) Snapshots(marketID string) []Snapshot {
	return append([]Snapshot(nil), a.snapshots[marketID]...)
}

// Markets returns all market IDs with price history.
func (a *Accumulator) Markets() []string {
	markets := make([]string, 0, len(a.snapshots))
	for m := range a.snapshots {
		markets = append(markets, m)
	}
	return markets
}
