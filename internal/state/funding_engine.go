package state

import (
	"fmt"

	fpmath "PerpFunding/internal/math"
)

// FundingEngine owns one global cumulative premium fraction per market and
// settles funding lazily: PayFunding folds a period's premium into the
// global scalar in O(1), and each position is reconciled against the
// accumulated delta the next time it is touched. The engine never iterates
// positions.
type FundingEngine struct {
	cumulativePremiumFraction map[string]int64 // market_id -> rate scale
	expectedNextEpoch         map[string]int64 // market_id -> next epoch_id
	history                   map[string]*FundingSnapshot // key: "market_id:epoch_id"
}

// FundingSnapshot records the outcome of one PayFunding call.
type FundingSnapshot struct {
	MarketID                  string
	EpochID                   int64
	PremiumFraction           int64 // This period's contribution, rate scale
	FundingRate               int64 // Rate scale
	CumulativePremiumFraction int64 // Global value after this epoch
	MarkTwap                  int64 // Price scale
	IndexTwap                 int64 // Price scale
	Timestamp                 int64
}

func NewFundingEngine() *FundingEngine {
	return &FundingEngine{
		cumulativePremiumFraction: make(map[string]int64),
		expectedNextEpoch:         make(map[string]int64),
		history:                   make(map[string]*FundingSnapshot),
	}
}

// CumulativePremiumFraction returns the current global accumulator for a
// market (rate scale). Zero for markets that never paid funding.
func (fe *FundingEngine) CumulativePremiumFraction(marketID string) int64 {
	return fe.cumulativePremiumFraction[marketID]
}

// PayFunding computes the period's premium fraction from the mark and index
// TWAPs (price scale) and folds it into the global accumulator. Exactly one
// accumulator update per call; duplicate epochs are skipped, gaps rejected.
// This is the only mutator of the cumulative premium fraction.
func (fe *FundingEngine) PayFunding(
	marketID string,
	epochID int64,
	markTwap int64,
	indexTwap int64,
	fundingPeriod int64,
	timestamp int64,
) (*FundingSnapshot, error) {
	expected := fe.expectedNextEpoch[marketID]
	if epochID < expected {
		// Duplicate - skip (idempotent)
		return nil, nil
	}
	if epochID > expected {
		return nil, fmt.Errorf("funding epoch gap for %s: expected=%d, got=%d",
			marketID, expected, epochID)
	}

	premiumFraction, fundingRate, err := fpmath.ComputeFundingRate(markTwap, indexTwap, fundingPeriod)
	if err != nil {
		return nil, fmt.Errorf("funding epoch %d for %s: %w", epochID, marketID, err)
	}

	// Normalize from price-scale premium units to real price units so the
	// accumulator is independent of the feed's scale.
	normalized := fpmath.MulDiv(premiumFraction, 1, fpmath.PriceConfig.Scale, fpmath.RoundDown)
	fe.cumulativePremiumFraction[marketID] += normalized

	snap := &FundingSnapshot{
		MarketID:                  marketID,
		EpochID:                   epochID,
		PremiumFraction:           normalized,
		FundingRate:               fundingRate,
		CumulativePremiumFraction: fe.cumulativePremiumFraction[marketID],
		MarkTwap:                  markTwap,
		IndexTwap:                 indexTwap,
		Timestamp:                 timestamp,
	}
	fe.history[fundingKey(marketID, epochID)] = snap
	fe.expectedNextEpoch[marketID] = epochID + 1

	return snap, nil
}

// Reconcile applies the accumulated funding delta since the position's last
// reconciliation to its margin and advances the snapshot. Idempotent when no
// PayFunding intervened. Returns the funding payment applied (quote scale).
func (fe *FundingEngine) Reconcile(pos *Position) int64 {
	current := fe.cumulativePremiumFraction[pos.MarketID]
	delta := current - pos.LastPremiumFraction
	if delta == 0 {
		return 0
	}

	payment := fpmath.ComputeFundingPayment(delta, pos.Size)
	pos.Margin += payment
	pos.LastPremiumFraction = current
	pos.Version++
	return payment
}

// PendingFundingPayment returns the payment Reconcile would apply, without
// mutating the position.
func (fe *FundingEngine) PendingFundingPayment(pos *Position) int64 {
	delta := fe.cumulativePremiumFraction[pos.MarketID] - pos.LastPremiumFraction
	if delta == 0 {
		return 0
	}
	return fpmath.ComputeFundingPayment(delta, pos.Size)
}

// SkewAbsorption returns the quote amount the insurance fund absorbs (or
// funds) for one epoch's premium given the market's net open interest.
// Balanced open interest absorbs nothing; the sum of all position payments
// plus this amount is exactly zero.
func (fe *FundingEngine) SkewAbsorption(premiumFraction, netOpenInterest int64) int64 {
	return fpmath.ComputeFundingPayment(premiumFraction, -netOpenInterest)
}

// GetFundingSnapshot retrieves a recorded epoch.
func (fe *FundingEngine) GetFundingSnapshot(marketID string, epochID int64) (*FundingSnapshot, bool) {
	snap, ok := fe.history[fundingKey(marketID, epochID)]
	return snap, ok
}

// --- snapshot restore support ---

// RestoreCumulative directly sets the accumulator (used for snapshot restore)
func (fe *FundingEngine) RestoreCumulative(marketID string, value int64) {
	fe.cumulativePremiumFraction[marketID] = value
}

// RestoreNextEpoch directly sets the next expected epoch (used for snapshot restore)
func (fe *FundingEngine) RestoreNextEpoch(marketID string, nextEpoch int64) {
	fe.expectedNextEpoch[marketID] = nextEpoch
}

// RestoreSnapshot directly sets a funding snapshot (used for snapshot restore)
func (fe *FundingEngine) RestoreSnapshot(snap *FundingSnapshot) {
	fe.history[fundingKey(snap.MarketID, snap.EpochID)] = snap
}

// GetAllCumulative returns all accumulators (for snapshot creation)
func (fe *FundingEngine) GetAllCumulative() map[string]int64 {
	result := make(map[string]int64, len(fe.cumulativePremiumFraction))
	for k, v := range fe.cumulativePremiumFraction {
		result[k] = v
	}
	return result
}

// GetAllNextEpochs returns all next epoch IDs (for snapshot creation)
func (fe *FundingEngine) GetAllNextEpochs() map[string]int64 {
	result := make(map[string]int64, len(fe.expectedNextEpoch))
	for k, v := range fe.expectedNextEpoch {
		result[k] = v
	}
	return result
}

// GetAllSnapshots returns all funding snapshots (for snapshot creation)
func (fe *FundingEngine) GetAllSnapshots() map[string]*FundingSnapshot {
	result := make(map[string]*FundingSnapshot, len(fe.history))
	for k, v := range fe.history {
		result[k] = v
	}
	return result
}

func fundingKey(marketID string, epochID int64) string {
	return fmt.Sprintf("%s:%d", marketID, epochID)
}
