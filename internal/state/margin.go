package state

import (
	"math"

	fpmath "PerpFunding/internal/math"
)

// Margin projections are pure, side-effect-free views over a reconciled
// position. They never mutate the ledger; liquidation eligibility is
// exposed as a boolean and acted upon by an external collaborator.

// EntryPrice returns the average entry price (price scale) derived from
// open notional and absolute size.
func EntryPrice(pos *Position) int64 {
	return fpmath.ComputeEntryPrice(pos.OpenNotional, pos.Size)
}

// UnrealizedPnL returns (markPrice - entryPrice) * size at quote scale.
// markPrice is at price scale. Flat positions have no PnL.
func UnrealizedPnL(pos *Position, markPrice int64) int64 {
	if pos.IsFlat() {
		return 0
	}
	return fpmath.ComputeUnrealizedPnL(markPrice, EntryPrice(pos), pos.Size)
}

// MarginBalance returns margin + unrealized PnL at quote scale. The
// position must already be reconciled for the value to be current.
func MarginBalance(pos *Position, markPrice int64) int64 {
	return pos.Margin + UnrealizedPnL(pos, markPrice)
}

// MarginRatio returns marginBalance / openNotional at ratio scale.
// Positions without notional are maximally healthy.
func MarginRatio(pos *Position, markPrice int64) int64 {
	if pos.OpenNotional == 0 {
		return math.MaxInt64
	}
	return fpmath.MulDiv(MarginBalance(pos, markPrice), fpmath.RatioConfig.Scale, pos.OpenNotional, fpmath.RoundDown)
}

// MaintenanceMargin returns openNotional * mmRatio at quote scale.
func MaintenanceMargin(pos *Position, params *RiskParams) int64 {
	return fpmath.MulDiv(pos.OpenNotional, params.MMFraction, fpmath.RatioConfig.Scale, fpmath.RoundHalfEven)
}

// Liquidatable reports whether the margin ratio has fallen below the
// market's maintenance ratio.
func Liquidatable(pos *Position, markPrice int64, params *RiskParams) bool {
	return MarginRatio(pos, markPrice) < params.MMFraction
}

// MaintenanceDetail bundles the derived margin metrics for one position,
// including the funding payment still pending reconciliation.
type MaintenanceDetail struct {
	MaintenanceMargin int64 // Quote scale
	MarginBalance     int64 // Quote scale
	MarginRatio       int64 // Ratio scale
	FundingPayment    int64 // Quote scale, pending (not yet applied)
}

// ComputeMaintenanceDetail evaluates a position at the given mark price as
// if it were reconciled now, without mutating it.
func ComputeMaintenanceDetail(
	pos *Position,
	markPrice int64,
	params *RiskParams,
	engine *FundingEngine,
) MaintenanceDetail {
	pending := engine.PendingFundingPayment(pos)

	reconciled := *pos
	reconciled.Margin += pending

	return MaintenanceDetail{
		MaintenanceMargin: MaintenanceMargin(&reconciled, params),
		MarginBalance:     MarginBalance(&reconciled, markPrice),
		MarginRatio:       MarginRatio(&reconciled, markPrice),
		FundingPayment:    pending,
	}
}
