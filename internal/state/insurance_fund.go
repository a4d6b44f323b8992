package state

// InsuranceFund absorbs what balanced open interest cannot: the funding
// skew on imbalanced markets and bankruptcy deficits. Its balance lives in
// the ledger (system:insurance_fund account); this struct provides the
// coverage arithmetic.
type InsuranceFund struct{}

func NewInsuranceFund() *InsuranceFund {
	return &InsuranceFund{}
}

// CanCoverDeficit checks if the insurance fund has enough balance to cover a deficit.
// The actual balance is read from the BalanceTracker via the system account key.
func (f *InsuranceFund) CanCoverDeficit(fundBalance int64, deficit int64) bool {
	return fundBalance >= deficit
}

// ComputeCoverage returns how much the insurance fund can cover.
// If the fund is insufficient, returns the partial amount and the remaining deficit.
func (f *InsuranceFund) ComputeCoverage(fundBalance int64, deficit int64) (covered int64, remaining int64) {
	if fundBalance >= deficit {
		return deficit, 0
	}
	return fundBalance, deficit - fundBalance
}
