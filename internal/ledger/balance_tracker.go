package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance directly sets an account balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// === User Balance Queries (total_balance = available + margin-locked) ===

// GetUserTotalBalance returns total balance (collateral + margin)
func (bt *BalanceTracker) GetUserTotalBalance(userID uuid.UUID, assetID AssetID) int64 {
	collateral := bt.GetBalance(NewUserAccountKey(userID, SubTypeCollateral, assetID))
	margin := bt.GetBalance(NewUserAccountKey(userID, SubTypeMargin, assetID))
	return collateral + margin
}

// GetUserAvailableBalance returns available balance (free collateral only).
// This is used for withdrawal checks and new position margin checks.
func (bt *BalanceTracker) GetUserAvailableBalance(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeCollateral, assetID))
}

// GetUserMarginBalance returns margin-locked balance
func (bt *BalanceTracker) GetUserMarginBalance(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeMargin, assetID))
}

// GetInsuranceFundBalance returns the system insurance fund balance
func (bt *BalanceTracker) GetInsuranceFundBalance(assetID AssetID) int64 {
	return bt.GetBalance(NewSystemAccountKey("insurance", SubTypeSystemInsuranceFund, assetID))
}

// === Invariant Checks ===

// ValidateAvailableNonNegative checks available_balance >= 0
func (bt *BalanceTracker) ValidateAvailableNonNegative(userID uuid.UUID, assetID AssetID) error {
	available := bt.GetUserAvailableBalance(userID, assetID)
	if available < 0 {
		return fmt.Errorf("user %s has negative available balance for asset %d: %d",
			userID.String(), assetID, available)
	}
	return nil
}

// ValidateSufficientAvailable checks if user has enough available balance
func (bt *BalanceTracker) ValidateSufficientAvailable(userID uuid.UUID, assetID AssetID, required int64) error {
	available := bt.GetUserAvailableBalance(userID, assetID)
	if available < required {
		return fmt.Errorf("insufficient available balance: have=%d, need=%d", available, required)
	}
	return nil
}

// ValidateSufficientMargin checks if user has enough locked margin to release
func (bt *BalanceTracker) ValidateSufficientMargin(userID uuid.UUID, assetID AssetID, required int64) error {
	margin := bt.GetUserMarginBalance(userID, assetID)
	if margin < required {
		return fmt.Errorf("insufficient margin balance: have=%d, need=%d", margin, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
