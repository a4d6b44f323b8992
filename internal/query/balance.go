package query

import (
	"github.com/google/uuid"
)

// BalanceResponse represents user balance state for API queries
type BalanceResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Asset  string    `json:"asset"`

	// Ledger balances (from journal entries)
	TotalBalance     int64 `json:"total_balance"`     // collateral + margin
	AvailableBalance int64 `json:"available_balance"` // free collateral only
	MarginBalance    int64 `json:"margin_balance"`    // locked as position margin

	// Derived values (computed at query time, NOT ledger balances)
	UnrealizedPnL   int64 `json:"unrealized_pnl"`   // from positions + mark prices
	PendingFunding  int64 `json:"pending_funding"`  // unreconciled funding across positions
	EffectiveEquity int64 `json:"effective_equity"` // total + unrealized_pnl + pending_funding

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last applied event sequence
}

// MarginInfo contains derived margin metrics across a user's positions.
type MarginInfo struct {
	UserID uuid.UUID `json:"user_id"`

	TotalNotional int64 `json:"total_notional"` // sum of open notionals
	TotalMM       int64 `json:"total_mm"`       // required maintenance margin

	EffectiveEquity int64 `json:"effective_equity"`
	AnyLiquidatable bool  `json:"any_liquidatable"`

	AsOfSequence int64 `json:"as_of_sequence"`
}
