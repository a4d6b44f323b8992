package query

import "github.com/google/uuid"

// PositionResponse represents a position for API queries. Margin metrics are
// derived at query time from the latest mark price, evaluated as if the
// position's pending funding were reconciled now.
type PositionResponse struct {
	UserID              uuid.UUID `json:"user_id"`
	MarketID            string    `json:"market_id"`
	Size                int64     `json:"size"` // Signed: positive long, negative short
	Margin              int64     `json:"margin"`
	OpenNotional        int64     `json:"open_notional"`
	Leverage            int64     `json:"leverage"`
	EntryPrice          int64     `json:"entry_price"`
	RealizedPnL         int64     `json:"realized_pnl"`
	UnrealizedPnL       int64     `json:"unrealized_pnl"`
	PendingFunding      int64     `json:"pending_funding"` // Signed: positive = will receive
	MarginBalance       int64     `json:"margin_balance"`
	MarginRatio         int64     `json:"margin_ratio"` // Ratio scale
	MaintenanceMargin   int64     `json:"maintenance_margin"`
	Liquidatable        bool      `json:"liquidatable"`
	LastPremiumFraction int64     `json:"last_premium_fraction"`
	Version             int64     `json:"version"`
	AsOfSequence        int64     `json:"as_of_sequence"`
}

// FundingStateResponse represents a market's funding state for API queries.
type FundingStateResponse struct {
	MarketID                  string `json:"market_id"`
	EpochID                   int64  `json:"epoch_id"`
	PremiumFraction           int64  `json:"premium_fraction"`
	FundingRate               int64  `json:"funding_rate"`
	CumulativePremiumFraction int64  `json:"cumulative_premium_fraction"`
	MarkTwap                  int64  `json:"mark_twap"`
	IndexTwap                 int64  `json:"index_twap"`
	Timestamp                 int64  `json:"timestamp"`
	AsOfSequence              int64  `json:"as_of_sequence"`
}

// FundingPaymentResponse represents a reconciled funding payment record.
type FundingPaymentResponse struct {
	AccountPath  string `json:"account_path"`
	MarketID     string `json:"market_id"`
	EventRef     string `json:"event_ref"`
	Payment      int64  `json:"payment"` // Signed: positive = received
	Sequence     int64  `json:"sequence"`
	Timestamp    int64  `json:"timestamp"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	CurrentSequence  int64             `json:"current_sequence"`
	StateHash        string            `json:"state_hash"` // Hex-encoded chain tip
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
