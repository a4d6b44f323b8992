package projection

import (
	"context"
	"database/sql"
	"strings"
)

// FundingStateUpdate carries the per-epoch funding settlement result into
// the projection tables.
type FundingStateUpdate struct {
	MarketID                  string
	EpochID                   int64
	PremiumFraction           int64
	FundingRate               int64
	CumulativePremiumFraction int64
	MarkTwap                  int64
	IndexTwap                 int64
	Timestamp                 int64
}

// FundingProjector maintains the funding projection tables:
// projections.funding_state holds the latest cumulative premium fraction and
// the per-epoch settlement history; projections.funding_payments records
// each user's reconciled funding payment as it is journaled.
type FundingProjector struct{}

func NewFundingProjector() *FundingProjector {
	return &FundingProjector{}
}

// ProjectFundingState upserts the per-epoch settlement row.
func (fp *FundingProjector) ProjectFundingState(ctx context.Context, tx *sql.Tx, sequence int64, u *FundingStateUpdate) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.funding_state
			(market_id, epoch_id, premium_fraction, funding_rate,
			 cumulative_premium_fraction, mark_twap, index_twap, epoch_timestamp, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market_id, epoch_id) DO NOTHING
	`, u.MarketID, u.EpochID, u.PremiumFraction, u.FundingRate,
		u.CumulativePremiumFraction, u.MarkTwap, u.IndexTwap, u.Timestamp, sequence)
	return err
}

// ProjectFundingPayment records a reconciled funding payment. The journal
// entry's user side determines the sign: a debit to the user's margin account
// means the user received funding, a credit means the user paid.
func (fp *FundingProjector) ProjectFundingPayment(ctx context.Context, tx *sql.Tx, output ProjectionOutput, j JournalEntry) error {
	userAccount, payment := userSideOf(j)
	if userAccount == "" {
		return nil // Skew entries move between system accounts only
	}

	marketID := ""
	if output.MarketID != nil {
		marketID = *output.MarketID
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.funding_payments
			(account_path, market_id, event_ref, payment, sequence, payment_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_ref, account_path) DO NOTHING
	`, userAccount, marketID, j.EventRef, payment, output.Sequence, output.Timestamp)
	return err
}

// userSideOf returns the user margin account touched by a reconcile entry and
// the signed payment from the user's perspective (positive = received).
func userSideOf(j JournalEntry) (string, int64) {
	if isUserMarginAccount(j.DebitAccount) {
		return j.DebitAccount, j.Amount
	}
	if isUserMarginAccount(j.CreditAccount) {
		return j.CreditAccount, -j.Amount
	}
	return "", 0
}

func isUserMarginAccount(path string) bool {
	return strings.HasPrefix(path, "user:") && strings.Contains(path, ":margin:")
}
