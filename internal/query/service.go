package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"PerpFunding/internal/ledger"
	"PerpFunding/internal/state"

	"github.com/google/uuid"
)

// StateReader is the read-only view of the deterministic core consumed by
// the query service. Position and margin queries read the in-memory state
// directly so they are always consistent with the last applied event;
// history queries read the Postgres projections.
type StateReader interface {
	GetUserPositions(userID uuid.UUID) []*state.Position
	MaintenanceDetail(pos *state.Position) (state.MaintenanceDetail, error)
	PendingFundingPayment(pos *state.Position) int64
	CumulativePremiumFraction(marketID string) int64
	GetFundingSnapshot(marketID string, epochID int64) *state.FundingSnapshot
	GetUserBalances(userID uuid.UUID, assetID ledger.AssetID) (total, available, margin int64)
	GetInsuranceFundBalance(assetID ledger.AssetID) int64
	GetSequence() int64
	GetStateHash() [32]byte
}

// QueryService serves read APIs. All responses include as_of_sequence for
// freshness semantics.
type QueryService struct {
	db     *sql.DB
	reader StateReader
}

func NewQueryService(db *sql.DB, reader StateReader) *QueryService {
	return &QueryService{db: db, reader: reader}
}

// GetBalance returns a user's balance for a specific asset, with unrealized
// PnL and pending funding aggregated across their open positions.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	userID uuid.UUID,
	asset string,
) (*BalanceResponse, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", asset)
	}

	total, available, margin := qs.reader.GetUserBalances(userID, assetID)

	var unrealized, pendingFunding int64
	for _, pos := range qs.reader.GetUserPositions(userID) {
		detail, err := qs.reader.MaintenanceDetail(pos)
		if err != nil {
			continue // No price yet for this market
		}
		unrealized += detail.MarginBalance - pos.Margin - detail.FundingPayment
		pendingFunding += detail.FundingPayment
	}

	return &BalanceResponse{
		UserID:           userID,
		Asset:            asset,
		TotalBalance:     total,
		AvailableBalance: available,
		MarginBalance:    margin,
		UnrealizedPnL:    unrealized,
		PendingFunding:   pendingFunding,
		EffectiveEquity:  total + unrealized + pendingFunding,
		AsOfSequence:     qs.reader.GetSequence() - 1,
	}, nil
}

// GetPositions returns all open positions for a user with derived margin
// metrics at the latest mark price.
func (qs *QueryService) GetPositions(
	ctx context.Context,
	userID uuid.UUID,
) ([]PositionResponse, error) {
	asOfSeq := qs.reader.GetSequence() - 1

	var responses []PositionResponse
	for _, pos := range qs.reader.GetUserPositions(userID) {
		resp := PositionResponse{
			UserID:              userID,
			MarketID:            pos.MarketID,
			Size:                pos.Size,
			Margin:              pos.Margin,
			OpenNotional:        pos.OpenNotional,
			Leverage:            pos.Leverage,
			EntryPrice:          state.EntryPrice(pos),
			RealizedPnL:         pos.RealizedPnL,
			LastPremiumFraction: pos.LastPremiumFraction,
			Version:             pos.Version,
			AsOfSequence:        asOfSeq,
		}

		detail, err := qs.reader.MaintenanceDetail(pos)
		if err == nil {
			resp.PendingFunding = detail.FundingPayment
			resp.MarginBalance = detail.MarginBalance
			resp.MarginRatio = detail.MarginRatio
			resp.MaintenanceMargin = detail.MaintenanceMargin
			resp.UnrealizedPnL = detail.MarginBalance - pos.Margin - detail.FundingPayment
			resp.Liquidatable = detail.MarginBalance < detail.MaintenanceMargin
		}

		responses = append(responses, resp)
	}

	return responses, nil
}

// GetMarginSnapshot returns aggregated margin metrics for a user.
func (qs *QueryService) GetMarginSnapshot(
	ctx context.Context,
	userID uuid.UUID,
) (*MarginInfo, error) {
	info := &MarginInfo{
		UserID:       userID,
		AsOfSequence: qs.reader.GetSequence() - 1,
	}

	for _, pos := range qs.reader.GetUserPositions(userID) {
		info.TotalNotional += pos.OpenNotional

		detail, err := qs.reader.MaintenanceDetail(pos)
		if err != nil {
			continue
		}
		info.TotalMM += detail.MaintenanceMargin
		info.EffectiveEquity += detail.MarginBalance
		if detail.MarginBalance < detail.MaintenanceMargin {
			info.AnyLiquidatable = true
		}
	}

	return info, nil
}

// GetFundingState returns the market's latest funding state from the
// in-memory accumulator plus the requested epoch's snapshot if settled.
func (qs *QueryService) GetFundingState(
	ctx context.Context,
	marketID string,
	epochID int64,
) (*FundingStateResponse, error) {
	asOfSeq := qs.reader.GetSequence() - 1

	snap := qs.reader.GetFundingSnapshot(marketID, epochID)
	if snap == nil {
		return &FundingStateResponse{
			MarketID:                  marketID,
			CumulativePremiumFraction: qs.reader.CumulativePremiumFraction(marketID),
			AsOfSequence:              asOfSeq,
		}, nil
	}

	return &FundingStateResponse{
		MarketID:                  snap.MarketID,
		EpochID:                   snap.EpochID,
		PremiumFraction:           snap.PremiumFraction,
		FundingRate:               snap.FundingRate,
		CumulativePremiumFraction: snap.CumulativePremiumFraction,
		MarkTwap:                  snap.MarkTwap,
		IndexTwap:                 snap.IndexTwap,
		Timestamp:                 snap.Timestamp,
		AsOfSequence:              asOfSeq,
	}, nil
}

// GetFundingEpochs returns the settled funding epochs for a market from the
// projection tables, newest first. Supports cursor-based pagination.
func (qs *QueryService) GetFundingEpochs(
	ctx context.Context,
	marketID string,
	limit int,
	beforeEpoch *int64,
) ([]FundingStateResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT market_id, epoch_id, premium_fraction, funding_rate,
		       cumulative_premium_fraction, mark_twap, index_twap, epoch_timestamp
		FROM projections.funding_state
		WHERE market_id = $1
	`
	args := []interface{}{marketID}
	argIdx := 2

	if beforeEpoch != nil {
		query += fmt.Sprintf(" AND epoch_id < $%d", argIdx)
		args = append(args, *beforeEpoch)
		argIdx++
	}

	query += " ORDER BY epoch_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epochs []FundingStateResponse
	for rows.Next() {
		var e FundingStateResponse
		e.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&e.MarketID, &e.EpochID, &e.PremiumFraction, &e.FundingRate,
			&e.CumulativePremiumFraction, &e.MarkTwap, &e.IndexTwap, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		epochs = append(epochs, e)
	}

	return epochs, rows.Err()
}

// GetFundingHistory returns reconciled funding payments for a user from the
// projection tables, newest first. Supports cursor-based pagination.
func (qs *QueryService) GetFundingHistory(
	ctx context.Context,
	userID uuid.UUID,
	marketID *string,
	limit int,
	beforeSequence *int64,
) ([]FundingPaymentResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	accountPrefix := fmt.Sprintf("user:%s:margin:%%", userID)

	query := `
		SELECT account_path, market_id, event_ref, payment, sequence, payment_timestamp
		FROM projections.funding_payments
		WHERE account_path LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if marketID != nil {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, *marketID)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []FundingPaymentResponse
	for rows.Next() {
		var h FundingPaymentResponse
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.AccountPath, &h.MarketID, &h.EventRef, &h.Payment, &h.Sequence, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries for a user with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain and global balance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	stateHash := qs.reader.GetStateHash()
	report := &IntegrityReport{
		CurrentSequence: qs.reader.GetSequence() - 1,
		StateHash:       hex.EncodeToString(stateHash[:]),
	}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Check global balance (should sum to zero across all accounts per asset)
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
