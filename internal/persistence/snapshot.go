package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"PerpFunding/internal/core"
	"PerpFunding/internal/ledger"
	"PerpFunding/internal/state"
	"PerpFunding/internal/twap"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots contain balances, positions, price history, funding state,
// idempotency keys, sequence counters, and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serializable form of core.SnapshotState.
type SnapshotData struct {
	Sequence          int64                      `json:"sequence"`
	StateHash         []byte                     `json:"state_hash"`
	PrevHash          []byte                     `json:"prev_hash"`
	Balances          []BalanceSnap              `json:"balances"`
	Positions         []PositionSnapshot         `json:"positions"`
	MarkSnapshots     map[string][]TwapSnap      `json:"mark_snapshots"`      // marketID -> mark price history
	IndexSnapshots    map[string][]TwapSnap      `json:"index_snapshots"`     // marketID -> index price history
	FundingCumulative map[string]int64           `json:"funding_cumulative"`  // marketID -> cumulative premium fraction
	FundingNextEpochs map[string]int64           `json:"funding_next_epochs"` // marketID -> next expected epoch
	FundingSnapshots  map[string]FundingSnap     `json:"funding_snapshots"`   // "market:epoch" -> snapshot
	NetOpenInterest   map[string]int64           `json:"net_open_interest"`   // marketID -> signed net OI
	RiskParams        map[string]RiskParamsSnap  `json:"risk_params"`         // marketID -> params
	SequenceState     map[string]int64           `json:"sequence_state"`      // partition -> next expected seq
	IdempotencyKeys   []string                   `json:"idempotency_keys"`    // Recent keys for LRU warming
	CreatedAt         time.Time                  `json:"created_at"`
}

// BalanceSnap is a serializable account balance.
type BalanceSnap struct {
	Scope    uint8  `json:"scope"`
	EntityID string `json:"entity_id"` // Hex-encoded 16 bytes
	SubType  uint8  `json:"sub_type"`
	AssetID  uint16 `json:"asset_id"`
	Balance  int64  `json:"balance"`
}

// PositionSnapshot is a serializable position.
type PositionSnapshot struct {
	UserID              string `json:"user_id"`
	MarketID            string `json:"market_id"`
	Size                int64  `json:"size"` // Signed: positive long, negative short
	Margin              int64  `json:"margin"`
	OpenNotional        int64  `json:"open_notional"`
	Leverage            int64  `json:"leverage"`
	RealizedPnL         int64  `json:"realized_pnl"`
	LastPremiumFraction int64  `json:"last_premium_fraction"`
	Version             int64  `json:"version"`
}

// TwapSnap is a serializable price snapshot.
type TwapSnap struct {
	Price       int64 `json:"price"` // Pip scale
	Timestamp   int64 `json:"timestamp"`
	BlockHeight int64 `json:"block_height"`
}

// FundingSnap is a serializable funding epoch snapshot.
type FundingSnap struct {
	MarketID                  string `json:"market_id"`
	EpochID                   int64  `json:"epoch_id"`
	PremiumFraction           int64  `json:"premium_fraction"`
	FundingRate               int64  `json:"funding_rate"`
	CumulativePremiumFraction int64  `json:"cumulative_premium_fraction"`
	MarkTwap                  int64  `json:"mark_twap"`
	IndexTwap                 int64  `json:"index_twap"`
	Timestamp                 int64  `json:"timestamp"`
}

// RiskParamsSnap is a serializable risk parameter set.
type RiskParamsSnap struct {
	MarketID                string `json:"market_id"`
	FundingPeriodSeconds    int64  `json:"funding_period_seconds"`
	TwapWindowSeconds       int64  `json:"twap_window_seconds"`
	MMFraction              int64  `json:"mm_fraction"`
	MaxLeverage             int64  `json:"max_leverage"`
	LiquidationFeeRatio     int64  `json:"liquidation_fee_ratio"`
	PartialLiquidationRatio int64  `json:"partial_liquidation_ratio"`
	EffectiveSeq            int64  `json:"effective_seq"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// BuildSnapshotData converts the core's in-memory snapshot into the
// serializable form.
func BuildSnapshotData(cs *core.SnapshotState) *SnapshotData {
	sd := &SnapshotData{
		Sequence:          cs.Sequence,
		StateHash:         cs.StateHash[:],
		PrevHash:          cs.PrevHash[:],
		FundingCumulative: cs.FundingCumulative,
		FundingNextEpochs: cs.FundingNextEpochs,
		NetOpenInterest:   cs.NetOpenInterest,
		SequenceState:     cs.SequenceState,
		IdempotencyKeys:   cs.IdempotencyKeys,
		CreatedAt:         time.Now().UTC(),
	}

	sd.Balances = make([]BalanceSnap, 0, len(cs.Balances))
	for key, balance := range cs.Balances {
		sd.Balances = append(sd.Balances, BalanceSnap{
			Scope:    uint8(key.Scope),
			EntityID: hex.EncodeToString(key.EntityID[:]),
			SubType:  uint8(key.SubType),
			AssetID:  uint16(key.AssetID),
			Balance:  balance,
		})
	}

	sd.Positions = make([]PositionSnapshot, 0, len(cs.Positions))
	for _, pos := range cs.Positions {
		sd.Positions = append(sd.Positions, PositionSnapshot{
			UserID:              pos.UserID.String(),
			MarketID:            pos.MarketID,
			Size:                pos.Size,
			Margin:              pos.Margin,
			OpenNotional:        pos.OpenNotional,
			Leverage:            pos.Leverage,
			RealizedPnL:         pos.RealizedPnL,
			LastPremiumFraction: pos.LastPremiumFraction,
			Version:             pos.Version,
		})
	}

	sd.MarkSnapshots = twapSnapsFrom(cs.MarkSnapshots)
	sd.IndexSnapshots = twapSnapsFrom(cs.IndexSnapshots)

	sd.FundingSnapshots = make(map[string]FundingSnap, len(cs.FundingSnapshots))
	for key, snap := range cs.FundingSnapshots {
		sd.FundingSnapshots[key] = FundingSnap{
			MarketID:                  snap.MarketID,
			EpochID:                   snap.EpochID,
			PremiumFraction:           snap.PremiumFraction,
			FundingRate:               snap.FundingRate,
			CumulativePremiumFraction: snap.CumulativePremiumFraction,
			MarkTwap:                  snap.MarkTwap,
			IndexTwap:                 snap.IndexTwap,
			Timestamp:                 snap.Timestamp,
		}
	}

	sd.RiskParams = make(map[string]RiskParamsSnap, len(cs.RiskParams))
	for market, params := range cs.RiskParams {
		sd.RiskParams[market] = RiskParamsSnap{
			MarketID:                params.MarketID,
			FundingPeriodSeconds:    params.FundingPeriodSeconds,
			TwapWindowSeconds:       params.TwapWindowSeconds,
			MMFraction:              params.MMFraction,
			MaxLeverage:             params.MaxLeverage,
			LiquidationFeeRatio:     params.LiquidationFeeRatio,
			PartialLiquidationRatio: params.PartialLiquidationRatio,
			EffectiveSeq:            params.EffectiveSeq,
		}
	}

	return sd
}

// ToCoreState converts a loaded snapshot back into the core's in-memory form.
func (sd *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	cs := &core.SnapshotState{
		Sequence:          sd.Sequence,
		Balances:          make(map[ledger.AccountKey]int64, len(sd.Balances)),
		Positions:         make([]*state.Position, 0, len(sd.Positions)),
		MarkSnapshots:     twapSnapsTo(sd.MarkSnapshots),
		IndexSnapshots:    twapSnapsTo(sd.IndexSnapshots),
		FundingCumulative: sd.FundingCumulative,
		FundingNextEpochs: sd.FundingNextEpochs,
		FundingSnapshots:  make(map[string]*state.FundingSnapshot, len(sd.FundingSnapshots)),
		NetOpenInterest:   sd.NetOpenInterest,
		RiskParams:        make(map[string]*state.RiskParams, len(sd.RiskParams)),
		SequenceState:     sd.SequenceState,
		IdempotencyKeys:   sd.IdempotencyKeys,
	}

	copy(cs.StateHash[:], sd.StateHash)
	copy(cs.PrevHash[:], sd.PrevHash)

	for _, b := range sd.Balances {
		entityID, err := hex.DecodeString(b.EntityID)
		if err != nil || len(entityID) != 16 {
			return nil, fmt.Errorf("decode entity_id %q: %w", b.EntityID, err)
		}
		key := ledger.AccountKey{
			Scope:   ledger.AccountScope(b.Scope),
			SubType: ledger.AccountSubType(b.SubType),
			AssetID: ledger.AssetID(b.AssetID),
		}
		copy(key.EntityID[:], entityID)
		cs.Balances[key] = b.Balance
	}

	for _, p := range sd.Positions {
		userID, err := uuid.Parse(p.UserID)
		if err != nil {
			return nil, fmt.Errorf("parse position user_id: %w", err)
		}
		cs.Positions = append(cs.Positions, &state.Position{
			UserID:              userID,
			MarketID:            p.MarketID,
			Size:                p.Size,
			Margin:              p.Margin,
			OpenNotional:        p.OpenNotional,
			Leverage:            p.Leverage,
			RealizedPnL:         p.RealizedPnL,
			LastPremiumFraction: p.LastPremiumFraction,
			Version:             p.Version,
		})
	}

	for key, snap := range sd.FundingSnapshots {
		cs.FundingSnapshots[key] = &state.FundingSnapshot{
			MarketID:                  snap.MarketID,
			EpochID:                   snap.EpochID,
			PremiumFraction:           snap.PremiumFraction,
			FundingRate:               snap.FundingRate,
			CumulativePremiumFraction: snap.CumulativePremiumFraction,
			MarkTwap:                  snap.MarkTwap,
			IndexTwap:                 snap.IndexTwap,
			Timestamp:                 snap.Timestamp,
		}
	}

	for market, params := range sd.RiskParams {
		p := params
		cs.RiskParams[market] = &state.RiskParams{
			MarketID:                p.MarketID,
			FundingPeriodSeconds:    p.FundingPeriodSeconds,
			TwapWindowSeconds:       p.TwapWindowSeconds,
			MMFraction:              p.MMFraction,
			MaxLeverage:             p.MaxLeverage,
			LiquidationFeeRatio:     p.LiquidationFeeRatio,
			PartialLiquidationRatio: p.PartialLiquidationRatio,
			EffectiveSeq:            p.EffectiveSeq,
		}
	}

	return cs, nil
}

func twapSnapsFrom(in map[string][]twap.Snapshot) map[string][]TwapSnap {
	out := make(map[string][]TwapSnap, len(in))
	for market, snaps := range in {
		converted := make([]TwapSnap, len(snaps))
		for i, s := range snaps {
			converted[i] = TwapSnap{Price: s.Price, Timestamp: s.Timestamp, BlockHeight: s.BlockHeight}
		}
		out[market] = converted
	}
	return out
}

func twapSnapsTo(in map[string][]TwapSnap) map[string][]twap.Snapshot {
	out := make(map[string][]twap.Snapshot, len(in))
	for market, snaps := range in {
		converted := make([]twap.Snapshot, len(snaps))
		for i, s := range snaps {
			converted[i] = twap.Snapshot{Price: s.Price, Timestamp: s.Timestamp, BlockHeight: s.BlockHeight}
		}
		out[market] = converted
	}
	return out
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying events from the snapshot sequence
// forward before being trusted for recovery.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot.
// On warm restart, load the latest snapshot then replay events from
// snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay.
// Used for warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.MarketID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
