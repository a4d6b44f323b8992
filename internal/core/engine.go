package core

import (
	"PerpFunding/internal/event"
	"PerpFunding/internal/ledger"
	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/observability"
	"PerpFunding/internal/state"
	"PerpFunding/internal/twap"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DeterministicCore is the single-threaded event processor. It owns every
// piece of mutable domain state: balances, positions, TWAP histories, and
// the per-market cumulative premium fraction. Funding is settled lazily —
// FundingPay touches one scalar per market, and positions catch up the
// next time any operation reconciles them.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	positionLedger    *state.PositionLedger
	fundingEngine     *state.FundingEngine
	insuranceFund     *state.InsuranceFund
	markTwap          *twap.Accumulator
	indexTwap         *twap.Accumulator
	riskParamsMgr     *state.RiskParamsManager
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
	// Event is the typed input that produced this output. The persistence
	// bridge re-encodes it to the wire format so replay goes through the
	// same parse path as live ingestion.
	Event event.Event
}

// TWAP histories are pruned to twice the largest supported window so
// partial-window queries stay answerable after restarts.
const twapLookbackSeconds = 2 * 86_400

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)
	fundingEngine := state.NewFundingEngine()
	positionLedger := state.NewPositionLedger(fundingEngine)

	// Initialize with capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		positionLedger:    positionLedger,
		fundingEngine:     fundingEngine,
		insuranceFund:     state.NewInsuranceFund(),
		markTwap:          twap.NewAccumulator(twapLookbackSeconds),
		indexTwap:         twap.NewAccumulator(twapLookbackSeconds),
		riskParamsMgr:     state.NewRiskParamsManager(),
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		logger:            observability.NewLogger("core"),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	switch e := evt.(type) {
	case *event.PriceTick:
		// Price feeds tolerate gaps; stale ticks are dropped silently
		if err := c.sequenceValidator.ValidatePriceSequence(e.Market, e.PriceSequence); err != nil {
			return err
		}
	case *event.FundingPay:
		// Epoch monotonicity is enforced by the funding engine itself
	default:
		if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		c.logger.Debug().
			Str("event_type", eventType).
			Str("idempotency_key", idempotencyKey).
			Msg("duplicate event skipped")
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Event dispatch
	batch, err := c.dispatchEvent(evt)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Validate and apply. Empty batches (state-only events like
	// PriceTick or RiskParamUpdate) produce no journals but still need an
	// envelope in the event log.
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}

		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("apply batch failed: %w", err)
		}
	}

	// Step 5: State digest and hash chain
	stateDigest := c.computeStateDigest(batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		MarketID:       evt.MarketID(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: sourceSequence,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
		Event:      evt,
	}
	c.sequence++

	// Step 6: Post-checks
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Emit outputs. Persistence uses a BLOCKING send (backpressure,
	// no event loss); projections use a NON-BLOCKING send and rebuild from
	// the event log if they fall behind.
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
		// Silently dropped — projection will catch up via rebuild
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if marketID := evt.MarketID(); marketID != nil {
		return fmt.Sprintf("market:%s", *marketID)
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp from the event. The
// core never calls time.Now() for domain state; all timestamps are inputs.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.MarginDeposit:
		return e.Timestamp
	case *event.MarginWithdraw:
		return e.Timestamp
	case *event.TradeFill:
		return e.Timestamp
	case *event.MarginAdd:
		return e.Timestamp
	case *event.MarginRemove:
		return e.Timestamp
	case *event.MarginClaim:
		return e.Timestamp
	case *event.PriceTick:
		return time.Unix(e.PriceTimestamp, 0).UTC()
	case *event.FundingPay:
		return time.Unix(e.Timestamp, 0).UTC()
	case *event.RiskParamUpdate:
		return time.Unix(e.Timestamp, 0).UTC()
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

// computeStateDigest creates canonical bytes for state hash
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	// Collect all affected accounts
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	// Sort accounts deterministically
	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	// Build digest
	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		digest = appendInt64LE(digest, balance)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	switch e := evt.(type) {
	case *event.MarginWithdraw:
		assetID, _ := ledger.GetAssetID(e.Asset)
		if err := c.balanceTracker.ValidateAvailableNonNegative(e.UserID, assetID); err != nil {
			return fmt.Errorf("post-check available balance: %w", err)
		}

	case *event.TradeFill:
		// Quote asset hardcoded to USDT for now
		assetID, _ := ledger.GetAssetID("USDT")
		if err := c.balanceTracker.ValidateAvailableNonNegative(e.UserID, assetID); err != nil {
			return fmt.Errorf("post-check available balance: %w", err)
		}

	case *event.MarginAdd:
		assetID, _ := ledger.GetAssetID("USDT")
		if err := c.balanceTracker.ValidateAvailableNonNegative(e.UserID, assetID); err != nil {
			return fmt.Errorf("post-check available balance: %w", err)
		}
	}

	// Periodic global zero-sum check. The funding pool is allowed to carry
	// a balance between epochs — lazily reconciled positions drain it over
	// time — but the book as a whole must always sum to zero.
	if c.sequence > 0 && c.sequence%1000 == 0 {
		totals := c.balanceTracker.ComputeGlobalBalance()
		for assetID, total := range totals {
			if total != 0 {
				return fmt.Errorf("post-check zero-sum: global balance non-zero for asset %d: %d (at seq %d)",
					assetID, total, c.sequence)
			}
		}
	}

	return nil
}

func (c *DeterministicCore) emptyBatch(eventRef string, timestamp int64) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  c.sequence,
		Timestamp: timestamp,
		Journals:  []ledger.Journal{},
	}
}

func (c *DeterministicCore) handleMarginDeposit(evt *event.MarginDeposit) (*ledger.Batch, error) {
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}

	return c.journalGen.GenerateDeposit(evt.UserID, evt.DepositID, evt.Amount, assetID, evt.Timestamp.Unix())
}

func (c *DeterministicCore) handleMarginWithdraw(evt *event.MarginWithdraw) (*ledger.Batch, error) {
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}

	return c.journalGen.GenerateWithdrawal(evt.UserID, evt.WithdrawalID, evt.Amount, assetID, evt.Timestamp.Unix())
}

// handleTradeFill folds a fill into the trader's position. The position
// ledger reconciles pending funding first, then classifies the fill as
// open, increase, reduce, close, or flip and reports the resulting margin
// movements, which are journaled here.
func (c *DeterministicCore) handleTradeFill(evt *event.TradeFill) (*ledger.Batch, error) {
	quoteAssetID, _ := ledger.GetAssetID("USDT")

	params, ok := c.riskParamsMgr.GetRiskParams(evt.Market)
	if !ok {
		return nil, fmt.Errorf("no risk params for market %s", evt.Market)
	}
	if evt.Leverage > params.MaxLeverage {
		return nil, fmt.Errorf("leverage %d exceeds max %d for %s", evt.Leverage, params.MaxLeverage, evt.Market)
	}

	// Fee and reserve must be funded from free collateral. Checked before
	// ApplyFill so a rejected fill leaves no position or open-interest
	// residue behind.
	reserve := c.positionLedger.RequiredReserve(
		evt.UserID, evt.Market, evt.SignedQuantity(), evt.Pip, evt.Leverage)
	if required := evt.Fee + reserve; required > 0 {
		if err := c.balanceTracker.ValidateSufficientAvailable(evt.UserID, quoteAssetID, required); err != nil {
			return nil, fmt.Errorf("trade fill rejected: %w", err)
		}
	}

	result, err := c.positionLedger.ApplyFill(
		evt.UserID,
		evt.Market,
		evt.SignedQuantity(),
		evt.Pip,
		evt.Leverage,
	)
	if err != nil {
		return nil, err
	}

	return c.journalGen.GenerateTradeFill(
		evt.UserID,
		evt.FillID,
		evt.Market,
		evt.Fee,
		result.MarginReserved,
		result.MarginReleased,
		result.RealizedPnL,
		result.FundingPayment,
		quoteAssetID,
		evt.Timestamp.Unix(),
	)
}

// handlePriceTick appends mark and index observations to the TWAP
// accumulators. No journal entries — price ticks only mutate price state.
func (c *DeterministicCore) handlePriceTick(evt *event.PriceTick) (*ledger.Batch, error) {
	if err := c.markTwap.Append(evt.Market, evt.MarkPip, evt.PriceTimestamp, evt.BlockHeight); err != nil {
		return nil, fmt.Errorf("mark price for %s: %w", evt.Market, err)
	}
	if err := c.indexTwap.Append(evt.Market, evt.IndexPip, evt.PriceTimestamp, evt.BlockHeight); err != nil {
		return nil, fmt.Errorf("index price for %s: %w", evt.Market, err)
	}

	c.markTwap.Prune(evt.Market, evt.PriceTimestamp)
	c.indexTwap.Prune(evt.Market, evt.PriceTimestamp)

	if c.metrics != nil {
		c.metrics.PriceSnapshots.WithLabelValues(evt.Market).Inc()
	}

	return c.emptyBatch(evt.IdempotencyKey(), evt.PriceTimestamp), nil
}

// handleFundingPay settles one funding epoch. The period's premium
// fraction is computed from the mark and index TWAPs as of the epoch
// boundary and folded into the market's global accumulator — no position
// is touched. The only journal is the skew entry: whatever the imbalance
// between longs and shorts will eventually produce in lazy reconciles is
// pre-funded by (or accrued to) the insurance fund so the book stays
// zero-sum.
func (c *DeterministicCore) handleFundingPay(evt *event.FundingPay) (*ledger.Batch, error) {
	params, ok := c.riskParamsMgr.GetRiskParams(evt.Market)
	if !ok {
		return nil, fmt.Errorf("no risk params for market %s", evt.Market)
	}

	markTwapPrice, err := c.markTwap.TwapPrice(evt.Market, params.TwapWindowSeconds, evt.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("mark twap for %s: %w", evt.Market, err)
	}
	indexTwapPrice, err := c.indexTwap.TwapPrice(evt.Market, params.TwapWindowSeconds, evt.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("index twap for %s: %w", evt.Market, err)
	}

	snap, err := c.fundingEngine.PayFunding(
		evt.Market,
		evt.EpochID,
		markTwapPrice,
		indexTwapPrice,
		params.FundingPeriodSeconds,
		evt.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		// Duplicate epoch — nothing to do
		return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
	}

	if c.metrics != nil {
		c.metrics.FundingRate.WithLabelValues(evt.Market).Set(float64(snap.FundingRate))
		c.metrics.CumulativePremiumFraction.WithLabelValues(evt.Market).Set(float64(snap.CumulativePremiumFraction))
		c.metrics.FundingEpochsSettled.WithLabelValues(evt.Market).Inc()
	}

	quoteAssetID, _ := ledger.GetAssetID("USDT")
	skew := c.fundingEngine.SkewAbsorption(snap.PremiumFraction, c.positionLedger.NetOpenInterest(evt.Market))

	if skew > 0 {
		// The over-receiving side is pre-funded by the insurance fund; a
		// shortfall is still booked (the fund may run negative) but is
		// worth an operator's attention.
		fundBalance := c.balanceTracker.GetInsuranceFundBalance(quoteAssetID)
		if _, shortfall := c.insuranceFund.ComputeCoverage(fundBalance, skew); shortfall > 0 {
			c.logger.Warn().
				Str("market", evt.Market).
				Int64("epoch_id", evt.EpochID).
				Int64("skew", skew).
				Int64("fund_balance", fundBalance).
				Int64("shortfall", shortfall).
				Msg("insurance fund cannot fully cover funding skew")
		}
	}

	batch, err := c.journalGen.GenerateFundingSkew(evt.Market, evt.EpochID, skew, quoteAssetID, evt.Timestamp)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		// Balanced open interest — no skew to absorb
		return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
	}
	return batch, nil
}

func (c *DeterministicCore) handleMarginAdd(evt *event.MarginAdd) (*ledger.Batch, error) {
	quoteAssetID, _ := ledger.GetAssetID("USDT")

	if err := c.balanceTracker.ValidateSufficientAvailable(evt.UserID, quoteAssetID, evt.Amount); err != nil {
		return nil, fmt.Errorf("margin add rejected: %w", err)
	}

	payment, err := c.positionLedger.AddMargin(evt.UserID, evt.Market, evt.Amount)
	if err != nil {
		return nil, err
	}

	return c.journalGen.GenerateMarginAdd(
		evt.UserID, evt.RequestID, evt.Market, evt.Amount, payment, quoteAssetID, evt.Timestamp.Unix())
}

func (c *DeterministicCore) handleMarginRemove(evt *event.MarginRemove) (*ledger.Batch, error) {
	quoteAssetID, _ := ledger.GetAssetID("USDT")

	params, ok := c.riskParamsMgr.GetRiskParams(evt.Market)
	if !ok {
		return nil, fmt.Errorf("no risk params for market %s", evt.Market)
	}

	markPip, err := c.markTwap.LatestPrice(evt.Market)
	if err != nil {
		return nil, fmt.Errorf("margin remove needs a mark price for %s: %w", evt.Market, err)
	}

	payment, err := c.positionLedger.RemoveMargin(
		evt.UserID, evt.Market, evt.Amount, fpmath.PipToPrice(markPip), params)
	if errors.Is(err, state.ErrInsufficientMargin) {
		// The remove is rejected but the mandatory pre-check reconcile
		// already ran; the event is consumed and only the reconcile (if
		// any) is journaled so the ledger matches the position.
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(evt.EventType().String(), "insufficient_margin").Inc()
		}
		batch, genErr := c.journalGen.GenerateFundingReconcile(
			evt.UserID, evt.Market, evt.RequestID.String(), payment, quoteAssetID, evt.Timestamp.Unix())
		if genErr != nil {
			return nil, genErr
		}
		if batch == nil {
			return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp.Unix()), nil
		}
		return batch, nil
	}
	if err != nil {
		return nil, err
	}

	return c.journalGen.GenerateMarginRemove(
		evt.UserID, evt.RequestID, evt.Market, evt.Amount, payment, quoteAssetID, evt.Timestamp.Unix())
}

func (c *DeterministicCore) handleMarginClaim(evt *event.MarginClaim) (*ledger.Batch, error) {
	quoteAssetID, _ := ledger.GetAssetID("USDT")

	claimed, payment, err := c.positionLedger.ClaimFund(evt.UserID, evt.Market)
	if err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GenerateMarginClaim(
		evt.UserID, evt.RequestID, evt.Market, claimed, payment, quoteAssetID, evt.Timestamp.Unix())
	if err != nil {
		return nil, err
	}
	if batch == nil {
		// Nothing claimable and no pending funding
		return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp.Unix()), nil
	}
	return batch, nil
}

// handleRiskParamUpdate swaps a market's parameters. Existing positions
// and the accumulated premium fraction are untouched — the new funding
// period and TWAP window apply from the next epoch onward.
func (c *DeterministicCore) handleRiskParamUpdate(evt *event.RiskParamUpdate) (*ledger.Batch, error) {
	newParams := &state.RiskParams{
		MarketID:                evt.Market,
		FundingPeriodSeconds:    evt.FundingPeriodSeconds,
		TwapWindowSeconds:       evt.TwapWindowSeconds,
		MMFraction:              evt.MMFraction,
		MaxLeverage:             evt.MaxLeverage,
		LiquidationFeeRatio:     evt.LiquidationFeeRatio,
		PartialLiquidationRatio: evt.PartialLiquidationRatio,
		EffectiveSeq:            evt.EffectiveSeq,
	}

	if err := c.riskParamsMgr.UpdateRiskParams(newParams); err != nil {
		return nil, fmt.Errorf("risk param update rejected: %w", err)
	}

	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (*ledger.Batch, error) {
	switch e := evt.(type) {
	case *event.MarginDeposit:
		return c.handleMarginDeposit(e)
	case *event.MarginWithdraw:
		return c.handleMarginWithdraw(e)
	case *event.TradeFill:
		return c.handleTradeFill(e)
	case *event.PriceTick:
		return c.handlePriceTick(e)
	case *event.FundingPay:
		return c.handleFundingPay(e)
	case *event.MarginAdd:
		return c.handleMarginAdd(e)
	case *event.MarginRemove:
		return c.handleMarginRemove(e)
	case *event.MarginClaim:
		return c.handleMarginClaim(e)
	case *event.RiskParamUpdate:
		return c.handleRiskParamUpdate(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- Read-side accessors (used by the query service) ---

// GetPosition returns an open position or nil.
func (c *DeterministicCore) GetPosition(userID uuid.UUID, marketID string) *state.Position {
	return c.positionLedger.GetPosition(userID, marketID)
}

// PendingFundingPayment returns the funding a position would settle if
// reconciled now.
func (c *DeterministicCore) PendingFundingPayment(pos *state.Position) int64 {
	return c.fundingEngine.PendingFundingPayment(pos)
}

// CumulativePremiumFraction returns the market's global accumulator.
func (c *DeterministicCore) CumulativePremiumFraction(marketID string) int64 {
	return c.fundingEngine.CumulativePremiumFraction(marketID)
}

// GetUserPositions returns all open positions for a user.
func (c *DeterministicCore) GetUserPositions(userID uuid.UUID) []*state.Position {
	return c.positionLedger.GetUserPositions(userID)
}

// GetRiskParams returns the market's active risk parameters.
func (c *DeterministicCore) GetRiskParams(marketID string) (*state.RiskParams, error) {
	params, ok := c.riskParamsMgr.GetRiskParams(marketID)
	if !ok {
		return nil, fmt.Errorf("no risk params for market %s", marketID)
	}
	return params, nil
}

// GetFundingSnapshot returns a settled epoch's funding snapshot, or nil.
func (c *DeterministicCore) GetFundingSnapshot(marketID string, epochID int64) *state.FundingSnapshot {
	snap, ok := c.fundingEngine.GetFundingSnapshot(marketID, epochID)
	if !ok {
		return nil
	}
	return snap
}

// LatestMarkPrice returns the most recent mark price at price scale.
func (c *DeterministicCore) LatestMarkPrice(marketID string) (int64, error) {
	pip, err := c.markTwap.LatestPrice(marketID)
	if err != nil {
		return 0, err
	}
	return fpmath.PipToPrice(pip), nil
}

// MaintenanceDetail evaluates a position's margin metrics at the latest mark
// price, including the funding payment still pending reconciliation.
func (c *DeterministicCore) MaintenanceDetail(pos *state.Position) (state.MaintenanceDetail, error) {
	markPrice, err := c.LatestMarkPrice(pos.MarketID)
	if err != nil {
		return state.MaintenanceDetail{}, err
	}
	params, ok := c.riskParamsMgr.GetRiskParams(pos.MarketID)
	if !ok {
		return state.MaintenanceDetail{}, fmt.Errorf("no risk params for market %s", pos.MarketID)
	}
	return state.ComputeMaintenanceDetail(pos, markPrice, params, c.fundingEngine), nil
}

// GetUserBalances returns (total, available, margin) for a user and asset.
func (c *DeterministicCore) GetUserBalances(userID uuid.UUID, assetID ledger.AssetID) (total, available, margin int64) {
	total = c.balanceTracker.GetUserTotalBalance(userID, assetID)
	available = c.balanceTracker.GetUserAvailableBalance(userID, assetID)
	margin = c.balanceTracker.GetUserMarginBalance(userID, assetID)
	return total, available, margin
}

// GetInsuranceFundBalance returns the insurance fund balance for an asset.
func (c *DeterministicCore) GetInsuranceFundBalance(assetID ledger.AssetID) int64 {
	return c.balanceTracker.GetInsuranceFundBalance(assetID)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence          int64
	StateHash         [32]byte
	PrevHash          [32]byte
	Balances          map[ledger.AccountKey]int64
	Positions         []*state.Position
	MarkSnapshots     map[string][]twap.Snapshot
	IndexSnapshots    map[string][]twap.Snapshot
	FundingCumulative map[string]int64
	FundingNextEpochs map[string]int64
	FundingSnapshots  map[string]*state.FundingSnapshot
	NetOpenInterest   map[string]int64
	RiskParams        map[string]*state.RiskParams
	SequenceState     map[string]int64
	IdempotencyKeys   []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart: load the latest snapshot, then replay the event log tail.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign

	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	for _, pos := range snap.Positions {
		c.positionLedger.SetPosition(pos)
	}

	for marketID, snaps := range snap.MarkSnapshots {
		c.markTwap.Restore(marketID, snaps)
	}
	for marketID, snaps := range snap.IndexSnapshots {
		c.indexTwap.Restore(marketID, snaps)
	}

	for marketID, cumulative := range snap.FundingCumulative {
		c.fundingEngine.RestoreCumulative(marketID, cumulative)
	}
	for marketID, nextEpoch := range snap.FundingNextEpochs {
		c.fundingEngine.RestoreNextEpoch(marketID, nextEpoch)
	}
	for _, fs := range snap.FundingSnapshots {
		c.fundingEngine.RestoreSnapshot(fs)
	}

	for marketID, net := range snap.NetOpenInterest {
		c.positionLedger.RestoreNetOpenInterest(marketID, net)
	}

	for _, params := range snap.RiskParams {
		_ = c.riskParamsMgr.UpdateRiskParams(params)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}

	c.journalGen.SetSequence(snap.Sequence)
}

// WarmLRU loads recent idempotency keys into the LRU cache so recently
// processed events dedup without hitting the database.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	markSnaps := make(map[string][]twap.Snapshot)
	for _, m := range c.markTwap.Markets() {
		markSnaps[m] = c.markTwap.Snapshots(m)
	}
	indexSnaps := make(map[string][]twap.Snapshot)
	for _, m := range c.indexTwap.Markets() {
		indexSnaps[m] = c.indexTwap.Snapshots(m)
	}

	return &SnapshotState{
		Sequence:          c.sequence - 1, // Last processed sequence
		StateHash:         c.hasher.GetPrevHash(),
		Balances:          c.balanceTracker.Snapshot(),
		Positions:         c.positionLedger.GetAllPositions(),
		MarkSnapshots:     markSnaps,
		IndexSnapshots:    indexSnaps,
		FundingCumulative: c.fundingEngine.GetAllCumulative(),
		FundingNextEpochs: c.fundingEngine.GetAllNextEpochs(),
		FundingSnapshots:  c.fundingEngine.GetAllSnapshots(),
		NetOpenInterest:   c.positionLedger.GetAllNetOpenInterest(),
		RiskParams:        c.riskParamsMgr.GetAllParams(),
		SequenceState:     c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys:   c.idempotency.lru.GetAllKeys(),
	}
}
