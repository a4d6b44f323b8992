package state

import (
	"fmt"

	fpmath "PerpFunding/internal/math"

	"github.com/google/uuid"
)

// PositionLedger exclusively owns Position records, keyed by
// (market, trader). Every margin-dependent operation reconciles the
// position against the funding engine first, so callers never observe a
// stale premium-fraction snapshot. All mutators either fully apply or
// fully reject.
type PositionLedger struct {
	positions map[PositionKey]*Position
	engine    *FundingEngine
	// netOpenInterest is the sum of signed sizes per market, maintained
	// O(1) per fill and consumed by funding skew accounting.
	netOpenInterest map[string]int64
}

type PositionKey struct {
	UserID   uuid.UUID
	MarketID string
}

func NewPositionLedger(engine *FundingEngine) *PositionLedger {
	return &PositionLedger{
		positions:       make(map[PositionKey]*Position),
		engine:          engine,
		netOpenInterest: make(map[string]int64),
	}
}

// FillResult reports the ledger movements produced by one fill.
type FillResult struct {
	RealizedPnL    int64 // Quote scale, signed
	MarginReserved int64 // Quote scale, new margin locked for the fill
	MarginReleased int64 // Quote scale, margin returned on reduce/close
	FundingPayment int64 // Quote scale, applied by the pre-fill reconcile
	Closed         bool  // Position fully closed by this fill
}

// GetPosition returns an open position or nil.
func (pl *PositionLedger) GetPosition(userID uuid.UUID, marketID string) *Position {
	pos := pl.positions[PositionKey{UserID: userID, MarketID: marketID}]
	if pos == nil || pos.IsClosed() {
		return nil
	}
	return pos
}

// Reconcile settles pending funding into the position's margin. Returns
// ErrPositionNotFound for unknown positions.
func (pl *PositionLedger) Reconcile(userID uuid.UUID, marketID string) (int64, error) {
	pos := pl.GetPosition(userID, marketID)
	if pos == nil {
		return 0, ErrPositionNotFound
	}
	return pl.engine.Reconcile(pos), nil
}

// NetOpenInterest returns the sum of signed sizes for a market.
func (pl *PositionLedger) NetOpenInterest(marketID string) int64 {
	return pl.netOpenInterest[marketID]
}

// RequiredReserve reports the margin a fill would lock, without applying
// it. Opening or increasing locks notional/leverage; reducing or closing
// locks nothing; a flip locks the reserve of the reopened remainder.
// Callers use this to pre-check free collateral before ApplyFill mutates
// anything.
func (pl *PositionLedger) RequiredReserve(
	userID uuid.UUID,
	marketID string,
	signedQty int64,
	pip int64,
	leverage int64,
) int64 {
	if signedQty == 0 || pip <= 0 || leverage <= 0 {
		return 0
	}

	openQty := signedQty
	pos := pl.GetPosition(userID, marketID)
	if pos != nil && pos.Size != 0 && (pos.Size > 0) != (signedQty > 0) {
		closeQty := signedQty
		if closeQty < 0 {
			closeQty = -closeQty
		}
		if closeQty <= pos.AbsSize() {
			return 0
		}
		flipQty := closeQty - pos.AbsSize()
		openQty = flipQty
		if signedQty < 0 {
			openQty = -flipQty
		}
	}

	notional := fpmath.ComputeOpenNotional(openQty, pip)
	return fpmath.MulDiv(notional, 1, leverage, fpmath.RoundHalfEven)
}

// ApplyFill folds a fill (signed quantity: positive buys, negative sells)
// into the trader's position. Opening or increasing reserves margin as
// notional/leverage; reducing releases margin proportionally and extracts
// realized PnL; an oversized opposite fill closes then flips. The premium
// fraction is snapshotted at open so no retroactive funding is owed.
func (pl *PositionLedger) ApplyFill(
	userID uuid.UUID,
	marketID string,
	signedQty int64,
	pip int64,
	leverage int64,
) (FillResult, error) {
	if signedQty == 0 || pip <= 0 || leverage <= 0 {
		return FillResult{}, fmt.Errorf("invalid fill: qty=%d pip=%d leverage=%d", signedQty, pip, leverage)
	}

	key := PositionKey{UserID: userID, MarketID: marketID}
	pos := pl.positions[key]

	var result FillResult

	if pos == nil || pos.IsClosed() {
		pos = &Position{
			UserID:              userID,
			MarketID:            marketID,
			Leverage:            leverage,
			LastPremiumFraction: pl.engine.CumulativePremiumFraction(marketID),
		}
		pl.positions[key] = pos
	} else {
		result.FundingPayment = pl.engine.Reconcile(pos)
	}

	switch {
	case pos.Size == 0 || (pos.Size > 0) == (signedQty > 0):
		// Open or increase
		notional := fpmath.ComputeOpenNotional(signedQty, pip)
		reserve := fpmath.MulDiv(notional, 1, leverage, fpmath.RoundHalfEven)

		pos.Size += signedQty
		pos.OpenNotional += notional
		pos.Margin += reserve
		pos.Leverage = leverage
		pos.Version++

		result.MarginReserved = reserve

	default:
		// Reduce, close, or flip
		closeQty := signedQty
		if closeQty < 0 {
			closeQty = -closeQty
		}
		absSize := pos.AbsSize()
		flipQty := int64(0)
		if closeQty > absSize {
			flipQty = closeQty - absSize
			closeQty = absSize
		}

		entryPrice := fpmath.ComputeEntryPrice(pos.OpenNotional, pos.Size)
		fillPrice := fpmath.PipToPrice(pip)
		realized := fpmath.ComputeRealizedPnL(pos.SideSign(), fillPrice, entryPrice, closeQty)

		release := fpmath.MulDiv(pos.Margin, closeQty, absSize, fpmath.RoundDown)
		notionalOut := fpmath.MulDiv(pos.OpenNotional, closeQty, absSize, fpmath.RoundDown)

		pos.Size += signedQty
		pos.Margin -= release
		pos.OpenNotional -= notionalOut
		pos.RealizedPnL += realized
		pos.Version++

		result.RealizedPnL = realized
		result.MarginReleased = release

		if flipQty > 0 {
			// Reopen the remainder on the opposite side at the fill price.
			signedRemainder := flipQty
			if signedQty < 0 {
				signedRemainder = -flipQty
			}
			notional := fpmath.ComputeOpenNotional(signedRemainder, pip)
			reserve := fpmath.MulDiv(notional, 1, leverage, fpmath.RoundHalfEven)

			pos.Size = signedRemainder
			pos.OpenNotional = notional
			pos.Margin += reserve
			pos.Leverage = leverage

			result.MarginReserved = reserve
		} else if pos.Size == 0 {
			// Full close: release any residual margin left by rounding.
			result.MarginReleased += pos.Margin
			pos.Margin = 0
			pos.OpenNotional = 0
			result.Closed = true
		}
	}

	pl.netOpenInterest[marketID] += signedQty
	return result, nil
}

// AddMargin credits margin to an open position after reconciliation.
// Returns the funding payment applied by the reconcile.
func (pl *PositionLedger) AddMargin(userID uuid.UUID, marketID string, amount int64) (int64, error) {
	pos := pl.GetPosition(userID, marketID)
	if pos == nil {
		return 0, ErrPositionNotFound
	}

	payment := pl.engine.Reconcile(pos)
	pos.Margin += amount
	pos.Version++
	return payment, nil
}

// RemoveMargin debits margin from an open position after reconciliation.
// Rejected with ErrInsufficientMargin when the remaining margin would drop
// the margin ratio below the market's maintenance ratio at the given mark
// price (price scale). No state change on rejection beyond the mandatory
// reconcile.
func (pl *PositionLedger) RemoveMargin(
	userID uuid.UUID,
	marketID string,
	amount int64,
	markPrice int64,
	params *RiskParams,
) (int64, error) {
	pos := pl.GetPosition(userID, marketID)
	if pos == nil {
		return 0, ErrPositionNotFound
	}

	payment := pl.engine.Reconcile(pos)

	remaining := pos.Margin - amount
	if remaining < 0 {
		return payment, ErrInsufficientMargin
	}

	trial := *pos
	trial.Margin = remaining
	if MarginRatio(&trial, markPrice) < params.MMFraction {
		return payment, ErrInsufficientMargin
	}

	pos.Margin = remaining
	pos.Version++
	return payment, nil
}

// ClaimFund pays out margin in excess of the remaining position's initial
// margin requirement, zeroing the excess. A flat position pays out all
// residual margin and is destroyed. Returns (claimed, fundingPayment).
func (pl *PositionLedger) ClaimFund(userID uuid.UUID, marketID string) (int64, int64, error) {
	key := PositionKey{UserID: userID, MarketID: marketID}
	pos := pl.positions[key]
	if pos == nil || pos.IsClosed() {
		return 0, 0, ErrPositionNotFound
	}

	payment := pl.engine.Reconcile(pos)

	var required int64
	if !pos.IsFlat() {
		required = fpmath.MulDiv(pos.OpenNotional, 1, pos.Leverage, fpmath.RoundUp)
	}

	claimable := pos.Margin - required
	if claimable <= 0 {
		return 0, payment, nil
	}

	pos.Margin = required
	pos.Version++
	if pos.IsClosed() {
		delete(pl.positions, key)
	}
	return claimable, payment, nil
}

// --- snapshot support ---

// SetPosition directly sets a position (used for snapshot restore)
func (pl *PositionLedger) SetPosition(pos *Position) {
	key := PositionKey{UserID: pos.UserID, MarketID: pos.MarketID}
	pl.positions[key] = pos
}

// RestoreNetOpenInterest directly sets a market's net open interest.
func (pl *PositionLedger) RestoreNetOpenInterest(marketID string, net int64) {
	pl.netOpenInterest[marketID] = net
}

// GetAllNetOpenInterest returns net open interest per market (for snapshots)
func (pl *PositionLedger) GetAllNetOpenInterest() map[string]int64 {
	result := make(map[string]int64, len(pl.netOpenInterest))
	for k, v := range pl.netOpenInterest {
		result[k] = v
	}
	return result
}

// GetAllPositions returns all positions (for iteration)
func (pl *PositionLedger) GetAllPositions() []*Position {
	result := make([]*Position, 0, len(pl.positions))
	for _, pos := range pl.positions {
		result = append(result, pos)
	}
	return result
}

// GetUserPositions returns all positions for a user
func (pl *PositionLedger) GetUserPositions(userID uuid.UUID) []*Position {
	result := make([]*Position, 0)
	for key, pos := range pl.positions {
		if key.UserID == userID {
			result = append(result, pos)
		}
	}
	return result
}
