package state_test

import (
	"bytes"
	"errors"
	"testing"

	"PerpFunding/internal/state"

	"github.com/google/uuid"
)

func newLedger() (*state.PositionLedger, *state.FundingEngine) {
	fe := state.NewFundingEngine()
	return state.NewPositionLedger(fe), fe
}

func defaultParams() *state.RiskParams {
	return state.DefaultRiskParams["BTC-USDT-PERP"]
}

// ============================================================================
// Test: ApplyFill
// ============================================================================

func TestApplyFill_OpenLong(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()

	result, err := pl.ApplyFill(userID, market, 37_000_000, 256_000, 10)
	if err != nil {
		t.Fatalf("ApplyFill failed: %v", err)
	}
	if result.MarginReserved != 94_720_000 {
		t.Errorf("reserved = %d, want 94_720_000", result.MarginReserved)
	}

	pos := pl.GetPosition(userID, market)
	if pos.Size != 37_000_000 || pos.OpenNotional != 947_200_000 || pos.Margin != 94_720_000 {
		t.Errorf("position = (size %d, notional %d, margin %d)", pos.Size, pos.OpenNotional, pos.Margin)
	}
	if pl.NetOpenInterest(market) != 37_000_000 {
		t.Errorf("net open interest = %d, want 37_000_000", pl.NetOpenInterest(market))
	}
}

func TestApplyFill_IncreaseAccumulatesNotional(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()

	if _, err := pl.ApplyFill(userID, market, 20_000_000, 256_000, 10); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := pl.ApplyFill(userID, market, 17_000_000, 260_000, 10); err != nil {
		t.Fatalf("increase failed: %v", err)
	}

	pos := pl.GetPosition(userID, market)
	if pos.Size != 37_000_000 {
		t.Errorf("size = %d, want 37_000_000", pos.Size)
	}
	// 20*25.6 + 17*26.0 = 512 + 442 = 954
	if pos.OpenNotional != 954_000_000 {
		t.Errorf("open notional = %d, want 954_000_000", pos.OpenNotional)
	}
}

func TestApplyFill_ReduceRealizesProportionally(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()

	pl.ApplyFill(userID, market, 37_000_000, 256_000, 10)
	result, err := pl.ApplyFill(userID, market, -18_500_000, 260_000, 10)
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}

	if result.RealizedPnL != 7_400_000 {
		t.Errorf("realized = %d, want 7_400_000", result.RealizedPnL)
	}
	if result.MarginReleased != 47_360_000 {
		t.Errorf("released = %d, want 47_360_000", result.MarginReleased)
	}
	pos := pl.GetPosition(userID, market)
	if pos.Size != 18_500_000 || pos.OpenNotional != 473_600_000 {
		t.Errorf("remaining = (size %d, notional %d)", pos.Size, pos.OpenNotional)
	}
}

func TestApplyFill_FullCloseReleasesResidualMargin(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()

	pl.ApplyFill(userID, market, 37_000_000, 256_000, 10)
	result, err := pl.ApplyFill(userID, market, -37_000_000, 256_000, 10)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if !result.Closed {
		t.Error("expected Closed = true")
	}
	if result.MarginReleased != 94_720_000 {
		t.Errorf("released = %d, want 94_720_000", result.MarginReleased)
	}
	if pos := pl.GetPosition(userID, market); pos != nil {
		t.Errorf("expected closed position to be gone, got %+v", pos)
	}
	if pl.NetOpenInterest(market) != 0 {
		t.Errorf("net open interest = %d, want 0", pl.NetOpenInterest(market))
	}
}

func TestApplyFill_FlipClosesThenReopens(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()

	pl.ApplyFill(userID, market, 20_000_000, 256_000, 10)
	// Sell 30: closes the 20 long and opens a 10 short at the fill pip
	result, err := pl.ApplyFill(userID, market, -30_000_000, 260_000, 10)
	if err != nil {
		t.Fatalf("flip failed: %v", err)
	}

	pos := pl.GetPosition(userID, market)
	if pos.Size != -10_000_000 {
		t.Errorf("size = %d, want -10_000_000", pos.Size)
	}
	// New short leg: 10 * 26.0 = 260 notional, 26 margin at 10x
	if pos.OpenNotional != 260_000_000 {
		t.Errorf("open notional = %d, want 260_000_000", pos.OpenNotional)
	}
	if result.MarginReserved != 26_000_000 {
		t.Errorf("reserved = %d, want 26_000_000", result.MarginReserved)
	}
	// Closed leg realized (26.0 - 25.6) * 20 = 8.0
	if result.RealizedPnL != 8_000_000 {
		t.Errorf("realized = %d, want 8_000_000", result.RealizedPnL)
	}
	if pl.NetOpenInterest(market) != -10_000_000 {
		t.Errorf("net open interest = %d, want -10_000_000", pl.NetOpenInterest(market))
	}
}

func TestApplyFill_InvalidInputs(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()

	if _, err := pl.ApplyFill(userID, market, 0, 256_000, 10); err == nil {
		t.Error("expected error for zero quantity")
	}
	if _, err := pl.ApplyFill(userID, market, 1_000_000, 0, 10); err == nil {
		t.Error("expected error for zero pip")
	}
	if _, err := pl.ApplyFill(userID, market, 1_000_000, 256_000, 0); err == nil {
		t.Error("expected error for zero leverage")
	}
}

func TestApplyFill_ReconcilesBeforeMutating(t *testing.T) {
	pl, fe := newLedger()
	userID := uuid.New()

	pl.ApplyFill(userID, market, 37_000_000, 256_000, 10)
	payEpoch(t, fe, 0, 25_600_000, 25_500_000)

	result, err := pl.ApplyFill(userID, market, 1_000_000, 256_000, 10)
	if err != nil {
		t.Fatalf("increase failed: %v", err)
	}
	if result.FundingPayment != -3_700_000 {
		t.Errorf("funding payment = %d, want -3_700_000", result.FundingPayment)
	}
	pos := pl.GetPosition(userID, market)
	if pos.LastPremiumFraction != 1_000_000_000 {
		t.Errorf("position not reconciled: last premium fraction = %d", pos.LastPremiumFraction)
	}
}

// ============================================================================
// Test: Margin Operations
// ============================================================================

// ============================================================================
// Test: RequiredReserve
// ============================================================================

func TestRequiredReserve_MatchesApplyFill(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()

	// Open: reserve equals notional/leverage
	if r := pl.RequiredReserve(userID, market, 37_000_000, 256_000, 10); r != 94_720_000 {
		t.Errorf("open reserve = %d, want 94_720_000", r)
	}
	if _, err := pl.ApplyFill(userID, market, 37_000_000, 256_000, 10); err != nil {
		t.Fatalf("ApplyFill failed: %v", err)
	}

	// Reduce: nothing new is locked
	if r := pl.RequiredReserve(userID, market, -18_500_000, 260_000, 10); r != 0 {
		t.Errorf("reduce reserve = %d, want 0", r)
	}

	// Flip: only the reopened remainder is locked
	if r := pl.RequiredReserve(userID, market, -47_000_000, 260_000, 10); r != 26_000_000 {
		t.Errorf("flip reserve = %d, want 26_000_000", r)
	}

	// The preview never mutates
	pos := pl.GetPosition(userID, market)
	if pos.Size != 37_000_000 || pos.Margin != 94_720_000 {
		t.Errorf("preview mutated position: (size %d, margin %d)", pos.Size, pos.Margin)
	}
	if pl.NetOpenInterest(market) != 37_000_000 {
		t.Errorf("preview mutated net open interest: %d", pl.NetOpenInterest(market))
	}
}

func TestRequiredReserve_InvalidInputs(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()

	if r := pl.RequiredReserve(userID, market, 0, 256_000, 10); r != 0 {
		t.Errorf("zero quantity reserve = %d, want 0", r)
	}
	if r := pl.RequiredReserve(userID, market, 1_000_000, 0, 10); r != 0 {
		t.Errorf("zero pip reserve = %d, want 0", r)
	}
	if r := pl.RequiredReserve(userID, market, 1_000_000, 256_000, 0); r != 0 {
		t.Errorf("zero leverage reserve = %d, want 0", r)
	}
}

func TestAddMargin_UnknownPosition(t *testing.T) {
	pl, _ := newLedger()
	_, err := pl.AddMargin(uuid.New(), market, 1_000_000)
	if !errors.Is(err, state.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestRemoveMargin_KeepsMaintenanceRatio(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()
	params := defaultParams()

	pl.ApplyFill(userID, market, 37_000_000, 256_000, 10)
	pl.AddMargin(userID, market, 50_000_000)

	// Removing the added excess keeps the ratio healthy
	if _, err := pl.RemoveMargin(userID, market, 50_000_000, 25_600_000, params); err != nil {
		t.Fatalf("remove of excess margin failed: %v", err)
	}

	// Removing below maintenance is rejected with no state change
	pos := pl.GetPosition(userID, market)
	before := pos.Margin
	_, err := pl.RemoveMargin(userID, market, 90_000_000, 25_600_000, params)
	if !errors.Is(err, state.ErrInsufficientMargin) {
		t.Fatalf("expected ErrInsufficientMargin, got %v", err)
	}
	if pos.Margin != before {
		t.Errorf("rejected remove changed margin: %d -> %d", before, pos.Margin)
	}
}

func TestRemoveMargin_MoreThanHeld(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()

	pl.ApplyFill(userID, market, 37_000_000, 256_000, 10)
	_, err := pl.RemoveMargin(userID, market, 100_000_000, 25_600_000, defaultParams())
	if !errors.Is(err, state.ErrInsufficientMargin) {
		t.Errorf("expected ErrInsufficientMargin, got %v", err)
	}
}

func TestClaimFund_PaysOutExcessOnly(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()

	pl.ApplyFill(userID, market, 37_000_000, 256_000, 10)
	pl.AddMargin(userID, market, 10_000_000)

	claimed, _, err := pl.ClaimFund(userID, market)
	if err != nil {
		t.Fatalf("ClaimFund failed: %v", err)
	}
	if claimed != 10_000_000 {
		t.Errorf("claimed = %d, want 10_000_000", claimed)
	}
	pos := pl.GetPosition(userID, market)
	if pos.Margin != 94_720_000 {
		t.Errorf("margin after claim = %d, want 94_720_000", pos.Margin)
	}

	// Nothing left to claim
	claimed, _, err = pl.ClaimFund(userID, market)
	if err != nil {
		t.Fatalf("second ClaimFund failed: %v", err)
	}
	if claimed != 0 {
		t.Errorf("second claim = %d, want 0", claimed)
	}
}

func TestClaimFund_FlatPositionPaysResidualAndCloses(t *testing.T) {
	pl, fe := newLedger()
	userID := uuid.New()

	pl.ApplyFill(userID, market, 37_000_000, 256_000, 10)
	// Funding in the trader's favor leaves residual margin after the close
	payEpoch(t, fe, 0, 25_250_000, 25_500_000)
	result, err := pl.ApplyFill(userID, market, -37_000_000, 256_000, 10)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if result.FundingPayment != 9_250_000 {
		t.Errorf("funding payment = %d, want 9_250_000", result.FundingPayment)
	}

	// Close released everything, position is gone
	if pos := pl.GetPosition(userID, market); pos != nil {
		t.Fatalf("expected position closed, got %+v", pos)
	}
	_, _, err = pl.ClaimFund(userID, market)
	if !errors.Is(err, state.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

// ============================================================================
// Test: Margin Projections
// ============================================================================

func TestComputeMaintenanceDetail_IncludesPendingFunding(t *testing.T) {
	pl, fe := newLedger()
	userID := uuid.New()
	params := defaultParams()

	pl.ApplyFill(userID, market, 37_000_000, 256_000, 10)
	payEpoch(t, fe, 0, 25_600_000, 25_500_000)

	pos := pl.GetPosition(userID, market)
	detail := state.ComputeMaintenanceDetail(pos, 25_600_000, params, fe)

	if detail.FundingPayment != -3_700_000 {
		t.Errorf("pending funding = %d, want -3_700_000", detail.FundingPayment)
	}
	// No price move: margin balance is margin plus pending funding
	if detail.MarginBalance != 94_720_000-3_700_000 {
		t.Errorf("margin balance = %d, want %d", detail.MarginBalance, 94_720_000-3_700_000)
	}
	// 3% of 947.2
	if detail.MaintenanceMargin != 28_416_000 {
		t.Errorf("maintenance margin = %d, want 28_416_000", detail.MaintenanceMargin)
	}
	if detail.MarginBalance < detail.MaintenanceMargin {
		t.Error("healthy position reported as liquidatable")
	}
	// The projection never mutates
	if pos.Margin != 94_720_000 || pos.LastPremiumFraction != 0 {
		t.Error("ComputeMaintenanceDetail mutated the position")
	}
}

func TestLiquidatable_OnAdversePriceMove(t *testing.T) {
	pl, _ := newLedger()
	userID := uuid.New()
	params := defaultParams()

	pl.ApplyFill(userID, market, 37_000_000, 256_000, 10)
	pos := pl.GetPosition(userID, market)

	// At entry the 10x position is at ~10% ratio, above 3% maintenance
	if state.Liquidatable(pos, 25_600_000, params) {
		t.Error("fresh position should not be liquidatable")
	}
	// An 8% drop erodes the ratio below maintenance:
	// margin 94.72 - 37*2.048 = 18.944 against 28.416 required
	if !state.Liquidatable(pos, 23_552_000, params) {
		t.Error("underwater position should be liquidatable")
	}
}

// ============================================================================
// Test: Insurance Fund Coverage
// ============================================================================

func TestInsuranceFund_ComputeCoverage(t *testing.T) {
	fund := state.NewInsuranceFund()

	covered, remaining := fund.ComputeCoverage(10_000_000, 3_700_000)
	if covered != 3_700_000 || remaining != 0 {
		t.Errorf("coverage = (%d, %d), want (3_700_000, 0)", covered, remaining)
	}

	covered, remaining = fund.ComputeCoverage(2_000_000, 3_700_000)
	if covered != 2_000_000 || remaining != 1_700_000 {
		t.Errorf("partial coverage = (%d, %d), want (2_000_000, 1_700_000)", covered, remaining)
	}

	if !fund.CanCoverDeficit(3_700_000, 3_700_000) {
		t.Error("exact balance should cover the deficit")
	}
	if fund.CanCoverDeficit(3_699_999, 3_700_000) {
		t.Error("short balance should not cover the deficit")
	}
}

// ============================================================================
// Test: Canonical Serialization
// ============================================================================

func TestPosition_CanonicalBytesDeterministic(t *testing.T) {
	userID := uuid.New()
	a := &state.Position{
		UserID:              userID,
		MarketID:            market,
		Size:                37_000_000,
		Margin:              94_720_000,
		OpenNotional:        947_200_000,
		Leverage:            10,
		RealizedPnL:         -5,
		LastPremiumFraction: 1_000_000_000,
	}
	b := *a

	if !bytes.Equal(a.CanonicalBytes(), b.CanonicalBytes()) {
		t.Error("identical positions produced different canonical bytes")
	}

	b.Margin++
	if bytes.Equal(a.CanonicalBytes(), b.CanonicalBytes()) {
		t.Error("differing positions produced identical canonical bytes")
	}
}
