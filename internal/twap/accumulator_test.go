package twap_test

import (
	"errors"
	"testing"

	"PerpFunding/internal/twap"
)

const market = "BTC-USDT-PERP"

func mustAppend(t *testing.T, a *twap.Accumulator, price, ts int64) {
	t.Helper()
	if err := a.Append(market, price, ts, ts); err != nil {
		t.Fatalf("Append(%d, %d) failed: %v", price, ts, err)
	}
}

// ============================================================================
// Test: TWAP Computation
// ============================================================================

func TestTwapPrice_ReferenceWindow(t *testing.T) {
	a := twap.NewAccumulator(0)

	// 50.0000 held for most of the hour, then two quick moves at the end
	mustAppend(t, a, 500_000, 1_647_920_000)
	mustAppend(t, a, 490_000, 1_647_923_687)
	mustAppend(t, a, 510_000, 1_647_923_690)

	got, err := a.TwapPrice(market, 3_600, 1_647_923_692)
	if err != nil {
		t.Fatalf("TwapPrice failed: %v", err)
	}
	// Weights 3595s / 3s / 2s over the trailing hour
	if got != 49_999_722 {
		t.Errorf("twap = %d, want 49_999_722", got)
	}
}

func TestTwapPrice_ConstantPrice(t *testing.T) {
	a := twap.NewAccumulator(0)
	mustAppend(t, a, 256_000, 1_000)
	mustAppend(t, a, 256_000, 2_000)

	got, err := a.TwapPrice(market, 3_600, 4_600)
	if err != nil {
		t.Fatalf("TwapPrice failed: %v", err)
	}
	if got != 25_600_000 {
		t.Errorf("twap = %d, want 25_600_000", got)
	}
}

func TestTwapPrice_PartialWindowClamped(t *testing.T) {
	a := twap.NewAccumulator(0)

	// History starts inside the requested window; the window clamps to it
	mustAppend(t, a, 500_000, 10_000)
	mustAppend(t, a, 520_000, 10_100)

	got, err := a.TwapPrice(market, 3_600, 10_200)
	if err != nil {
		t.Fatalf("TwapPrice failed: %v", err)
	}
	// (500000*100 + 520000*100) / 200 = 510000 pips
	if got != 51_000_000 {
		t.Errorf("twap = %d, want 51_000_000", got)
	}
}

func TestTwapPrice_AllSnapshotsAtAsOf_FallsBackToLatest(t *testing.T) {
	a := twap.NewAccumulator(0)
	mustAppend(t, a, 500_000, 10_000)

	got, err := a.TwapPrice(market, 3_600, 10_000)
	if err != nil {
		t.Fatalf("TwapPrice failed: %v", err)
	}
	if got != 50_000_000 {
		t.Errorf("twap = %d, want 50_000_000 (latest price)", got)
	}
}

func TestTwapPrice_NoHistory(t *testing.T) {
	a := twap.NewAccumulator(0)
	_, err := a.TwapPrice(market, 3_600, 10_000)
	if !errors.Is(err, twap.ErrNoPriceHistory) {
		t.Errorf("expected ErrNoPriceHistory, got %v", err)
	}
}

// ============================================================================
// Test: Append Ordering
// ============================================================================

func TestAppend_OutOfOrderTimestamp_Rejected(t *testing.T) {
	a := twap.NewAccumulator(0)
	mustAppend(t, a, 500_000, 10_000)

	err := a.Append(market, 490_000, 9_999, 0)
	if !errors.Is(err, twap.ErrOutOfOrderTimestamp) {
		t.Errorf("expected ErrOutOfOrderTimestamp, got %v", err)
	}
	if n := a.SnapshotCount(market); n != 1 {
		t.Errorf("rejected snapshot was stored: count = %d", n)
	}
}

func TestAppend_EqualTimestamp_Allowed(t *testing.T) {
	a := twap.NewAccumulator(0)
	mustAppend(t, a, 500_000, 10_000)
	mustAppend(t, a, 510_000, 10_000)

	price, err := a.LatestPrice(market)
	if err != nil {
		t.Fatalf("LatestPrice failed: %v", err)
	}
	if price != 510_000 {
		t.Errorf("latest price = %d, want 510_000", price)
	}
}

func TestLatestPrice_NoHistory(t *testing.T) {
	a := twap.NewAccumulator(0)
	_, err := a.LatestPrice(market)
	if !errors.Is(err, twap.ErrNoPriceHistory) {
		t.Errorf("expected ErrNoPriceHistory, got %v", err)
	}
}

// ============================================================================
// Test: Pruning
// ============================================================================

func TestPrune_KeepsBoundaryPredecessor(t *testing.T) {
	a := twap.NewAccumulator(100)
	mustAppend(t, a, 500_000, 0)
	mustAppend(t, a, 510_000, 50)
	mustAppend(t, a, 520_000, 200)

	// Cutoff at 150: the snapshot at 50 predates it but is retained so
	// partial windows starting before 200 stay answerable
	a.Prune(market, 250)

	snaps := a.Snapshots(market)
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots after prune, got %d", len(snaps))
	}
	if snaps[0].Timestamp != 50 || snaps[1].Timestamp != 200 {
		t.Errorf("retained timestamps = (%d, %d), want (50, 200)",
			snaps[0].Timestamp, snaps[1].Timestamp)
	}
}

func TestPrune_UnboundedLookbackKeepsAll(t *testing.T) {
	a := twap.NewAccumulator(0)
	mustAppend(t, a, 500_000, 0)
	mustAppend(t, a, 510_000, 1_000_000)

	a.Prune(market, 2_000_000)
	if n := a.SnapshotCount(market); n != 2 {
		t.Errorf("unbounded accumulator pruned history: count = %d", n)
	}
}

// ============================================================================
// Test: Restore
// ============================================================================

func TestRestore_RoundTrip(t *testing.T) {
	a := twap.NewAccumulator(0)
	mustAppend(t, a, 500_000, 1_000)
	mustAppend(t, a, 510_000, 2_000)

	b := twap.NewAccumulator(0)
	b.Restore(market, a.Snapshots(market))

	want, err := a.TwapPrice(market, 3_600, 3_000)
	if err != nil {
		t.Fatalf("TwapPrice failed: %v", err)
	}
	got, err := b.TwapPrice(market, 3_600, 3_000)
	if err != nil {
		t.Fatalf("TwapPrice on restored accumulator failed: %v", err)
	}
	if got != want {
		t.Errorf("restored twap = %d, want %d", got, want)
	}
}
