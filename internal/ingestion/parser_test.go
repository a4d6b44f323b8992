package ingestion_test

import (
	"PerpFunding/internal/event"
	"PerpFunding/internal/ingestion"
	"encoding/json"
	"testing"
	"time"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseTradeFill(t *testing.T) {
	payload := map[string]interface{}{
		"fill_id":       "550e8400-e29b-41d4-a716-446655440000",
		"user_id":       "660e8400-e29b-41d4-a716-446655440001",
		"market":        "BTC-USDT-PERP",
		"side":          "long",
		"quantity":      int64(1_000_000),
		"pip":           int64(500_000),
		"leverage":      int64(10),
		"fee":           int64(5_000),
		"order_id":      "770e8400-e29b-41d4-a716-446655440002",
		"fill_sequence": int64(42),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TradeFill")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tf, ok := evt.(*event.TradeFill)
	if !ok {
		t.Fatalf("expected *event.TradeFill, got %T", evt)
	}

	if tf.Market != "BTC-USDT-PERP" {
		t.Errorf("market: got %s, want BTC-USDT-PERP", tf.Market)
	}
	if tf.TradeSide != event.SideLong {
		t.Errorf("side: got %d, want SideLong", tf.TradeSide)
	}
	if tf.Quantity != 1_000_000 {
		t.Errorf("quantity: got %d, want 1_000_000", tf.Quantity)
	}
	if tf.Pip != 500_000 {
		t.Errorf("pip: got %d, want 500_000", tf.Pip)
	}
	if tf.Leverage != 10 {
		t.Errorf("leverage: got %d, want 10", tf.Leverage)
	}
	if tf.SignedQuantity() != 1_000_000 {
		t.Errorf("signed quantity: got %d, want 1_000_000", tf.SignedQuantity())
	}
	if tf.FillSequence != 42 {
		t.Errorf("fill_sequence: got %d, want 42", tf.FillSequence)
	}
	if tf.EventType() != event.EventTypeTradeFill {
		t.Errorf("event type: got %v, want TradeFill", tf.EventType())
	}
}

func TestParseTradeFill_ShortSideIsNegative(t *testing.T) {
	payload := map[string]interface{}{
		"fill_id":       "550e8400-e29b-41d4-a716-446655440000",
		"user_id":       "660e8400-e29b-41d4-a716-446655440001",
		"market":        "BTC-USDT-PERP",
		"side":          "short",
		"quantity":      int64(37_000_000),
		"pip":           int64(256_000),
		"leverage":      int64(10),
		"fee":           int64(0),
		"order_id":      "770e8400-e29b-41d4-a716-446655440002",
		"fill_sequence": int64(1),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "TradeFill")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tf := evt.(*event.TradeFill)
	if tf.SignedQuantity() != -37_000_000 {
		t.Errorf("signed quantity: got %d, want -37_000_000", tf.SignedQuantity())
	}
}

func TestParseMarginDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":        "USDT",
		"amount":       int64(1_000_000),
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "MarginDeposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	d, ok := evt.(*event.MarginDeposit)
	if !ok {
		t.Fatalf("expected *event.MarginDeposit, got %T", evt)
	}

	if d.Asset != "USDT" {
		t.Errorf("asset: got %s, want USDT", d.Asset)
	}
	if d.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", d.Amount)
	}
}

func TestParseMarginDeposit_NonPositiveAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":        "USDT",
		"amount":       int64(0),
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "MarginDeposit"); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestParseMarginAdd(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"market":       "ETH-USDT-PERP",
		"amount":       int64(20_000_000),
		"sequence":     int64(7),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "MarginAdd")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	m, ok := evt.(*event.MarginAdd)
	if !ok {
		t.Fatalf("expected *event.MarginAdd, got %T", evt)
	}
	if m.Market != "ETH-USDT-PERP" {
		t.Errorf("market: got %s, want ETH-USDT-PERP", m.Market)
	}
	if m.Amount != 20_000_000 {
		t.Errorf("amount: got %d, want 20_000_000", m.Amount)
	}
}

func TestParseMarginClaim(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"market":       "BTC-USDT-PERP",
		"sequence":     int64(9),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "MarginClaim")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	m, ok := evt.(*event.MarginClaim)
	if !ok {
		t.Fatalf("expected *event.MarginClaim, got %T", evt)
	}
	if m.EventType() != event.EventTypeMarginClaim {
		t.Errorf("event type: got %v, want MarginClaim", m.EventType())
	}
}

func TestParsePriceTick(t *testing.T) {
	payload := map[string]interface{}{
		"market":          "ETH-USDT-PERP",
		"mark_pip":        int64(500_000),
		"index_pip":       int64(499_900),
		"price_sequence":  int64(100),
		"price_timestamp": int64(1647923690),
		"block_height":    int64(12345),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PriceTick")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pt, ok := evt.(*event.PriceTick)
	if !ok {
		t.Fatalf("expected *event.PriceTick, got %T", evt)
	}

	if pt.Market != "ETH-USDT-PERP" {
		t.Errorf("market: got %s, want ETH-USDT-PERP", pt.Market)
	}
	if pt.MarkPip != 500_000 {
		t.Errorf("mark_pip: got %d, want 500_000", pt.MarkPip)
	}
	if pt.IndexPip != 499_900 {
		t.Errorf("index_pip: got %d, want 499_900", pt.IndexPip)
	}
	if pt.PriceSequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", pt.PriceSequence)
	}
	if pt.PriceTimestamp != 1647923690 {
		t.Errorf("price_timestamp: got %d, want 1647923690", pt.PriceTimestamp)
	}
}

func TestParsePriceTick_NonPositivePrice_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"market":          "ETH-USDT-PERP",
		"mark_pip":        int64(0),
		"index_pip":       int64(499_900),
		"price_sequence":  int64(100),
		"price_timestamp": int64(1647923690),
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "PriceTick"); err == nil {
		t.Fatal("expected error for non-positive mark pip")
	}
}

func TestParseFundingPay(t *testing.T) {
	payload := map[string]interface{}{
		"market":    "BTC-USDT-PERP",
		"epoch_id":  int64(5),
		"timestamp": int64(1647926400),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "FundingPay")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	fp, ok := evt.(*event.FundingPay)
	if !ok {
		t.Fatalf("expected *event.FundingPay, got %T", evt)
	}

	if fp.EpochID != 5 {
		t.Errorf("epoch_id: got %d, want 5", fp.EpochID)
	}
	if fp.IdempotencyKey() != "BTC-USDT-PERP:5:pay" {
		t.Errorf("idempotency key: got %s", fp.IdempotencyKey())
	}
}

func TestParseRiskParamUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"market":                    "BTC-USDT-PERP",
		"funding_period_seconds":    int64(28_800),
		"twap_window_seconds":       int64(900),
		"mm_fraction":               int64(50_000),
		"max_leverage":              int64(20),
		"liquidation_fee_ratio":     int64(30_000),
		"partial_liquidation_ratio": int64(800_000),
		"effective_seq":             int64(99),
		"sequence":                  int64(1),
		"timestamp":                 int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "RiskParamUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rp, ok := evt.(*event.RiskParamUpdate)
	if !ok {
		t.Fatalf("expected *event.RiskParamUpdate, got %T", evt)
	}

	if rp.Market != "BTC-USDT-PERP" {
		t.Errorf("market: got %s, want BTC-USDT-PERP", rp.Market)
	}
	if rp.FundingPeriodSeconds != 28_800 {
		t.Errorf("funding_period_seconds: got %d, want 28_800", rp.FundingPeriodSeconds)
	}
	if rp.MMFraction != 50_000 {
		t.Errorf("mm_fraction: got %d, want 50_000", rp.MMFraction)
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "TradeFill")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"fill_id":       "not-a-uuid",
		"user_id":       "also-not-a-uuid",
		"market":        "BTC-USDT-PERP",
		"side":          "long",
		"quantity":      int64(1),
		"pip":           int64(1),
		"leverage":      int64(1),
		"fee":           int64(0),
		"order_id":      "still-not-a-uuid",
		"fill_sequence": int64(0),
		"timestamp_us":  int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "TradeFill")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}
