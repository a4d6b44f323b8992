package ingestion_test

import (
	"PerpFunding/internal/event"
	"PerpFunding/internal/ingestion"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

// roundTrip marshals a typed event and feeds the bytes back through the
// parser, the way crash recovery replays the event log.
func roundTrip(t *testing.T, evt event.Event) event.Event {
	t.Helper()
	data, err := ingestion.MarshalEvent(evt)
	if err != nil {
		t.Fatalf("marshal %T: %v", evt, err)
	}
	raw := ingestion.RawEvent{Subject: "test", Data: data}
	parsed, err := ingestion.ParseRawEvent(raw, evt.EventType().String())
	if err != nil {
		t.Fatalf("parse back %T: %v", evt, err)
	}
	return parsed
}

func TestMarshalEvent_ReplayRoundTrip(t *testing.T) {
	userID := uuid.New()
	ts := time.UnixMicro(1_700_000_000_000_000)

	events := []event.Event{
		&event.TradeFill{
			FillID:       uuid.New(),
			UserID:       userID,
			Market:       "BTC-USDT-PERP",
			TradeSide:    event.SideShort,
			Quantity:     37_000_000,
			Pip:          256_000,
			Leverage:     10,
			Fee:          5_000,
			OrderID:      uuid.New(),
			FillSequence: 7,
			Timestamp:    ts,
		},
		&event.MarginDeposit{
			DepositID: uuid.New(),
			UserID:    userID,
			Asset:     "USDT",
			Amount:    1_000_000_000,
			Sequence:  3,
			Timestamp: ts,
		},
		&event.MarginWithdraw{
			WithdrawalID: uuid.New(),
			UserID:       userID,
			Asset:        "USDT",
			Amount:       250_000_000,
			Sequence:     4,
			Timestamp:    ts,
		},
		&event.MarginAdd{
			RequestID: uuid.New(),
			UserID:    userID,
			Market:    "BTC-USDT-PERP",
			Amount:    10_000_000,
			Sequence:  5,
			Timestamp: ts,
		},
		&event.MarginRemove{
			RequestID: uuid.New(),
			UserID:    userID,
			Market:    "BTC-USDT-PERP",
			Amount:    2_000_000,
			Sequence:  6,
			Timestamp: ts,
		},
		&event.PriceTick{
			Market:         "BTC-USDT-PERP",
			MarkPip:        256_000,
			IndexPip:       255_000,
			PriceSequence:  12,
			PriceTimestamp: 1_700_000_000,
			BlockHeight:    9_001,
		},
		&event.FundingPay{
			Market:    "BTC-USDT-PERP",
			EpochID:   2,
			Timestamp: 1_700_003_600,
		},
		&event.RiskParamUpdate{
			Market:                  "BTC-USDT-PERP",
			FundingPeriodSeconds:    3600,
			TwapWindowSeconds:       900,
			MMFraction:              62_500_000,
			MaxLeverage:             20,
			LiquidationFeeRatio:     12_500_000,
			PartialLiquidationRatio: 250_000_000,
			EffectiveSeq:            100,
			Sequence:                8,
			Timestamp:               1_700_000_000,
		},
	}

	for _, evt := range events {
		parsed := roundTrip(t, evt)
		if !reflect.DeepEqual(parsed, evt) {
			t.Errorf("%s round-trip mismatch:\n got  %+v\n want %+v",
				evt.EventType(), parsed, evt)
		}
	}
}

func TestMarshalEvent_MarginClaim(t *testing.T) {
	claim := &event.MarginClaim{
		RequestID: uuid.New(),
		UserID:    uuid.New(),
		Market:    "BTC-USDT-PERP",
		Sequence:  9,
		Timestamp: time.UnixMicro(1_700_000_000_000_000),
	}
	parsed := roundTrip(t, claim)
	if !reflect.DeepEqual(parsed, claim) {
		t.Errorf("MarginClaim round-trip mismatch:\n got  %+v\n want %+v", parsed, claim)
	}
}
