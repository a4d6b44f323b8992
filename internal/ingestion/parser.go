package ingestion

import (
	"PerpFunding/internal/event"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts
// raw events before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "TradeFill":
		return parseTradeFill(raw.Data)
	case "MarginDeposit":
		return parseMarginDeposit(raw.Data)
	case "MarginWithdraw":
		return parseMarginWithdraw(raw.Data)
	case "MarginAdd":
		return parseMarginAdd(raw.Data)
	case "MarginRemove":
		return parseMarginRemove(raw.Data)
	case "MarginClaim":
		return parseMarginClaim(raw.Data)
	case "PriceTick":
		return parsePriceTick(raw.Data)
	case "FundingPay":
		return parseFundingPay(raw.Data)
	case "RiskParamUpdate":
		return parseRiskParamUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type tradeFillJSON struct {
	FillID       string `json:"fill_id"`
	UserID       string `json:"user_id"`
	Market       string `json:"market"`
	Side         string `json:"side"` // "long" or "short"
	Quantity     int64  `json:"quantity"`
	Pip          int64  `json:"pip"`
	Leverage     int64  `json:"leverage"`
	Fee          int64  `json:"fee"`
	OrderID      string `json:"order_id"`
	FillSequence int64  `json:"fill_sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseTradeFill(data []byte) (*event.TradeFill, error) {
	var j tradeFillJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeFill: %w", err)
	}

	fillID, err := uuid.Parse(j.FillID)
	if err != nil {
		return nil, fmt.Errorf("parse fill_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	orderID, err := uuid.Parse(j.OrderID)
	if err != nil {
		return nil, fmt.Errorf("parse order_id: %w", err)
	}

	if j.Quantity <= 0 {
		return nil, fmt.Errorf("parse TradeFill: quantity must be positive, got %d", j.Quantity)
	}

	side := event.SideLong
	if j.Side == "short" {
		side = event.SideShort
	}

	return &event.TradeFill{
		FillID:       fillID,
		UserID:       userID,
		Market:       j.Market,
		TradeSide:    side,
		Quantity:     j.Quantity,
		Pip:          j.Pip,
		Leverage:     j.Leverage,
		Fee:          j.Fee,
		OrderID:      orderID,
		FillSequence: j.FillSequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type depositJSON struct {
	DepositID   string `json:"deposit_id"`
	UserID      string `json:"user_id"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseMarginDeposit(data []byte) (*event.MarginDeposit, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginDeposit: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("parse MarginDeposit: amount must be positive, got %d", j.Amount)
	}
	return &event.MarginDeposit{
		DepositID: depositID,
		UserID:    userID,
		Asset:     j.Asset,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type withdrawalJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Asset        string `json:"asset"`
	Amount       int64  `json:"amount"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseMarginWithdraw(data []byte) (*event.MarginWithdraw, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginWithdraw: %w", err)
	}
	wdID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("parse MarginWithdraw: amount must be positive, got %d", j.Amount)
	}
	return &event.MarginWithdraw{
		WithdrawalID: wdID,
		UserID:       userID,
		Asset:        j.Asset,
		Amount:       j.Amount,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type marginOpJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Market      string `json:"market"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseMarginAdd(data []byte) (*event.MarginAdd, error) {
	var j marginOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginAdd: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("parse MarginAdd: amount must be positive, got %d", j.Amount)
	}
	return &event.MarginAdd{
		RequestID: requestID,
		UserID:    userID,
		Market:    j.Market,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseMarginRemove(data []byte) (*event.MarginRemove, error) {
	var j marginOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginRemove: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("parse MarginRemove: amount must be positive, got %d", j.Amount)
	}
	return &event.MarginRemove{
		RequestID: requestID,
		UserID:    userID,
		Market:    j.Market,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseMarginClaim(data []byte) (*event.MarginClaim, error) {
	var j marginOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginClaim: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.MarginClaim{
		RequestID: requestID,
		UserID:    userID,
		Market:    j.Market,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type priceTickJSON struct {
	Market         string `json:"market"`
	MarkPip        int64  `json:"mark_pip"`
	IndexPip       int64  `json:"index_pip"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp"` // Unix seconds
	BlockHeight    int64  `json:"block_height"`
}

func parsePriceTick(data []byte) (*event.PriceTick, error) {
	var j priceTickJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceTick: %w", err)
	}
	if j.MarkPip <= 0 || j.IndexPip <= 0 {
		return nil, fmt.Errorf("parse PriceTick: prices must be positive (mark=%d, index=%d)", j.MarkPip, j.IndexPip)
	}
	return &event.PriceTick{
		Market:         j.Market,
		MarkPip:        j.MarkPip,
		IndexPip:       j.IndexPip,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
		BlockHeight:    j.BlockHeight,
	}, nil
}

type fundingPayJSON struct {
	Market    string `json:"market"`
	EpochID   int64  `json:"epoch_id"`
	Timestamp int64  `json:"timestamp"` // Epoch boundary, unix seconds
}

func parseFundingPay(data []byte) (*event.FundingPay, error) {
	var j fundingPayJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingPay: %w", err)
	}
	return &event.FundingPay{
		Market:    j.Market,
		EpochID:   j.EpochID,
		Timestamp: j.Timestamp,
	}, nil
}

type riskParamUpdateJSON struct {
	Market                  string `json:"market"`
	FundingPeriodSeconds    int64  `json:"funding_period_seconds"`
	TwapWindowSeconds       int64  `json:"twap_window_seconds"`
	MMFraction              int64  `json:"mm_fraction"`
	MaxLeverage             int64  `json:"max_leverage"`
	LiquidationFeeRatio     int64  `json:"liquidation_fee_ratio"`
	PartialLiquidationRatio int64  `json:"partial_liquidation_ratio"`
	EffectiveSeq            int64  `json:"effective_seq"`
	Sequence                int64  `json:"sequence"`
	Timestamp               int64  `json:"timestamp"` // Unix seconds
}

func parseRiskParamUpdate(data []byte) (*event.RiskParamUpdate, error) {
	var j riskParamUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RiskParamUpdate: %w", err)
	}
	return &event.RiskParamUpdate{
		Market:                  j.Market,
		FundingPeriodSeconds:    j.FundingPeriodSeconds,
		TwapWindowSeconds:       j.TwapWindowSeconds,
		MMFraction:              j.MMFraction,
		MaxLeverage:             j.MaxLeverage,
		LiquidationFeeRatio:     j.LiquidationFeeRatio,
		PartialLiquidationRatio: j.PartialLiquidationRatio,
		EffectiveSeq:            j.EffectiveSeq,
		Sequence:                j.Sequence,
		Timestamp:               j.Timestamp,
	}, nil
}
