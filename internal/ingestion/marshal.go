package ingestion

import (
	"PerpFunding/internal/event"
	"encoding/json"
	"fmt"
)

// MarshalEvent renders a typed event back into the JSON wire format that
// ParseRawEvent accepts. The persistence bridge stores this payload in the
// event log so crash recovery can replay events through the same parse path
// as live ingestion.
func MarshalEvent(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.TradeFill:
		side := "long"
		if e.TradeSide == event.SideShort {
			side = "short"
		}
		return json.Marshal(tradeFillJSON{
			FillID:       e.FillID.String(),
			UserID:       e.UserID.String(),
			Market:       e.Market,
			Side:         side,
			Quantity:     e.Quantity,
			Pip:          e.Pip,
			Leverage:     e.Leverage,
			Fee:          e.Fee,
			OrderID:      e.OrderID.String(),
			FillSequence: e.FillSequence,
			TimestampUs:  e.Timestamp.UnixMicro(),
		})
	case *event.MarginDeposit:
		return json.Marshal(depositJSON{
			DepositID:   e.DepositID.String(),
			UserID:      e.UserID.String(),
			Asset:       e.Asset,
			Amount:      e.Amount,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.MarginWithdraw:
		return json.Marshal(withdrawalJSON{
			WithdrawalID: e.WithdrawalID.String(),
			UserID:       e.UserID.String(),
			Asset:        e.Asset,
			Amount:       e.Amount,
			Sequence:     e.Sequence,
			TimestampUs:  e.Timestamp.UnixMicro(),
		})
	case *event.MarginAdd:
		return json.Marshal(marginOpJSON{
			RequestID:   e.RequestID.String(),
			UserID:      e.UserID.String(),
			Market:      e.Market,
			Amount:      e.Amount,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.MarginRemove:
		return json.Marshal(marginOpJSON{
			RequestID:   e.RequestID.String(),
			UserID:      e.UserID.String(),
			Market:      e.Market,
			Amount:      e.Amount,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.MarginClaim:
		return json.Marshal(marginOpJSON{
			RequestID:   e.RequestID.String(),
			UserID:      e.UserID.String(),
			Market:      e.Market,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.PriceTick:
		return json.Marshal(priceTickJSON{
			Market:         e.Market,
			MarkPip:        e.MarkPip,
			IndexPip:       e.IndexPip,
			PriceSequence:  e.PriceSequence,
			PriceTimestamp: e.PriceTimestamp,
			BlockHeight:    e.BlockHeight,
		})
	case *event.FundingPay:
		return json.Marshal(fundingPayJSON{
			Market:    e.Market,
			EpochID:   e.EpochID,
			Timestamp: e.Timestamp,
		})
	case *event.RiskParamUpdate:
		return json.Marshal(riskParamUpdateJSON{
			Market:                  e.Market,
			FundingPeriodSeconds:    e.FundingPeriodSeconds,
			TwapWindowSeconds:       e.TwapWindowSeconds,
			MMFraction:              e.MMFraction,
			MaxLeverage:             e.MaxLeverage,
			LiquidationFeeRatio:     e.LiquidationFeeRatio,
			PartialLiquidationRatio: e.PartialLiquidationRatio,
			EffectiveSeq:            e.EffectiveSeq,
			Sequence:                e.Sequence,
			Timestamp:               e.Timestamp,
		})
	default:
		return nil, fmt.Errorf("marshal: unsupported event type %T", evt)
	}
}
