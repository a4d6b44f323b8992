package event

import (
	"fmt"
)

// RiskParamUpdate represents an admin update to market parameters. Changes
// apply to subsequent computations only, never retroactively.
type RiskParamUpdate struct {
	Market                  string // Market identifier (e.g., "BTC-USDT-PERP")
	FundingPeriodSeconds    int64
	TwapWindowSeconds       int64
	MMFraction              int64 // Maintenance margin fraction (scale 1_000_000)
	MaxLeverage             int64
	LiquidationFeeRatio     int64 // Scale 1_000_000
	PartialLiquidationRatio int64 // Scale 1_000_000
	EffectiveSeq            int64 // Sequence at which params take effect
	Sequence                int64 // Source sequence
	Timestamp               int64 // Unix seconds (versioned input)
}

func (r *RiskParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("risk_param:%s:%d", r.Market, r.EffectiveSeq)
}

func (r *RiskParamUpdate) EventType() EventType {
	return EventTypeRiskParamUpdate
}

func (r *RiskParamUpdate) MarketID() *string {
	s := r.Market
	return &s
}

func (r *RiskParamUpdate) SourceSequence() int64 {
	return r.Sequence
}
