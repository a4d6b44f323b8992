package state

import "fmt"

// RiskParams defines per-market funding and margin parameters. Updates
// apply only to subsequent computations, never retroactively.
type RiskParams struct {
	MarketID              string
	FundingPeriodSeconds  int64 // Pro-rated against one day
	TwapWindowSeconds     int64 // Trailing window for mark/index TWAPs
	MMFraction            int64 // Maintenance margin ratio (scale 1_000_000)
	MaxLeverage           int64
	LiquidationFeeRatio   int64 // Scale 1_000_000
	PartialLiquidationRatio int64 // Scale 1_000_000
	EffectiveSeq          int64 // Sequence at which params take effect
}

var (
	// Default risk params (MVP)
	DefaultRiskParams = map[string]*RiskParams{
		"BTC-USDT-PERP": {
			MarketID:                "BTC-USDT-PERP",
			FundingPeriodSeconds:    86_400,
			TwapWindowSeconds:       3_600,
			MMFraction:              30_000, // 3%
			MaxLeverage:             10,
			LiquidationFeeRatio:     30_000, // 3%
			PartialLiquidationRatio: 800_000, // 80%
			EffectiveSeq:            0,
		},
		"ETH-USDT-PERP": {
			MarketID:                "ETH-USDT-PERP",
			FundingPeriodSeconds:    86_400,
			TwapWindowSeconds:       3_600,
			MMFraction:              30_000,
			MaxLeverage:             10,
			LiquidationFeeRatio:     30_000,
			PartialLiquidationRatio: 800_000,
			EffectiveSeq:            0,
		},
	}
)

// RiskParamsManager manages risk parameters
type RiskParamsManager struct {
	params map[string]*RiskParams
}

func NewRiskParamsManager() *RiskParamsManager {
	// Initialize with defaults
	params := make(map[string]*RiskParams)
	for k, v := range DefaultRiskParams {
		params[k] = v
	}
	return &RiskParamsManager{params: params}
}

func (rpm *RiskParamsManager) GetRiskParams(marketID string) (*RiskParams, bool) {
	params, ok := rpm.params[marketID]
	return params, ok
}

// ValidateRiskParams checks that risk parameters are within valid ranges:
// funding period > 0, twap window > 0, 0 < mm < 1_000_000, max_leverage > 0.
func ValidateRiskParams(params *RiskParams) error {
	if params.FundingPeriodSeconds <= 0 {
		return fmt.Errorf("funding_period must be > 0, got %d", params.FundingPeriodSeconds)
	}
	if params.TwapWindowSeconds <= 0 {
		return fmt.Errorf("twap_window must be > 0, got %d", params.TwapWindowSeconds)
	}
	if params.MMFraction <= 0 || params.MMFraction >= 1_000_000 {
		return fmt.Errorf("mm_fraction must be in (0, 1_000_000), got %d", params.MMFraction)
	}
	if params.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage must be > 0, got %d", params.MaxLeverage)
	}
	if params.LiquidationFeeRatio < 0 {
		return fmt.Errorf("liquidation_fee_ratio must be >= 0, got %d", params.LiquidationFeeRatio)
	}
	if params.PartialLiquidationRatio < 0 || params.PartialLiquidationRatio > 1_000_000 {
		return fmt.Errorf("partial_liquidation_ratio must be in [0, 1_000_000], got %d", params.PartialLiquidationRatio)
	}
	return nil
}

func (rpm *RiskParamsManager) UpdateRiskParams(params *RiskParams) error {
	if err := ValidateRiskParams(params); err != nil {
		return fmt.Errorf("invalid risk params for %s: %w", params.MarketID, err)
	}
	rpm.params[params.MarketID] = params
	return nil
}

// GetAllParams returns all risk params (for snapshot creation)
func (rpm *RiskParamsManager) GetAllParams() map[string]*RiskParams {
	result := make(map[string]*RiskParams, len(rpm.params))
	for k, v := range rpm.params {
		result[k] = v
	}
	return result
}
