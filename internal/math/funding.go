package math

import (
	"errors"
	"math/big"
)

// OneDaySeconds is the funding pro-rating base: periods shorter or longer
// than a day scale the premium linearly.
const OneDaySeconds = 86_400

// ErrInvalidIndexPrice is returned when the index TWAP is zero or negative.
// The funding attempt is abandoned; the caller retries on the next valid price.
var ErrInvalidIndexPrice = errors.New("invalid index price")

// ComputePremiumFraction calculates the pro-rated mark/index premium for one
// funding period, at RateConfig scale relative to the input price units:
//
//	premiumFraction = (markTwap - indexTwap) * RateScale * period / 86400
//
// Positive when mark trades above index (longs pay shorts).
func ComputePremiumFraction(markTwap, indexTwap, fundingPeriod int64) int64 {
	premium := MultiplyInt128(markTwap-indexTwap, RateConfig.Scale)
	premium.Mul(premium, big.NewInt(fundingPeriod))
	result := DivideInt128(premium, OneDaySeconds, RoundDown)
	putInt128(premium)
	return result
}

// ComputeFundingRate derives the premium fraction and funding rate for one
// funding period. The rate is the premium fraction normalized by the index
// TWAP, rounded half-even. Both TWAPs must share the same price scale.
func ComputeFundingRate(markTwap, indexTwap, fundingPeriod int64) (premiumFraction, fundingRate int64, err error) {
	if indexTwap <= 0 {
		return 0, 0, ErrInvalidIndexPrice
	}
	premiumFraction = ComputePremiumFraction(markTwap, indexTwap, fundingPeriod)
	fundingRate = MulDiv(premiumFraction, 1, indexTwap, RoundHalfEven)
	return premiumFraction, fundingRate, nil
}

// ComputeFundingPayment calculates the margin adjustment for a position given
// the cumulative-premium-fraction delta since its last reconciliation:
//
//	payment = -delta * size / RateScale
//
// The sign is chosen so margin += payment is correct without branching on
// side: a long (positive size) pays when the delta is positive.
func ComputeFundingPayment(premiumFractionDelta, size int64) int64 {
	return MulDiv(-premiumFractionDelta, size, RateConfig.Scale, RoundDown)
}
