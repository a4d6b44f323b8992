package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	PipConfig      = DecimalConfig{DecimalPrecision: 4, Scale: 10_000}             // raw order-book price (basis point)
	PriceConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}          // normalized mark/index price
	QuantityConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}          // 0.000001
	QuoteConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}          // 0.000001 USDT
	RateConfig     = DecimalConfig{DecimalPrecision: 10, Scale: 10_000_000_000}    // funding rate / premium fraction
	RatioConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}          // margin/maintenance ratios
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown                         // Truncate toward zero
	RoundUp                           // Away from zero
)

// DivideInt128 performs numerator / denominator with rounding.
// Division truncates toward zero; the rounding mode then adjusts the
// quotient based on the remainder. Negative numerators are handled
// symmetrically (magnitude rounds the same way as for positives).
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)

	result := quotient.Int64()
	rem := remainder.Int64()

	putInt128(quotient)
	putInt128(remainder)

	if rem == 0 {
		return result
	}

	sign := int64(1)
	if (rem < 0) != (denominator < 0) {
		sign = -1
	}
	absRem := rem
	if absRem < 0 {
		absRem = -absRem
	}
	absDenom := denominator
	if absDenom < 0 {
		absDenom = -absDenom
	}

	switch roundingMode {
	case RoundUp:
		result += sign
	case RoundHalfEven:
		twice := 2 * absRem
		if twice > absDenom {
			result += sign
		} else if twice == absDenom && result%2 != 0 {
			result += sign
		}
	}

	return result
}

// MulDiv computes a * b / denominator in int128 space with rounding.
func MulDiv(a, b, denominator int64, roundingMode RoundingMode) int64 {
	temp := MultiplyInt128(a, b)
	result := DivideInt128(temp, denominator, roundingMode)
	putInt128(temp)
	return result
}

// ComputeOpenNotional converts a fill (quantity, pip price) into quote
// notional: quantity * pip / PipScale.
func ComputeOpenNotional(quantity, pip int64) int64 {
	if quantity < 0 {
		quantity = -quantity
	}
	return MulDiv(quantity, pip, PipConfig.Scale, RoundHalfEven)
}

// ComputeEntryPrice derives the average entry price (PriceConfig scale)
// from open notional and absolute position size.
func ComputeEntryPrice(openNotional, size int64) int64 {
	if size < 0 {
		size = -size
	}
	if size == 0 {
		return 0
	}
	return MulDiv(openNotional, PriceConfig.Scale, size, RoundHalfEven)
}

// ComputeUnrealizedPnL calculates unrealized PnL in quote units for a
// signed position size: (markPrice - entryPrice) * size / PriceScale.
// A short (negative size) gains when price falls without branching.
func ComputeUnrealizedPnL(markPrice, entryPrice, size int64) int64 {
	return MulDiv(markPrice-entryPrice, size, PriceConfig.Scale, RoundHalfEven)
}

// ComputeRealizedPnL calculates PnL extracted when closing closeQty of a
// position with the given side sign at fillPrice (PriceConfig scale).
func ComputeRealizedPnL(sideSign, fillPrice, entryPrice, closeQty int64) int64 {
	if closeQty < 0 {
		closeQty = -closeQty
	}
	return MulDiv(sideSign*(fillPrice-entryPrice), closeQty, PriceConfig.Scale, RoundHalfEven)
}

// ComputeNotional calculates position notional at the given mark price
// (PriceConfig scale) in quote units.
func ComputeNotional(size, markPrice int64) int64 {
	if size < 0 {
		size = -size
	}
	return MulDiv(size, markPrice, PriceConfig.Scale, RoundHalfEven)
}

// PipToPrice normalizes a pip price to PriceConfig scale.
func PipToPrice(pip int64) int64 {
	return pip * (PriceConfig.Scale / PipConfig.Scale)
}
