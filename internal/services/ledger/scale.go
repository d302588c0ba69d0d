package ledger

import (
	"math"
	"math/big"
)

// DefaultDeltaScale converts an embedding strength into the integer stored
// on the ledger (7.75 becomes 775000).
const DefaultDeltaScale = 100000

// ScaleDelta converts delta into its on-ledger integer, rounding half away
// from zero. Negative or non-finite values yield nil.
func ScaleDelta(delta float64, scale int64) *big.Int {
	if scale <= 0 {
		scale = DefaultDeltaScale
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) || delta < 0 {
		return nil
	}
	scaled := new(big.Float).SetPrec(128).SetFloat64(delta)
	scaled.Mul(scaled, new(big.Float).SetInt64(scale))
	scaled.Add(scaled, big.NewFloat(0.5))
	out, _ := scaled.Int(nil)
	return out
}

// UnscaleDelta converts an on-ledger integer back into an embedding strength.
func UnscaleDelta(value *big.Int, scale int64) float64 {
	if value == nil {
		return 0
	}
	if scale <= 0 {
		scale = DefaultDeltaScale
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(value), new(big.Float).SetInt64(scale)).Float64()
	return f
}
