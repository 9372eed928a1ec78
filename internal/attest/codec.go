// Package attest turns a probability estimate into EAS attestation calldata
// and back. Everything here is a pure function of its inputs: no I/O, no
// logging, no shared mutable state.
//
// Probabilities are carried on-chain as a Q96 square-root price, the same
// fixed-point convention used by concentrated-liquidity AMMs:
//
//	encoded = floor(sqrt(p/100) * 2^96)
//
// Encoding is computed exactly in integer arithmetic and truncates toward
// zero. Decoding squares the value back with exact rational arithmetic and
// rounds once, to the nearest float64.
package attest

import (
	"fmt"
	"math"
	"math/big"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

const (
	// MaxProbability is the upper bound of the probability domain, in percent.
	MaxProbability = 100.0

	// RoundTripTolerance bounds |DecodePrice(EncodePrice(p)) - p| in
	// percentage points. The actual error is below 200/2^96 (truncation of
	// the sqrt) plus one float64 rounding of the result.
	RoundTripTolerance = 0.5

	// EncodedPriceBits is the width of the on-chain prediction field (uint160).
	EncodedPriceBits = 160
)

var (
	// Q96 is the fixed-point base, 2^96.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	q192         = new(big.Int).Lsh(big.NewInt(1), 192)
	encodedBound = new(big.Int).Lsh(big.NewInt(1), EncodedPriceBits) // exclusive
	hundred      = big.NewInt(100)
)

// EncodePrice converts a probability in percent to its Q96 sqrt-price.
//
// The float64 input is taken as the exact rational n/d it represents, so the
// result is floor(sqrt(n*2^192 / (100*d))) with no intermediate rounding.
// EncodePrice(0) is 0 and EncodePrice(100) is exactly 2^96.
func EncodePrice(probabilityPercent float64) (*big.Int, error) {
	if err := ValidateProbability(probabilityPercent); err != nil {
		return nil, err
	}

	r := new(big.Rat).SetFloat64(probabilityPercent)
	num := new(big.Int).Mul(r.Num(), q192)
	den := new(big.Int).Mul(r.Denom(), hundred)

	// floor(sqrt(floor(x))) == floor(sqrt(x)) for x >= 0.
	scaled := num.Quo(num, den)
	return scaled.Sqrt(scaled), nil
}

// DecodePrice converts a Q96 sqrt-price back to a probability in percent.
// Results that overshoot [0,100] through rounding are clamped; values that
// could never have been produced by EncodePrice beyond that are still
// accepted as long as they fit in 160 bits.
func DecodePrice(encoded *big.Int) (float64, error) {
	if err := ValidateEncodedPrice(encoded); err != nil {
		return 0, err
	}

	sq := new(big.Int).Mul(encoded, encoded)
	sq.Mul(sq, hundred)
	pct, _ := new(big.Rat).SetFrac(sq, q192).Float64()

	return clampProbability(pct), nil
}

// ValidateProbability reports whether p is a finite value in [0,100].
func ValidateProbability(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return fmt.Errorf("attest: probability %v is not finite: %w", p, domain.ErrDomain)
	}
	if p < 0 || p > MaxProbability {
		return fmt.Errorf("attest: probability %v outside [0,100]: %w", p, domain.ErrDomain)
	}
	return nil
}

// ValidateEncodedPrice reports whether v is a non-negative integer below 2^160.
func ValidateEncodedPrice(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("attest: encoded price is nil: %w", domain.ErrDomain)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("attest: encoded price %s is negative: %w", v, domain.ErrDomain)
	}
	if v.Cmp(encodedBound) >= 0 {
		return fmt.Errorf("attest: encoded price %s exceeds %d bits: %w", v, EncodedPriceBits, domain.ErrDomain)
	}
	return nil
}

func clampProbability(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > MaxProbability:
		return MaxProbability
	default:
		return p
	}
}
