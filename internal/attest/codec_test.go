package attest

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

func TestEncodePrice_Boundaries(t *testing.T) {
	zero, err := EncodePrice(0)
	require.NoError(t, err)
	assert.Equal(t, 0, zero.Sign())

	full, err := EncodePrice(100)
	require.NoError(t, err)
	assert.Equal(t, 0, full.Cmp(Q96), "encode(100) = %s, want 2^96", full)

	quarter, err := EncodePrice(25)
	require.NoError(t, err)
	half := new(big.Int).Rsh(Q96, 1)
	assert.Equal(t, 0, quarter.Cmp(half), "sqrt(0.25) is exactly 1/2")
}

func TestEncodePrice_Truncates(t *testing.T) {
	// floor(sqrt(0.5) * 2^96), computed independently via isqrt(2^191).
	want := new(big.Int).Sqrt(new(big.Int).Lsh(big.NewInt(1), 191))

	got, err := EncodePrice(50)
	require.NoError(t, err)
	assert.Equal(t, want.String(), got.String())
}

func TestEncodePrice_RejectsOutOfDomain(t *testing.T) {
	for _, p := range []float64{-1, 101, -0.0001, 100.0000001, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := EncodePrice(p)
		require.Error(t, err, "p=%v", p)
		assert.ErrorIs(t, err, domain.ErrDomain, "p=%v", p)
	}
}

func TestDecodePrice_RejectsOutOfDomain(t *testing.T) {
	tooWide := new(big.Int).Lsh(big.NewInt(1), 160)

	for name, v := range map[string]*big.Int{
		"negative": big.NewInt(-1),
		"2^160":    tooWide,
		"nil":      nil,
	} {
		_, err := DecodePrice(v)
		assert.ErrorIs(t, err, domain.ErrDomain, name)
	}

	// 2^160-1 is in range and clamps to 100.
	p, err := DecodePrice(new(big.Int).Sub(tooWide, big.NewInt(1)))
	require.NoError(t, err)
	assert.Equal(t, MaxProbability, p)
}

func TestRoundTrip(t *testing.T) {
	for _, p := range []float64{0, 0.1, 1, 25, 49.9, 50, 50.1, 68, 99.9, 100} {
		enc, err := EncodePrice(p)
		require.NoError(t, err)

		got, err := DecodePrice(enc)
		require.NoError(t, err)

		assert.InDelta(t, p, got, RoundTripTolerance, "p=%v", p)
		// The analytic error is ~1e-27 plus one float64 rounding.
		assert.InDelta(t, p, got, 1e-12, "p=%v", p)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, MaxProbability)
	}
}

func TestRoundTrip_Exact(t *testing.T) {
	for _, p := range []float64{0, 25, 100} {
		enc, err := EncodePrice(p)
		require.NoError(t, err)
		got, err := DecodePrice(enc)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestEncodePrice_Monotonic(t *testing.T) {
	prev, err := EncodePrice(0)
	require.NoError(t, err)

	for i := 1; i <= 10000; i++ {
		p := float64(i) / 100
		cur, err := EncodePrice(p)
		require.NoError(t, err)
		require.Equal(t, 1, cur.Cmp(prev), "encode(%v) not above encode of previous step", p)
		prev = cur
	}

	below, err := EncodePrice(math.Nextafter(100, 0))
	require.NoError(t, err)
	assert.Equal(t, -1, below.Cmp(Q96))
}

func TestEncodePrice_Deterministic(t *testing.T) {
	a, err := EncodePrice(68)
	require.NoError(t, err)
	b, err := EncodePrice(68)
	require.NoError(t, err)
	assert.Equal(t, a.String(), b.String())
	assert.NotSame(t, a, b)
}
