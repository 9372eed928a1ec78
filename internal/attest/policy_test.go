package attest

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

func TestShouldReattest(t *testing.T) {
	prev, err := EncodePrice(50)
	require.NoError(t, err)

	tests := []struct {
		name      string
		newP      float64
		threshold float64
		want      bool
	}{
		{"moved past threshold", 65, 10, true},
		{"below threshold", 65, 20, false},
		{"downward move", 35, 10, true},
		{"exact threshold", 60, 10, true},
		{"unchanged", 50, 0.5, false},
		{"zero threshold", 50, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ShouldReattest(prev, tt.newP, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldReattest_CorruptHistory(t *testing.T) {
	corrupt := new(big.Int).Lsh(big.NewInt(1), 200)

	got, err := ShouldReattest(corrupt, 65, 10)
	require.Error(t, err)
	assert.False(t, got)
	assert.ErrorIs(t, err, domain.ErrDecodeAmbiguous)

	_, err = ShouldReattest(big.NewInt(-7), 65, 10)
	assert.ErrorIs(t, err, domain.ErrDecodeAmbiguous)

	_, err = ShouldReattest(nil, 65, 10)
	assert.ErrorIs(t, err, domain.ErrDecodeAmbiguous)
}

func TestShouldReattest_InvalidInputs(t *testing.T) {
	prev, err := EncodePrice(50)
	require.NoError(t, err)

	_, err = ShouldReattest(prev, 120, 10)
	assert.ErrorIs(t, err, domain.ErrDomain)
	assert.NotErrorIs(t, err, domain.ErrDecodeAmbiguous)

	for _, th := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err = ShouldReattest(prev, 50, th)
		assert.ErrorIs(t, err, domain.ErrDomain, "threshold=%v", th)
	}
}
