package attest

import (
	"fmt"
	"math"
	"math/big"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

// ShouldReattest reports whether newProbability moved at least
// thresholdPercent percentage points away from the previously attested
// encoded price.
//
// A previous value that cannot be decoded yields an error wrapping
// domain.ErrDecodeAmbiguous, never false.
func ShouldReattest(previousEncodedPrice *big.Int, newProbability, thresholdPercent float64) (bool, error) {
	if err := ValidateProbability(newProbability); err != nil {
		return false, err
	}
	if math.IsNaN(thresholdPercent) || math.IsInf(thresholdPercent, 0) || thresholdPercent < 0 {
		return false, fmt.Errorf("attest: threshold %v must be a finite non-negative number: %w", thresholdPercent, domain.ErrDomain)
	}

	previous, err := DecodePrice(previousEncodedPrice)
	if err != nil {
		return false, fmt.Errorf("attest: previous prediction: %w: %w", domain.ErrDecodeAmbiguous, err)
	}

	return math.Abs(newProbability-previous) >= thresholdPercent, nil
}
