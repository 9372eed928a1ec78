package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")

	// ErrDomain marks an input outside its valid range: a probability outside
	// [0,100] or an encoded price outside [0, 2^160).
	ErrDomain = errors.New("value outside valid domain")
	// ErrEncoding marks a structurally invalid market reference or price
	// detected while assembling an attestation payload.
	ErrEncoding = errors.New("attestation encoding failed")
	// ErrUnsupportedChain is recoverable: the caller may retry with another chain.
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrDecodeAmbiguous marks a stored prediction that cannot be decoded.
	// Callers must not read it as "no change".
	ErrDecodeAmbiguous = errors.New("previous prediction could not be decoded")
)
