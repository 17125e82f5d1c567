package models

import "errors"

var (
	// ErrInvalidParameter marks indicator parameters that cannot produce a result.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrMalformedInput marks price data that cannot be computed over.
	ErrMalformedInput = errors.New("malformed input")
)
