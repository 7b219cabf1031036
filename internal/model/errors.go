package model

import "errors"

var (
	// ErrInvalidImage means the uploaded bytes could not be decoded. Not retryable.
	ErrInvalidImage = errors.New("invalid image")
	// ErrComputationFailed means inference failed. Callers may retry.
	ErrComputationFailed = errors.New("computation failed")
	// ErrCacheUnavailable is reserved for an externalized cache backend.
	ErrCacheUnavailable = errors.New("cache unavailable")
)
