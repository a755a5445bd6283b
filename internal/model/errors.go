package model

import "errors"

var (
	// ErrNotFound means the identifier has no pending entry: already sent,
	// superseded, or never queued. Callers map it to 404, not 500.
	ErrNotFound = errors.New("no pending entry for identifier")

	// ErrInvalidChannel means the "type" parameter named an unknown channel.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrStoreUnavailable means the backing key-value store could not be
	// reached. Admission fails closed on it; it is an infrastructure fault,
	// not normal throttling.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrCodeExpired means no verification code is stored for the identifier.
	ErrCodeExpired = errors.New("verification code expired or not issued")

	// ErrTooManyAttempts means the verify attempt ceiling was hit.
	ErrTooManyAttempts = errors.New("too many verification attempts")

	// ErrCodeMismatch means the submitted code did not match the stored hash.
	ErrCodeMismatch = errors.New("verification code mismatch")
)
