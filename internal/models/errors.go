package models

import "errors"

// Sentinel errors shared across the core. Handlers map these onto HTTP
// statuses; everything else is treated as an internal fault.
var (
	// ErrInvalidTerms rejects a malformed payload before persistence.
	ErrInvalidTerms = errors.New("invalid terms")

	// ErrNotFound means no request exists under the given id.
	ErrNotFound = errors.New("request not found")

	// ErrVersionConflict is the transient compare-and-swap failure: the
	// caller must re-read and decide whether its action is still valid.
	// The core itself never retries it.
	ErrVersionConflict = errors.New("version conflict")

	// Terminal business rejections. Never retried.
	ErrAlreadyTaken      = errors.New("already taken")
	ErrExpired           = errors.New("expired")
	ErrAlreadyTerminal   = errors.New("already terminal")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotParticipant    = errors.New("not a participant")

	// ErrStoreUnavailable is an infrastructure fault, retryable by the
	// caller with backoff. No partial state is committed behind it.
	ErrStoreUnavailable = errors.New("store unavailable")
)
