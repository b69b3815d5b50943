package pipeline

import "errors"

var (
	// ErrValidation marks a malformed input segment. Validation failures are
	// per-segment: the segment passes through uncorrected and the job
	// continues.
	ErrValidation = errors.New("malformed segment")

	// ErrExternalService marks an AI corrector failure (timeout, transport
	// error, upstream 5xx). Also per-segment: the segment keeps its
	// dictionary-pass text.
	ErrExternalService = errors.New("ai corrector failed")

	// ErrStoreUnavailable marks a dictionary store outage. This is the only
	// failure that aborts a whole video job; callers should treat it as
	// retryable.
	ErrStoreUnavailable = errors.New("dictionary store unavailable")
)
