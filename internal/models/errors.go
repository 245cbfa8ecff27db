package models

import "errors"

// Error taxonomy for the pipeline. Components wrap these sentinels with
// fmt.Errorf("%w: ...") so callers can branch with errors.Is.
var (
	// ErrInvalidInput marks caller mistakes: empty or binary uploads,
	// missing question text, missing session. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateDocument is returned when a filename already has chunks
	// in the session. The rejected ingestion writes nothing.
	ErrDuplicateDocument = errors.New("document already exists")

	// ErrModelUnavailable covers embedding and language model load or call
	// failures. Safe to retry the whole operation.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrStore covers vector and conversation store failures. An ingestion
	// that fails mid-way may have flushed earlier batches already.
	ErrStore = errors.New("store failure")
)
