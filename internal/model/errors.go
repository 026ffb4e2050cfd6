package model

import "github.com/rotisserie/eris"

// Sentinel errors for the engine's failure taxonomy. Callers match with
// eris.Is after any number of wraps.
var (
	// ErrInvalidInput marks malformed or out-of-range inputs rejected at
	// the boundary.
	ErrInvalidInput = eris.New("invalid input")

	// ErrAmbiguousMention is returned when two canonical entities tie at
	// the best fuzzy-match distance; the event must be queued for manual
	// linking, never guessed.
	ErrAmbiguousMention = eris.New("ambiguous entity mention")

	// ErrUnresolvedEntity is returned when no canonical player id could be
	// assigned to an event.
	ErrUnresolvedEntity = eris.New("unresolved entity")

	// ErrClassificationUnavailable marks an external classifier failure.
	// The ingestion caller retries with backoff; the engine never does.
	ErrClassificationUnavailable = eris.New("classification unavailable")

	// ErrMergeConflict is returned when the per-player lock could not be
	// acquired in time. The caller retries the whole ingest call.
	ErrMergeConflict = eris.New("concurrent merge conflict")

	// ErrCorruptRecord marks a persisted player link that fails validation
	// on load. The engine refuses to operate on it rather than guess.
	ErrCorruptRecord = eris.New("corrupt player link record")

	// ErrNotFound is returned for lookups of records that do not exist.
	ErrNotFound = eris.New("not found")
)
