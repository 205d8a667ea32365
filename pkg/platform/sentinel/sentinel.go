package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so the engine can translate them into domain errors.
var (
	// ErrNotFound means the key has never been written.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable means the backing store or remote cannot be reached.
	ErrUnavailable = errors.New("unavailable")
)
