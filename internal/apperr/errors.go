// Package apperr defines the shared error vocabulary of the engine.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrStaleResync marks a resync whose per-note version stamp was
	// superseded before commit. Callers discard it silently: a newer
	// resync over the final content is guaranteed to follow.
	ErrStaleResync = errors.New("stale resync superseded")
)

// ValidationError reports one violated rule in a snapshot bundle, precise
// enough to tell the user which record and which field.
type ValidationError struct {
	Collection string // "notes", "edges", "tags", or "" for bundle-level
	Index      int    // record index within the collection, -1 for bundle-level
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("snapshot: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("snapshot: %s[%d].%s: %s", e.Collection, e.Index, e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
