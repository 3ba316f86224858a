package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested document or channel does
	// not exist. Callers decide whether to create-on-first-save or show an
	// empty state.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when the acting identity lacks rights
	// for the operation. The operation is never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict is returned by version-checked writes when the expected
	// version is stale. Plain writes never return it.
	ErrConflict = errors.New("version conflict")
)

// WriteError reports a transient backend failure on a write. It is surfaced
// verbatim to the caller together with the key it concerns; the store itself
// performs no retry.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write %s: %v", e.Key, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports a transient backend failure on a read or subscribe.
type ReadError struct {
	Key string
	Err error
}

func (e *ReadError) Error() string { return fmt.Sprintf("read %s: %v", e.Key, e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }
