// Package errkind holds the error classes shared by every dispatch package so
// callers can tell configuration errors, missing records and lost races apart
// with errors.Is.
package errkind

import "errors"

// Sentinel error classes.
var (
	// ErrInvalidConfig marks malformed percentages, non-positive fees and
	// unknown identifiers. These are never coerced.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotFound marks an unknown job, contractor or assignment id.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict marks a compare-and-swap whose expected version no
	// longer matches the stored record.
	ErrVersionConflict = errors.New("version conflict")
)

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool { return errors.Is(err, ErrInvalidConfig) }

// IsConflict reports whether err is a lost compare-and-swap race.
func IsConflict(err error) bool { return errors.Is(err, ErrVersionConflict) }
