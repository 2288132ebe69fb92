package fcm

import "github.com/pkg/errors"

// Build-time error taxonomy, spec.md §7. These are returned synchronously
// from Build; the previously published snapshot remains active on failure.
var (
	ErrDuplicateMatcher      = errors.New("fcm: duplicate FilterChainMatch")
	ErrInvalidCidr           = errors.New("fcm: invalid CIDR")
	ErrInvalidWildcard       = errors.New("fcm: invalid wildcard server name")
	ErrConflictingSourceType = errors.New("fcm: conflicting source type and source IP constraints")
)

// DuplicateMatcherError names both filter chains sharing a match predicate.
type DuplicateMatcherError struct {
	First, Second string
}

func (e *DuplicateMatcherError) Error() string {
	return errors.Wrapf(ErrDuplicateMatcher, "chains %q and %q", e.First, e.Second).Error()
}

func (e *DuplicateMatcherError) Unwrap() error { return ErrDuplicateMatcher }
