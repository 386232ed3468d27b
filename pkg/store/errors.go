package store

import "errors"

var (
	// ErrNotFound is returned when a row does not exist (or, for shared
	// links, has already been consumed).
	ErrNotFound = errors.New("not found")

	// ErrExpired is returned for sessions and shared links past their deadline.
	ErrExpired = errors.New("expired")

	// ErrDomainInUse is returned when deleting a domain still referenced by
	// a service.
	ErrDomainInUse = errors.New("domain is referenced by a service")

	// ErrDuplicatePolicy is returned when a second enabled shared_link or
	// sso config would be attached to the same service.
	ErrDuplicatePolicy = errors.New("service already has an enabled policy of this type")
)
