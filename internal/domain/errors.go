package domain

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate record")

	// ErrTenantRequired is returned by writes to a tenant-scoped entity when no
	// account is bound. Reads never return it; they degrade to empty results.
	ErrTenantRequired = errors.New("no tenant bound to the current unit of work")
	ErrCrossTenant    = errors.New("record belongs to another tenant")

	ErrStoreUnavailable = errors.New("shared store unavailable")
)
