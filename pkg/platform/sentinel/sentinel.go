package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into coded errors.
//
//   - ErrNotFound: no visible row. Rows owned by another tenant are invisible
//     under row-level security, so "exists elsewhere" also reports ErrNotFound.
//   - ErrConflict: unique constraint hit within the caller's tenant.
//   - ErrNoUnitOfWork: a tenant-scoped store was called outside WithTenant.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrNoUnitOfWork = errors.New("no unit of work in context")
)
