// Package tx carries the active unit-of-work handle on a context so stores
// invoked from business work join the caller's transaction instead of
// opening their own.
package tx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	id "tenantguard/pkg/domain"
)

// Executor is the subset of a transaction that stores need.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Scoped is an Executor bound to a single tenant for its lifetime.
type Scoped interface {
	Executor
	TenantID() id.TenantID
}

type ctxKey struct{}

var txKey = ctxKey{}

// With stores a tenant-scoped executor in context for downstream store usage.
func With(ctx context.Context, s Scoped) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, s)
}

// From extracts the tenant-scoped executor from context if present.
func From(ctx context.Context) (Scoped, bool) {
	s, ok := ctx.Value(txKey).(Scoped)
	return s, ok
}
