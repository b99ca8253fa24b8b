package uow

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	id "tenantguard/pkg/domain"
)

// Session is the handle business work receives. Every statement runs inside
// the unit-of-work transaction, under the bound tenant.
//
// A Session must not escape its work function; after commit or rollback the
// underlying transaction is closed and every call fails.
type Session struct {
	tx       Tx
	tenantID id.TenantID
}

func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.tx.Exec(ctx, sql, args...)
}

func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.tx.Query(ctx, sql, args...)
}

func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.tx.QueryRow(ctx, sql, args...)
}

// TenantID is the bound tenant, or the nil ID for an unbound session.
func (s *Session) TenantID() id.TenantID {
	return s.tenantID
}

// Bound reports whether a tenant is bound to the session.
func (s *Session) Bound() bool {
	return !s.tenantID.IsNil()
}
