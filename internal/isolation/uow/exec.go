package uow

import (
	"context"

	"github.com/jackc/pgx/v5"

	id "tenantguard/pkg/domain"
)

// ExecuteCommand runs one statement in its own unit of work and returns the
// affected row count. Rows outside the tenant's scope are never counted.
func (m *Manager) ExecuteCommand(ctx context.Context, tenantID id.TenantID, sql string, args ...any) (int64, error) {
	var affected int64
	err := m.WithTenant(ctx, tenantID, func(ctx context.Context, s *Session) error {
		tag, err := s.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Run executes fn in a unit of work and returns its value. On any failure
// the zero value is returned, never a partial result.
func Run[T any](ctx context.Context, m *Manager, tenantID id.TenantID, fn func(ctx context.Context, s *Session) (T, error), opts ...CallOption) (T, error) {
	var out T
	err := m.WithTenant(ctx, tenantID, func(ctx context.Context, s *Session) error {
		v, err := fn(ctx, s)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ExecuteQuery runs a read-only query for tenantID and maps every row with
// mapRow. Results are returned only after the transaction commits.
func ExecuteQuery[T any](ctx context.Context, m *Manager, tenantID id.TenantID, mapRow pgx.RowToFunc[T], sql string, args ...any) ([]T, error) {
	return Run(ctx, m, tenantID, func(ctx context.Context, s *Session) ([]T, error) {
		rows, err := s.Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, mapRow)
	}, ReadOnly())
}

// QueryRows is ExecuteQuery with columns mapped onto T's fields by name.
func QueryRows[T any](ctx context.Context, m *Manager, tenantID id.TenantID, sql string, args ...any) ([]T, error) {
	return ExecuteQuery(ctx, m, tenantID, pgx.RowToStructByName[T], sql, args...)
}
