// Package principal persists principals. Reads and writes run on the unit of
// work in the context and are confined to the bound tenant by row policy.
package principal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tenantguard/internal/platform/postgres"
	"tenantguard/internal/tenant/models"
	id "tenantguard/pkg/domain"
	"tenantguard/pkg/platform/sentinel"
	txcontext "tenantguard/pkg/platform/tx"
)

// PostgresStore persists principals in PostgreSQL.
type PostgresStore struct{}

// NewPostgres constructs a PostgreSQL-backed principal store.
func NewPostgres() *PostgresStore {
	return &PostgresStore{}
}

func executor(ctx context.Context) (txcontext.Executor, error) {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return nil, sentinel.ErrNoUnitOfWork
	}
	return tx, nil
}

const selectPrincipal = `SELECT id, tenant_id, email, role, created_at FROM principals`

// Create inserts p. A duplicate email within the tenant is ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, p *models.Principal) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, `
		INSERT INTO principals (id, tenant_id, email, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(p.ID), uuid.UUID(p.TenantID), p.Email, string(p.Role), p.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert principal: %w", err)
	}
	return nil
}

// FindByID returns the principal, or ErrNotFound if it does not exist in the
// bound tenant.
func (s *PostgresStore) FindByID(ctx context.Context, principalID id.PrincipalID) (*models.Principal, error) {
	exec, err := executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, selectPrincipal+` WHERE id = $1`, uuid.UUID(principalID))
	if err != nil {
		return nil, fmt.Errorf("query principal: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPrincipal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}
	return p, nil
}

// List returns the bound tenant's principals ordered by email.
func (s *PostgresStore) List(ctx context.Context) ([]*models.Principal, error) {
	exec, err := executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, selectPrincipal+` ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("query principals: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanPrincipal)
	if err != nil {
		return nil, fmt.Errorf("scan principals: %w", err)
	}
	return out, nil
}

// UpdateRole persists p.Role.
func (s *PostgresStore) UpdateRole(ctx context.Context, p *models.Principal) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	tag, err := exec.Exec(ctx, `UPDATE principals SET role = $2 WHERE id = $1`, uuid.UUID(p.ID), string(p.Role))
	if err != nil {
		return fmt.Errorf("update principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// Delete removes the principal. Another tenant's principal is ErrNotFound.
func (s *PostgresStore) Delete(ctx context.Context, principalID id.PrincipalID) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	tag, err := exec.Exec(ctx, `DELETE FROM principals WHERE id = $1`, uuid.UUID(principalID))
	if err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanPrincipal(row pgx.CollectableRow) (*models.Principal, error) {
	var (
		p           models.Principal
		principalID uuid.UUID
		tenantID    uuid.UUID
		role        string
	)
	if err := row.Scan(&principalID, &tenantID, &p.Email, &role, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = id.PrincipalID(principalID)
	p.TenantID = id.TenantID(tenantID)
	p.Role = models.Role(role)
	return &p, nil
}
