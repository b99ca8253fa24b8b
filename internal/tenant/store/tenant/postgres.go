// Package tenant persists tenants. Every method runs on the unit of work
// carried by the context, so the tenants row policy limits each call to the
// bound tenant's own row.
package tenant

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

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct{}

// NewPostgres constructs a PostgreSQL-backed tenant store.
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

// Create inserts t. The insert policy only admits the bound tenant's id.
func (s *PostgresStore) Create(ctx context.Context, t *models.Tenant) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, `
		INSERT INTO tenants (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(t.ID), t.Name, string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// FindByID returns the tenant if it is the bound tenant, else ErrNotFound.
func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	exec, err := executor(ctx)
	if err != nil {
		return nil, err
	}
	return scanTenant(exec.QueryRow(ctx, `
		SELECT id, name, status, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`, uuid.UUID(tenantID)))
}

// Execute locks the tenant row, runs validate, applies mutate and persists
// the result, all in the caller's transaction. Returns the updated tenant.
func (s *PostgresStore) Execute(ctx context.Context, tenantID id.TenantID, validate func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error) {
	exec, err := executor(ctx)
	if err != nil {
		return nil, err
	}
	t, err := scanTenant(exec.QueryRow(ctx, `
		SELECT id, name, status, created_at, updated_at
		FROM tenants
		WHERE id = $1
		FOR UPDATE
	`, uuid.UUID(tenantID)))
	if err != nil {
		return nil, err
	}
	if err := validate(t); err != nil {
		return nil, err
	}
	mutate(t)
	tag, err := exec.Exec(ctx, `
		UPDATE tenants SET name = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, uuid.UUID(t.ID), t.Name, string(t.Status), t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, sentinel.ErrNotFound
	}
	return t, nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var (
		t        models.Tenant
		tenantID uuid.UUID
		status   string
	)
	if err := row.Scan(&tenantID, &t.Name, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.ID = id.TenantID(tenantID)
	t.Status = models.TenantStatus(status)
	return &t, nil
}
