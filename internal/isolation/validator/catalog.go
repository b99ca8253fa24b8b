package validator

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TableSecurity is the row-security state of one table.
type TableSecurity struct {
	Name        string
	RowSecurity bool
	Forced      bool
}

// Policy is one row policy as stored in the catalog. Using and Check hold the
// deparsed expressions, empty when absent.
type Policy struct {
	Table   string
	Name    string
	Command string
	Using   string
	Check   string
}

// Role describes the role the application connects as.
type Role struct {
	Name      string
	Superuser bool
	BypassRLS bool
}

// Catalog reads the isolation-relevant parts of the database catalog.
type Catalog interface {
	Tables(ctx context.Context) ([]TableSecurity, error)
	Policies(ctx context.Context) ([]Policy, error)
	// TenantBearing lists tables with a tenant_id column or a foreign key
	// into one of scoped.
	TenantBearing(ctx context.Context, scoped []string) ([]string, error)
	// ExposedPartitions lists partitions the current role can read or write
	// directly. Partitions do not inherit the parent's row policies.
	ExposedPartitions(ctx context.Context) ([]string, error)
	CurrentRole(ctx context.Context) (Role, error)
}

// Querier is the subset of *pgxpool.Pool the catalog needs. Catalog views are
// not row-secured, so no unit of work is required.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgCatalog implements Catalog over pg_catalog for the current schema.
type PgCatalog struct {
	db Querier
}

func NewPgCatalog(db Querier) *PgCatalog {
	return &PgCatalog{db: db}
}

func (c *PgCatalog) Tables(ctx context.Context) ([]TableSecurity, error) {
	rows, err := c.db.Query(ctx, `
		SELECT c.relname, c.relrowsecurity, c.relforcerowsecurity
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = current_schema()
		  AND c.relkind IN ('r', 'p')
		  AND NOT c.relispartition
		ORDER BY c.relname
	`)
	if err != nil {
		return nil, fmt.Errorf("query table security: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TableSecurity, error) {
		var t TableSecurity
		err := row.Scan(&t.Name, &t.RowSecurity, &t.Forced)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan table security: %w", err)
	}
	return out, nil
}

func (c *PgCatalog) Policies(ctx context.Context) ([]Policy, error) {
	rows, err := c.db.Query(ctx, `
		SELECT tablename, policyname, cmd, coalesce(qual, ''), coalesce(with_check, '')
		FROM pg_policies
		WHERE schemaname = current_schema()
		ORDER BY tablename, policyname
	`)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Policy, error) {
		var p Policy
		err := row.Scan(&p.Table, &p.Name, &p.Command, &p.Using, &p.Check)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan policies: %w", err)
	}
	return out, nil
}

func (c *PgCatalog) TenantBearing(ctx context.Context, scoped []string) ([]string, error) {
	rows, err := c.db.Query(ctx, `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = current_schema()
		  AND c.relkind IN ('r', 'p')
		  AND NOT c.relispartition
		  AND (
			EXISTS (
				SELECT 1 FROM pg_attribute a
				WHERE a.attrelid = c.oid AND a.attname = 'tenant_id' AND NOT a.attisdropped
			)
			OR EXISTS (
				SELECT 1 FROM pg_constraint k
				JOIN pg_class r ON r.oid = k.confrelid
				WHERE k.conrelid = c.oid AND k.contype = 'f' AND r.relname = ANY($1)
			)
		  )
		ORDER BY c.relname
	`, scoped)
	if err != nil {
		return nil, fmt.Errorf("query tenant-bearing tables: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan tenant-bearing tables: %w", err)
	}
	return out, nil
}

func (c *PgCatalog) ExposedPartitions(ctx context.Context) ([]string, error) {
	rows, err := c.db.Query(ctx, `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = current_schema()
		  AND c.relispartition
		  AND (has_table_privilege(c.oid, 'SELECT') OR has_table_privilege(c.oid, 'INSERT')
		       OR has_table_privilege(c.oid, 'UPDATE') OR has_table_privilege(c.oid, 'DELETE'))
		ORDER BY c.relname
	`)
	if err != nil {
		return nil, fmt.Errorf("query partition privileges: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan partition privileges: %w", err)
	}
	return out, nil
}

func (c *PgCatalog) CurrentRole(ctx context.Context) (Role, error) {
	var r Role
	err := c.db.QueryRow(ctx, `
		SELECT rolname, rolsuper, rolbypassrls FROM pg_roles WHERE rolname = current_user
	`).Scan(&r.Name, &r.Superuser, &r.BypassRLS)
	if err != nil {
		return Role{}, fmt.Errorf("query current role: %w", err)
	}
	return r, nil
}
