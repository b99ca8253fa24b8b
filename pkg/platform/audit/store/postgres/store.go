package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	id "tenantguard/pkg/domain"
	audit "tenantguard/pkg/platform/audit"
	"tenantguard/pkg/platform/sentinel"
	txcontext "tenantguard/pkg/platform/tx"
)

// Store implements audit.Store against the partitioned audit_log table.
// Every call runs on the unit of work carried by ctx, so reads are filtered
// by row-level security and writes commit with the change they describe.
type Store struct{}

// New creates a new PostgreSQL audit store.
func New() *Store {
	return &Store{}
}

func (s *Store) execer(ctx context.Context) (txcontext.Executor, error) {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return nil, sentinel.ErrNoUnitOfWork
	}
	return tx, nil
}

// EnsurePartition calls ensure_audit_partition in the current transaction.
// If the transaction rolls back, so does any partition it created.
func (s *Store) EnsurePartition(ctx context.Context, at time.Time) (string, error) {
	exec, err := s.execer(ctx)
	if err != nil {
		return "", err
	}
	var name string
	if err := exec.QueryRow(ctx, `SELECT ensure_audit_partition($1)`, at.UTC()).Scan(&name); err != nil {
		return "", fmt.Errorf("ensure audit partition: %w", err)
	}
	return name, nil
}

// NormalizeJSON round-trips doc through jsonb so the checksum is computed
// over the same text the table will return.
func (s *Store) NormalizeJSON(ctx context.Context, doc json.RawMessage) (json.RawMessage, error) {
	exec, err := s.execer(ctx)
	if err != nil {
		return nil, err
	}
	var out string
	if err := exec.QueryRow(ctx, `SELECT $1::jsonb::text`, string(doc)).Scan(&out); err != nil {
		return nil, fmt.Errorf("normalise json: %w", err)
	}
	return json.RawMessage(out), nil
}

// Append inserts rec. The row policy rejects a tenant other than the bound
// one.
func (s *Store) Append(ctx context.Context, rec audit.Record) error {
	exec, err := s.execer(ctx)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO audit_log (
			id, occurred_at, tenant_id, principal_id, action, category,
			resource_type, resource_id, before_state, after_state, request_id, checksum
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11, $12)
	`
	_, err = exec.Exec(ctx, query,
		uuid.UUID(rec.ID),
		rec.OccurredAt,
		uuid.UUID(rec.TenantID),
		nullablePrincipal(rec.PrincipalID),
		string(rec.Action),
		string(rec.Category),
		rec.ResourceType,
		rec.ResourceID,
		nullableJSON(rec.Before),
		nullableJSON(rec.After),
		rec.RequestID,
		rec.Checksum,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, occurred_at, tenant_id, principal_id, action, category,
		   resource_type, resource_id, before_state::text, after_state::text, request_id, checksum
	FROM audit_log
`

// ListByResource returns the visible records for one resource, oldest first.
func (s *Store) ListByResource(ctx context.Context, resourceType, resourceID string) ([]audit.Record, error) {
	exec, err := s.execer(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, selectColumns+`
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY occurred_at, id
	`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return scanRecords(rows)
}

// ListRange returns visible records with from <= occurred_at < to, oldest
// first. limit <= 0 means no limit.
func (s *Store) ListRange(ctx context.Context, from, to time.Time, limit int) ([]audit.Record, error) {
	exec, err := s.execer(ctx)
	if err != nil {
		return nil, err
	}
	query := selectColumns + `
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at, id
	`
	args := []any{from.UTC(), to.UTC()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return scanRecords(rows)
}

// VerifyRange recomputes checksums for the visible records in [from, to) and
// returns the tampered ones with the number checked.
func (s *Store) VerifyRange(ctx context.Context, from, to time.Time) ([]audit.Record, int, error) {
	records, err := s.ListRange(ctx, from, to, 0)
	if err != nil {
		return nil, 0, err
	}
	return audit.Tampered(records), len(records), nil
}

// Partitions lists the audit_log partitions, oldest first. Catalog data, not
// tenant-scoped.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	exec, err := s.execer(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		WHERE i.inhparent = 'audit_log'::regclass
		ORDER BY c.relname
	`)
	if err != nil {
		return nil, fmt.Errorf("query audit partitions: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan audit partitions: %w", err)
	}
	return names, nil
}

func scanRecords(rows pgx.Rows) ([]audit.Record, error) {
	defer rows.Close()
	var records []audit.Record
	for rows.Next() {
		var (
			rec         audit.Record
			recordID    uuid.UUID
			tenantID    uuid.UUID
			principalID *uuid.UUID
			action      string
			category    string
			before      *string
			after       *string
		)
		err := rows.Scan(
			&recordID,
			&rec.OccurredAt,
			&tenantID,
			&principalID,
			&action,
			&category,
			&rec.ResourceType,
			&rec.ResourceID,
			&before,
			&after,
			&rec.RequestID,
			&rec.Checksum,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.ID = id.AuditID(recordID)
		rec.OccurredAt = rec.OccurredAt.UTC()
		rec.TenantID = id.TenantID(tenantID)
		if principalID != nil {
			rec.PrincipalID = id.PrincipalID(*principalID)
		}
		rec.Action = audit.Action(action)
		rec.Category = audit.EventCategory(category)
		if before != nil {
			rec.Before = json.RawMessage(*before)
		}
		if after != nil {
			rec.After = json.RawMessage(*after)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

func nullablePrincipal(p id.PrincipalID) *uuid.UUID {
	if p.IsNil() {
		return nil
	}
	u := uuid.UUID(p)
	return &u
}

func nullableJSON(doc json.RawMessage) *string {
	if doc == nil {
		return nil
	}
	s := string(doc)
	return &s
}
