// Package store persists projects, documents and evidence records. Every
// method runs on the unit of work in the context; no query names a tenant,
// the row policies supply the scope.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tenantguard/internal/platform/postgres"
	"tenantguard/internal/resource/models"
	id "tenantguard/pkg/domain"
	"tenantguard/pkg/platform/sentinel"
	txcontext "tenantguard/pkg/platform/tx"
)

// PostgresStore persists tenant-scoped resources in PostgreSQL.
type PostgresStore struct{}

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

// insertErr maps a failed child insert. A parent owned by another tenant is
// hidden by the row policy, so it reads as a missing parent.
func insertErr(err error, what string) error {
	switch {
	case postgres.IsPolicyViolation(err), postgres.IsForeignKeyViolation(err):
		return fmt.Errorf("%s parent: %w", what, sentinel.ErrNotFound)
	case postgres.IsUniqueViolation(err):
		return sentinel.ErrConflict
	default:
		return fmt.Errorf("insert %s: %w", what, err)
	}
}

func one[T any](rows pgx.Rows, scan pgx.RowToFunc[T], what string) (T, error) {
	v, err := pgx.CollectExactlyOneRow(rows, scan)
	if err != nil {
		var zero T
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, sentinel.ErrNotFound
		}
		return zero, fmt.Errorf("scan %s: %w", what, err)
	}
	return v, nil
}

func affectedOne(ctx context.Context, exec txcontext.Executor, what, sql string, args ...any) error {
	tag, err := exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// Projects

const selectProject = `SELECT id, tenant_id, name, created_at, updated_at FROM projects`

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, `
		INSERT INTO projects (id, tenant_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(p.ID), uuid.UUID(p.TenantID), p.Name, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return insertErr(err, "project")
	}
	return nil
}

func (s *PostgresStore) FindProject(ctx context.Context, projectID id.ResourceID) (*models.Project, error) {
	exec, err := executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, selectProject+` WHERE id = $1`, uuid.UUID(projectID))
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}
	return one(rows, scanProject, "project")
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	exec, err := executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, selectProject+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanProject)
	if err != nil {
		return nil, fmt.Errorf("scan projects: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p *models.Project) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	return affectedOne(ctx, exec, "update project",
		`UPDATE projects SET name = $2, updated_at = $3 WHERE id = $1`,
		uuid.UUID(p.ID), p.Name, p.UpdatedAt)
}

// DeleteProject removes the project and, by cascade, its documents and
// evidence.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID id.ResourceID) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	return affectedOne(ctx, exec, "delete project", `DELETE FROM projects WHERE id = $1`, uuid.UUID(projectID))
}

func scanProject(row pgx.CollectableRow) (*models.Project, error) {
	var (
		p         models.Project
		projectID uuid.UUID
		tenantID  uuid.UUID
	)
	if err := row.Scan(&projectID, &tenantID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = id.ResourceID(projectID)
	p.TenantID = id.TenantID(tenantID)
	return &p, nil
}

// Documents

const selectDocument = `SELECT id, project_id, title, body, created_at, updated_at FROM documents`

func (s *PostgresStore) CreateDocument(ctx context.Context, d *models.Document) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, `
		INSERT INTO documents (id, project_id, title, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.UUID(d.ID), uuid.UUID(d.ProjectID), d.Title, d.Body, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return insertErr(err, "document")
	}
	return nil
}

func (s *PostgresStore) FindDocument(ctx context.Context, documentID id.ResourceID) (*models.Document, error) {
	exec, err := executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, selectDocument+` WHERE id = $1`, uuid.UUID(documentID))
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return one(rows, scanDocument, "document")
}

func (s *PostgresStore) ListDocuments(ctx context.Context, projectID id.ResourceID) ([]*models.Document, error) {
	exec, err := executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, selectDocument+` WHERE project_id = $1 ORDER BY created_at, id`, uuid.UUID(projectID))
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, d *models.Document) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	return affectedOne(ctx, exec, "update document",
		`UPDATE documents SET title = $2, body = $3, updated_at = $4 WHERE id = $1`,
		uuid.UUID(d.ID), d.Title, d.Body, d.UpdatedAt)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID id.ResourceID) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	return affectedOne(ctx, exec, "delete document", `DELETE FROM documents WHERE id = $1`, uuid.UUID(documentID))
}

func scanDocument(row pgx.CollectableRow) (*models.Document, error) {
	var (
		d          models.Document
		documentID uuid.UUID
		projectID  uuid.UUID
	)
	if err := row.Scan(&documentID, &projectID, &d.Title, &d.Body, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ID = id.ResourceID(documentID)
	d.ProjectID = id.ResourceID(projectID)
	return &d, nil
}

// Evidence records

const selectEvidence = `SELECT id, document_id, kind, payload::text, collected_at FROM evidence_records`

func (s *PostgresStore) CreateEvidence(ctx context.Context, e *models.EvidenceRecord) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, `
		INSERT INTO evidence_records (id, document_id, kind, payload, collected_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, uuid.UUID(e.ID), uuid.UUID(e.DocumentID), e.Kind, string(e.Payload), e.CollectedAt)
	if err != nil {
		return insertErr(err, "evidence record")
	}
	return nil
}

func (s *PostgresStore) FindEvidence(ctx context.Context, evidenceID id.ResourceID) (*models.EvidenceRecord, error) {
	exec, err := executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, selectEvidence+` WHERE id = $1`, uuid.UUID(evidenceID))
	if err != nil {
		return nil, fmt.Errorf("query evidence record: %w", err)
	}
	return one(rows, scanEvidence, "evidence record")
}

func (s *PostgresStore) ListEvidence(ctx context.Context, documentID id.ResourceID) ([]*models.EvidenceRecord, error) {
	exec, err := executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, selectEvidence+` WHERE document_id = $1 ORDER BY collected_at, id`, uuid.UUID(documentID))
	if err != nil {
		return nil, fmt.Errorf("query evidence records: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanEvidence)
	if err != nil {
		return nil, fmt.Errorf("scan evidence records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteEvidence(ctx context.Context, evidenceID id.ResourceID) error {
	exec, err := executor(ctx)
	if err != nil {
		return err
	}
	return affectedOne(ctx, exec, "delete evidence record", `DELETE FROM evidence_records WHERE id = $1`, uuid.UUID(evidenceID))
}

func scanEvidence(row pgx.CollectableRow) (*models.EvidenceRecord, error) {
	var (
		e          models.EvidenceRecord
		evidenceID uuid.UUID
		documentID uuid.UUID
		payload    string
	)
	if err := row.Scan(&evidenceID, &documentID, &e.Kind, &payload, &e.CollectedAt); err != nil {
		return nil, err
	}
	e.ID = id.ResourceID(evidenceID)
	e.DocumentID = id.ResourceID(documentID)
	e.Payload = []byte(payload)
	return &e, nil
}
