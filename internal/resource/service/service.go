package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"tenantguard/internal/isolation/uow"
	"tenantguard/internal/resource/models"
	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
	audit "tenantguard/pkg/platform/audit"
	"tenantguard/pkg/platform/sentinel"
	"tenantguard/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Auditor

// UnitOfWork opens tenant-bound transactions. *uow.Manager satisfies it.
type UnitOfWork interface {
	WithTenant(ctx context.Context, tenantID id.TenantID, work uow.Work, opts ...uow.CallOption) error
}

// Store is the resource persistence surface. Implementations read the
// transaction from the context.
type Store interface {
	CreateProject(ctx context.Context, p *models.Project) error
	FindProject(ctx context.Context, projectID id.ResourceID) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, projectID id.ResourceID) error

	CreateDocument(ctx context.Context, d *models.Document) error
	FindDocument(ctx context.Context, documentID id.ResourceID) (*models.Document, error)
	ListDocuments(ctx context.Context, projectID id.ResourceID) ([]*models.Document, error)
	UpdateDocument(ctx context.Context, d *models.Document) error
	DeleteDocument(ctx context.Context, documentID id.ResourceID) error

	CreateEvidence(ctx context.Context, e *models.EvidenceRecord) error
	FindEvidence(ctx context.Context, evidenceID id.ResourceID) (*models.EvidenceRecord, error)
	ListEvidence(ctx context.Context, documentID id.ResourceID) ([]*models.EvidenceRecord, error)
	DeleteEvidence(ctx context.Context, evidenceID id.ResourceID) error
}

// Auditor writes audit records in the caller's unit of work.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (audit.Record, error)
}

// Service manages tenant-scoped resources. Each mutation is audited in the
// same unit of work, so the record exists exactly when the change does.
type Service struct {
	uow     UnitOfWork
	store   Store
	auditor Auditor
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(unit UnitOfWork, store Store, auditor Auditor, opts ...Option) (*Service, error) {
	if unit == nil || store == nil || auditor == nil {
		return nil, errors.New("unit of work, store and auditor are required")
	}
	s := &Service{uow: unit, store: store, auditor: auditor, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// within runs fn in a unit of work for tenantID and returns its value, or
// the zero value on any failure.
func within[T any](ctx context.Context, s *Service, tenantID id.TenantID, fn func(ctx context.Context) (T, error), opts ...uow.CallOption) (T, error) {
	var out T
	err := s.uow.WithTenant(ctx, tenantID, func(ctx context.Context, _ *uow.Session) error {
		v, err := fn(ctx)
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

func (s *Service) record(ctx context.Context, action audit.Action, resourceType string, resourceID id.ResourceID, before, after any) error {
	_, err := s.auditor.Record(ctx, audit.Entry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID.String(),
		Before:       before,
		After:        after,
	})
	return err
}

// Projects

func (s *Service) CreateProject(ctx context.Context, tenantID id.TenantID, name string) (*models.Project, error) {
	p, err := models.NewProject(tenantID, name, requestcontext.Now(ctx))
	if err != nil {
		return nil, asInvalidInput(err)
	}
	return within(ctx, s, tenantID, func(ctx context.Context) (*models.Project, error) {
		if err := s.store.CreateProject(ctx, p); err != nil {
			return nil, translate(err, "project")
		}
		return p, s.record(ctx, audit.ActionResourceCreated, models.TypeProject, p.ID, nil, p)
	})
}

func (s *Service) GetProject(ctx context.Context, tenantID id.TenantID, projectID id.ResourceID) (*models.Project, error) {
	return within(ctx, s, tenantID, func(ctx context.Context) (*models.Project, error) {
		p, err := s.store.FindProject(ctx, projectID)
		return p, translate(err, "project")
	}, uow.ReadOnly())
}

func (s *Service) ListProjects(ctx context.Context, tenantID id.TenantID) ([]*models.Project, error) {
	return within(ctx, s, tenantID, func(ctx context.Context) ([]*models.Project, error) {
		list, err := s.store.ListProjects(ctx)
		return list, translate(err, "project")
	}, uow.ReadOnly())
}

func (s *Service) RenameProject(ctx context.Context, tenantID id.TenantID, projectID id.ResourceID, name string) (*models.Project, error) {
	return within(ctx, s, tenantID, func(ctx context.Context) (*models.Project, error) {
		p, err := s.store.FindProject(ctx, projectID)
		if err != nil {
			return nil, translate(err, "project")
		}
		before := *p
		if err := p.Rename(name, requestcontext.Now(ctx)); err != nil {
			return nil, asInvalidInput(err)
		}
		if err := s.store.UpdateProject(ctx, p); err != nil {
			return nil, translate(err, "project")
		}
		return p, s.record(ctx, audit.ActionResourceUpdated, models.TypeProject, p.ID, before, p)
	})
}

// DeleteProject removes a project with its documents and evidence. Only the
// project deletion is audited; children go by cascade.
func (s *Service) DeleteProject(ctx context.Context, tenantID id.TenantID, projectID id.ResourceID) error {
	_, err := within(ctx, s, tenantID, func(ctx context.Context) (struct{}, error) {
		p, err := s.store.FindProject(ctx, projectID)
		if err != nil {
			return struct{}{}, translate(err, "project")
		}
		if err := s.store.DeleteProject(ctx, projectID); err != nil {
			return struct{}{}, translate(err, "project")
		}
		return struct{}{}, s.record(ctx, audit.ActionResourceDeleted, models.TypeProject, projectID, p, nil)
	})
	return err
}

// Documents

// AddDocument attaches a document to a project. A project of another tenant
// is reported as not found.
func (s *Service) AddDocument(ctx context.Context, tenantID id.TenantID, projectID id.ResourceID, title, body string) (*models.Document, error) {
	d, err := models.NewDocument(projectID, title, body, requestcontext.Now(ctx))
	if err != nil {
		return nil, asInvalidInput(err)
	}
	return within(ctx, s, tenantID, func(ctx context.Context) (*models.Document, error) {
		if err := s.store.CreateDocument(ctx, d); err != nil {
			return nil, translate(err, "project")
		}
		return d, s.record(ctx, audit.ActionResourceCreated, models.TypeDocument, d.ID, nil, d)
	})
}

func (s *Service) GetDocument(ctx context.Context, tenantID id.TenantID, documentID id.ResourceID) (*models.Document, error) {
	return within(ctx, s, tenantID, func(ctx context.Context) (*models.Document, error) {
		d, err := s.store.FindDocument(ctx, documentID)
		return d, translate(err, "document")
	}, uow.ReadOnly())
}

func (s *Service) ListDocuments(ctx context.Context, tenantID id.TenantID, projectID id.ResourceID) ([]*models.Document, error) {
	return within(ctx, s, tenantID, func(ctx context.Context) ([]*models.Document, error) {
		list, err := s.store.ListDocuments(ctx, projectID)
		return list, translate(err, "document")
	}, uow.ReadOnly())
}

func (s *Service) ReviseDocument(ctx context.Context, tenantID id.TenantID, documentID id.ResourceID, title, body string) (*models.Document, error) {
	return within(ctx, s, tenantID, func(ctx context.Context) (*models.Document, error) {
		d, err := s.store.FindDocument(ctx, documentID)
		if err != nil {
			return nil, translate(err, "document")
		}
		before := *d
		if err := d.Revise(title, body, requestcontext.Now(ctx)); err != nil {
			return nil, asInvalidInput(err)
		}
		if err := s.store.UpdateDocument(ctx, d); err != nil {
			return nil, translate(err, "document")
		}
		return d, s.record(ctx, audit.ActionResourceUpdated, models.TypeDocument, d.ID, before, d)
	})
}

func (s *Service) DeleteDocument(ctx context.Context, tenantID id.TenantID, documentID id.ResourceID) error {
	_, err := within(ctx, s, tenantID, func(ctx context.Context) (struct{}, error) {
		d, err := s.store.FindDocument(ctx, documentID)
		if err != nil {
			return struct{}{}, translate(err, "document")
		}
		if err := s.store.DeleteDocument(ctx, documentID); err != nil {
			return struct{}{}, translate(err, "document")
		}
		return struct{}{}, s.record(ctx, audit.ActionResourceDeleted, models.TypeDocument, documentID, d, nil)
	})
	return err
}

// Evidence

// RecordEvidence attaches evidence to a document. A document of another
// tenant is reported as not found.
func (s *Service) RecordEvidence(ctx context.Context, tenantID id.TenantID, documentID id.ResourceID, kind string, payload json.RawMessage) (*models.EvidenceRecord, error) {
	e, err := models.NewEvidenceRecord(documentID, kind, payload, requestcontext.Now(ctx))
	if err != nil {
		return nil, asInvalidInput(err)
	}
	return within(ctx, s, tenantID, func(ctx context.Context) (*models.EvidenceRecord, error) {
		if err := s.store.CreateEvidence(ctx, e); err != nil {
			return nil, translate(err, "document")
		}
		return e, s.record(ctx, audit.ActionResourceCreated, models.TypeEvidence, e.ID, nil, e)
	})
}

func (s *Service) GetEvidence(ctx context.Context, tenantID id.TenantID, evidenceID id.ResourceID) (*models.EvidenceRecord, error) {
	return within(ctx, s, tenantID, func(ctx context.Context) (*models.EvidenceRecord, error) {
		e, err := s.store.FindEvidence(ctx, evidenceID)
		return e, translate(err, "evidence record")
	}, uow.ReadOnly())
}

func (s *Service) ListEvidence(ctx context.Context, tenantID id.TenantID, documentID id.ResourceID) ([]*models.EvidenceRecord, error) {
	return within(ctx, s, tenantID, func(ctx context.Context) ([]*models.EvidenceRecord, error) {
		list, err := s.store.ListEvidence(ctx, documentID)
		return list, translate(err, "evidence record")
	}, uow.ReadOnly())
}

func (s *Service) DeleteEvidence(ctx context.Context, tenantID id.TenantID, evidenceID id.ResourceID) error {
	_, err := within(ctx, s, tenantID, func(ctx context.Context) (struct{}, error) {
		e, err := s.store.FindEvidence(ctx, evidenceID)
		if err != nil {
			return struct{}{}, translate(err, "evidence record")
		}
		if err := s.store.DeleteEvidence(ctx, evidenceID); err != nil {
			return struct{}{}, translate(err, "evidence record")
		}
		return struct{}{}, s.record(ctx, audit.ActionResourceDeleted, models.TypeEvidence, evidenceID, e, nil)
	})
	return err
}

// translate maps store sentinels to coded errors; nil stays nil.
func translate(err error, what string) error {
	var coded *dErrors.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, what+" already exists")
	case errors.As(err, &coded):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+what)
	}
}

func asInvalidInput(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeInvalidInput, err.Error())
	}
	return err
}
