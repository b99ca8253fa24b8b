package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tenantguard/internal/isolation/uow"
	tenantmetrics "tenantguard/internal/tenant/metrics"
	"tenantguard/internal/tenant/models"
	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
	audit "tenantguard/pkg/platform/audit"
	"tenantguard/pkg/platform/sentinel"
	"tenantguard/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks TenantStore,PrincipalStore,Auditor

// UnitOfWork opens tenant-bound transactions. *uow.Manager satisfies it.
type UnitOfWork interface {
	WithTenant(ctx context.Context, tenantID id.TenantID, work uow.Work, opts ...uow.CallOption) error
}

type TenantStore interface {
	Create(ctx context.Context, t *models.Tenant) error
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	Execute(ctx context.Context, tenantID id.TenantID, validate func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error)
}

type PrincipalStore interface {
	Create(ctx context.Context, p *models.Principal) error
	FindByID(ctx context.Context, principalID id.PrincipalID) (*models.Principal, error)
	List(ctx context.Context) ([]*models.Principal, error)
	UpdateRole(ctx context.Context, p *models.Principal) error
	Delete(ctx context.Context, principalID id.PrincipalID) error
}

// Auditor writes audit records in the caller's unit of work.
// *audit.Writer satisfies it.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (audit.Record, error)
}

// Service orchestrates the tenant lifecycle. Every mutation and its audit
// records commit or roll back together.
type Service struct {
	uow        UnitOfWork
	tenants    TenantStore
	principals PrincipalStore
	auditor    Auditor
	logger     *slog.Logger
	metrics    *tenantmetrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *tenantmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(unit UnitOfWork, tenants TenantStore, principals PrincipalStore, auditor Auditor, opts ...Option) (*Service, error) {
	if unit == nil || tenants == nil || principals == nil || auditor == nil {
		return nil, errors.New("unit of work, tenant store, principal store and auditor are required")
	}
	s := &Service{
		uow:        unit,
		tenants:    tenants,
		principals: principals,
		auditor:    auditor,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Provision creates a tenant and its first admin in one unit of work bound
// to the new tenant id, auditing both.
func (s *Service) Provision(ctx context.Context, name, adminEmail string) (*models.Tenant, *models.Principal, error) {
	start := time.Now()
	now := requestcontext.Now(ctx)
	tenantID := id.NewTenantID()

	t, err := models.NewTenant(tenantID, name, now)
	if err != nil {
		return nil, nil, asInvalidInput(err)
	}
	admin, err := models.NewPrincipal(id.NewPrincipalID(), tenantID, adminEmail, models.RoleAdmin, now)
	if err != nil {
		return nil, nil, asInvalidInput(err)
	}

	err = s.uow.WithTenant(ctx, tenantID, func(ctx context.Context, _ *uow.Session) error {
		if err := s.tenants.Create(ctx, t); err != nil {
			return translate(err, "tenant")
		}
		if err := s.record(ctx, audit.ActionTenantProvisioned, "tenant", t.ID.String(), nil, t); err != nil {
			return err
		}
		if err := s.principals.Create(ctx, admin); err != nil {
			return translate(err, "principal")
		}
		return s.record(ctx, audit.ActionPrincipalAdded, "principal", admin.ID.String(), nil, admin)
	}, uow.ProvisioningTenant())
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "tenant provisioned", "tenant_id", tenantID.String(), "operation", "provision")
	if s.metrics != nil {
		s.metrics.ObserveProvision(start)
	}
	return t, admin, nil
}

// GetTenant returns the tenant, including a suspended one.
func (s *Service) GetTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	var out *models.Tenant
	err := s.uow.WithTenant(ctx, tenantID, func(ctx context.Context, _ *uow.Session) error {
		t, err := s.tenants.FindByID(ctx, tenantID)
		if err != nil {
			return translate(err, "tenant")
		}
		out = t
		return nil
	}, uow.ReadOnly(), uow.AllowSuspendedTenant())
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Suspend moves an active tenant to suspended. Later units of work for the
// tenant fail with InvalidTenantContext.
func (s *Service) Suspend(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	return s.transition(ctx, tenantID, models.TenantStatusSuspended, audit.ActionTenantSuspended,
		(*models.Tenant).CanSuspend, (*models.Tenant).ApplySuspension)
}

// Reactivate moves a suspended tenant back to active.
func (s *Service) Reactivate(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	return s.transition(ctx, tenantID, models.TenantStatusActive, audit.ActionTenantReactivated,
		(*models.Tenant).CanReactivate, (*models.Tenant).ApplyReactivation)
}

// transition uses the Execute callback pattern so validation and mutation
// happen under the same row lock.
func (s *Service) transition(
	ctx context.Context,
	tenantID id.TenantID,
	target models.TenantStatus,
	action audit.Action,
	check func(*models.Tenant) error,
	apply func(*models.Tenant, time.Time),
) (*models.Tenant, error) {
	start := time.Now()
	now := requestcontext.Now(ctx)

	var out *models.Tenant
	err := s.uow.WithTenant(ctx, tenantID, func(ctx context.Context, _ *uow.Session) error {
		var before models.Tenant
		updated, err := s.tenants.Execute(ctx, tenantID,
			func(t *models.Tenant) error {
				before = *t
				if err := check(t); err != nil {
					return dErrors.New(dErrors.CodeConflict, err.Error())
				}
				return nil
			},
			func(t *models.Tenant) { apply(t, now) },
		)
		if err != nil {
			return translate(err, "tenant")
		}
		if err := s.record(ctx, action, "tenant", tenantID.String(), before, updated); err != nil {
			return err
		}
		out = updated
		return nil
	}, uow.AllowSuspendedTenant())
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "tenant status changed",
		"tenant_id", tenantID.String(), "operation", string(action), "status", string(target))
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(target), start)
	}
	return out, nil
}

// AddPrincipal adds a principal to an active tenant.
func (s *Service) AddPrincipal(ctx context.Context, tenantID id.TenantID, email string, role models.Role) (*models.Principal, error) {
	p, err := models.NewPrincipal(id.NewPrincipalID(), tenantID, email, role, requestcontext.Now(ctx))
	if err != nil {
		return nil, asInvalidInput(err)
	}
	err = s.uow.WithTenant(ctx, tenantID, func(ctx context.Context, _ *uow.Session) error {
		if err := s.principals.Create(ctx, p); err != nil {
			return translate(err, "principal")
		}
		return s.record(ctx, audit.ActionPrincipalAdded, "principal", p.ID.String(), nil, p)
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementPrincipalsAdded()
	}
	return p, nil
}

// ListPrincipals returns the tenant's principals.
func (s *Service) ListPrincipals(ctx context.Context, tenantID id.TenantID) ([]*models.Principal, error) {
	var out []*models.Principal
	err := s.uow.WithTenant(ctx, tenantID, func(ctx context.Context, _ *uow.Session) error {
		list, err := s.principals.List(ctx)
		if err != nil {
			return translate(err, "principal")
		}
		out = list
		return nil
	}, uow.ReadOnly())
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChangeRole updates a principal's role. A principal of another tenant is
// reported as not found.
func (s *Service) ChangeRole(ctx context.Context, tenantID id.TenantID, principalID id.PrincipalID, role models.Role) (*models.Principal, error) {
	var out *models.Principal
	err := s.uow.WithTenant(ctx, tenantID, func(ctx context.Context, _ *uow.Session) error {
		p, err := s.principals.FindByID(ctx, principalID)
		if err != nil {
			return translate(err, "principal")
		}
		before := *p
		if err := p.ChangeRole(role); err != nil {
			return asInvalidInput(err)
		}
		if err := s.principals.UpdateRole(ctx, p); err != nil {
			return translate(err, "principal")
		}
		if err := s.record(ctx, audit.ActionPrincipalRoleChanged, "principal", p.ID.String(), before, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemovePrincipal deletes a principal, keeping its last state in the audit
// trail.
func (s *Service) RemovePrincipal(ctx context.Context, tenantID id.TenantID, principalID id.PrincipalID) error {
	return s.uow.WithTenant(ctx, tenantID, func(ctx context.Context, _ *uow.Session) error {
		p, err := s.principals.FindByID(ctx, principalID)
		if err != nil {
			return translate(err, "principal")
		}
		if err := s.principals.Delete(ctx, principalID); err != nil {
			return translate(err, "principal")
		}
		return s.record(ctx, audit.ActionPrincipalRemoved, "principal", principalID.String(), p, nil)
	})
}

func (s *Service) record(ctx context.Context, action audit.Action, resourceType, resourceID string, before, after any) error {
	_, err := s.auditor.Record(ctx, audit.Entry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Before:       before,
		After:        after,
	})
	return err
}

// translate maps store sentinels to coded errors. Coded errors pass through.
func translate(err error, what string) error {
	var coded *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, what+" already exists")
	case errors.As(err, &coded):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist "+what)
	}
}

// asInvalidInput converts model invariant violations into input errors for
// callers.
func asInvalidInput(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeInvalidInput, err.Error())
	}
	return err
}
