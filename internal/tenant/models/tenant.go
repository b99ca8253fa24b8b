package models

import (
	"strings"
	"time"

	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// IsValid reports whether s is a known status.
func (s TenantStatus) IsValid() bool {
	return s == TenantStatusActive || s == TenantStatusSuspended
}

// CanTransitionTo allows active ↔ suspended only.
func (s TenantStatus) CanTransitionTo(next TenantStatus) bool {
	return s.IsValid() && next.IsValid() && s != next
}

const maxTenantNameLength = 128

// Tenant is the isolation boundary. Every tenant-scoped row resolves to
// exactly one Tenant.
//
// Invariants:
//   - ID is immutable after construction
//   - Name is non-empty and at most 128 characters
//   - Status transitions: active ↔ suspended only
//
// A suspended tenant cannot open a unit of work, so suspension takes effect
// on the next transaction without touching child rows.
type Tenant struct {
	ID        id.TenantID  `json:"id"`
	Name      string       `json:"name"`
	Status    TenantStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func NewTenant(tenantID id.TenantID, name string, now time.Time) (*Tenant, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant id cannot be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name cannot be empty")
	}
	if len(name) > maxTenantNameLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name must be 128 characters or less")
	}
	return &Tenant{
		ID:        tenantID,
		Name:      name,
		Status:    TenantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// CanSuspend checks the tenant may move to suspended.
// Use with ApplySuspension in Execute callbacks.
func (t *Tenant) CanSuspend() error {
	if !t.Status.CanTransitionTo(TenantStatusSuspended) {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already suspended")
	}
	return nil
}

func (t *Tenant) ApplySuspension(now time.Time) {
	t.Status = TenantStatusSuspended
	t.UpdatedAt = now
}

// CanReactivate checks the tenant may move back to active.
// Use with ApplyReactivation in Execute callbacks.
func (t *Tenant) CanReactivate() error {
	if !t.Status.CanTransitionTo(TenantStatusActive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already active")
	}
	return nil
}

func (t *Tenant) ApplyReactivation(now time.Time) {
	t.Status = TenantStatusActive
	t.UpdatedAt = now
}
