package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
)

func TestNewTenant(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tenant, err := NewTenant(id.NewTenantID(), "  Acme ", now)
	require.NoError(t, err)
	assert.Equal(t, "Acme", tenant.Name)
	assert.True(t, tenant.IsActive())
	assert.Equal(t, now, tenant.CreatedAt)

	for name, tc := range map[string]struct {
		id   id.TenantID
		name string
	}{
		"nil id":   {id.TenantID{}, "Acme"},
		"empty":    {id.NewTenantID(), " "},
		"too long": {id.NewTenantID(), strings.Repeat("a", 129)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewTenant(tc.id, tc.name, now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		})
	}
}

func TestTenantTransitions(t *testing.T) {
	now := time.Now()
	tenant, err := NewTenant(id.NewTenantID(), "Acme", now)
	require.NoError(t, err)

	assert.Error(t, tenant.CanReactivate(), "active tenant cannot be reactivated")
	require.NoError(t, tenant.CanSuspend())
	later := now.Add(time.Minute)
	tenant.ApplySuspension(later)
	assert.Equal(t, TenantStatusSuspended, tenant.Status)
	assert.Equal(t, later, tenant.UpdatedAt)

	assert.Error(t, tenant.CanSuspend(), "suspended tenant cannot be suspended again")
	require.NoError(t, tenant.CanReactivate())
	tenant.ApplyReactivation(later)
	assert.True(t, tenant.IsActive())

	assert.False(t, TenantStatus("deleted").CanTransitionTo(TenantStatusActive))
}

func TestNewPrincipal(t *testing.T) {
	tenantID := id.NewTenantID()
	now := time.Now()

	p, err := NewPrincipal(id.NewPrincipalID(), tenantID, " Ops@Acme.Example ", RoleAuditor, now)
	require.NoError(t, err)
	assert.Equal(t, "ops@acme.example", p.Email)
	assert.Equal(t, tenantID, p.TenantID)

	tests := []struct {
		name   string
		tenant id.TenantID
		email  string
		role   Role
	}{
		{"no tenant", id.TenantID{}, "a@b.example", RoleUser},
		{"bad email", tenantID, "not an email", RoleUser},
		{"display name form", tenantID, "Bob <bob@b.example>", RoleUser},
		{"unknown role", tenantID, "a@b.example", Role("owner")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPrincipal(id.NewPrincipalID(), tt.tenant, tt.email, tt.role, now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		})
	}
}

func TestChangeRole(t *testing.T) {
	p := &Principal{Role: RoleUser}
	require.NoError(t, p.ChangeRole(RoleAdmin))
	assert.Equal(t, RoleAdmin, p.Role)
	assert.Error(t, p.ChangeRole(RoleAdmin))
	assert.Error(t, p.ChangeRole(Role("root")))
}
