package models

import (
	"net/mail"
	"strings"
	"time"

	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
)

// Role is a principal's role within its tenant. Roles are recorded for the
// application layer; row policies scope by tenant only.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAuditor Role = "auditor"
	RoleUser    Role = "user"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleAuditor, RoleUser:
		return true
	}
	return false
}

// Principal is a user or service account belonging to exactly one tenant.
type Principal struct {
	ID        id.PrincipalID `json:"id"`
	TenantID  id.TenantID    `json:"tenant_id"`
	Email     string         `json:"email"`
	Role      Role           `json:"role"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewPrincipal(principalID id.PrincipalID, tenantID id.TenantID, email string, role Role, now time.Time) (*Principal, error) {
	if principalID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "principal id cannot be nil")
	}
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "principal must belong to a tenant")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown role "+string(role))
	}
	return &Principal{
		ID:        principalID,
		TenantID:  tenantID,
		Email:     email,
		Role:      role,
		CreatedAt: now,
	}, nil
}

// ChangeRole validates and applies a role change.
func (p *Principal) ChangeRole(role Role) error {
	if !role.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown role "+string(role))
	}
	if p.Role == role {
		return dErrors.New(dErrors.CodeInvariantViolation, "principal already has role "+string(role))
	}
	p.Role = role
	return nil
}

func validateEmail(email string) error {
	if len(email) < 3 || len(email) > 320 {
		return dErrors.New(dErrors.CodeInvariantViolation, "email must be between 3 and 320 characters")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid email")
	}
	return nil
}
