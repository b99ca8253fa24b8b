package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "tenantguard/pkg/domain-errors"
)

// Typed identifiers keep tenant, principal and resource IDs from being
// swapped at call sites. All are UUIDs underneath.
type (
	TenantID    uuid.UUID
	PrincipalID uuid.UUID
	ResourceID  uuid.UUID
	AuditID     uuid.UUID
)

// maxIDLength bounds input before handing it to the UUID parser.
const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" || strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength || !utf8.ValidString(s) {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is malformed")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, kind+" is malformed")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be the nil UUID")
	}
	return u, nil
}

// ParseTenantID validates s at a trust boundary.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID("tenant id", s)
	return TenantID(u), err
}

func ParsePrincipalID(s string) (PrincipalID, error) {
	u, err := parseUUID("principal id", s)
	return PrincipalID(u), err
}

func ParseResourceID(s string) (ResourceID, error) {
	u, err := parseUUID("resource id", s)
	return ResourceID(u), err
}

func NewTenantID() TenantID       { return TenantID(uuid.New()) }
func NewPrincipalID() PrincipalID { return PrincipalID(uuid.New()) }
func NewResourceID() ResourceID   { return ResourceID(uuid.New()) }
func NewAuditID() AuditID         { return AuditID(uuid.New()) }

func (id TenantID) String() string    { return uuid.UUID(id).String() }
func (id PrincipalID) String() string { return uuid.UUID(id).String() }
func (id ResourceID) String() string  { return uuid.UUID(id).String() }
func (id AuditID) String() string     { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PrincipalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ResourceID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id AuditID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// MarshalText renders the canonical UUID form so IDs encode as JSON strings.
func (id TenantID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *TenantID) UnmarshalText(b []byte) error {
	parsed, err := ParseTenantID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id PrincipalID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *PrincipalID) UnmarshalText(b []byte) error {
	parsed, err := ParsePrincipalID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ResourceID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ResourceID) UnmarshalText(b []byte) error {
	parsed, err := ParseResourceID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id AuditID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
