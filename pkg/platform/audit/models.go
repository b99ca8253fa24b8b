package audit

import (
	"encoding/json"
	"fmt"
	"time"

	id "tenantguard/pkg/domain"
)

// EventCategory classifies audit records by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers records with legal or regulatory significance:
	// tenant lifecycle and principal membership.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers records relevant to access control and
	// forensics, such as suspensions and role changes.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine data changes.
	CategoryOperations EventCategory = "operations"
)

// Action names a state-changing operation.
type Action string

const (
	// Tenant lifecycle
	ActionTenantProvisioned Action = "tenant_provisioned"
	ActionTenantSuspended   Action = "tenant_suspended"
	ActionTenantReactivated Action = "tenant_reactivated"

	// Principals
	ActionPrincipalAdded       Action = "principal_added"
	ActionPrincipalRoleChanged Action = "principal_role_changed"
	ActionPrincipalRemoved     Action = "principal_removed"

	// Tenant-scoped resources
	ActionResourceCreated Action = "resource_created"
	ActionResourceUpdated Action = "resource_updated"
	ActionResourceDeleted Action = "resource_deleted"
)

var actionCategories = map[Action]EventCategory{
	ActionTenantProvisioned: CategoryCompliance,
	ActionTenantReactivated: CategoryCompliance,
	ActionPrincipalAdded:    CategoryCompliance,
	ActionPrincipalRemoved:  CategoryCompliance,

	ActionTenantSuspended:      CategorySecurity,
	ActionPrincipalRoleChanged: CategorySecurity,

	ActionResourceCreated: CategoryOperations,
	ActionResourceUpdated: CategoryOperations,
	ActionResourceDeleted: CategoryOperations,
}

// Category returns the EventCategory for this action.
// Unknown actions default to CategoryOperations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Entry is what domain code hands to Writer.Record. Before and After are
// snapshots of the resource; nil means absent (creation has no Before,
// deletion has no After). They may be json.RawMessage, []byte holding JSON,
// or any value encoding/json can marshal.
type Entry struct {
	// TenantID defaults to the unit of work's tenant and must match it.
	TenantID id.TenantID
	// PrincipalID defaults to the principal on the request context. The nil
	// ID marks a system action.
	PrincipalID  id.PrincipalID
	Action       Action
	ResourceType string
	ResourceID   string
	Before       any
	After        any
	RequestID    string
}

// Record is one persisted, immutable audit row.
type Record struct {
	ID           id.AuditID
	OccurredAt   time.Time
	TenantID     id.TenantID
	PrincipalID  id.PrincipalID
	Action       Action
	Category     EventCategory
	ResourceType string
	ResourceID   string
	Before       json.RawMessage
	After        json.RawMessage
	RequestID    string
	Checksum     string
}

// System reports whether the record was produced without a human principal.
func (r Record) System() bool { return r.PrincipalID.IsNil() }

// PartitionName is the monthly audit_log partition covering t.
func PartitionName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("audit_log_y%04dm%02d", t.Year(), int(t.Month()))
}

// MonthStart truncates t to the first instant of its UTC month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
