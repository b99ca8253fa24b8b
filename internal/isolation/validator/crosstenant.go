package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"tenantguard/internal/isolation/uow"
	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
)

// KeyReader reads row keys through the isolation layer.
type KeyReader interface {
	// VisibleKeys returns the keys of every row of table visible to tenant.
	VisibleKeys(ctx context.Context, tenant id.TenantID, table, key string) ([]string, error)
	// UnboundCount returns how many rows of table are visible with no
	// tenant bound.
	UnboundCount(ctx context.Context, table string) (int64, error)
}

// UnitOfWorkReader implements KeyReader with read-only units of work.
type UnitOfWorkReader struct {
	m *uow.Manager
}

func NewUnitOfWorkReader(m *uow.Manager) *UnitOfWorkReader {
	return &UnitOfWorkReader{m: m}
}

func (r *UnitOfWorkReader) VisibleKeys(ctx context.Context, tenant id.TenantID, table, key string) ([]string, error) {
	query := "SELECT " + pgx.Identifier{key}.Sanitize() + "::text FROM " + pgx.Identifier{table}.Sanitize()
	return uow.ExecuteQuery(ctx, r.m, tenant, pgx.RowTo[string], query)
}

func (r *UnitOfWorkReader) UnboundCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.m.WithoutTenant(ctx, func(ctx context.Context, s *uow.Session) error {
		return s.QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&n)
	})
	return n, err
}

// CrossTenantResult is the probe result for one table.
type CrossTenantResult struct {
	Table      string `json:"table"`
	VisibleToA int    `json:"visible_to_a"`
	VisibleToB int    `json:"visible_to_b"`
	// Shared are keys both tenants could see.
	Shared         []string `json:"shared,omitempty"`
	UnboundVisible int64    `json:"unbound_visible"`
}

// OK reports whether the table kept the tenants apart and failed closed.
func (r CrossTenantResult) OK() bool {
	return len(r.Shared) == 0 && r.UnboundVisible == 0
}

// CrossTenantReport is the result of TestCrossTenantIsolation.
type CrossTenantReport struct {
	TenantA id.TenantID         `json:"tenant_a"`
	TenantB id.TenantID         `json:"tenant_b"`
	Tables  []CrossTenantResult `json:"tables"`
}

// OK reports whether every table passed.
func (r CrossTenantReport) OK() bool {
	for _, t := range r.Tables {
		if !t.OK() {
			return false
		}
	}
	return true
}

// Err returns a CodeIsolationViolation error naming the failing tables, or
// nil. Keys are left out of the message.
func (r CrossTenantReport) Err() error {
	var failed []string
	for _, t := range r.Tables {
		if len(t.Shared) > 0 {
			failed = append(failed, fmt.Sprintf("%s: %d rows visible to both tenants", t.Table, len(t.Shared)))
		}
		if t.UnboundVisible > 0 {
			failed = append(failed, fmt.Sprintf("%s: %d rows visible with no tenant bound", t.Table, t.UnboundVisible))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return dErrors.New(dErrors.CodeIsolationViolation, "cross-tenant isolation violated: "+strings.Join(failed, "; "))
}

// TestCrossTenantIsolation reads every manifest table as a, then as b, and
// checks the visible key sets are disjoint. It also checks each table shows
// zero rows with no tenant bound. Both tenants must exist and be active.
//
// As with ValidateIsolationConfiguration, the error reports a failed probe;
// findings are in the report.
func (v *Validator) TestCrossTenantIsolation(ctx context.Context, a, b id.TenantID) (CrossTenantReport, error) {
	if v.keys == nil {
		return CrossTenantReport{}, errors.New("cross-tenant probe needs a key reader")
	}
	if a == b {
		return CrossTenantReport{}, dErrors.New(dErrors.CodeInvalidInput, "cross-tenant probe needs two distinct tenants")
	}

	report := CrossTenantReport{TenantA: a, TenantB: b}
	for _, name := range v.manifest.Names() {
		t, _ := v.manifest.Lookup(name)
		res, err := v.probe(ctx, a, b, name, t.KeyColumn())
		if err != nil {
			return CrossTenantReport{}, fmt.Errorf("probe %s: %w", name, err)
		}
		report.Tables = append(report.Tables, res)
	}

	ok := report.OK()
	v.metrics.ObserveIsolationCheck(ok)
	if ok {
		v.logger.InfoContext(ctx, "cross-tenant isolation held",
			"tenant_a", a.String(), "tenant_b", b.String(), "tables", len(report.Tables))
	} else {
		v.logger.ErrorContext(ctx, "cross-tenant isolation violated",
			"tenant_a", a.String(), "tenant_b", b.String(), "error", report.Err())
	}
	return report, nil
}

func (v *Validator) probe(ctx context.Context, a, b id.TenantID, table, key string) (CrossTenantResult, error) {
	keysA, err := v.keys.VisibleKeys(ctx, a, table, key)
	if err != nil {
		return CrossTenantResult{}, err
	}
	keysB, err := v.keys.VisibleKeys(ctx, b, table, key)
	if err != nil {
		return CrossTenantResult{}, err
	}
	unbound, err := v.keys.UnboundCount(ctx, table)
	if err != nil {
		return CrossTenantResult{}, err
	}

	inA := make(map[string]struct{}, len(keysA))
	for _, k := range keysA {
		inA[k] = struct{}{}
	}
	res := CrossTenantResult{Table: table, VisibleToA: len(keysA), VisibleToB: len(keysB), UnboundVisible: unbound}
	for _, k := range keysB {
		if _, ok := inA[k]; ok {
			res.Shared = append(res.Shared, k)
		}
	}
	return res, nil
}
