// Package validator checks that the live database enforces the isolation the
// policy manifest describes, and that two tenants really cannot see each
// other's rows.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"tenantguard/internal/isolation/policy"
	dErrors "tenantguard/pkg/domain-errors"
)

// Metrics records validator outcomes.
type Metrics interface {
	ObserveIsolationCheck(ok bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveIsolationCheck(bool) {}

// Validator compares the catalog with a manifest and probes cross-tenant
// visibility.
type Validator struct {
	manifest policy.Manifest
	catalog  Catalog
	keys     KeyReader
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithManifest replaces policy.Default.
func WithManifest(m policy.Manifest) Option {
	return func(v *Validator) { v.manifest = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

func WithMetrics(metrics Metrics) Option {
	return func(v *Validator) { v.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a Validator. keys may be nil when only configuration checks
// are needed.
func New(catalog Catalog, keys KeyReader, opts ...Option) (*Validator, error) {
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	v := &Validator{
		manifest: policy.Default,
		catalog:  catalog,
		keys:     keys,
		logger:   slog.Default(),
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if err := v.manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return v, nil
}

// TableReport is the isolation state of one manifest table.
type TableReport struct {
	Table            string   `json:"table"`
	Chain            []string `json:"chain"`
	Exists           bool     `json:"exists"`
	PredicateEnabled bool     `json:"predicate_enabled"`
	Forced           bool     `json:"forced"`
	PolicyCount      int      `json:"policy_count"`
	MissingPolicies  []string `json:"missing_policies,omitempty"`
	// UnexpectedPolicies are policies on the table the manifest does not
	// define. Permissive policies are OR-ed, so any extra one can widen
	// visibility.
	UnexpectedPolicies []string `json:"unexpected_policies,omitempty"`
	// PredicateDrift names policies whose expression no longer references
	// the chain the manifest expects.
	PredicateDrift []string `json:"predicate_drift,omitempty"`
}

// OK reports whether the table is fully guarded.
func (t TableReport) OK() bool {
	return t.Exists && t.PredicateEnabled && t.Forced &&
		len(t.MissingPolicies) == 0 && len(t.UnexpectedPolicies) == 0 && len(t.PredicateDrift) == 0
}

func (t TableReport) problems() []string {
	var out []string
	if !t.Exists {
		return []string{t.Table + ": table missing"}
	}
	if !t.PredicateEnabled {
		out = append(out, t.Table+": row security disabled")
	}
	if !t.Forced {
		out = append(out, t.Table+": row security not forced")
	}
	if len(t.MissingPolicies) > 0 {
		out = append(out, t.Table+": missing policies "+strings.Join(t.MissingPolicies, ","))
	}
	if len(t.UnexpectedPolicies) > 0 {
		out = append(out, t.Table+": unexpected policies "+strings.Join(t.UnexpectedPolicies, ","))
	}
	if len(t.PredicateDrift) > 0 {
		out = append(out, t.Table+": predicate drift in "+strings.Join(t.PredicateDrift, ","))
	}
	return out
}

// Report is the result of ValidateIsolationConfiguration.
type Report struct {
	ManifestVersion   int           `json:"manifest_version"`
	CheckedAt         time.Time     `json:"checked_at"`
	Role              Role          `json:"role"`
	Tables            []TableReport `json:"tables"`
	Unmanifested      []string      `json:"unmanifested,omitempty"`
	ExposedPartitions []string      `json:"exposed_partitions,omitempty"`
}

// Violations lists every problem found, one line each.
func (r Report) Violations() []string {
	var out []string
	if r.Role.Superuser {
		out = append(out, "role "+r.Role.Name+" is a superuser")
	}
	if r.Role.BypassRLS {
		out = append(out, "role "+r.Role.Name+" has BYPASSRLS")
	}
	for _, t := range r.Tables {
		out = append(out, t.problems()...)
	}
	for _, name := range r.Unmanifested {
		out = append(out, name+": tenant-bearing table absent from manifest")
	}
	for _, name := range r.ExposedPartitions {
		out = append(out, name+": partition directly accessible")
	}
	return out
}

// OK reports whether no violation was found.
func (r Report) OK() bool { return len(r.Violations()) == 0 }

// Err returns a CodeIsolationViolation error listing the violations, or nil.
func (r Report) Err() error {
	v := r.Violations()
	if len(v) == 0 {
		return nil
	}
	return dErrors.New(dErrors.CodeIsolationViolation, "isolation configuration invalid: "+strings.Join(v, "; "))
}

// ValidateIsolationConfiguration reads the catalog and reports, for every
// manifest table, whether row security is enabled and forced and whether
// the expected policies exist with the expected predicates. It also reports
// tenant-bearing tables missing from the manifest, partitions the role can
// reach directly, and a superuser or BYPASSRLS connection role.
//
// The returned error is non-nil only when the catalog cannot be read; call
// Report.Err to turn findings into an error.
func (v *Validator) ValidateIsolationConfiguration(ctx context.Context) (Report, error) {
	report := Report{ManifestVersion: v.manifest.Version, CheckedAt: v.now().UTC()}

	role, err := v.catalog.CurrentRole(ctx)
	if err != nil {
		return Report{}, err
	}
	report.Role = role

	tables, err := v.catalog.Tables(ctx)
	if err != nil {
		return Report{}, err
	}
	security := make(map[string]TableSecurity, len(tables))
	for _, t := range tables {
		security[t.Name] = t
	}

	policies, err := v.catalog.Policies(ctx)
	if err != nil {
		return Report{}, err
	}
	byTable := make(map[string][]Policy)
	for _, p := range policies {
		byTable[p.Table] = append(byTable[p.Table], p)
	}

	for _, name := range v.manifest.Names() {
		tr, err := v.checkTable(name, security, byTable[name])
		if err != nil {
			return Report{}, err
		}
		report.Tables = append(report.Tables, tr)
	}

	bearing, err := v.catalog.TenantBearing(ctx, v.manifest.Names())
	if err != nil {
		return Report{}, err
	}
	for _, name := range bearing {
		if _, ok := v.manifest.Lookup(name); ok || v.manifest.IsExempt(name) {
			continue
		}
		report.Unmanifested = append(report.Unmanifested, name)
	}

	report.ExposedPartitions, err = v.catalog.ExposedPartitions(ctx)
	if err != nil {
		return Report{}, err
	}

	ok := report.OK()
	v.metrics.ObserveIsolationCheck(ok)
	if ok {
		v.logger.InfoContext(ctx, "isolation configuration valid",
			"manifest_version", report.ManifestVersion,
			"tables", len(report.Tables),
			"role", role.Name,
		)
	} else {
		v.logger.WarnContext(ctx, "isolation configuration invalid",
			"manifest_version", report.ManifestVersion,
			"violations", report.Violations(),
		)
	}
	return report, nil
}

func (v *Validator) checkTable(name string, security map[string]TableSecurity, live []Policy) (TableReport, error) {
	chain, err := v.manifest.Chain(name)
	if err != nil {
		return TableReport{}, err
	}
	tr := TableReport{Table: name, Chain: chain, PolicyCount: len(live)}
	sec, exists := security[name]
	if !exists {
		return tr, nil
	}
	tr.Exists = true
	tr.PredicateEnabled = sec.RowSecurity
	tr.Forced = sec.Forced

	want, err := v.manifest.CanonicalPredicate(name)
	if err != nil {
		return TableReport{}, err
	}
	expected := v.manifest.ExpectedPolicies(name)
	seen := make(map[string]Policy, len(live))
	for _, p := range live {
		seen[p.Name] = p
		if !slices.Contains(expected, p.Name) {
			tr.UnexpectedPolicies = append(tr.UnexpectedPolicies, p.Name)
		}
	}
	t, _ := v.manifest.Lookup(name)
	for _, cmd := range commandsOf(t) {
		pn := policy.PolicyName(name, cmd)
		p, ok := seen[pn]
		if !ok {
			tr.MissingPolicies = append(tr.MissingPolicies, pn)
			continue
		}
		if drifted(p, cmd, want) {
			tr.PredicateDrift = append(tr.PredicateDrift, pn)
		}
	}
	return tr, nil
}

func commandsOf(t policy.Table) []policy.Command {
	if len(t.Commands) == 0 {
		return policy.AllCommands
	}
	return t.Commands
}

// drifted reports whether p no longer matches what the manifest renders for
// cmd. want is the canonical manifest predicate; every expression the command
// carries must reduce to exactly it.
func drifted(p Policy, cmd policy.Command, want string) bool {
	if p.Command != string(cmd) {
		return true
	}
	var exprs []string
	switch cmd {
	case policy.CmdInsert:
		exprs = []string{p.Check}
	case policy.CmdUpdate:
		exprs = []string{p.Using, p.Check}
	default:
		exprs = []string{p.Using}
	}
	for _, e := range exprs {
		if e == "" || policy.CanonicalExpr(e) != want {
			return true
		}
	}
	return false
}
