// Package policy holds the chain manifest: the versioned list of every
// tenant-scoped table, how it resolves its tenant, and the row-level security
// predicates derived from it.
//
// The manifest is the single source of truth. Migrations render their policy
// DDL from it and the isolation validator checks the live catalog against it,
// so a table added without isolation wiring is caught mechanically.
package policy

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const (
	// TenantSetting is the transaction-local setting read by CurrentTenantFunc.
	TenantSetting = "app.current_tenant"
	// CurrentTenantFunc is the SQL function every predicate compares against.
	// It returns NULL when no tenant is bound, which makes every predicate
	// false.
	CurrentTenantFunc = "current_tenant()"
)

// Command is a SQL command a row policy applies to.
type Command string

const (
	CmdSelect Command = "SELECT"
	CmdInsert Command = "INSERT"
	CmdUpdate Command = "UPDATE"
	CmdDelete Command = "DELETE"
)

// AllCommands is the default command set for a tenant-scoped table.
var AllCommands = []Command{CmdSelect, CmdInsert, CmdUpdate, CmdDelete}

// ParentRef points a child table at the parent row that owns it.
type ParentRef struct {
	Column string
	Table  string
}

// Table describes one tenant-scoped table. Exactly one of TenantColumn and
// Parent is set.
type Table struct {
	Name         string
	Key          string
	TenantColumn string
	Parent       *ParentRef
	Commands     []Command
}

// KeyColumn is the column child tables reference, "id" unless Key is set.
func (t Table) KeyColumn() string {
	if t.Key == "" {
		return "id"
	}
	return t.Key
}

func (t Table) commands() []Command {
	if len(t.Commands) == 0 {
		return AllCommands
	}
	return t.Commands
}

// Direct reports whether the table carries its own tenant column.
func (t Table) Direct() bool { return t.TenantColumn != "" }

// Manifest is a versioned set of tenant-scoped tables. Exempt lists tables in
// the application schema that intentionally carry no tenant scope.
type Manifest struct {
	Version int
	Tables  []Table
	Exempt  []string
}

// Default is the manifest for the schema shipped in
// internal/platform/postgres/migrations. Bump Version whenever a table or a
// parent chain changes.
var Default = Manifest{
	Version: 1,
	Tables: []Table{
		{Name: "tenants", TenantColumn: "id", Commands: []Command{CmdSelect, CmdInsert, CmdUpdate}},
		{Name: "principals", TenantColumn: "tenant_id"},
		{Name: "projects", TenantColumn: "tenant_id"},
		{Name: "documents", Parent: &ParentRef{Column: "project_id", Table: "projects"}},
		{Name: "evidence_records", Parent: &ParentRef{Column: "document_id", Table: "documents"}},
		{Name: "audit_log", TenantColumn: "tenant_id", Commands: []Command{CmdSelect, CmdInsert}},
	},
	Exempt: []string{"goose_db_version"},
}

// Lookup returns the manifest entry for name.
func (m Manifest) Lookup(name string) (Table, bool) {
	for _, t := range m.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Names returns the manifest table names in declaration order.
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m.Tables))
	for _, t := range m.Tables {
		names = append(names, t.Name)
	}
	return names
}

// IsExempt reports whether name is intentionally unscoped.
func (m Manifest) IsExempt(name string) bool {
	for _, e := range m.Exempt {
		if e == name {
			return true
		}
	}
	return false
}

// Validate checks the manifest is internally consistent: unique names, one
// scope per table, parents present, and no cycles in any chain.
func (m Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Tables))
	for _, t := range m.Tables {
		if t.Name == "" {
			return fmt.Errorf("manifest v%d: table with empty name", m.Version)
		}
		if seen[t.Name] {
			return fmt.Errorf("manifest v%d: duplicate table %q", m.Version, t.Name)
		}
		seen[t.Name] = true
		if (t.TenantColumn == "") == (t.Parent == nil) {
			return fmt.Errorf("manifest v%d: table %q must set exactly one of tenant column or parent", m.Version, t.Name)
		}
		if t.Parent != nil && t.Parent.Column == "" {
			return fmt.Errorf("manifest v%d: table %q has a parent without a column", m.Version, t.Name)
		}
		if m.IsExempt(t.Name) {
			return fmt.Errorf("manifest v%d: table %q is both scoped and exempt", m.Version, t.Name)
		}
	}
	for _, t := range m.Tables {
		if _, err := m.Chain(t.Name); err != nil {
			return err
		}
	}
	return nil
}

// Chain returns the path from name to the table that owns the tenant column,
// e.g. [evidence_records documents projects].
func (m Manifest) Chain(name string) ([]string, error) {
	var chain []string
	visited := map[string]bool{}
	current := name
	for {
		t, ok := m.Lookup(current)
		if !ok {
			if len(chain) == 0 {
				return nil, fmt.Errorf("manifest v%d: unknown table %q", m.Version, name)
			}
			return nil, fmt.Errorf("manifest v%d: table %q references missing parent %q", m.Version, chain[len(chain)-1], current)
		}
		if visited[current] {
			return nil, fmt.Errorf("manifest v%d: cycle in parent chain of %q", m.Version, name)
		}
		visited[current] = true
		chain = append(chain, current)
		if t.Direct() {
			return chain, nil
		}
		current = t.Parent.Table
	}
}

// Predicate renders the row predicate for name. Visibility and write
// predicates share this expression.
func (m Manifest) Predicate(name string) (string, error) {
	t, ok := m.Lookup(name)
	if !ok {
		return "", fmt.Errorf("manifest v%d: unknown table %q", m.Version, name)
	}
	if _, err := m.Chain(name); err != nil {
		return "", err
	}
	if t.Direct() {
		return quote(t.TenantColumn) + " = " + CurrentTenantFunc, nil
	}
	return quote(t.Parent.Column) + " IN (" + m.ownedKeys(t.Parent.Table) + ")", nil
}

// ownedKeys renders a subquery selecting the keys of table rows owned by the
// current tenant, recursing through the parent chain.
func (m Manifest) ownedKeys(table string) string {
	t, _ := m.Lookup(table)
	qt := quote(t.Name)
	sel := "SELECT " + qt + "." + quote(t.KeyColumn()) + " FROM " + qt + " WHERE "
	if t.Direct() {
		return sel + qt + "." + quote(t.TenantColumn) + " = " + CurrentTenantFunc
	}
	return sel + qt + "." + quote(t.Parent.Column) + " IN (" + m.ownedKeys(t.Parent.Table) + ")"
}

// CanonicalPredicate returns the canonical form of the predicate for name,
// comparable with CanonicalExpr applied to the expression Postgres stores in
// pg_policies.
func (m Manifest) CanonicalPredicate(name string) (string, error) {
	pred, err := m.Predicate(name)
	if err != nil {
		return "", err
	}
	return CanonicalExpr(pred), nil
}

// PolicyName is the name of the policy guarding cmd on table.
func PolicyName(table string, cmd Command) string {
	return table + "_tenant_" + strings.ToLower(string(cmd))
}

// ExpectedPolicies returns the policy names name must carry.
func (m Manifest) ExpectedPolicies(name string) []string {
	t, ok := m.Lookup(name)
	if !ok {
		return nil
	}
	cmds := t.commands()
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, PolicyName(t.Name, c))
	}
	return out
}

// Statements renders the DDL that enables, forces and (re)creates the row
// policies for name. Statements are idempotent.
func (m Manifest) Statements(name string) ([]string, error) {
	t, ok := m.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("manifest v%d: unknown table %q", m.Version, name)
	}
	pred, err := m.Predicate(name)
	if err != nil {
		return nil, err
	}
	qt := quote(t.Name)
	stmts := []string{
		"ALTER TABLE " + qt + " ENABLE ROW LEVEL SECURITY",
		"ALTER TABLE " + qt + " FORCE ROW LEVEL SECURITY",
	}
	for _, cmd := range t.commands() {
		pn := quote(PolicyName(t.Name, cmd))
		stmts = append(stmts, "DROP POLICY IF EXISTS "+pn+" ON "+qt)
		create := "CREATE POLICY " + pn + " ON " + qt + " AS PERMISSIVE FOR " + string(cmd)
		switch cmd {
		case CmdInsert:
			create += " WITH CHECK (" + pred + ")"
		case CmdUpdate:
			create += " USING (" + pred + ") WITH CHECK (" + pred + ")"
		default:
			create += " USING (" + pred + ")"
		}
		stmts = append(stmts, create)
	}
	return stmts, nil
}

// AllStatements renders Statements for every table, in manifest order.
func (m Manifest) AllStatements() ([]string, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	var out []string
	for _, t := range m.Tables {
		stmts, err := m.Statements(t.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, stmts...)
	}
	return out, nil
}

// DropStatements removes the policies and disables row security for name.
func (m Manifest) DropStatements(name string) []string {
	t, ok := m.Lookup(name)
	if !ok {
		return nil
	}
	qt := quote(t.Name)
	var stmts []string
	for _, cmd := range t.commands() {
		stmts = append(stmts, "DROP POLICY IF EXISTS "+quote(PolicyName(t.Name, cmd))+" ON "+qt)
	}
	return append(stmts,
		"ALTER TABLE "+qt+" NO FORCE ROW LEVEL SECURITY",
		"ALTER TABLE "+qt+" DISABLE ROW LEVEL SECURITY",
	)
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}
