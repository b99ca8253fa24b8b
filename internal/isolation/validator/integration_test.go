//go:build integration

package validator_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tenantguard/internal/isolation/uow"
	"tenantguard/internal/isolation/validator"
	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
	"tenantguard/pkg/testutil/containers"
)

// =============================================================================
// Isolation Validator Integration Suite
// =============================================================================
// The migrated schema must pass as-is, and each way of weakening it must be
// reported.

type ValidatorIntegrationSuite struct {
	suite.Suite
	pg        *containers.PostgresContainer
	manager   *uow.Manager
	validator *validator.Validator
	ctx       context.Context
}

func TestValidatorIntegrationSuite(t *testing.T) {
	suite.Run(t, new(ValidatorIntegrationSuite))
}

func (s *ValidatorIntegrationSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.ctx = context.Background()
	var err error
	s.manager, err = uow.New(uow.NewPgxPool(s.pg.Pool))
	s.Require().NoError(err)
	s.validator, err = validator.New(validator.NewPgCatalog(s.pg.Pool), validator.NewUnitOfWorkReader(s.manager))
	s.Require().NoError(err)
}

func (s *ValidatorIntegrationSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx))
}

func (s *ValidatorIntegrationSuite) owner(sql string) {
	_, err := s.pg.Owner.ExecContext(s.ctx, sql)
	s.Require().NoError(err)
}

func (s *ValidatorIntegrationSuite) TestMigratedSchemaPasses() {
	report, err := s.validator.ValidateIsolationConfiguration(s.ctx)
	s.Require().NoError(err)
	s.Empty(report.Violations())
	s.NoError(report.Err())
	s.False(report.Role.Superuser)
}

func (s *ValidatorIntegrationSuite) TestWeakenedSchemaIsReported() {
	s.Run("row security not forced", func() {
		s.owner(`ALTER TABLE documents NO FORCE ROW LEVEL SECURITY`)
		defer s.owner(`ALTER TABLE documents FORCE ROW LEVEL SECURITY`)

		report, err := s.validator.ValidateIsolationConfiguration(s.ctx)
		s.Require().NoError(err)
		s.Contains(report.Violations(), "documents: row security not forced")
		s.True(dErrors.HasCode(report.Err(), dErrors.CodeIsolationViolation))
	})

	s.Run("permissive extra policy", func() {
		s.owner(`CREATE POLICY projects_open ON projects FOR SELECT USING (true)`)
		defer s.owner(`DROP POLICY projects_open ON projects`)

		report, err := s.validator.ValidateIsolationConfiguration(s.ctx)
		s.Require().NoError(err)
		s.False(report.OK())
	})

	s.Run("unmanifested tenant table", func() {
		s.owner(`CREATE TABLE notes (id uuid PRIMARY KEY, tenant_id uuid NOT NULL)`)
		defer s.owner(`DROP TABLE notes`)

		report, err := s.validator.ValidateIsolationConfiguration(s.ctx)
		s.Require().NoError(err)
		s.Contains(report.Unmanifested, "notes")
	})

	s.Run("partition granted directly", func() {
		var name string
		s.Require().NoError(s.pg.Pool.QueryRow(s.ctx, `SELECT ensure_audit_partition(now())`).Scan(&name))
		s.owner(`GRANT SELECT ON ` + name + ` TO tenantguard_app`)
		defer s.owner(`REVOKE SELECT ON ` + name + ` FROM tenantguard_app`)

		report, err := s.validator.ValidateIsolationConfiguration(s.ctx)
		s.Require().NoError(err)
		s.Contains(report.ExposedPartitions, name)
	})
}

func (s *ValidatorIntegrationSuite) TestCrossTenantProbe() {
	a := s.provision("Alpha")
	b := s.provision("Beta")
	for _, tenant := range []id.TenantID{a, b} {
		_, err := s.manager.ExecuteCommand(s.ctx, tenant,
			`INSERT INTO projects (id, tenant_id, name) VALUES ($1, $2, 'p')`, uuid.New(), uuid.UUID(tenant))
		s.Require().NoError(err)
	}

	report, err := s.validator.TestCrossTenantIsolation(s.ctx, a, b)
	s.Require().NoError(err)
	s.True(report.OK())
	s.NoError(report.Err())
	for _, table := range report.Tables {
		if table.Table == "projects" {
			s.Equal(1, table.VisibleToA)
			s.Equal(1, table.VisibleToB)
		}
	}
}

func (s *ValidatorIntegrationSuite) provision(name string) id.TenantID {
	tenantID := id.NewTenantID()
	err := s.manager.WithTenant(s.ctx, tenantID, func(ctx context.Context, sess *uow.Session) error {
		_, err := sess.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, $2)`, uuid.UUID(tenantID), name)
		return err
	}, uow.ProvisioningTenant())
	s.Require().NoError(err)
	return tenantID
}
