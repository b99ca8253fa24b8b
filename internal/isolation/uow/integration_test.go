//go:build integration

package uow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"tenantguard/internal/isolation/uow"
	"tenantguard/internal/platform/config"
	"tenantguard/internal/platform/postgres"
	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
	"tenantguard/pkg/testutil/containers"
)

// =============================================================================
// Unit of Work Integration Suite
// =============================================================================
// Runs against a migrated Postgres as a non-superuser login, so every query
// goes through the row policies exactly as in production.

type IntegrationSuite struct {
	suite.Suite
	pg      *containers.PostgresContainer
	manager *uow.Manager
	ctx     context.Context
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.ctx = context.Background()
	var err error
	s.manager, err = uow.New(uow.NewPgxPool(s.pg.Pool))
	s.Require().NoError(err)
}

func (s *IntegrationSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx))
}

func (s *IntegrationSuite) seedTenant(name string) id.TenantID {
	tenantID := id.NewTenantID()
	err := s.manager.WithTenant(s.ctx, tenantID, func(ctx context.Context, sess *uow.Session) error {
		_, err := sess.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, $2)`, uuid.UUID(tenantID), name)
		return err
	}, uow.ProvisioningTenant())
	s.Require().NoError(err)
	return tenantID
}

func (s *IntegrationSuite) seedProject(tenantID id.TenantID, name string) uuid.UUID {
	projectID := uuid.New()
	n, err := s.manager.ExecuteCommand(s.ctx, tenantID,
		`INSERT INTO projects (id, tenant_id, name) VALUES ($1, $2, $3)`, projectID, uuid.UUID(tenantID), name)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), n)
	return projectID
}

func (s *IntegrationSuite) seedDocument(tenantID id.TenantID, projectID uuid.UUID, title string) uuid.UUID {
	documentID := uuid.New()
	_, err := s.manager.ExecuteCommand(s.ctx, tenantID,
		`INSERT INTO documents (id, project_id, title) VALUES ($1, $2, $3)`, documentID, projectID, title)
	s.Require().NoError(err)
	return documentID
}

func (s *IntegrationSuite) openPool(maxConns int32) *pgxpool.Pool {
	pool, err := postgres.Open(s.ctx, config.Database{URL: s.pg.AppURL, MaxConns: maxConns})
	s.Require().NoError(err)
	s.T().Cleanup(pool.Close)
	return pool
}

func (s *IntegrationSuite) TestReadsFailClosedWithoutTenant() {
	tenantID := s.seedTenant("Acme")
	s.seedProject(tenantID, "Roadmap")

	s.Run("unbound unit of work sees nothing", func() {
		var count int64
		err := s.manager.WithoutTenant(s.ctx, func(ctx context.Context, sess *uow.Session) error {
			return sess.QueryRow(ctx, `SELECT count(*) FROM projects`).Scan(&count)
		})
		s.Require().NoError(err)
		s.Zero(count)
	})

	s.Run("bare pool connection sees nothing", func() {
		var count int64
		s.Require().NoError(s.pg.Pool.QueryRow(s.ctx, `SELECT count(*) FROM projects`).Scan(&count))
		s.Zero(count)
	})

	s.Run("unbound writes are rejected", func() {
		_, err := s.pg.Pool.Exec(s.ctx,
			`INSERT INTO projects (id, tenant_id, name) VALUES ($1, $2, 'x')`, uuid.New(), uuid.UUID(tenantID))
		s.True(postgres.IsPolicyViolation(err))
	})

	s.Run("the owning tenant sees its row", func() {
		names, err := uow.ExecuteQuery(s.ctx, s.manager, tenantID, pgx.RowTo[string], `SELECT name FROM projects`)
		s.Require().NoError(err)
		s.Equal([]string{"Roadmap"}, names)
	})
}

func (s *IntegrationSuite) TestDocumentsAreInvisibleAcrossTenants() {
	t1 := s.seedTenant("Tenant One")
	t2 := s.seedTenant("Tenant Two")
	project := s.seedProject(t1, "Roadmap")
	doc := s.seedDocument(t1, project, "doc-1")

	s.Run("select by id returns no rows", func() {
		titles, err := uow.ExecuteQuery(s.ctx, s.manager, t2, pgx.RowTo[string],
			`SELECT title FROM documents WHERE id = $1`, doc)
		s.Require().NoError(err)
		s.Empty(titles)
	})

	s.Run("update and delete affect nothing", func() {
		n, err := s.manager.ExecuteCommand(s.ctx, t2, `UPDATE documents SET title = 'pwned' WHERE id = $1`, doc)
		s.Require().NoError(err)
		s.Zero(n)

		n, err = s.manager.ExecuteCommand(s.ctx, t2, `DELETE FROM documents WHERE id = $1`, doc)
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("cannot attach a child to another tenant's parent", func() {
		_, err := s.manager.ExecuteCommand(s.ctx, t2,
			`INSERT INTO documents (id, project_id, title) VALUES ($1, $2, 'smuggled')`, uuid.New(), project)
		s.True(dErrors.HasCode(err, dErrors.CodeWorkFailed))
		s.True(postgres.IsPolicyViolation(err))
	})

	s.Run("cannot reassign a row to another tenant", func() {
		_, err := s.manager.ExecuteCommand(s.ctx, t1,
			`UPDATE projects SET tenant_id = $2 WHERE id = $1`, project, uuid.UUID(t2))
		s.True(postgres.IsPolicyViolation(err))
	})

	s.Run("the owner still sees the untouched document", func() {
		titles, err := uow.ExecuteQuery(s.ctx, s.manager, t1, pgx.RowTo[string],
			`SELECT title FROM documents WHERE id = $1`, doc)
		s.Require().NoError(err)
		s.Equal([]string{"doc-1"}, titles)
	})
}

func (s *IntegrationSuite) TestBindingDoesNotSurviveConnectionReuse() {
	tenantID := s.seedTenant("Acme")
	s.seedProject(tenantID, "Roadmap")

	pool := s.openPool(1)
	manager, err := uow.New(uow.NewPgxPool(pool))
	s.Require().NoError(err)

	names, err := uow.ExecuteQuery(s.ctx, manager, tenantID, pgx.RowTo[string], `SELECT name FROM projects`)
	s.Require().NoError(err)
	s.Len(names, 1)

	var setting string
	s.Require().NoError(pool.QueryRow(s.ctx,
		`SELECT coalesce(current_setting('app.current_tenant', true), '')`).Scan(&setting))
	s.Empty(setting, "transaction-local binding must be gone on the reused connection")

	s.Run("a session-level binding is cleared on release", func() {
		conn, err := pool.Acquire(s.ctx)
		s.Require().NoError(err)
		_, err = conn.Exec(s.ctx, `SELECT set_config('app.current_tenant', $1, false)`, tenantID.String())
		s.Require().NoError(err)
		conn.Release()

		var count int64
		s.Require().NoError(pool.QueryRow(s.ctx, `SELECT count(*) FROM projects`).Scan(&count))
		s.Zero(count)
	})
}

func (s *IntegrationSuite) TestFailedWorkRollsBackEverything() {
	tenantID := s.seedTenant("Acme")
	projectID := uuid.New()
	boom := errors.New("boom")

	err := s.manager.WithTenant(s.ctx, tenantID, func(ctx context.Context, sess *uow.Session) error {
		if _, err := sess.Exec(ctx, `INSERT INTO projects (id, tenant_id, name) VALUES ($1, $2, 'x')`,
			projectID, uuid.UUID(tenantID)); err != nil {
			return err
		}
		if _, err := sess.Exec(ctx, `INSERT INTO documents (id, project_id, title) VALUES ($1, $2, 'd')`,
			uuid.New(), projectID); err != nil {
			return err
		}
		return boom
	})
	s.True(dErrors.HasCode(err, dErrors.CodeWorkFailed))
	s.ErrorIs(err, boom)

	var count int64
	s.Require().NoError(s.pg.Owner.QueryRowContext(s.ctx,
		`SELECT (SELECT count(*) FROM projects) + (SELECT count(*) FROM documents)`).Scan(&count))
	s.Zero(count)
}

func (s *IntegrationSuite) TestTenantVerification() {
	s.Run("unknown tenant", func() {
		err := s.manager.WithTenant(s.ctx, id.NewTenantID(), func(context.Context, *uow.Session) error { return nil })
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTenantContext))
	})

	s.Run("suspended tenant is refused unless allowed", func() {
		tenantID := s.seedTenant("Acme")
		_, err := s.pg.Owner.ExecContext(s.ctx, `UPDATE tenants SET status = 'suspended' WHERE id = $1`, uuid.UUID(tenantID))
		s.Require().NoError(err)

		noop := func(context.Context, *uow.Session) error { return nil }
		err = s.manager.WithTenant(s.ctx, tenantID, noop)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTenantContext))
		s.NoError(s.manager.WithTenant(s.ctx, tenantID, noop, uow.AllowSuspendedTenant()))
	})
}

func (s *IntegrationSuite) TestNestedUnitOfWorkForAnotherTenantIsRejected() {
	t1 := s.seedTenant("One")
	t2 := s.seedTenant("Two")

	err := s.manager.WithTenant(s.ctx, t1, func(ctx context.Context, _ *uow.Session) error {
		return s.manager.WithTenant(ctx, t2, func(context.Context, *uow.Session) error { return nil })
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTenantContext))
}

func (s *IntegrationSuite) TestExhaustedPoolFailsFast() {
	tenantID := s.seedTenant("Acme")
	pool := s.openPool(1)
	manager, err := uow.New(uow.NewPgxPool(pool), uow.WithAcquireTimeout(200*time.Millisecond))
	s.Require().NoError(err)

	holding := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = manager.WithTenant(s.ctx, tenantID, func(context.Context, *uow.Session) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	err = manager.WithTenant(s.ctx, tenantID, func(context.Context, *uow.Session) error { return nil })
	s.True(dErrors.HasCode(err, dErrors.CodePoolExhausted))

	close(release)
	wg.Wait()
	s.NoError(manager.WithTenant(s.ctx, tenantID, func(context.Context, *uow.Session) error { return nil }))
}

type projectRow struct {
	ID   uuid.UUID `db:"id"`
	Name string    `db:"name"`
}

func (s *IntegrationSuite) TestQueryRowsMapsColumnsByName() {
	t1 := s.seedTenant("Acme")
	t2 := s.seedTenant("Globex")
	projectID := s.seedProject(t1, "Roadmap")

	rows, err := uow.QueryRows[projectRow](s.ctx, s.manager, t1, `SELECT id, name FROM projects ORDER BY name`)
	s.Require().NoError(err)
	s.Equal([]projectRow{{ID: projectID, Name: "Roadmap"}}, rows)

	rows, err = uow.QueryRows[projectRow](s.ctx, s.manager, t2, `SELECT id, name FROM projects`)
	s.Require().NoError(err)
	s.Empty(rows)
}
