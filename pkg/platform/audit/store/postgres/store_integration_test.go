//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tenantguard/internal/isolation/uow"
	pgplatform "tenantguard/internal/platform/postgres"
	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
	audit "tenantguard/pkg/platform/audit"
	"tenantguard/pkg/platform/audit/partition"
	"tenantguard/pkg/platform/audit/store/postgres"
	"tenantguard/pkg/testutil/containers"
)

// =============================================================================
// Audit Store Integration Suite
// =============================================================================
// Checksums must survive the trip through jsonb and timestamptz, the table
// must refuse mutation, and partitions must appear on demand.

type StoreSuite struct {
	suite.Suite
	pg      *containers.PostgresContainer
	manager *uow.Manager
	store   *postgres.Store
	writer  *audit.Writer
	ctx     context.Context
	now     time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 15, 10, 0, 0, 123456789, time.FixedZone("CET", 3600))

	var err error
	s.manager, err = uow.New(uow.NewPgxPool(s.pg.Pool))
	s.Require().NoError(err)
	s.store = postgres.New()
	s.writer, err = audit.NewWriter(s.store, audit.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
}

func (s *StoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx))
}

func (s *StoreSuite) seedTenant() id.TenantID {
	tenantID := id.NewTenantID()
	err := s.manager.WithTenant(s.ctx, tenantID, func(ctx context.Context, sess *uow.Session) error {
		_, err := sess.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, 'Acme')`, uuid.UUID(tenantID))
		return err
	}, uow.ProvisioningTenant())
	s.Require().NoError(err)
	return tenantID
}

func (s *StoreSuite) record(tenantID id.TenantID, resourceID string, before, after any) audit.Record {
	rec, err := uow.Run(s.ctx, s.manager, tenantID, func(ctx context.Context, _ *uow.Session) (audit.Record, error) {
		return s.writer.Record(ctx, audit.Entry{
			Action:       audit.ActionResourceUpdated,
			ResourceType: "project",
			ResourceID:   resourceID,
			Before:       before,
			After:        after,
		})
	})
	s.Require().NoError(err)
	return rec
}

func (s *StoreSuite) list(tenantID id.TenantID, resourceID string) []audit.Record {
	out, err := uow.Run(s.ctx, s.manager, tenantID, func(ctx context.Context, _ *uow.Session) ([]audit.Record, error) {
		return s.store.ListByResource(ctx, "project", resourceID)
	}, uow.ReadOnly())
	s.Require().NoError(err)
	return out
}

func (s *StoreSuite) TestChecksumSurvivesStorage() {
	tenantID := s.seedTenant()
	before := json.RawMessage(`{"name": "Old", "tags": ["b", "a"], "meta": {"z": 1, "a": null}}`)
	after := map[string]any{"name": "New", "size": 1.50}

	written := s.record(tenantID, "p-1", before, after)
	s.Equal("audit_log_y2026m03", audit.PartitionName(written.OccurredAt))

	stored := s.list(tenantID, "p-1")
	s.Require().Len(stored, 1)
	got := stored[0]
	s.Equal(written.Checksum, got.Checksum)
	s.True(written.OccurredAt.Equal(got.OccurredAt))
	s.JSONEq(string(before), string(got.Before))

	ok, err := audit.Verify(got)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *StoreSuite) TestRecordsAreTenantScoped() {
	t1 := s.seedTenant()
	t2 := s.seedTenant()
	s.record(t1, "shared-id", nil, map[string]string{"k": "v"})

	s.Len(s.list(t1, "shared-id"), 1)
	s.Empty(s.list(t2, "shared-id"))
}

func (s *StoreSuite) TestAuditLogIsAppendOnly() {
	tenantID := s.seedTenant()
	rec := s.record(tenantID, "p-1", nil, map[string]int{"v": 1})

	s.Run("application role has no update or delete", func() {
		err := s.manager.WithTenant(s.ctx, tenantID, func(ctx context.Context, sess *uow.Session) error {
			_, err := sess.Exec(ctx, `UPDATE audit_log SET action = 'forged' WHERE id = $1`, uuid.UUID(rec.ID))
			return err
		})
		s.True(pgplatform.IsPolicyViolation(err))

		err = s.manager.WithTenant(s.ctx, tenantID, func(ctx context.Context, sess *uow.Session) error {
			_, err := sess.Exec(ctx, `DELETE FROM audit_log WHERE id = $1`, uuid.UUID(rec.ID))
			return err
		})
		s.True(pgplatform.IsPolicyViolation(err))
	})

	s.Run("even the owner is stopped by the trigger", func() {
		_, err := s.pg.Owner.ExecContext(s.ctx, `UPDATE audit_log SET action = 'forged' WHERE id = $1`, uuid.UUID(rec.ID))
		s.True(pgplatform.IsPolicyViolation(err))
		_, err = s.pg.Owner.ExecContext(s.ctx, `DELETE FROM audit_log WHERE id = $1`, uuid.UUID(rec.ID))
		s.True(pgplatform.IsPolicyViolation(err))
	})
}

func (s *StoreSuite) TestTamperingIsDetected() {
	tenantID := s.seedTenant()
	rec := s.record(tenantID, "p-1", nil, map[string]int{"v": 1})
	s.record(tenantID, "p-2", nil, map[string]int{"v": 2})
	relabelled := s.record(tenantID, "p-3", nil, map[string]int{"v": 3})

	tx, err := s.pg.Owner.BeginTx(s.ctx, nil)
	s.Require().NoError(err)
	_, err = tx.ExecContext(s.ctx, `SET LOCAL session_replication_role = replica`)
	s.Require().NoError(err)
	_, err = tx.ExecContext(s.ctx, `UPDATE audit_log SET after_state = '{"v": 9}' WHERE id = $1`, uuid.UUID(rec.ID))
	s.Require().NoError(err)
	_, err = tx.ExecContext(s.ctx, `UPDATE audit_log SET category = 'security' WHERE id = $1`, uuid.UUID(relabelled.ID))
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit())

	type result struct {
		tampered []audit.Record
		checked  int
	}
	got, err := uow.Run(s.ctx, s.manager, tenantID, func(ctx context.Context, _ *uow.Session) (result, error) {
		tampered, checked, err := s.store.VerifyRange(ctx, s.now.Add(-time.Hour), s.now.Add(time.Hour))
		return result{tampered, checked}, err
	}, uow.ReadOnly())
	s.Require().NoError(err)
	s.Equal(3, got.checked)
	s.Require().Len(got.tampered, 2)
	ids := []id.AuditID{got.tampered[0].ID, got.tampered[1].ID}
	s.ElementsMatch([]id.AuditID{rec.ID, relabelled.ID}, ids)
}

func (s *StoreSuite) TestRolledBackWorkLeavesNoRecord() {
	tenantID := s.seedTenant()
	boom := errors.New("boom")

	err := s.manager.WithTenant(s.ctx, tenantID, func(ctx context.Context, _ *uow.Session) error {
		if _, err := s.writer.Record(ctx, audit.Entry{
			Action: audit.ActionResourceCreated, ResourceType: "project", ResourceID: "p-9",
		}); err != nil {
			return err
		}
		return boom
	})
	s.True(dErrors.HasCode(err, dErrors.CodeWorkFailed))
	s.Empty(s.list(tenantID, "p-9"))
}

func (s *StoreSuite) TestConcurrentWritesInANewMonthCreateOnePartition() {
	tenantID := s.seedTenant()
	at := time.Date(2031, 7, 4, 0, 0, 0, 0, time.UTC)
	writer, err := audit.NewWriter(s.store, audit.WithClock(func() time.Time { return at }))
	s.Require().NoError(err)
	s.Equal(0, s.partitionCount("audit_log_y2031m07"))

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.manager.WithTenant(s.ctx, tenantID, func(ctx context.Context, _ *uow.Session) error {
				_, err := writer.Record(ctx, audit.Entry{
					Action:       audit.ActionResourceCreated,
					ResourceType: "project",
					ResourceID:   "p-concurrent",
					After:        map[string]int{"caller": i},
				})
				return err
			})
		}()
	}
	wg.Wait()

	for i := range callers {
		s.Require().NoError(errs[i])
	}
	s.Equal(1, s.partitionCount("audit_log_y2031m07"))

	var stored int
	err = s.pg.Owner.QueryRowContext(s.ctx,
		`SELECT count(*) FROM audit_log_y2031m07 WHERE tenant_id = $1`, uuid.UUID(tenantID)).Scan(&stored)
	s.Require().NoError(err)
	s.Equal(callers, stored)
}

// partitionCount counts audit_log partitions named name, as the owner.
func (s *StoreSuite) partitionCount(name string) int {
	var n int
	err := s.pg.Owner.QueryRowContext(s.ctx, `
		SELECT count(*)
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		WHERE i.inhparent = 'audit_log'::regclass AND c.relname = $1`, name).Scan(&n)
	s.Require().NoError(err)
	return n
}

func (s *StoreSuite) TestMaintainerCreatesUpcomingPartitions() {
	clock := func() time.Time { return time.Date(2030, 12, 20, 0, 0, 0, 0, time.UTC) }
	m, err := partition.New(s.pg.Pool, partition.WithLookahead(2), partition.WithClock(clock))
	s.Require().NoError(err)

	names, err := m.EnsureAhead(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"audit_log_y2030m12", "audit_log_y2031m01", "audit_log_y2031m02"}, names)

	again, err := m.EnsureAhead(s.ctx)
	s.Require().NoError(err)
	s.Equal(names, again)
}
