package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/suite"

	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
	audit "tenantguard/pkg/platform/audit"
	"tenantguard/pkg/platform/audit/store/memory"
	"tenantguard/pkg/platform/sentinel"
	txcontext "tenantguard/pkg/platform/tx"
	"tenantguard/pkg/requestcontext"
)

// =============================================================================
// Audit Writer Test Suite
// =============================================================================
// Justification for unit tests: the writer owns the tenant-match guard,
// default principal and request id resolution, partition-before-insert
// ordering and the checksum. The Postgres path is covered by integration
// tests.

type WriterSuite struct {
	suite.Suite
	store  *memory.InMemoryStore
	writer *audit.Writer
	tenant id.TenantID
	now    time.Time
}

func TestWriterSuite(t *testing.T) {
	suite.Run(t, new(WriterSuite))
}

func (s *WriterSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.tenant = id.NewTenantID()
	s.now = time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)

	var err error
	s.writer, err = audit.NewWriter(s.store,
		audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		audit.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *WriterSuite) inUnitOfWork(tenant id.TenantID) context.Context {
	return txcontext.With(context.Background(), fakeScoped{tenant: tenant})
}

func (s *WriterSuite) TestNewWriterRequiresStore() {
	_, err := audit.NewWriter(nil)
	s.Error(err)
}

func (s *WriterSuite) TestRecordWritesChecksummedRecord() {
	principal := id.NewPrincipalID()
	ctx := requestcontext.WithRequestID(s.inUnitOfWork(s.tenant), "req-42")

	rec, err := s.writer.Record(ctx, audit.Entry{
		PrincipalID:  principal,
		Action:       audit.ActionResourceUpdated,
		ResourceType: "document",
		ResourceID:   "doc-1",
		Before:       map[string]any{"title": "draft", "version": 1},
		After:        json.RawMessage(`{"version": 2, "title": "final"}`),
	})
	s.Require().NoError(err)

	s.Equal(s.tenant, rec.TenantID, "tenant defaults to the unit of work's tenant")
	s.Equal(principal, rec.PrincipalID)
	s.Equal("req-42", rec.RequestID)
	s.Equal(audit.CategoryOperations, rec.Category)
	s.Equal(s.now.Truncate(time.Microsecond), rec.OccurredAt)
	s.JSONEq(`{"title":"final","version":2}`, string(rec.After))
	s.Len(rec.Checksum, 64)

	ok, err := s.writer.Verify(rec)
	s.NoError(err)
	s.True(ok)

	s.Equal(map[string]int{"audit_log_y2026m03": 1}, s.store.Partitions())
	stored, err := s.store.ListByResource(ctx, "document", "doc-1")
	s.NoError(err)
	s.Equal([]audit.Record{rec}, stored)
}

func (s *WriterSuite) TestSystemActionHasNoPrincipal() {
	rec, err := s.writer.Record(s.inUnitOfWork(s.tenant), audit.Entry{
		Action:       audit.ActionTenantProvisioned,
		ResourceType: "tenant",
		ResourceID:   s.tenant.String(),
		After:        map[string]string{"name": "Acme"},
	})
	s.Require().NoError(err)
	s.True(rec.System())
	s.Nil(rec.Before)
	s.Equal(audit.CategoryCompliance, rec.Category)
}

func (s *WriterSuite) TestPrincipalDefaultsFromRequestContext() {
	principal := id.NewPrincipalID()
	ctx := requestcontext.WithPrincipalID(s.inUnitOfWork(s.tenant), principal)

	rec, err := s.writer.Record(ctx, audit.Entry{
		Action: audit.ActionResourceCreated, ResourceType: "project", ResourceID: "p-1",
	})
	s.Require().NoError(err)
	s.Equal(principal, rec.PrincipalID)
}

func (s *WriterSuite) TestRecordGuards() {
	s.Run("outside a unit of work", func() {
		_, err := s.writer.Record(context.Background(), audit.Entry{
			Action: audit.ActionResourceCreated, ResourceType: "project", ResourceID: "p-1",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.ErrorIs(err, sentinel.ErrNoUnitOfWork)
	})

	s.Run("unbound unit of work", func() {
		_, err := s.writer.Record(s.inUnitOfWork(id.TenantID{}), audit.Entry{
			Action: audit.ActionResourceCreated, ResourceType: "project", ResourceID: "p-1",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTenantContext))
	})

	s.Run("entry for another tenant", func() {
		_, err := s.writer.Record(s.inUnitOfWork(s.tenant), audit.Entry{
			TenantID: id.NewTenantID(), Action: audit.ActionResourceCreated, ResourceType: "project", ResourceID: "p-1",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTenantContext))
	})

	s.Run("missing fields", func() {
		for _, e := range []audit.Entry{
			{ResourceType: "project", ResourceID: "p-1"},
			{Action: audit.ActionResourceCreated, ResourceID: "p-1"},
			{Action: audit.ActionResourceCreated, ResourceType: "project", ResourceID: "  "},
		} {
			_, err := s.writer.Record(s.inUnitOfWork(s.tenant), e)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		}
	})

	s.Run("invalid snapshot", func() {
		_, err := s.writer.Record(s.inUnitOfWork(s.tenant), audit.Entry{
			Action: audit.ActionResourceCreated, ResourceType: "project", ResourceID: "p-1",
			After: []byte("{not json"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *WriterSuite) TestStoreFailureSurfaces() {
	w, err := audit.NewWriter(failingStore{err: errors.New("disk full")})
	s.Require().NoError(err)

	_, err = w.Record(s.inUnitOfWork(s.tenant), audit.Entry{
		Action: audit.ActionResourceDeleted, ResourceType: "project", ResourceID: "p-1",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *WriterSuite) TestTamperingIsDetected() {
	ctx := s.inUnitOfWork(s.tenant)
	_, err := s.writer.Record(ctx, audit.Entry{
		Action: audit.ActionResourceUpdated, ResourceType: "document", ResourceID: "doc-9",
		After: map[string]int{"pages": 3},
	})
	s.Require().NoError(err)

	s.store.Tamper(s.tenant, 0, func(r *audit.Record) { r.After = json.RawMessage(`{"pages":4}`) })

	stored, err := s.store.ListByResource(ctx, "document", "doc-9")
	s.Require().NoError(err)
	s.Len(audit.Tampered(stored), 1)
}

type fakeScoped struct {
	tenant id.TenantID
}

func (f fakeScoped) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f fakeScoped) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (f fakeScoped) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (f fakeScoped) TenantID() id.TenantID { return f.tenant }

type failingStore struct {
	err error
}

func (f failingStore) EnsurePartition(context.Context, time.Time) (string, error) {
	return "", nil
}

func (f failingStore) NormalizeJSON(_ context.Context, doc json.RawMessage) (json.RawMessage, error) {
	return doc, nil
}

func (f failingStore) Append(context.Context, audit.Record) error { return f.err }
