package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
	"tenantguard/pkg/platform/sentinel"
	txcontext "tenantguard/pkg/platform/tx"
	"tenantguard/pkg/requestcontext"
)

// Store persists audit records inside the caller's unit of work.
type Store interface {
	// EnsurePartition makes sure the partition covering at exists, creating
	// it in the current transaction if needed. Returns the partition name.
	EnsurePartition(ctx context.Context, at time.Time) (string, error)
	// NormalizeJSON returns doc exactly as the store will read it back.
	NormalizeJSON(ctx context.Context, doc json.RawMessage) (json.RawMessage, error)
	Append(ctx context.Context, rec Record) error
}

// Metrics counts written records.
type Metrics interface {
	IncAuditRecord(category string)
}

type noopMetrics struct{}

func (noopMetrics) IncAuditRecord(string) {}

const maxFieldLength = 256

// Writer appends audit records in the same transaction as the change they
// describe, so the record commits or rolls back with it.
type Writer struct {
	store   Store
	logger  *slog.Logger
	metrics Metrics
	now     func(ctx context.Context) time.Time
}

// Option configures a Writer.
type Option func(*Writer)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = func(context.Context) time.Time { return now() } }
}

// NewWriter creates a Writer over store.
func NewWriter(store Store, opts ...Option) (*Writer, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	w := &Writer{
		store:   store,
		logger:  slog.Default(),
		metrics: noopMetrics{},
		now:     requestcontext.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Record writes one audit record for e and returns it as stored.
//
// It must run inside a tenant-bound unit of work; the entry's tenant must be
// that unit of work's tenant. Any error here should fail the surrounding
// work so the change and its record roll back together.
func (w *Writer) Record(ctx context.Context, e Entry) (Record, error) {
	scoped, ok := txcontext.From(ctx)
	if !ok {
		return Record{}, dErrors.Wrap(sentinel.ErrNoUnitOfWork, dErrors.CodeInvariantViolation,
			"audit record must be written inside a unit of work")
	}
	bound := scoped.TenantID()
	if bound.IsNil() {
		return Record{}, dErrors.New(dErrors.CodeInvalidTenantContext, "audit record requires a tenant-bound unit of work")
	}
	if e.TenantID.IsNil() {
		e.TenantID = bound
	}
	if e.TenantID != bound {
		return Record{}, dErrors.New(dErrors.CodeInvalidTenantContext,
			fmt.Sprintf("audit entry for tenant %s inside unit of work for tenant %s", e.TenantID, bound))
	}
	if err := validateEntry(e); err != nil {
		return Record{}, err
	}

	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "encode before snapshot")
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "encode after snapshot")
	}

	rec := Record{
		ID:           id.NewAuditID(),
		OccurredAt:   w.now(ctx).UTC().Truncate(time.Microsecond),
		TenantID:     e.TenantID,
		PrincipalID:  e.PrincipalID,
		Action:       e.Action,
		Category:     e.Action.Category(),
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		RequestID:    e.RequestID,
	}
	if rec.PrincipalID.IsNil() {
		rec.PrincipalID = requestcontext.PrincipalID(ctx)
	}
	if rec.RequestID == "" {
		rec.RequestID = requestcontext.RequestID(ctx)
	}

	if _, err := w.store.EnsurePartition(ctx, rec.OccurredAt); err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "ensure audit partition")
	}
	if rec.Before, err = w.normalize(ctx, before); err != nil {
		return Record{}, err
	}
	if rec.After, err = w.normalize(ctx, after); err != nil {
		return Record{}, err
	}
	if rec.Checksum, err = Checksum(rec); err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "compute audit checksum")
	}
	if err := w.store.Append(ctx, rec); err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "append audit record")
	}

	w.metrics.IncAuditRecord(string(rec.Category))
	w.logger.Debug("audit record written",
		"tenant_id", rec.TenantID.String(),
		"action", string(rec.Action),
		"resource_type", rec.ResourceType,
		"system", rec.System(),
	)
	return rec, nil
}

// Verify recomputes rec's checksum and compares it with the stored one.
func (w *Writer) Verify(rec Record) (bool, error) {
	return Verify(rec)
}

func (w *Writer) normalize(ctx context.Context, doc json.RawMessage) (json.RawMessage, error) {
	if doc == nil {
		return nil, nil
	}
	out, err := w.store.NormalizeJSON(ctx, doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "normalise audit snapshot")
	}
	return out, nil
}

func validateEntry(e Entry) error {
	switch {
	case strings.TrimSpace(string(e.Action)) == "":
		return dErrors.New(dErrors.CodeInvalidInput, "audit action is required")
	case strings.TrimSpace(e.ResourceType) == "":
		return dErrors.New(dErrors.CodeInvalidInput, "audit resource type is required")
	case strings.TrimSpace(e.ResourceID) == "":
		return dErrors.New(dErrors.CodeInvalidInput, "audit resource id is required")
	case len(e.Action) > maxFieldLength, len(e.ResourceType) > maxFieldLength, len(e.ResourceID) > maxFieldLength:
		return dErrors.New(dErrors.CodeInvalidInput, "audit field exceeds maximum length")
	}
	return nil
}

// marshalSnapshot turns a snapshot into JSON. nil and JSON null mean absent.
func marshalSnapshot(v any) (json.RawMessage, error) {
	var doc []byte
	switch s := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		doc = s
	case []byte:
		doc = s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		doc = b
	}
	if len(doc) == 0 {
		return nil, nil
	}
	if !json.Valid(doc) {
		return nil, errors.New("snapshot is not valid JSON")
	}
	canon, err := CanonicalJSON(doc)
	if err != nil {
		return nil, err
	}
	if canon == nil {
		return nil, nil
	}
	return json.RawMessage(canon), nil
}
