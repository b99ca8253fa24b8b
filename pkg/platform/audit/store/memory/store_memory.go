package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	id "tenantguard/pkg/domain"
	audit "tenantguard/pkg/platform/audit"
	"tenantguard/pkg/platform/sentinel"
	txcontext "tenantguard/pkg/platform/tx"
)

// InMemoryStore is an audit.Store for unit tests. Reads are filtered by the
// tenant of the unit of work on the context, mirroring row-level security.
type InMemoryStore struct {
	mu         sync.RWMutex
	records    map[id.TenantID][]audit.Record
	partitions map[string]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:    make(map[id.TenantID][]audit.Record),
		partitions: make(map[string]int),
	}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[id.TenantID][]audit.Record)
	s.partitions = make(map[string]int)
}

func (s *InMemoryStore) EnsurePartition(_ context.Context, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := audit.PartitionName(at)
	s.partitions[name]++
	return name, nil
}

func (s *InMemoryStore) NormalizeJSON(_ context.Context, doc json.RawMessage) (json.RawMessage, error) {
	return doc, nil
}

func (s *InMemoryStore) Append(ctx context.Context, rec audit.Record) error {
	scoped, ok := txcontext.From(ctx)
	if !ok {
		return sentinel.ErrNoUnitOfWork
	}
	if scoped.TenantID() != rec.TenantID {
		return sentinel.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partitions[audit.PartitionName(rec.OccurredAt)] == 0 {
		return sentinel.ErrNotFound
	}
	s.records[rec.TenantID] = append(s.records[rec.TenantID], rec)
	return nil
}

// ListByResource returns the bound tenant's records for one resource, oldest
// first.
func (s *InMemoryStore) ListByResource(ctx context.Context, resourceType, resourceID string) ([]audit.Record, error) {
	scoped, ok := txcontext.From(ctx)
	if !ok {
		return nil, sentinel.ErrNoUnitOfWork
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Record
	for _, r := range s.records[scoped.TenantID()] {
		if r.ResourceType == resourceType && r.ResourceID == resourceID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// Partitions reports how many times each partition was ensured.
func (s *InMemoryStore) Partitions() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.partitions))
	for k, v := range s.partitions {
		out[k] = v
	}
	return out
}

// Tamper overwrites a stored record in place, for verification tests.
func (s *InMemoryStore) Tamper(tenantID id.TenantID, index int, mutate func(*audit.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.records[tenantID][index])
}
