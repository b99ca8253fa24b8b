package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
)

func TestProject(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	tenantID := id.NewTenantID()

	p, err := NewProject(tenantID, " Roadmap ", now)
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", p.Name)
	assert.Equal(t, tenantID, p.TenantID)
	assert.False(t, p.ID.IsNil())

	_, err = NewProject(id.TenantID{}, "Roadmap", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	later := now.Add(time.Hour)
	require.NoError(t, p.Rename("Plan", later))
	assert.Equal(t, "Plan", p.Name)
	assert.Equal(t, later, p.UpdatedAt)

	err = p.Rename(strings.Repeat("x", 201), later)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	assert.Equal(t, "Plan", p.Name, "failed rename leaves the project unchanged")
}

func TestDocument(t *testing.T) {
	now := time.Now()

	_, err := NewDocument(id.ResourceID{}, "Spec", "", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	d, err := NewDocument(id.NewResourceID(), "Spec", "", now)
	require.NoError(t, err)
	assert.Empty(t, d.Body, "body may be empty")

	require.NoError(t, d.Revise("Spec v2", "content", now))
	assert.Equal(t, "content", d.Body)
	assert.Error(t, d.Revise(" ", "content", now))
}

func TestNewEvidenceRecord(t *testing.T) {
	now := time.Now()
	documentID := id.NewResourceID()

	e, err := NewEvidenceRecord(documentID, "scan", nil, now)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(e.Payload))
	assert.Equal(t, now, e.CollectedAt)

	tests := []struct {
		name     string
		document id.ResourceID
		kind     string
		payload  json.RawMessage
	}{
		{"no document", id.ResourceID{}, "scan", nil},
		{"empty kind", documentID, " ", nil},
		{"kind too long", documentID, strings.Repeat("k", 101), nil},
		{"invalid payload", documentID, "scan", json.RawMessage(`{"a":`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvidenceRecord(tt.document, tt.kind, tt.payload, now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		})
	}
}
