// Package models holds the tenant-scoped resources. Project carries its
// tenant directly; Document and EvidenceRecord resolve it through their
// parent chain and never store a tenant id.
package models

import (
	"encoding/json"
	"strings"
	"time"

	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
)

// Resource type names used in audit records.
const (
	TypeProject  = "project"
	TypeDocument = "document"
	TypeEvidence = "evidence_record"
)

type Project struct {
	ID        id.ResourceID `json:"id"`
	TenantID  id.TenantID   `json:"tenant_id"`
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func NewProject(tenantID id.TenantID, name string, now time.Time) (*Project, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "project must belong to a tenant")
	}
	name, err := boundedText("project name", name, 200)
	if err != nil {
		return nil, err
	}
	return &Project{ID: id.NewResourceID(), TenantID: tenantID, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

// Rename validates and applies a new name.
func (p *Project) Rename(name string, now time.Time) error {
	name, err := boundedText("project name", name, 200)
	if err != nil {
		return err
	}
	p.Name = name
	p.UpdatedAt = now
	return nil
}

type Document struct {
	ID        id.ResourceID `json:"id"`
	ProjectID id.ResourceID `json:"project_id"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func NewDocument(projectID id.ResourceID, title, body string, now time.Time) (*Document, error) {
	if projectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "document must belong to a project")
	}
	title, err := boundedText("document title", title, 500)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id.NewResourceID(), ProjectID: projectID, Title: title, Body: body, CreatedAt: now, UpdatedAt: now}, nil
}

// Revise replaces title and body.
func (d *Document) Revise(title, body string, now time.Time) error {
	title, err := boundedText("document title", title, 500)
	if err != nil {
		return err
	}
	d.Title = title
	d.Body = body
	d.UpdatedAt = now
	return nil
}

// EvidenceRecord is a piece of collected evidence attached to a document.
// Records are immutable once collected; correct them by deleting and
// recording again.
type EvidenceRecord struct {
	ID          id.ResourceID   `json:"id"`
	DocumentID  id.ResourceID   `json:"document_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	CollectedAt time.Time       `json:"collected_at"`
}

func NewEvidenceRecord(documentID id.ResourceID, kind string, payload json.RawMessage, now time.Time) (*EvidenceRecord, error) {
	if documentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "evidence must belong to a document")
	}
	kind, err := boundedText("evidence kind", kind, 100)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "evidence payload must be valid JSON")
	}
	return &EvidenceRecord{ID: id.NewResourceID(), DocumentID: documentID, Kind: kind, Payload: payload, CollectedAt: now}, nil
}

func boundedText(field, value string, limit int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", dErrors.New(dErrors.CodeInvariantViolation, field+" cannot be empty")
	}
	if len(value) > limit {
		return "", dErrors.New(dErrors.CodeInvariantViolation, field+" is too long")
	}
	return value, nil
}
