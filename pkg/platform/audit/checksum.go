package audit

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	"github.com/google/uuid"
)

const checksumVersion = "v2"

// occurredAtLayout fixes the timestamp encoding at microsecond precision,
// the resolution Postgres stores.
const occurredAtLayout = "2006-01-02T15:04:05.000000Z"

// Checksum computes the SHA-256 digest of a record's immutable fields.
// Each field is length-prefixed so no two field layouts collide, and JSON
// snapshots are canonicalised so the digest survives a round trip through
// jsonb.
func Checksum(r Record) (string, error) {
	before, err := CanonicalJSON(r.Before)
	if err != nil {
		return "", fmt.Errorf("canonicalise before snapshot: %w", err)
	}
	after, err := CanonicalJSON(r.After)
	if err != nil {
		return "", fmt.Errorf("canonicalise after snapshot: %w", err)
	}

	h := sha256.New()
	writeField(h, []byte(checksumVersion))
	writeField(h, []byte(uuid.UUID(r.ID).String()))
	writeField(h, []byte(r.OccurredAt.UTC().Truncate(time.Microsecond).Format(occurredAtLayout)))
	writeField(h, []byte(r.TenantID.String()))
	if r.PrincipalID.IsNil() {
		writeOptional(h, nil)
	} else {
		writeOptional(h, []byte(r.PrincipalID.String()))
	}
	writeField(h, []byte(r.Action))
	writeField(h, []byte(r.Category))
	writeField(h, []byte(r.ResourceType))
	writeField(h, []byte(r.ResourceID))
	writeOptional(h, before)
	writeOptional(h, after)
	writeField(h, []byte(r.RequestID))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the stored checksum matches the record's fields.
func Verify(r Record) (bool, error) {
	sum, err := Checksum(r)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(sum), []byte(r.Checksum)) == 1, nil
}

// Tampered returns the records whose checksum no longer matches, or that
// cannot be recomputed at all.
func Tampered(records []Record) []Record {
	var out []Record
	for _, r := range records {
		ok, err := Verify(r)
		if err != nil || !ok {
			out = append(out, r)
		}
	}
	return out
}

// CanonicalJSON re-encodes doc compactly with object keys sorted and numbers
// kept verbatim. Empty input and JSON null both canonicalise to nil.
func CanonicalJSON(doc []byte) ([]byte, error) {
	doc = bytes.TrimSpace(doc)
	if len(doc) == 0 || bytes.Equal(doc, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON document")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func writeOptional(h hash.Hash, b []byte) {
	if b == nil {
		h.Write([]byte{0})
		return
	}
	h.Write([]byte{1})
	writeField(h, b)
}
