package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "tenantguard/pkg/domain-errors"
)

// TestParseTenantID_Invariants validates the parsing invariant at the trust
// boundary: tenant IDs must be valid, non-empty, non-nil UUIDs.
func TestParseTenantID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseTenantID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseTenantID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseTenantID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseTenantID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, TenantID(valid), id)
		assert.False(t, id.IsNil())
	})
}

func TestParseID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE tenants;--", true},
		{"set_config injection", "x', true); SELECT set_config('app.current_tenant", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "550e8400\u200B-e29b-41d4-a716-446655440000", true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTenantID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	valid := uuid.New().String()

	t.Run("all accept valid UUID", func(t *testing.T) {
		_, errTenant := ParseTenantID(valid)
		_, errPrincipal := ParsePrincipalID(valid)
		_, errResource := ParseResourceID(valid)
		require.NoError(t, errTenant)
		require.NoError(t, errPrincipal)
		require.NoError(t, errResource)
	})

	for _, input := range []string{"", "invalid", uuid.Nil.String()} {
		t.Run("all reject: "+input, func(t *testing.T) {
			_, errTenant := ParseTenantID(input)
			_, errPrincipal := ParsePrincipalID(input)
			_, errResource := ParseResourceID(input)
			require.Error(t, errTenant)
			require.Error(t, errPrincipal)
			require.Error(t, errResource)
		})
	}
}

func TestTypedIDsRoundTrip(t *testing.T) {
	id := NewTenantID()
	parsed, err := ParseTenantID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.True(t, TenantID{}.IsNil())
}

func TestIDsEncodeAsJSONStrings(t *testing.T) {
	type doc struct {
		Tenant    TenantID    `json:"tenant"`
		Principal PrincipalID `json:"principal"`
	}
	in := doc{Tenant: NewTenantID(), Principal: NewPrincipalID()}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tenant":"`+in.Tenant.String()+`","principal":"`+in.Principal.String()+`"}`, string(raw))

	var out doc
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)

	err = json.Unmarshal([]byte(`{"tenant":"not-a-uuid"}`), &out)
	assert.Error(t, err)
}
