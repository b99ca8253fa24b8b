package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("defaults to previous and current month", func(t *testing.T) {
		start, end, err := verifyWindow("", "", now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, now, end)
	})

	t.Run("explicit window", func(t *testing.T) {
		start, end, err := verifyWindow("2025-12-01T00:00:00Z", "2026-01-01T00:00:00+01:00", now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC), end)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		_, _, err := verifyWindow("yesterday", "", now)
		assert.Error(t, err)
		_, _, err = verifyWindow("2026-04-01T00:00:00Z", "2026-03-01T00:00:00Z", now)
		assert.Error(t, err)
	})
}

func TestCommandArguments(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app@localhost:5432/tenantguard")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"cross-check needs two tenants", []string{"cross-check", "only-one"}, "accepts 2 arg(s)"},
		{"cross-check rejects a bad id", []string{"cross-check", "nope", "nope"}, `invalid tenant id "nope"`},
		{"audit verify rejects a bad id", []string{"audit", "verify", "nope"}, `invalid tenant id "nope"`},
		{"suspend rejects a bad id", []string{"tenant", "suspend", "nope"}, `invalid tenant id "nope"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetErr(&out)
			root.SetArgs(tt.args)

			err := root.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
