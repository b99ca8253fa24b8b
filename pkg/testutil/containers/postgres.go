//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"tenantguard/internal/platform/config"
	"tenantguard/internal/platform/postgres"
)

const (
	appLogin    = "tenantguard_svc"
	appPassword = "tenantguard_svc"
)

// PostgresContainer is a migrated Postgres instance. Owner connects as the
// superuser that ran the migrations; Pool connects as a login role that only
// holds the application grants, so row policies apply to it.
type PostgresContainer struct {
	Container testcontainers.Container
	OwnerURL  string
	AppURL    string
	Owner     *sql.DB
	Pool      *pgxpool.Pool
}

var (
	sharedOnce sync.Once
	shared     *PostgresContainer
	sharedErr  error
)

// NewPostgresContainer returns the package-wide container, starting and
// migrating it on first use. Ryuk removes it when the test binary exits.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	sharedOnce.Do(func() {
		shared, sharedErr = startPostgres(context.Background())
	})
	if sharedErr != nil {
		t.Fatalf("failed to start postgres container: %v", sharedErr)
	}
	return shared
}

func startPostgres(ctx context.Context) (*PostgresContainer, error) {
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tenantguard"),
		tcpostgres.WithUsername("owner"),
		tcpostgres.WithPassword("owner"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*PostgresContainer, error) {
		_ = container.Terminate(ctx)
		return nil, err
	}

	ownerURL, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fail(fmt.Errorf("connection string: %w", err))
	}
	owner, err := postgres.OpenSQL(ctx, ownerURL)
	if err != nil {
		return fail(err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := postgres.Migrate(ctx, owner, quiet); err != nil {
		return fail(err)
	}
	createLogin := fmt.Sprintf(
		"CREATE ROLE %s LOGIN PASSWORD '%s' NOSUPERUSER NOBYPASSRLS IN ROLE %s",
		appLogin, appPassword, postgres.AppRole)
	if _, err := owner.ExecContext(ctx, createLogin); err != nil {
		return fail(fmt.Errorf("create app login: %w", err))
	}

	appURL, err := withCredentials(ownerURL, appLogin, appPassword)
	if err != nil {
		return fail(err)
	}
	pool, err := postgres.Open(ctx, config.Database{
		URL:             appURL,
		MaxConns:        4,
		MinConns:        0,
		MaxConnLifetime: time.Minute,
	})
	if err != nil {
		return fail(err)
	}

	return &PostgresContainer{
		Container: container,
		OwnerURL:  ownerURL,
		AppURL:    appURL,
		Owner:     owner,
		Pool:      pool,
	}, nil
}

func withCredentials(raw, user, password string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse connection string: %w", err)
	}
	u.User = url.UserPassword(user, password)
	return u.String(), nil
}

// TruncateTables clears tenant data between tests. audit_log is emptied
// through its partitions, which the owner may truncate despite the
// immutability trigger since TRUNCATE does not fire row triggers.
func (p *PostgresContainer) TruncateTables(ctx context.Context) error {
	tables := []string{"evidence_records", "documents", "projects", "principals", "tenants", "audit_log"}
	_, err := p.Owner.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE")
	return err
}
