//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema mirrors the production migrations; integration suites run against
// the same table shapes the stores expect.
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS admins (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	tenant_id UUID REFERENCES tenants(id)
);

CREATE TABLE IF NOT EXISTS residents (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	unit TEXT,
	tenant_id UUID REFERENCES tenants(id)
);

CREATE TABLE IF NOT EXISTS guards (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	tenant_id UUID REFERENCES tenants(id)
);

CREATE TABLE IF NOT EXISTS visitors (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	document_id TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	vehicle_type TEXT NOT NULL DEFAULT '',
	vehicle_brand TEXT NOT NULL DEFAULT '',
	vehicle_color TEXT NOT NULL DEFAULT '',
	vehicle_plate TEXT NOT NULL DEFAULT '',
	chassis_plate TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	destination TEXT NOT NULL DEFAULT '',
	companions TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS visits (
	id UUID PRIMARY KEY,
	visitor_id UUID NOT NULL REFERENCES visitors(id),
	admin_id UUID,
	resident_id UUID,
	creator_kind TEXT NOT NULL,
	guard_id UUID,
	qr_token TEXT NOT NULL,
	scheduled_entry TIMESTAMPTZ NOT NULL,
	qr_expires_at TIMESTAMPTZ NOT NULL,
	exit_at TIMESTAMPTZ,
	state TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	entry_observation TEXT NOT NULL DEFAULT '',
	exit_observation TEXT NOT NULL DEFAULT '',
	version BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS visits_qr_token_idx ON visits (qr_token) WHERE qr_token <> 'pending-issue';
CREATE INDEX IF NOT EXISTS visits_expirable_idx ON visits (qr_expires_at) WHERE state IN ('pending', 'approved');

CREATE TABLE IF NOT EXISTS scan_events (
	id UUID PRIMARY KEY,
	visit_id UUID NOT NULL REFERENCES visits(id) ON DELETE CASCADE,
	guard_id UUID NOT NULL,
	kind TEXT NOT NULL,
	device TEXT NOT NULL DEFAULT '',
	scanned_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scan_events_scanned_at_idx ON scan_events (scanned_at DESC);

CREATE TABLE IF NOT EXISTS evidence_photos (
	id UUID PRIMARY KEY,
	visit_id UUID NOT NULL REFERENCES visits(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	url TEXT NOT NULL,
	added_at TIMESTAMPTZ NOT NULL
);
`

// PostgresContainer wraps a testcontainers PostgreSQL instance with the
// schema already applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a new PostgreSQL container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("gatepass_test"),
		tcpostgres.WithUsername("gatepass"),
		tcpostgres.WithPassword("gatepass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	// The container is shared through the singleton Manager; Ryuk reaps it
	// when the test process exits.
	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
}

// TruncateTables empties the given tables. Pass tables in dependency order.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx,
		fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", ")))
	return err
}
