package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"gatepass/pkg/platform/sentinel"
)

// PostgresStore reads actor records from PostgreSQL. Pure I/O; no domain
// logic lives here.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed directory store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindAdmin(ctx context.Context, id uuid.UUID) (*Admin, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, tenant_id FROM admins WHERE id = $1`, id)
	a := &Admin{}
	if err := row.Scan(&a.ID, &a.Name, &a.TenantID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("admin not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find admin: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) FindResident(ctx context.Context, id uuid.UUID) (*Resident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, unit, tenant_id FROM residents WHERE id = $1`, id)
	r := &Resident{}
	var unit sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &unit, &r.TenantID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("resident not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find resident: %w", err)
	}
	r.Unit = unit.String
	return r, nil
}

func (s *PostgresStore) FindGuard(ctx context.Context, id uuid.UUID) (*Guard, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, tenant_id FROM guards WHERE id = $1`, id)
	g := &Guard{}
	if err := row.Scan(&g.ID, &g.Name, &g.TenantID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("guard not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find guard: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) FindTenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM tenants WHERE id = $1`, id)
	t := &Tenant{}
	if err := row.Scan(&t.ID, &t.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tenant not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	return t, nil
}
