package visit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"gatepass/internal/visit/models"
	"gatepass/pkg/platform/sentinel"
	"gatepass/pkg/platform/tx"
)

// PostgresStore persists visits and visitors in PostgreSQL.
// This store is pure I/O; state-machine rules live in the models and service.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed visit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const visitColumns = `
	id, visitor_id, admin_id, resident_id, creator_kind, guard_id,
	qr_token, scheduled_entry, qr_expires_at, exit_at, state,
	notes, entry_observation, exit_observation, version, created_at, updated_at
`

// Create inserts the visitor and its visit in one transaction so a failed
// visit insert never leaves an orphan visitor row.
func (s *PostgresStore) Create(ctx context.Context, visit *models.Visit, visitor *models.Visitor) error {
	return tx.WithTx(ctx, s.db, func(ctx context.Context, t *sql.Tx) error {
		_, err := t.ExecContext(ctx, `
			INSERT INTO visitors (id, name, document_id, phone, vehicle_type, vehicle_brand,
				vehicle_color, vehicle_plate, chassis_plate, reason, destination, companions, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			visitor.ID, visitor.Name, visitor.DocumentID, visitor.Phone,
			visitor.VehicleType, visitor.VehicleBrand, visitor.VehicleColor, visitor.VehiclePlate,
			visitor.ChassisPlate, visitor.Reason, visitor.Destination,
			pq.Array(visitor.Companions), visitor.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert visitor: %w", err)
		}
		_, err = t.ExecContext(ctx, `
			INSERT INTO visits (`+visitColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`,
			visit.ID, visit.VisitorID, visit.AdminID, visit.ResidentID, string(visit.CreatorKind),
			visit.GuardID, visit.QRToken, visit.ScheduledEntry, visit.QRExpiresAt, visit.ExitAt,
			string(visit.State), visit.Notes, visit.EntryObservation, visit.ExitObservation,
			visit.Version, visit.CreatedAt, visit.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert visit: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Visit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("visit not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find visit by id: %w", err)
	}
	return visit, nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (*models.Visit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE qr_token = $1`, token)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("visit not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find visit by token: %w", err)
	}
	return visit, nil
}

func (s *PostgresStore) FindVisitor(ctx context.Context, id uuid.UUID) (*models.Visitor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, document_id, phone, vehicle_type, vehicle_brand, vehicle_color,
			vehicle_plate, chassis_plate, reason, destination, companions, created_at
		FROM visitors
		WHERE id = $1
	`, id)
	visitor, err := scanVisitor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("visitor not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find visitor by id: %w", err)
	}
	return visitor, nil
}

func (s *PostgresStore) UpdateVisitor(ctx context.Context, visitor *models.Visitor) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE visitors
		SET name = $2, document_id = $3, phone = $4, vehicle_type = $5, vehicle_brand = $6,
			vehicle_color = $7, vehicle_plate = $8, chassis_plate = $9, reason = $10,
			destination = $11, companions = $12
		WHERE id = $1
	`,
		visitor.ID, visitor.Name, visitor.DocumentID, visitor.Phone,
		visitor.VehicleType, visitor.VehicleBrand, visitor.VehicleColor, visitor.VehiclePlate,
		visitor.ChassisPlate, visitor.Reason, visitor.Destination, pq.Array(visitor.Companions),
	)
	if err != nil {
		return fmt.Errorf("update visitor: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update visitor rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("visitor not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

// UpdateCAS writes the visit only when the row still holds expectedVersion.
// The version predicate is what makes concurrent scans safe: the losing
// guard's UPDATE matches zero rows and gets ErrVersionMismatch.
func (s *PostgresStore) UpdateCAS(ctx context.Context, visit *models.Visit, expectedVersion int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE visits
		SET guard_id = $3, qr_token = $4, scheduled_entry = $5, qr_expires_at = $6,
			exit_at = $7, state = $8, notes = $9, entry_observation = $10,
			exit_observation = $11, version = version + 1, updated_at = $12
		WHERE id = $1 AND version = $2
	`,
		visit.ID, expectedVersion,
		visit.GuardID, visit.QRToken, visit.ScheduledEntry, visit.QRExpiresAt,
		visit.ExitAt, string(visit.State), visit.Notes, visit.EntryObservation,
		visit.ExitObservation, visit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update visit rows affected: %w", err)
	}
	if rows == 0 {
		// Disambiguate a missing row from a lost race.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM visits WHERE id = $1)`, visit.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check visit exists: %w", err)
		}
		if !exists {
			return fmt.Errorf("visit not found: %w", sentinel.ErrNotFound)
		}
		return fmt.Errorf("visit %s, expected version %d: %w", visit.ID, expectedVersion, sentinel.ErrVersionMismatch)
	}
	visit.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	return tx.WithTx(ctx, s.db, func(ctx context.Context, t *sql.Tx) error {
		var visitorID uuid.UUID
		err := t.QueryRowContext(ctx, `DELETE FROM visits WHERE id = $1 RETURNING visitor_id`, id).Scan(&visitorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("visit not found: %w", sentinel.ErrNotFound)
			}
			return fmt.Errorf("delete visit: %w", err)
		}
		if _, err := t.ExecContext(ctx, `DELETE FROM visitors WHERE id = $1`, visitorID); err != nil {
			return fmt.Errorf("delete visitor: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListByCreator(ctx context.Context, kind models.CreatorKind, creatorID uuid.UUID, offset, limit int) ([]*models.Visit, int, error) {
	column := "admin_id"
	if kind == models.CreatorResident {
		column = "resident_id"
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM visits WHERE `+column+` = $1`, creatorID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visits by creator: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE `+column+` = $1
		ORDER BY scheduled_entry DESC
		OFFSET $2 LIMIT $3
	`, creatorID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list visits by creator: %w", err)
	}
	defer rows.Close()
	visits, err := collectVisits(rows)
	if err != nil {
		return nil, 0, err
	}
	return visits, total, nil
}

func (s *PostgresStore) ListRequested(ctx context.Context) ([]*models.Visit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE state = $1
		ORDER BY scheduled_entry ASC
	`, string(models.StateRequested))
	if err != nil {
		return nil, fmt.Errorf("list requested visits: %w", err)
	}
	defer rows.Close()
	return collectVisits(rows)
}

// ExpireDue flips every expirable visit past qr_expires_at to expired in a
// single UPDATE ... RETURNING. Bumping version here means an in-flight scan
// that read the old row loses its compare-and-swap.
func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) ([]*models.Visit, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE visits
		SET state = $1, version = version + 1, updated_at = $2
		WHERE state IN ($3, $4) AND qr_expires_at < $2
		RETURNING `+visitColumns+`
	`, string(models.StateExpired), now, string(models.StatePending), string(models.StateApproved))
	if err != nil {
		return nil, fmt.Errorf("expire due visits: %w", err)
	}
	defer rows.Close()
	return collectVisits(rows)
}

type visitRow interface {
	Scan(dest ...any) error
}

func scanVisit(row visitRow) (*models.Visit, error) {
	var v models.Visit
	var creatorKind, state string
	var adminID, residentID, guardID uuid.NullUUID
	var exitAt sql.NullTime
	err := row.Scan(
		&v.ID, &v.VisitorID, &adminID, &residentID, &creatorKind, &guardID,
		&v.QRToken, &v.ScheduledEntry, &v.QRExpiresAt, &exitAt, &state,
		&v.Notes, &v.EntryObservation, &v.ExitObservation, &v.Version, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.CreatorKind = models.CreatorKind(creatorKind)
	v.State = models.VisitState(state)
	if adminID.Valid {
		v.AdminID = &adminID.UUID
	}
	if residentID.Valid {
		v.ResidentID = &residentID.UUID
	}
	if guardID.Valid {
		v.GuardID = &guardID.UUID
	}
	if exitAt.Valid {
		v.ExitAt = &exitAt.Time
	}
	return &v, nil
}

func scanVisitor(row visitRow) (*models.Visitor, error) {
	var v models.Visitor
	err := row.Scan(
		&v.ID, &v.Name, &v.DocumentID, &v.Phone, &v.VehicleType, &v.VehicleBrand,
		&v.VehicleColor, &v.VehiclePlate, &v.ChassisPlate, &v.Reason, &v.Destination,
		pq.Array(&v.Companions), &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVisits(rows *sql.Rows) ([]*models.Visit, error) {
	var visits []*models.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit row: %w", err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visit rows: %w", err)
	}
	return visits, nil
}
