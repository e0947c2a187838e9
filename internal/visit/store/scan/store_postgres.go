package scan

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"gatepass/internal/visit/models"
)

// PostgresStore persists scan events and evidence photos in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed scan store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event *models.ScanEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_events (id, visit_id, guard_id, kind, device, scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.VisitID, event.GuardID, string(event.Kind), event.Device, event.At)
	if err != nil {
		return fmt.Errorf("append scan event: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddPhotos(ctx context.Context, photos []*models.EvidencePhoto) error {
	for _, p := range photos {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO evidence_photos (id, visit_id, kind, url, added_at)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, p.VisitID, string(p.Kind), p.URL, p.AddedAt)
		if err != nil {
			return fmt.Errorf("insert evidence photo: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*models.ScanEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, visit_id, guard_id, kind, device, scanned_at
		FROM scan_events
		WHERE visit_id = $1
		ORDER BY scanned_at ASC
	`, visitID)
	if err != nil {
		return nil, fmt.Errorf("list scan events by visit: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *PostgresStore) PhotosByVisit(ctx context.Context, visitID uuid.UUID) ([]*models.EvidencePhoto, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, visit_id, kind, url, added_at
		FROM evidence_photos
		WHERE visit_id = $1
		ORDER BY added_at ASC
	`, visitID)
	if err != nil {
		return nil, fmt.Errorf("list evidence photos by visit: %w", err)
	}
	defer rows.Close()
	var photos []*models.EvidencePhoto
	for rows.Next() {
		var p models.EvidencePhoto
		var kind string
		if err := rows.Scan(&p.ID, &p.VisitID, &kind, &p.URL, &p.AddedAt); err != nil {
			return nil, fmt.Errorf("scan evidence photo row: %w", err)
		}
		p.Kind = models.ScanKind(kind)
		photos = append(photos, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence photo rows: %w", err)
	}
	return photos, nil
}

func (s *PostgresStore) History(ctx context.Context, filter HistoryFilter) ([]*models.ScanEvent, int, error) {
	where, args := buildHistoryWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count scan history: %w", err)
	}

	query := `
		SELECT id, visit_id, guard_id, kind, device, scanned_at
		FROM scan_events` + where + `
		ORDER BY scanned_at DESC
		OFFSET $` + strconv.Itoa(len(args)+1) + ` LIMIT $` + strconv.Itoa(len(args)+2)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, query, append(args, filter.Offset, limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list scan history: %w", err)
	}
	defer rows.Close()
	events, err := collectEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func buildHistoryWhere(filter HistoryFilter) (string, []any) {
	var clauses []string
	var args []any
	next := func() string { return "$" + strconv.Itoa(len(args)) }
	if filter.GuardID != nil {
		args = append(args, *filter.GuardID)
		clauses = append(clauses, "guard_id = "+next())
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		clauses = append(clauses, "kind = "+next())
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, "scanned_at >= "+next())
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, "scanned_at < "+next())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func collectEvents(rows *sql.Rows) ([]*models.ScanEvent, error) {
	var events []*models.ScanEvent
	for rows.Next() {
		var e models.ScanEvent
		var kind string
		if err := rows.Scan(&e.ID, &e.VisitID, &e.GuardID, &kind, &e.Device, &e.At); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Kind = models.ScanKind(kind)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan event rows: %w", err)
	}
	return events, nil
}
