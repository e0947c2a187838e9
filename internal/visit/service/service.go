package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"gatepass/internal/directory"
	"gatepass/internal/notify"
	"gatepass/internal/platform/metrics"
	"gatepass/internal/qr"
	"gatepass/internal/visit/models"
	scanstore "gatepass/internal/visit/store/scan"
)

// VisitStore persists visits and their visitor records.
type VisitStore interface {
	Create(ctx context.Context, visit *models.Visit, visitor *models.Visitor) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Visit, error)
	FindByToken(ctx context.Context, token string) (*models.Visit, error)
	FindVisitor(ctx context.Context, id uuid.UUID) (*models.Visitor, error)
	UpdateVisitor(ctx context.Context, visitor *models.Visitor) error
	UpdateCAS(ctx context.Context, visit *models.Visit, expectedVersion int64) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByCreator(ctx context.Context, kind models.CreatorKind, creatorID uuid.UUID, offset, limit int) ([]*models.Visit, int, error)
	ListRequested(ctx context.Context) ([]*models.Visit, error)
	ExpireDue(ctx context.Context, now time.Time) ([]*models.Visit, error)
}

// ScanStore records the append-only scan log and evidence photos.
type ScanStore interface {
	Append(ctx context.Context, event *models.ScanEvent) error
	AddPhotos(ctx context.Context, photos []*models.EvidencePhoto) error
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*models.ScanEvent, error)
	PhotosByVisit(ctx context.Context, visitID uuid.UUID) ([]*models.EvidencePhoto, error)
	History(ctx context.Context, filter scanstore.HistoryFilter) ([]*models.ScanEvent, int, error)
}

// Directory resolves actor records and their tenants.
type Directory interface {
	FindAdmin(ctx context.Context, id uuid.UUID) (*directory.Admin, error)
	FindResident(ctx context.Context, id uuid.UUID) (*directory.Resident, error)
	FindGuard(ctx context.Context, id uuid.UUID) (*directory.Guard, error)
}

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Notifier

// Notifier receives lifecycle events. Enqueue must never block; delivery is
// best-effort and never influences the authorization decision.
type Notifier interface {
	Enqueue(event notify.Event) bool
}

// Service is the visit authorization core: it mints QR tokens, drives the
// visit state machine, and arbitrates entry/exit scans.
type Service struct {
	visits    VisitStore
	scans     ScanStore
	directory Directory
	codec     *qr.Codec

	notifier      Notifier
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	now           func() time.Time
	location      *time.Location
	validity      time.Duration
	defaultAction models.ScanAction
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the facility-local timezone used for every wall-clock
// comparison.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

// WithValidityWindow sets the token validity added to the scheduled entry.
func WithValidityWindow(d time.Duration) Option {
	return func(s *Service) { s.validity = d }
}

// WithDefaultAction sets the action applied when an entry scan names none.
func WithDefaultAction(action models.ScanAction) Option {
	return func(s *Service) { s.defaultAction = action }
}

// New constructs a Service.
func New(visits VisitStore, scans ScanStore, dir Directory, codec *qr.Codec, opts ...Option) *Service {
	s := &Service{
		visits:        visits,
		scans:         scans,
		directory:     dir,
		codec:         codec,
		logger:        slog.Default(),
		tracer:        otel.Tracer("gatepass/visit"),
		now:           time.Now,
		location:      time.UTC,
		validity:      24 * time.Hour,
		defaultAction: models.ActionApprove,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// localNow is the facility-local wall clock every timing rule compares
// against.
func (s *Service) localNow() time.Time {
	return s.now().In(s.location)
}

func (s *Service) emit(event notify.Event) {
	if s.notifier == nil {
		return
	}
	if event.At.IsZero() {
		event.At = s.now()
	}
	s.notifier.Enqueue(event)
}

// QRIssuance is returned to the caller after a visit is created: the opaque
// token, the rendered QR image, and the expiration.
type QRIssuance struct {
	VisitID   uuid.UUID       `json:"visit_id"`
	Token     string          `json:"qr_token"`
	ImagePNG  string          `json:"qr_image_png"`
	ExpiresAt time.Time       `json:"expires_at"`
	Visitor   *models.Visitor `json:"visitor"`
}

// ScanOutcome is the guard-facing result of a successful scan.
type ScanOutcome struct {
	Visit   *models.Visit   `json:"visit"`
	Visitor *models.Visitor `json:"visitor"`

	// EarlyArrival flags an entry before the scheduled time. Informational
	// only; it never blocks the scan.
	EarlyArrival bool `json:"early_arrival"`
	// LateDeparture flags an exit after the token expiration.
	LateDeparture bool     `json:"late_departure"`
	Warnings      []string `json:"warnings,omitempty"`
}

// VisitDetail bundles a visit with its visitor and scan history.
type VisitDetail struct {
	Visit   *models.Visit           `json:"visit"`
	Visitor *models.Visitor         `json:"visitor"`
	Scans   []*models.ScanEvent     `json:"scans,omitempty"`
	Photos  []*models.EvidencePhoto `json:"photos,omitempty"`
}
