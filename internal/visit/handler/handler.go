package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"gatepass/internal/platform/metrics"
	"gatepass/internal/platform/middleware"
	"gatepass/internal/transport/http/shared"
	"gatepass/internal/visit/models"
	"gatepass/internal/visit/service"
	scanstore "gatepass/internal/visit/store/scan"
	dErrors "gatepass/pkg/domain-errors"
)

// Service defines the visit operations the HTTP layer needs.
type Service interface {
	Create(ctx context.Context, creatorKind models.CreatorKind, creatorID uuid.UUID, req models.CreateVisitRequest) ([]*service.QRIssuance, error)
	Request(ctx context.Context, residentID uuid.UUID, req models.RequestVisitRequest) (*service.VisitDetail, error)
	Approve(ctx context.Context, adminID, visitID uuid.UUID) (*service.QRIssuance, error)
	Reject(ctx context.Context, adminID, visitID uuid.UUID) error
	ListRequests(ctx context.Context) ([]*service.VisitDetail, error)
	Get(ctx context.Context, visitID uuid.UUID) (*service.VisitDetail, error)
	ListByCreator(ctx context.Context, kind models.CreatorKind, creatorID uuid.UUID, offset, limit int) ([]*service.VisitDetail, int, error)
	Update(ctx context.Context, actorID uuid.UUID, visitID uuid.UUID, req models.UpdateVisitRequest) (*service.QRIssuance, error)
	Delete(ctx context.Context, actorID uuid.UUID, visitID uuid.UUID) error
	ScanEntry(ctx context.Context, guardID uuid.UUID, device string, req models.ScanEntryRequest) (*service.ScanOutcome, error)
	ScanExit(ctx context.Context, guardID uuid.UUID, device string, req models.ScanExitRequest) (*service.ScanOutcome, error)
	History(ctx context.Context, filter scanstore.HistoryFilter) ([]*service.ScanHistoryEntry, int, error)
}

// Handler exposes the visit lifecycle and gate scan endpoints.
type Handler struct {
	visits       Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	validate     *validator.Validate
	jwtValidator middleware.JWTValidator

	// location is the facility-local timezone; day-window history filters
	// are built against it, not UTC.
	location *time.Location
	now      func() time.Time
}

// New creates a visit Handler. A nil location falls back to UTC.
func New(
	visits Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator,
	location *time.Location) *Handler {
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		visits:       visits,
		logger:       logger,
		metrics:      metrics,
		validate:     validator.New(),
		jwtValidator: jwtValidator,
		location:     location,
		now:          time.Now,
	}
}

// Register registers the visit routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	visitRouter := chi.NewRouter()
	visitRouter.Use(middleware.Recovery(h.logger))
	visitRouter.Use(middleware.RequestID)
	visitRouter.Use(middleware.Logger(h.logger))
	visitRouter.Use(middleware.Timeout(30 * time.Second))
	visitRouter.Use(middleware.ContentTypeJSON)
	visitRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	visitRouter.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole("admin", "resident"))
		r.Post("/visits", h.handleCreate)
		r.Get("/visits", h.handleList)
		r.Get("/visits/{id}", h.handleGet)
		r.Put("/visits/{id}", h.handleUpdate)
		r.Delete("/visits/{id}", h.handleDelete)
	})
	visitRouter.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole("resident"))
		r.Post("/visits/request", h.handleRequest)
	})
	visitRouter.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole("admin"))
		r.Get("/visits/requests", h.handleListRequests)
		r.Post("/visits/{id}/approve", h.handleApprove)
		r.Post("/visits/{id}/reject", h.handleReject)
	})
	visitRouter.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole("guard"))
		r.Post("/scan/entry", h.handleScanEntry)
		r.Post("/scan/exit", h.handleScanExit)
		r.Get("/scan/history", h.handleScanHistory)
	})

	r.Mount("/", visitRouter)
}

// actor resolves the authenticated actor from the request context. The auth
// middleware already ran, so a missing or malformed ID is a server fault.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	ctx := r.Context()
	actorID, err := uuid.Parse(middleware.GetUserID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "actor ID missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return uuid.Nil, "", false
	}
	return actorID, middleware.GetRole(ctx), true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	sanitize(v)
	if err := h.validate.Struct(v); err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "invalid request"))
		return false
	}
	return true
}

func (h *Handler) visitID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid visit ID"))
		return uuid.Nil, false
	}
	return id, true
}

func creatorKindForRole(role string) models.CreatorKind {
	if role == "resident" {
		return models.CreatorResident
	}
	return models.CreatorAdmin
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actorID, role, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.CreateVisitRequest
	if !h.decode(w, r, &req) {
		return
	}
	issuances, err := h.visits.Create(r.Context(), creatorKindForRole(role), actorID, req)
	if err != nil {
		h.writeFailure(w, r, "failed to create visit", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]any{"visits": issuances})
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.RequestVisitRequest
	if !h.decode(w, r, &req) {
		return
	}
	detail, err := h.visits.Request(r.Context(), actorID, req)
	if err != nil {
		h.writeFailure(w, r, "failed to request visit", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, detail)
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	details, err := h.visits.ListRequests(r.Context())
	if err != nil {
		h.writeFailure(w, r, "failed to list visit requests", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"requests": details})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	visitID, ok := h.visitID(w, r)
	if !ok {
		return
	}
	issuance, err := h.visits.Approve(r.Context(), actorID, visitID)
	if err != nil {
		h.writeFailure(w, r, "failed to approve visit request", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, issuance)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	visitID, ok := h.visitID(w, r)
	if !ok {
		return
	}
	if err := h.visits.Reject(r.Context(), actorID, visitID); err != nil {
		h.writeFailure(w, r, "failed to reject visit request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	visitID, ok := h.visitID(w, r)
	if !ok {
		return
	}
	detail, err := h.visits.Get(r.Context(), visitID)
	if err != nil {
		h.writeFailure(w, r, "failed to load visit", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actorID, role, ok := h.actor(w, r)
	if !ok {
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 20)
	details, total, err := h.visits.ListByCreator(r.Context(), creatorKindForRole(role), actorID, offset, limit)
	if err != nil {
		h.writeFailure(w, r, "failed to list visits", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"visits": details,
		"total":  total,
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	visitID, ok := h.visitID(w, r)
	if !ok {
		return
	}
	var req models.UpdateVisitRequest
	if !h.decode(w, r, &req) {
		return
	}
	issuance, err := h.visits.Update(r.Context(), actorID, visitID, req)
	if err != nil {
		h.writeFailure(w, r, "failed to update visit", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, issuance)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	visitID, ok := h.visitID(w, r)
	if !ok {
		return
	}
	if err := h.visits.Delete(r.Context(), actorID, visitID); err != nil {
		h.writeFailure(w, r, "failed to delete visit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeFailure logs server faults and passes domain errors through to the
// shared envelope untouched.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(r.Context(), msg,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
	}
	shared.WriteError(w, err)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
