package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"gatepass/internal/platform/middleware"
	"gatepass/internal/transport/http/shared"
	"gatepass/internal/visit/models"
	scanstore "gatepass/internal/visit/store/scan"
	dErrors "gatepass/pkg/domain-errors"
)

func (h *Handler) handleScanEntry(w http.ResponseWriter, r *http.Request) {
	guardID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.ScanEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	outcome, err := h.visits.ScanEntry(r.Context(), guardID, deviceModel(r), req)
	if err != nil {
		h.logScanRejection(r, "entry", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleScanExit(w http.ResponseWriter, r *http.Request) {
	guardID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.ScanExitRequest
	if !h.decode(w, r, &req) {
		return
	}
	outcome, err := h.visits.ScanExit(r.Context(), guardID, deviceModel(r), req)
	if err != nil {
		h.logScanRejection(r, "exit", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := h.historyFilter(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entries, total, err := h.visits.History(r.Context(), filter)
	if err != nil {
		h.writeFailure(w, r, "failed to load scan history", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"scans": entries,
		"total": total,
	})
}

func (h *Handler) logScanRejection(r *http.Request, kind string, err error) {
	h.logger.WarnContext(r.Context(), "scan rejected",
		"request_id", middleware.GetRequestID(r.Context()),
		"kind", kind,
		"reason", string(dErrors.CodeOf(err)),
	)
}

// historyFilter builds the scan log filter from query parameters. Timestamps
// are RFC 3339; day=today narrows to the current facility-local day.
func (h *Handler) historyFilter(r *http.Request) (scanstore.HistoryFilter, error) {
	query := r.URL.Query()
	filter := scanstore.HistoryFilter{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if raw := query.Get("guard_id"); raw != "" {
		guardID, err := uuid.Parse(raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid guard_id")
		}
		filter.GuardID = &guardID
	}
	switch query.Get("kind") {
	case "":
	case string(models.ScanEntry):
		filter.Kind = models.ScanEntry
	case string(models.ScanExit):
		filter.Kind = models.ScanExit
	default:
		return filter, dErrors.New(dErrors.CodeBadRequest, "invalid scan kind")
	}
	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid from timestamp")
		}
		filter.From = from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid to timestamp")
		}
		filter.To = to
	}
	if query.Get("day") == "today" {
		now := h.now().In(h.location)
		filter.From = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.location)
		filter.To = filter.From.Add(24 * time.Hour)
	}
	return filter, nil
}

// deviceModel extracts a coarse device description from the User-Agent
// header, for the scan audit trail.
func deviceModel(r *http.Request) string {
	raw := r.UserAgent()
	if raw == "" {
		return "unknown"
	}
	ua := useragent.New(raw)
	parts := make([]string, 0, 3)
	if model := ua.Model(); model != "" {
		parts = append(parts, model)
	}
	if os := ua.OSInfo().FullName; os != "" {
		parts = append(parts, os)
	}
	if name, version := ua.Browser(); name != "" {
		parts = append(parts, name+" "+version)
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, " / ")
}
