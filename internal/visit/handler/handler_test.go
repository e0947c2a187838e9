package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatepass/internal/directory"
	"gatepass/internal/platform/middleware"
	"gatepass/internal/qr"
	"gatepass/internal/visit/models"
	"gatepass/internal/visit/service"
	scanstore "gatepass/internal/visit/store/scan"
	visitstore "gatepass/internal/visit/store/visit"
)

type HandlerSuite struct {
	suite.Suite

	handler *Handler
	router  chi.Router
	auth    *passValidator

	tenantID   uuid.UUID
	adminID    uuid.UUID
	residentID uuid.UUID
	guardID    uuid.UUID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

type passValidator struct{ claims middleware.JWTClaims }

func (v *passValidator) ValidateToken(string) (*middleware.JWTClaims, error) {
	claims := v.claims
	return &claims, nil
}

func (s *HandlerSuite) SetupTest() {
	s.tenantID = uuid.New()
	s.adminID = uuid.New()
	s.residentID = uuid.New()
	s.guardID = uuid.New()

	dir := directory.NewInMemory()
	dir.PutTenant(&directory.Tenant{ID: s.tenantID, Name: "Villa Esperanza"})
	dir.PutAdmin(&directory.Admin{ID: s.adminID, Name: "Laura Flores", TenantID: &s.tenantID})
	dir.PutResident(&directory.Resident{ID: s.residentID, Name: "Marco Rivera", TenantID: &s.tenantID})
	dir.PutGuard(&directory.Guard{ID: s.guardID, Name: "Pedro Lainez", TenantID: &s.tenantID})

	key, err := qr.GenerateKey()
	s.Require().NoError(err)
	crypto, err := qr.NewCryptoContext(key, "handler-suite-secret")
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(visitstore.NewInMemory(), scanstore.NewInMemory(), dir, qr.NewCodec(crypto),
		service.WithLogger(logger),
	)

	s.auth = &passValidator{}
	s.handler = New(svc, logger, nil, s.auth, time.UTC)
	s.router = chi.NewRouter()
	s.handler.Register(s.router)
}

// do dispatches a request through the full router with the actor identity
// injected the way RequireAuth would.
func (s *HandlerSuite) do(method, target string, body any, actorID uuid.UUID, role string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 13; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0 Mobile Safari/537.36")
	ctx := context.WithValue(req.Context(), middleware.ContextKeyUserID, actorID.String())
	ctx = context.WithValue(ctx, middleware.ContextKeyRole, role)
	ctx = context.WithValue(ctx, middleware.ContextKeyTenantID, s.tenantID.String())
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	s.serveAuthenticated(w, req)
	return w
}

// serveAuthenticated routes the request with the shared validator set to
// whatever identity the request context carries, so RequireAuth restates it.
func (s *HandlerSuite) serveAuthenticated(w http.ResponseWriter, req *http.Request) {
	s.auth.claims = middleware.JWTClaims{
		UserID:   middleware.GetUserID(req.Context()),
		Role:     middleware.GetRole(req.Context()),
		TenantID: s.tenantID.String(),
	}
	req.Header.Set("Authorization", "Bearer test-token")
	s.router.ServeHTTP(w, req)
}

func (s *HandlerSuite) createVisit() (visitID uuid.UUID, token string) {
	w := s.do(http.MethodPost, "/visits", models.CreateVisitRequest{
		Visitors: []models.VisitorPayload{{
			Name:       "Ana Mejia",
			DocumentID: "0801-1990-01234",
			Companions: []string{"Luis Mejia"},
		}},
		ScheduledEntry: time.Now().Add(time.Hour),
	}, s.adminID, "admin")
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Visits []struct {
			VisitID uuid.UUID `json:"visit_id"`
			Token   string    `json:"qr_token"`
		} `json:"visits"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().Len(resp.Visits, 1)
	return resp.Visits[0].VisitID, resp.Visits[0].Token
}

func (s *HandlerSuite) TestCreateAndGet() {
	visitID, token := s.createVisit()
	s.NotEmpty(token)

	w := s.do(http.MethodGet, "/visits/"+visitID.String(), nil, s.adminID, "admin")
	s.Equal(http.StatusOK, w.Code, w.Body.String())

	var detail struct {
		Visit struct {
			State string `json:"state"`
		} `json:"visit"`
		Visitor struct {
			Name       string   `json:"name"`
			Companions []string `json:"companions"`
		} `json:"visitor"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &detail))
	s.Equal("pending", detail.Visit.State)
	s.Equal("Ana Mejia", detail.Visitor.Name)
	s.Equal([]string{"Luis Mejia"}, detail.Visitor.Companions)
}

func (s *HandlerSuite) TestCreateValidation() {
	s.Run("missing visitor name", func() {
		w := s.do(http.MethodPost, "/visits", models.CreateVisitRequest{
			Visitors:       []models.VisitorPayload{{DocumentID: "0801"}},
			ScheduledEntry: time.Now().Add(time.Hour),
		}, s.adminID, "admin")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("malformed body", func() {
		req := httptest.NewRequest(http.MethodPost, "/visits", bytes.NewReader([]byte("{")))
		ctx := context.WithValue(req.Context(), middleware.ContextKeyUserID, s.adminID.String())
		ctx = context.WithValue(ctx, middleware.ContextKeyRole, "admin")
		req = req.WithContext(ctx)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		s.serveAuthenticated(w, req)
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestRoleEnforcement() {
	s.Run("guard cannot create visits", func() {
		w := s.do(http.MethodPost, "/visits", models.CreateVisitRequest{
			Visitors:       []models.VisitorPayload{{Name: "Ana", DocumentID: "0801"}},
			ScheduledEntry: time.Now().Add(time.Hour),
		}, s.guardID, "guard")
		s.Equal(http.StatusForbidden, w.Code)
	})

	s.Run("resident cannot approve requests", func() {
		w := s.do(http.MethodPost, "/visits/"+uuid.NewString()+"/approve", nil, s.residentID, "resident")
		s.Equal(http.StatusForbidden, w.Code)
	})

	s.Run("admin cannot scan", func() {
		w := s.do(http.MethodPost, "/scan/entry", models.ScanEntryRequest{QR: "x"}, s.adminID, "admin")
		s.Equal(http.StatusForbidden, w.Code)
	})
}

func (s *HandlerSuite) TestRequestApproveFlow() {
	w := s.do(http.MethodPost, "/visits/request", models.RequestVisitRequest{
		Visitor:        models.VisitorPayload{Name: "Carmen Diaz", DocumentID: "0801-1995-11111"},
		ScheduledEntry: time.Now().Add(2 * time.Hour),
	}, s.residentID, "resident")
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var detail struct {
		Visit struct {
			ID    uuid.UUID `json:"id"`
			State string    `json:"state"`
		} `json:"visit"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &detail))
	s.Equal("requested", detail.Visit.State)

	w = s.do(http.MethodGet, "/visits/requests", nil, s.adminID, "admin")
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/visits/"+detail.Visit.ID.String()+"/approve", nil, s.adminID, "admin")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var issuance struct {
		Token    string `json:"qr_token"`
		ImagePNG string `json:"qr_image_png"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &issuance))
	s.NotEmpty(issuance.Token)
	s.NotEmpty(issuance.ImagePNG)
}

func (s *HandlerSuite) TestScanEntryAndExit() {
	_, token := s.createVisit()

	w := s.do(http.MethodPost, "/scan/entry", models.ScanEntryRequest{QR: token}, s.guardID, "guard")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var outcome struct {
		Visit struct {
			State string `json:"state"`
		} `json:"visit"`
		Warnings []string `json:"warnings"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &outcome))
	s.Equal("approved", outcome.Visit.State)

	w = s.do(http.MethodPost, "/scan/exit", models.ScanExitRequest{QR: token}, s.guardID, "guard")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &outcome))
	s.Equal("completed", outcome.Visit.State)
}

func (s *HandlerSuite) TestScanErrorEnvelope() {
	s.Run("unknown token maps to 404", func() {
		w := s.do(http.MethodPost, "/scan/entry", models.ScanEntryRequest{QR: "ffff.ffff"}, s.guardID, "guard")
		s.Equal(http.StatusNotFound, w.Code)

		var resp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal("token_not_recognized", resp.Error)
		s.Equal("QR code not recognized", resp.Message)
	})

	s.Run("double entry maps to 409", func() {
		_, token := s.createVisit()
		w := s.do(http.MethodPost, "/scan/entry", models.ScanEntryRequest{QR: token}, s.guardID, "guard")
		s.Require().Equal(http.StatusOK, w.Code)
		w = s.do(http.MethodPost, "/scan/entry", models.ScanEntryRequest{QR: token}, s.guardID, "guard")
		s.Equal(http.StatusConflict, w.Code)
	})
}

func (s *HandlerSuite) TestScanHistory() {
	_, token := s.createVisit()
	w := s.do(http.MethodPost, "/scan/entry", models.ScanEntryRequest{QR: token}, s.guardID, "guard")
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/scan/history?kind=entry&guard_id="+s.guardID.String(), nil, s.guardID, "guard")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Total int `json:"total"`
		Scans []struct {
			Event struct {
				Device string `json:"device"`
			} `json:"event"`
		} `json:"scans"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(1, resp.Total)
	s.Require().Len(resp.Scans, 1)
	s.NotEmpty(resp.Scans[0].Event.Device)
	s.NotEqual("unknown", resp.Scans[0].Event.Device)

	s.Run("bad filter", func() {
		w := s.do(http.MethodGet, "/scan/history?kind=sideways", nil, s.guardID, "guard")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestTodayWindowIsFacilityLocal() {
	facility := time.FixedZone("UTC-6", -6*60*60)
	s.handler.location = facility
	// 03:00 UTC is still 21:00 the previous day at the facility.
	s.handler.now = func() time.Time {
		return time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	}

	req := httptest.NewRequest(http.MethodGet, "/scan/history?day=today", nil)
	filter, err := s.handler.historyFilter(req)
	s.Require().NoError(err)

	wantFrom := time.Date(2026, 8, 30, 0, 0, 0, 0, facility)
	s.True(filter.From.Equal(wantFrom), "got %s", filter.From)
	s.True(filter.To.Equal(wantFrom.Add(24*time.Hour)), "got %s", filter.To)
	// A scan landing at 02:30 UTC the same night belongs to the window.
	s.True(time.Date(2026, 8, 31, 2, 30, 0, 0, time.UTC).After(filter.From))
	s.True(time.Date(2026, 8, 31, 2, 30, 0, 0, time.UTC).Before(filter.To))
}

func (s *HandlerSuite) TestUpdateAndDelete() {
	visitID, token := s.createVisit()

	newEntry := time.Now().Add(6 * time.Hour).UTC().Truncate(time.Second)
	w := s.do(http.MethodPut, "/visits/"+visitID.String(), models.UpdateVisitRequest{
		ScheduledEntry: &newEntry,
	}, s.adminID, "admin")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var issuance struct {
		Token string `json:"qr_token"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &issuance))
	s.NotEqual(token, issuance.Token)

	s.Run("non-creator cannot delete", func() {
		w := s.do(http.MethodDelete, "/visits/"+visitID.String(), nil, s.residentID, "resident")
		s.Equal(http.StatusForbidden, w.Code)
	})

	w = s.do(http.MethodDelete, "/visits/"+visitID.String(), nil, s.adminID, "admin")
	s.Equal(http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/visits/"+visitID.String(), nil, s.adminID, "admin")
	s.Equal(http.StatusNotFound, w.Code)
}
