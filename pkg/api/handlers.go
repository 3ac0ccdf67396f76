package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/arbiter-io/arbiter/pkg/broker"
	"github.com/arbiter-io/arbiter/pkg/domain"
	"github.com/arbiter-io/arbiter/pkg/governance"
	"github.com/arbiter-io/arbiter/pkg/ingest"
	"github.com/arbiter-io/arbiter/pkg/observability"
	"github.com/arbiter-io/arbiter/pkg/resilience"
	"github.com/arbiter-io/arbiter/pkg/security"
)

const maxBodyBytes = 1 << 20

// ServerConfig wires the ingress. Events is required; everything else is
// optional and absent pieces simply disable their feature.
type ServerConfig struct {
	Events        *ingest.EventService
	Health        *resilience.HealthAggregator
	Metrics       *observability.Registry
	Models        *governance.ModelRegistry
	TenantLimiter resilience.Limiter
	Bulkhead      *resilience.Bulkhead
	IPLimiter     *GlobalRateLimiter
	JWT           *JWTValidator
	Logger        *slog.Logger
}

// Server is the HTTP ingress.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
}

// NewServer builds the ingress from cfg.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger.With("component", "api")}
}

// Handler builds the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleHealthDetailed)

	create := func(h http.HandlerFunc) http.Handler {
		return RequireTenant(RequireIdempotencyKey(
			WithTenantRateLimit(s.cfg.TenantLimiter, WithBulkhead(s.cfg.Bulkhead, h))))
	}
	read := func(h http.HandlerFunc) http.Handler {
		return RequireTenant(WithTenantRateLimit(s.cfg.TenantLimiter, WithBulkhead(s.cfg.Bulkhead, h)))
	}

	mux.Handle("POST /api/v1/risk-events", create(s.handleCreateRisk))
	mux.Handle("POST /api/v1/compliance-events", create(s.handleCreateCompliance))
	mux.Handle("POST /api/v1/events", create(s.handleCreateEvent))
	mux.Handle("GET /api/v1/events/{event_id}", read(s.handleGetEvent))
	mux.Handle("GET /api/v1/tenant/context", read(s.handleTenantContext))

	if s.cfg.Models != nil {
		mux.Handle("POST /api/v1/models", RequireBearer(s.cfg.JWT, http.HandlerFunc(s.handleRegisterModel)))
		mux.Handle("POST /api/v1/models/approve", RequireBearer(s.cfg.JWT, http.HandlerFunc(s.handleApproveModel)))
	}

	var handler http.Handler = mux
	handler = WithCorrelationID(handler)
	if s.cfg.IPLimiter != nil {
		handler = s.cfg.IPLimiter.Middleware(handler)
	}
	return handler
}

// writeJSON writes a 200 JSON body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps service-layer errors onto the HTTP surface.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidTenant),
		errors.Is(err, domain.ErrRiskScoreOutOfRange),
		errors.Is(err, domain.ErrInvalidMetadata):
		WriteUnprocessable(w, err.Error())
	case errors.Is(err, security.ErrTenantMismatch),
		errors.Is(err, security.ErrPermissionDenied):
		WriteForbidden(w, err.Error())
	case errors.Is(err, broker.ErrPublish), errors.Is(err, resilience.ErrCircuitOpen):
		s.logger.ErrorContext(r.Context(), "messaging failure", "error", err)
		WriteServiceUnavailable(w, "Event accepted for storage but could not be broadcast. Please retry.")
	default:
		WriteInternal(w, err)
	}
}

// readBody reads up to maxBodyBytes from the request.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteBadRequest(w, "Unreadable request body")
		return nil, false
	}
	return raw, true
}

func (s *Server) handleCreateRisk(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := domain.ValidateRiskPayload(raw); err != nil {
		WriteUnprocessable(w, err.Error())
		return
	}
	var req domain.RiskEventCreateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	s.createRisk(w, r, &req)
}

func (s *Server) createRisk(w http.ResponseWriter, r *http.Request, req *domain.RiskEventCreateRequest) {
	ctx := r.Context()
	if req.TenantID != "" {
		if err := security.CheckTenantAccess(req.TenantID, TenantID(ctx)); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	req.TenantID = TenantID(ctx)

	event, err := s.cfg.Events.CreateRisk(ctx, req, IdempotencyKey(ctx), CorrelationID(ctx))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleCreateCompliance(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := domain.ValidateCompliancePayload(raw); err != nil {
		WriteUnprocessable(w, err.Error())
		return
	}
	var req domain.ComplianceEventCreateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	s.createCompliance(w, r, &req)
}

func (s *Server) createCompliance(w http.ResponseWriter, r *http.Request, req *domain.ComplianceEventCreateRequest) {
	ctx := r.Context()
	if req.TenantID != "" {
		if err := security.CheckTenantAccess(req.TenantID, TenantID(ctx)); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	req.TenantID = TenantID(ctx)

	event, err := s.cfg.Events.CreateCompliance(ctx, req, IdempotencyKey(ctx), CorrelationID(ctx))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// handleCreateEvent dispatches on the body's event_type discriminator.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var probe struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	switch probe.EventType {
	case string(domain.EventTypeCompliance):
		if err := domain.ValidateCompliancePayload(raw); err != nil {
			WriteUnprocessable(w, err.Error())
			return
		}
		var req domain.ComplianceEventCreateRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}
		s.createCompliance(w, r, &req)
	case "", string(domain.EventTypeRisk):
		if err := domain.ValidateRiskPayload(raw); err != nil {
			WriteUnprocessable(w, err.Error())
			return
		}
		var req domain.RiskEventCreateRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}
		s.createRisk(w, r, &req)
	default:
		WriteBadRequest(w, "Unknown event_type: "+probe.EventType)
	}
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")
	event, err := s.cfg.Events.Get(r.Context(), TenantID(r.Context()), eventID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if event == nil {
		WriteNotFound(w, "No event "+eventID+" for this tenant")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleTenantContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{
		"tenant_id":      TenantID(ctx),
		"correlation_id": CorrelationID(ctx),
	}
	if principal, ok := PrincipalFrom(ctx); ok {
		out["principal"] = map[string]any{"id": principal.ID, "role": string(principal.Role)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": resilience.HealthHealthy})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": resilience.HealthHealthy}
	if s.cfg.Health != nil {
		report := s.cfg.Health.Check(r.Context())
		out["status"] = report.Status
		out["components"] = report.Components
		out["checked_at"] = report.CheckedAt
	}
	if s.cfg.Metrics != nil {
		out["metrics"] = s.cfg.Metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	if err := security.CheckPermission(principal.Role, security.ActionRegisterModel); err != nil {
		WriteForbidden(w, err.Error())
		return
	}

	var req struct {
		Name     string `json:"name"`
		Version  string `json:"version"`
		Checksum string `json:"checksum"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	rec, err := s.cfg.Models.Register(r.Context(), principal.ID, req.Name, req.Version, req.Checksum)
	switch {
	case errors.Is(err, governance.ErrInvalidVersion):
		WriteUnprocessable(w, err.Error())
	case errors.Is(err, governance.ErrModelExists):
		WriteConflict(w, err.Error())
	case err != nil:
		WriteInternal(w, err)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleApproveModel(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	if err := security.CheckPermission(principal.Role, security.ActionApprove); err != nil {
		WriteForbidden(w, err.Error())
		return
	}

	var req struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	rec, err := s.cfg.Models.Approve(r.Context(), principal.ID, req.Name, req.Version)
	switch {
	case errors.Is(err, governance.ErrModelNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, governance.ErrAlreadyApproved), errors.Is(err, governance.ErrModelRejected):
		WriteConflict(w, err.Error())
	case err != nil:
		WriteInternal(w, err)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}
