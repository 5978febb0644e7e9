package settled

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contentpay/core/events"
	"contentpay/core/state"
	"contentpay/crypto"
	"contentpay/native/settlement"
	"contentpay/services/settled/middleware"
)

// ServerConfig wires the HTTP surface.
type ServerConfig struct {
	Processor            *Processor
	Ledger               *state.Manager
	Schedule             settlement.FeeSchedule
	RequireAuthorization bool
	// AdminAuth guards the /admin routes. When nil they answer 500.
	AdminAuth            *middleware.Authenticator
	RateLimit            middleware.RateLimit
	LogRequests          bool
	MaxBodyBytes         int64
	Logger               *slog.Logger
}

// Server exposes purchase settlement and audit endpoints.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	router chi.Router
}

// NewServer builds the router.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 16
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.NewObservability("settled", cfg.LogRequests, cfg.Logger).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.Logger)
	r.Route("/v1", func(v1 chi.Router) {
		v1.With(limiter.Middleware("purchases")).Post("/purchases", s.handlePurchase)
		v1.Get("/schedule", s.handleSchedule)
		v1.Get("/audit/verify", s.handleVerify)
		v1.Get("/audit/{sequence}", s.handleAuditEntry)
	})
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(cfg.AdminAuth.Middleware)
		admin.Post("/pause", s.handlePause)
		admin.Post("/resume", s.handleResume)
		admin.Get("/status", s.handleStatus)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type purchaseResponse struct {
	RequestID string            `json:"requestId,omitempty"`
	Type      string            `json:"type"`
	Record    map[string]string `json:"record"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var body PurchaseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "InvalidRequest", "decode request: "+err.Error())
		return
	}
	req, auth, err := body.Decode()
	if err != nil {
		s.writeSettlementError(w, r, err)
		return
	}
	if status, kind, msg := s.authorize(body, auth); status != 0 {
		s.writeError(w, r, status, kind, msg)
		return
	}

	record, err := s.cfg.Processor.Settle(r.Context(), req)
	if err != nil {
		s.writeSettlementError(w, r, err)
		return
	}
	rendered := events.Render(*record)
	writeJSON(w, http.StatusCreated, purchaseResponse{
		RequestID: middleware.RequestID(r.Context()),
		Type:      rendered.Type,
		Record:    rendered.Attributes,
	})
}

// authorize returns a non-zero status when the payer's signature is missing
// or does not verify. A supplied signature is always checked.
func (s *Server) authorize(body PurchaseRequest, auth crypto.Authorization) (int, string, string) {
	sig, err := body.SignatureBytes()
	if err != nil {
		return http.StatusBadRequest, "InvalidRequest", err.Error()
	}
	if sig == nil {
		if s.cfg.RequireAuthorization {
			return http.StatusUnauthorized, "Unauthorized", "payer signature required"
		}
		return 0, "", ""
	}
	if err := auth.Verify(sig); err != nil {
		return http.StatusUnauthorized, "Unauthorized", err.Error()
	}
	return 0, "", ""
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	type tokenView struct {
		Symbol string `json:"symbol"`
		Mint   string `json:"mint"`
	}
	schedule := s.cfg.Schedule
	tokens := make([]tokenView, 0, len(schedule.Tokens))
	for _, token := range schedule.Tokens {
		tokens = append(tokens, tokenView{Symbol: token.Symbol, Mint: crypto.FormatAsset(token.Mint)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bpsDenominator":    schedule.BpsDenominator,
		"maxFeeBps":         schedule.MaxFeeBps,
		"maxReferrerFeeBps": schedule.MaxReferrerFeeBps,
		"tokens":            tokens,
	})
}

func (s *Server) handleAuditEntry(w http.ResponseWriter, r *http.Request) {
	sequence, err := strconv.ParseUint(chi.URLParam(r, "sequence"), 10, 64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "InvalidRequest", "sequence must be an unsigned integer")
		return
	}
	entry, ok, err := s.cfg.Ledger.AuditEntry(sequence)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "NotFound", "no audit entry at sequence "+strconv.FormatUint(sequence, 10))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	verified, err := s.cfg.Ledger.VerifyAuditLog()
	resp := map[string]interface{}{"verified": verified, "ok": err == nil}
	if err != nil {
		if !errors.Is(err, state.ErrAuditChainBroken) {
			s.writeError(w, r, http.StatusInternalServerError, "Internal", err.Error())
			return
		}
		resp["message"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.cfg.Processor.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.cfg.Processor.Resume()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.cfg.Processor.Status()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// statusForError maps settlement failures to HTTP statuses.
func statusForError(err error) (int, string) {
	if errors.Is(err, ErrProcessorPaused) {
		return http.StatusServiceUnavailable, "Paused"
	}
	switch kind := settlement.ErrorKind(err); kind {
	case "InvalidRequest":
		return http.StatusBadRequest, kind
	case "TransferFailed":
		return http.StatusConflict, kind
	case "":
		return http.StatusInternalServerError, "Internal"
	default:
		return http.StatusUnprocessableEntity, kind
	}
}

func (s *Server) writeSettlementError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "settlement failed", "error", err, "requestId", middleware.RequestID(r.Context()))
		message = "internal error"
	}
	s.writeError(w, r, status, kind, message)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: message, RequestID: middleware.RequestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
