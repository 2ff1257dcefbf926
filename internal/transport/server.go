package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/quickassist/internal/identity"
	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/session"
)

// DefaultPushInterval is how often connected clients are checked for
// state changes.
const DefaultPushInterval = 100 * time.Millisecond

// Accounts is the identity boundary the server authenticates against.
type Accounts interface {
	identity.Provider
	Lookup(id string) (model.Identity, error)
}

// Config wires a Server.
type Config struct {
	Accounts Accounts
	Tokens   *identity.TokenManager
	// NewSession returns a fresh, logged-out orchestrator for one
	// connection.
	NewSession func() *session.Orchestrator
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer     prometheus.Gatherer
	PushInterval time.Duration
}

// Server routes:
//
//	POST /register  create an account, returns a token
//	POST /login     returns a token
//	GET  /ws        websocket session, token in ?token= or Authorization
//	GET  /metrics   Prometheus metrics
type Server struct {
	accounts     Accounts
	tokens       *identity.TokenManager
	newSession   func() *session.Orchestrator
	gatherer     prometheus.Gatherer
	pushInterval time.Duration
	hub          *Hub
}

func NewServer(cfg Config) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = DefaultPushInterval
	}
	return &Server{
		accounts:     cfg.Accounts,
		tokens:       cfg.Tokens,
		newSession:   cfg.NewSession,
		gatherer:     cfg.Gatherer,
		pushInterval: cfg.PushInterval,
		hub:          NewHub(),
	}
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /ws", s.handleSocket)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// TokenResponse is returned by /register and /login.
type TokenResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Identity  model.Identity `json:"identity"`
}

type loginRequest struct {
	Mobile   string `json:"mobile"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req identity.Registration
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ident, err := s.accounts.Register(r.Context(), req)
	switch {
	case errors.Is(err, identity.ErrAccountExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, identity.ErrInvalidRegistration):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("register failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeToken(w, http.StatusCreated, ident)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ident, err := s.accounts.Authenticate(r.Context(), req.Mobile, req.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrAccountNotFound):
		writeError(w, http.StatusUnauthorized, identity.ErrInvalidCredentials.Error())
		return
	case err != nil:
		slog.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeToken(w, http.StatusOK, ident)
}

func (s *Server) writeToken(w http.ResponseWriter, status int, ident model.Identity) {
	token, claims, err := s.tokens.Issue(ident)
	if err != nil {
		slog.Error("issue token failed", "user", ident.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, status, TokenResponse{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		Identity:  ident,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
