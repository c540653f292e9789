// Package httpapi exposes the sync engine over HTTP.
//
//	POST /pull/{space}?subspace=..   pull a patch for a client group
//	POST /push/{space}?subspace=..   apply a batch of mutations
//	GET  /static/{space}             full patch of a public space
//	GET  /poke?space=..&subspace=..  WebSocket poke subscription
//	GET  /health, GET /metrics
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/roach88/spacesync/internal/engine"
	"github.com/roach88/spacesync/internal/protocol"
)

// maxBodyBytes bounds pull and push request bodies.
const maxBodyBytes = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server routes sync requests to an Engine.
type Server struct {
	engine *engine.Engine
	auth   *Authenticator
	health Pinger
	poke   http.Handler
	router chi.Router
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuthenticator sets the bearer token verifier. Without one every
// presented token is rejected.
func WithAuthenticator(a *Authenticator) ServerOption {
	return func(s *Server) {
		s.auth = a
	}
}

// WithHealthCheck makes GET /health ping p.
func WithHealthCheck(p Pinger) ServerOption {
	return func(s *Server) {
		s.health = p
	}
}

// WithPokeHandler serves WebSocket poke subscriptions on GET /poke.
func WithPokeHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.poke = h
	}
}

// NewServer builds the router for e.
func NewServer(e *engine.Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine: e,
		auth:   NewAuthenticator(nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/pull/{space}", s.handlePull)
	r.Post("/push/{space}", s.handlePush)
	r.Get("/static/{space}", s.handleStatic)
	if s.poke != nil {
		r.Handle("/poke", s.poke)
	}

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			log.WithField("err", err).Warn("health check failed")
			writeError(w, r, http.StatusServiceUnavailable, "unavailable", "store is unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req protocol.PullRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Space = protocol.Space(chi.URLParam(r, "space"))
	req.SubspaceIDs = r.URL.Query()["subspace"]

	resp, err := s.engine.Pull(r.Context(), req, principal)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		writeEngineError(w, r, fmt.Errorf("encode pull response: %w", err))
		return
	}
	writeRaw(w, http.StatusOK, body)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req protocol.PushRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	req.Space = protocol.Space(chi.URLParam(r, "space"))
	req.SubspaceIDs = r.URL.Query()["subspace"]

	if _, err := s.engine.Push(r.Context(), req, principal); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	patch, err := s.engine.StaticPull(r.Context(), protocol.Space(chi.URLParam(r, "space")))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, patch)
}

func (s *Server) principal(w http.ResponseWriter, r *http.Request) (*protocol.Principal, bool) {
	principal, err := s.auth.Principal(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
		return nil, false
	}
	return principal, true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "bad_request", "request body too large")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

// writeEngineError maps engine failures onto statuses:
// invalid requests are 400, domain errors 422, unknown spaces 404 and other
// protocol violations or storage failures 500.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var syncErr *protocol.SyncError
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
	case errors.As(err, &syncErr) && syncErr.Code == protocol.ErrCodeUnknownSpace:
		writeError(w, r, http.StatusNotFound, string(syncErr.Code), syncErr.Message)
	case errors.As(err, &syncErr):
		log.WithFields(log.Fields{
			"request_id": requestIDFrom(r.Context()),
			"err":        err,
		}).Error("sync error")
		writeError(w, r, http.StatusInternalServerError, string(syncErr.Code), syncErr.Message)
	default:
		if domainErr, ok := protocol.AsDomainError(err); ok {
			writeError(w, r, http.StatusUnprocessableEntity, domainErr.Code, domainErr.Message)
			return
		}
		log.WithFields(log.Fields{
			"request_id": requestIDFrom(r.Context()),
			"err":        err,
		}).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":      code,
		"message":   message,
		"requestId": requestIDFrom(r.Context()),
	})
}

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// requestID propagates the caller's X-Request-Id or assigns a UUIDv7.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)

		log.WithFields(log.Fields{
			"request_id": requestIDFrom(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(started),
		}).Debug("request served")
	})
}
