// Package api serves the branch store over HTTP: scenario CRUD on a branch,
// the branch routes, health and metrics, and the live audit event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/AaronLay10/DialogStudio/internal/branch"
	"github.com/AaronLay10/DialogStudio/internal/codec"
	"github.com/AaronLay10/DialogStudio/internal/events"
	"github.com/AaronLay10/DialogStudio/internal/storage/postgres"
)

// EventLog reads persisted audit events, newest first.
type EventLog interface {
	QueryEvents(ctx context.Context, limit int) ([]postgres.EventRow, error)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Server holds the handler dependencies.
type Server struct {
	store    *branch.Store
	logger   *zap.Logger
	metrics  *Metrics
	validate *validator.Validate
	eventLog EventLog

	checksMu sync.RWMutex
	checks   map[string]ReadinessCheck
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithEventLog(l EventLog) Option {
	return func(s *Server) { s.eventLog = l }
}

// WithReadinessCheck adds a dependency to /ready. The branch store is always
// checked.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

func NewServer(store *branch.Store, opts ...Option) *Server {
	s := &Server{
		store:    store,
		logger:   zap.NewNop(),
		validate: newValidator(),
		checks:   make(map[string]ReadinessCheck),
	}
	s.checks["storage"] = store.Ping
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(s.metrics.Middleware)

	r.Get("/health", healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", eventsHandler)
		r.Get("/events/log", s.eventLogHandler)
		r.Get("/events/ws", s.wsEventsHandler)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", s.listScenarios)
			r.Post("/", s.createScenario)
			r.Get("/{id}", s.getScenario)
			r.Put("/{id}", s.updateScenario)
			r.Delete("/{id}", s.deleteScenario)
			r.Get("/{id}/flow", s.scenarioFlow)
			r.Get("/{id}/validate", s.validateScenario)
		})

		r.Route("/branches", func(r chi.Router) {
			r.Get("/", s.listBranches)
			r.Get("/history", s.branchHistory)
			r.Post("/{name}", s.createBranch)
			r.Get("/{name}", s.getBranch)
			r.Delete("/{name}", s.deleteBranch)
			r.Post("/{name}/merge", s.mergeBranch)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// TLS is used when tlsCfg is enabled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tlsCfg *TLSConfig) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if tlsCfg.Enabled() {
		cfg, err := tlsCfg.Load()
		if err != nil {
			return err
		}
		srv.TLSConfig = cfg
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr), zap.Bool("tls", srv.TLSConfig != nil))
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	events.CloseAllSubscribers()
	return srv.Shutdown(shutdownCtx)
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "dialogstudio-api",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// CheckResult is the state of one readiness dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ReadinessResponse struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]CheckResult `json:"checks"`
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s.checksMu.RLock()
	defer s.checksMu.RUnlock()

	resp := ReadinessResponse{Ready: true, Checks: make(map[string]CheckResult, len(s.checks))}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			resp.Ready = false
			resp.Checks[name] = CheckResult{Status: "fail", Error: err.Error()}
			continue
		}
		resp.Checks[name] = CheckResult{Status: "ok"}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// eventsHandler returns buffered events, oldest first, narrowed by
// ?events= prefixes and ?limit=.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, events.RecentEvents(limit, events.ParseFilter(r.URL.Query().Get("events"))))
}

// limitParam reads ?limit=. Zero means no limit. It writes a 400 and
// returns false when the value is not a number.
func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return n, true
}

func (s *Server) eventLogHandler(w http.ResponseWriter, r *http.Request) {
	if s.eventLog == nil {
		writeError(w, http.StatusNotFound, "event log not configured")
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	rows, err := s.eventLog.QueryEvents(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []postgres.EventRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// dataResponse wraps branch route payloads.
type dataResponse struct {
	Data interface{} `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, branch.ErrBranchNotFound), errors.Is(err, branch.ErrScenarioMissing):
		return http.StatusNotFound
	case errors.Is(err, branch.ErrBranchExists), errors.Is(err, branch.ErrStaleRevision):
		return http.StatusConflict
	case errors.Is(err, branch.ErrInvalidName), errors.Is(err, branch.ErrProtectedBranch),
		errors.Is(err, branch.ErrSelfMerge), errors.Is(err, codec.ErrMalformed):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.Error(err))
		_, _ = events.Emit("error", "system.error", err.Error(), map[string]interface{}{"path": r.URL.Path})
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
