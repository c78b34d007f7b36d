package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/config"
	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/dispatcher"
	"github.com/JakeFAU/racing-crawler/internal/metrics"
	"github.com/JakeFAU/racing-crawler/internal/sites"
	"github.com/JakeFAU/racing-crawler/internal/store"
)

const (
	defaultRequestTimeout = 30 * time.Second
	readyTimeout          = 2 * time.Second
	maxBodyBytes          = 1 << 16
)

// Launcher queues a crawl and returns its run id.
type Launcher interface {
	Launch(ctx context.Context, kind sites.Kind, params crawler.Params) (string, error)
}

// ReadinessChecker reports whether downstream dependencies are reachable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Deps are the collaborators of a Server. Launcher, Runs and Clock are
// required.
type Deps struct {
	Launcher    Launcher
	Runs        store.RunRepository
	Readiness   ReadinessChecker
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTP
	Clock       crawler.Clock
	Auth        config.AuthConfig
	Logger      *zap.Logger
	// RequestTimeout bounds every handler. Zero means 30s.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the crawl launcher and run store.
type Server struct {
	router   chi.Router
	launcher Launcher
	runs     *RunHandler
	ready    ReadinessChecker
	clock    crawler.Clock
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(d Deps) (*Server, error) {
	switch {
	case d.Launcher == nil:
		return nil, errors.New("launcher is required")
	case d.Runs == nil:
		return nil, errors.New("run repository is required")
	case d.Clock == nil:
		return nil, errors.New("clock is required")
	case d.Auth.Enabled && d.Auth.APIKey == "":
		return nil, errors.New("api key is required when auth is enabled")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		launcher: d.Launcher,
		runs:     NewRunHandler(d.Runs, d.Logger),
		ready:    d.Readiness,
		clock:    d.Clock,
		logger:   d.Logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(d.Logger))
	r.Use(recoverMiddleware(d.Logger))
	if d.HTTPMetrics != nil {
		r.Use(d.HTTPMetrics.Middleware)
	}
	r.Use(timeoutMiddleware(d.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/crawls", func(r chi.Router) {
		r.Get("/", s.runs.ListRuns)
		// ref is a site kind when posting and a run id when reading.
		r.Route("/{ref}", func(r chi.Router) {
			r.Get("/", s.runs.GetRun)
			if d.Auth.Enabled {
				r.With(apiKeyMiddleware(d.Auth.APIKey)).Post("/", s.launchCrawl)
			} else {
				r.Post("/", s.launchCrawl)
			}
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// launchCrawl handles POST /v1/crawls/{kind}. The body is optional JSON
// crawl parameters; parameters are validated before anything is queued.
func (s *Server) launchCrawl(w http.ResponseWriter, r *http.Request) {
	kind := sites.Kind(chi.URLParam(r, "ref"))
	if !knownKind(kind) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown site %q", kind))
		return
	}
	var params crawler.Params
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := params.Validate(s.clock.Now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.launcher.Launch(r.Context(), kind, params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatcher.ErrQueueClosed) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("launch crawl failed", zap.String("site", string(kind)), zap.Error(err))
		writeError(w, status, "failed to queue crawl")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":     runID,
		"site":       string(kind),
		"status_url": "/v1/crawls/" + runID,
	})
}

func knownKind(kind sites.Kind) bool {
	for _, k := range sites.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", requestID(r.Context())),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("request_id", requestID(r.Context())))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
