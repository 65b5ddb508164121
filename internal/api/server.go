package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
	"github.com/JakeFAU/realtime-scraper/internal/extract"
	"github.com/JakeFAU/realtime-scraper/internal/metrics"
)

const defaultRequestTimeout = 30 * time.Second

// Scraper is the read-only view of the orchestrator the server exposes.
type Scraper interface {
	Progress() crawler.Progress
	Stats() crawler.Stats
	Job(id string) (*crawler.Job, bool)
	Jobs() []*crawler.Job
	ListSchemas() []string
	Schema(name string) (extract.Schema, bool)
	Processing() bool
	Concurrency() int
}

// Config controls the server middleware.
type Config struct {
	// APIKey, when set, is required in X-API-Key or the api_key query
	// parameter on every route except the probes.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the scraper.
type Server struct {
	router   chi.Router
	scraper  Scraper
	progress *ProgressHandler
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(scraper Scraper, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		scraper:  scraper,
		progress: NewProgressHandler(scraper, logger),
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	r.Group(func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		r.Route("/v1", func(r chi.Router) {
			r.Get("/progress", s.getProgress)
			r.Get("/stats", s.getStats)
			r.Get("/jobs", s.progress.ListJobs)
			r.Get("/jobs/{job_id}", s.progress.GetJob)
			r.Get("/schemas", s.listSchemas)
			r.Get("/schemas/{name}", s.getSchema)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"processing":  s.scraper.Processing(),
		"concurrency": s.scraper.Concurrency(),
	})
}

func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scraper.Progress())
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scraper.Stats())
}

func (s *Server) listSchemas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schemas": s.scraper.ListSchemas()})
}

func (s *Server) getSchema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	schema, ok := s.scraper.Schema(name)
	if !ok {
		writeError(w, http.StatusNotFound, "schema not found")
		return
	}
	writeJSON(w, http.StatusOK, toSchemaDTO(schema))
}

type ruleDTO struct {
	Name         string `json:"name"`
	Selector     string `json:"selector"`
	SelectorType string `json:"selector_type,omitempty"`
	Attribute    string `json:"attribute,omitempty"`
	Multiple     bool   `json:"multiple,omitempty"`
	Required     bool   `json:"required,omitempty"`
}

type schemaDTO struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Indicators  []string  `json:"indicators,omitempty"`
	Rules       []ruleDTO `json:"rules"`
}

func toSchemaDTO(schema extract.Schema) schemaDTO {
	dto := schemaDTO{
		Name:        schema.Name,
		Description: schema.Description,
		Indicators:  schema.Indicators,
		Rules:       make([]ruleDTO, 0, len(schema.Rules)),
	}
	for _, rule := range schema.Rules {
		dto.Rules = append(dto.Rules, ruleDTO{
			Name:         rule.Name,
			Selector:     rule.Selector,
			SelectorType: string(rule.SelectorType),
			Attribute:    rule.Attribute,
			Multiple:     rule.Multiple,
			Required:     rule.Required,
		})
	}
	return dto
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
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
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
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec))
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
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
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
