// Package server exposes the session workflow over HTTP.
//
// Endpoints:
//
//	GET  /                                  - browser page for the cookie session
//	POST /detect /encode /decode /reset     - page form actions
//	GET  /status                            - health and settings
//	GET  /metrics                           - counters snapshot
//	POST /api/v1/sessions                   - create a session
//	GET  /api/v1/sessions/{id}              - session state
//	DELETE /api/v1/sessions/{id}            - drop a session
//	POST /api/v1/sessions/{id}/detect       - {"text":"..."}
//	PUT  /api/v1/sessions/{id}/mapping      - {"edits":[...]}
//	POST /api/v1/sessions/{id}/encode       - mask the detected text
//	POST /api/v1/sessions/{id}/decode       - {"text":"..."}
//	POST /api/v1/sessions/{id}/reset        - clear the session
//	POST /api/v1/mask                       - stateless {"text","mapping"?}
//	POST /api/v1/unmask                     - stateless {"text","mapping"}
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"entity-privacy-wrapper/internal/alias"
	"entity-privacy-wrapper/internal/config"
	"entity-privacy-wrapper/internal/logger"
	"entity-privacy-wrapper/internal/metrics"
	"entity-privacy-wrapper/internal/session"
)

//go:embed templates/page.html
var templateFS embed.FS

var errBadRequest = errors.New("invalid request")

var errRateLimited = errors.New("detection rate limit exceeded, try again shortly")

// Server is the HTTP front end.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	sessions  *session.Manager
	metrics   *metrics.Metrics
	log       *logger.Logger
	limiter   *rate.Limiter // nil = unlimited detection
	page      *template.Template
}

// New creates a server. m and log may be nil.
func New(cfg *config.Config, mgr *session.Manager, m *metrics.Metrics, log *logger.Logger) *Server {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		sessions:  mgr,
		metrics:   m,
		log:       log,
		page:      template.Must(template.ParseFS(templateFS, "templates/page.html")),
	}
	if n := cfg.DetectPerMinute; n > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(n)/60), n)
	}
	return s
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.observe, middleware.Recoverer)

	r.Get("/", s.handlePage)
	r.Post("/detect", s.handlePageDetect)
	r.Post("/encode", s.handlePageEncode)
	r.Post("/decode", s.handlePageDecode)
	r.Post("/reset", s.handlePageReset)

	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/detect", s.handleSessionDetect)
			r.Put("/mapping", s.handleSessionMapping)
			r.Post("/encode", s.handleSessionEncode)
			r.Post("/decode", s.handleSessionDecode)
			r.Post("/reset", s.handleSessionReset)
		})
		r.Post("/mask", s.handleMask)
		r.Post("/unmask", s.handleUnmask)
	})
	return r
}

// observe counts requests and logs one line per request. Paths carry session
// IDs at most, never user text.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.RequestsTotal.Add(1)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugf("request", "%s %s -> %d in %s (req %s)",
			r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}

// allowDetect applies the global detection rate limit.
func (s *Server) allowDetect() error {
	if s.limiter == nil || s.limiter.Allow() {
		return nil
	}
	s.metrics.RateLimited.Add(1)
	return errRateLimited
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status     string      `json:"status"`
		Uptime     string      `json:"uptime"`
		Addr       string      `json:"addr"`
		AliasStyle alias.Style `json:"aliasStyle"`
		Detectors  struct {
			NER       bool   `json:"ner"`
			Regex     bool   `json:"regex"`
			Gazetteer string `json:"gazetteer,omitempty"`
		} `json:"detectors"`
		Labels   []string `json:"labels,omitempty"`
		Sessions int      `json:"sessions"`
	}

	resp := response{
		Status:     "running",
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Addr:       s.cfg.Addr(),
		AliasStyle: s.sessions.Style(),
		Labels:     s.cfg.Labels,
		Sessions:   s.sessions.Len(),
	}
	resp.Detectors.NER = s.cfg.UseNER
	resp.Detectors.Regex = s.cfg.UseRegex
	resp.Detectors.Gazetteer = s.cfg.GazetteerFile

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// statusFor maps workflow errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, alias.ErrPlaceholderCollision):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptyText),
		errors.Is(err, session.ErrNoSource),
		errors.Is(err, session.ErrNoActiveMapping),
		errors.Is(err, alias.ErrUnknownOriginal),
		errors.Is(err, alias.ErrEmptyPlaceholder),
		errors.Is(err, alias.ErrEmptyOriginal):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// errorMessage keeps internal failures opaque to clients.
func errorMessage(err error, status int) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
	case status == http.StatusInternalServerError:
		return "internal error"
	}
	return err.Error()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Errorf("error", "%v", err)
	}
	writeJSON(w, status, map[string]string{"error": errorMessage(err, status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// limitBody caps the request body at the configured text size.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxTextBytes)
}

// decodeJSON reads a JSON body into v. Oversized bodies keep their
// *http.MaxBytesError so they map to 413.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	s.limitBody(w, r)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// With EnableH2C the handler also accepts cleartext HTTP/2.
func (s *Server) ListenAndServe(ctx context.Context) error {
	handler := s.Handler()
	if s.cfg.EnableH2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listen", "Listening on %s (h2c=%v)", srv.Addr, s.cfg.EnableH2C)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutdown", "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
