package web

import (
	"bufio"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"

	"github.com/vbonduro/schema2tf/internal/metrics"
	"github.com/vbonduro/schema2tf/internal/pipeline"
	"github.com/vbonduro/schema2tf/internal/session"
)

// DefaultMaxUpload caps the size of an uploaded schema image.
const DefaultMaxUpload = 20 * 1024 * 1024

type Server struct {
	sessions  *session.Registry
	pipeline  *pipeline.Controller
	templates fs.FS
	mux       *http.ServeMux
	tmplFuncs template.FuncMap
	upgrader  websocket.Upgrader
	maxUpload int64
	logger    *slog.Logger
	handler   http.Handler
}

func NewServer(sessions *session.Registry, ctrl *pipeline.Controller, tmpl fs.FS, maxUpload int64, logger *slog.Logger) *Server {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	s := &Server{
		sessions:  sessions,
		pipeline:  ctrl,
		templates: tmpl,
		mux:       http.NewServeMux(),
		maxUpload: maxUpload,
		logger:    logger,
		tmplFuncs: template.FuncMap{
			"count":   count,
			"latency": latency,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.registerRoutes()

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)
	s.handler = requestLogger(logger, securityHeaders(recovery(s.mux)))
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /sessions/{id}/image", s.handleGetImage)
	s.mux.HandleFunc("POST /sessions/{id}/convert", s.handleConvert)
	s.mux.HandleFunc("POST /sessions/{id}/update", s.handleUpdate)
	s.mux.HandleFunc("GET /sessions/{id}/stack.tf", s.handleDownloadStack)
	s.mux.HandleFunc("GET /sessions/{id}/live", s.handleLive)
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
}

// securityHeaders sets browser hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' 'unsafe-inline'; "+
				"style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data:; "+
				"connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
// It passes Flush and Hijack through so event streams and websocket upgrades
// keep working behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveRequest(r.Method, route, rec.status, elapsed)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s,
		ReadTimeout: 60 * time.Second,
		// Stage streams can run for minutes; the write deadline would cut them off.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}

// renderPage parses and executes a full-page template set.
func (s *Server) renderPage(w http.ResponseWriter, data any, files ...string) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, files...)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tmpl.ExecuteTemplate(w, "base", data)
}

func count(v *int) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *v)
}

func latency(v *int64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d ms", *v)
}
