// Package server provides the HTTP server for the archive lookup service.
package server

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	repoarchive "github.com/wolfeidau/repo-archive"
	"github.com/wolfeidau/repo-archive/archive"
	"github.com/wolfeidau/repo-archive/protocol"
	"github.com/wolfeidau/repo-archive/protocol/git"
	"github.com/wolfeidau/repo-archive/protocol/huggingface"
	"github.com/wolfeidau/repo-archive/reload"
	"github.com/wolfeidau/repo-archive/telemetry"
	"golang.org/x/sync/semaphore"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., "127.0.0.1:8081")
	Address string

	// GitArchivePath is the git archive file. Required.
	GitArchivePath string

	// HuggingfaceArchivePath is the model-repository archive file. Optional;
	// when empty, model-repository lookups answer with an in-band error.
	HuggingfaceArchivePath string

	// Watch enables reloading archives when their files change.
	Watch bool

	// MaxInFlight bounds concurrently handled lookup requests.
	// 1 handles requests one at a time. Zero disables the limit.
	MaxInFlight int

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the archive lookup service.
type Server struct {
	config     Config
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
	limiter    *semaphore.Weighted

	// Components
	git         *archive.Archive[*archive.GitIndex]
	huggingface *archive.Archive[*archive.HuggingfaceIndex]
	gitHandler  *git.Handler
	hfHandler   *huggingface.Handler
	watchers    []*reload.Watcher
}

// New loads the configured archives and creates a server. A missing or
// malformed archive at this point is an error: the server never starts with a
// broken initial index.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8081"
	}
	if cfg.GitArchivePath == "" {
		return nil, fmt.Errorf("git archive path is required")
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
	}
	if cfg.MaxInFlight > 0 {
		s.limiter = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}

	gitArchive, err := archive.OpenGit(ctx, cfg.GitArchivePath,
		archive.WithLogger(cfg.Logger.With("component", "archive")))
	if err != nil {
		return nil, err
	}
	s.git = gitArchive
	s.gitHandler = git.NewHandler(gitArchive, git.WithLogger(cfg.Logger.With("component", "git")))

	// a nil source must stay an untyped nil for the handler to report it
	var hfSource huggingface.IndexSource
	if cfg.HuggingfaceArchivePath != "" {
		hfArchive, err := archive.OpenHuggingface(ctx, cfg.HuggingfaceArchivePath,
			archive.WithLogger(cfg.Logger.With("component", "archive")))
		if err != nil {
			return nil, err
		}
		s.huggingface = hfArchive
		hfSource = hfArchive
	}
	s.hfHandler = huggingface.NewHandler(hfSource, huggingface.WithLogger(cfg.Logger.With("component", "huggingface")))

	if cfg.Watch {
		for _, r := range s.reloaders() {
			s.watchers = append(s.watchers, reload.NewWatcher(r,
				reload.WithLogger(cfg.Logger)))
		}
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.loggingMiddleware(s.exactPaths(mux))

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Lookup endpoints match on path only
	mux.Handle(git.Endpoint, s.limit(s.gitHandler))
	mux.Handle(huggingface.Endpoint, s.limit(s.hfHandler))

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Archive stats
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// Other methods on the GET routes above
	mux.HandleFunc("/", s.handleInvalidEndpoint)
}

// routes lists every path the mux serves. Anything else, including paths the
// mux would clean and redirect, is an invalid endpoint.
var routes = map[string]bool{
	git.Endpoint:         true,
	huggingface.Endpoint: true,
	"/health":            true,
	"/stats":             true,
	"/metrics":           true,
}

// exactPaths sends requests to next only when the request URL is exactly a
// known route, with no query string.
func (s *Server) exactPaths(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !routes[r.URL.Path] || r.URL.RawQuery != "" || r.URL.ForceQuery {
			s.handleInvalidEndpoint(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limit admits at most MaxInFlight requests to next at a time.
func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.limiter.Acquire(r.Context(), 1); err != nil {
			// client went away while queued
			telemetry.SetLookupResult(r, telemetry.LookupError)
			s.logger.Debug("request abandoned while queued", "path", r.URL.Path, "error", err)
			return
		}
		defer s.limiter.Release(1)
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ArchiveStats describes the index currently in force for one archive.
type ArchiveStats struct {
	Path     string             `json:"path"`
	Entries  int                `json:"entries"`
	Digest   repoarchive.Digest `json:"digest"`
	LoadedAt time.Time          `json:"loaded_at"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Git         ArchiveStats  `json:"git"`
	Huggingface *ArchiveStats `json:"huggingface,omitempty"`
}

// handleStats handles archive statistics requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Git: archiveStats(s.git)}
	if s.huggingface != nil {
		hf := archiveStats(s.huggingface)
		resp.Huggingface = &hf
	}
	protocol.WriteJSON(w, resp)
}

func archiveStats[T archive.Index](a *archive.Archive[T]) ArchiveStats {
	snap := a.Snapshot()
	return ArchiveStats{
		Path:     a.Path(),
		Entries:  snap.Entries(),
		Digest:   snap.Digest,
		LoadedAt: snap.LoadedAt,
	}
}

// handleInvalidEndpoint answers any unrecognized method and path.
func (s *Server) handleInvalidEndpoint(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("invalid endpoint", "method", r.Method, "path", r.URL.Path)
	protocol.WriteInvalidEndpoint(w)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Inject request tags so handlers can set lookup_result, endpoint, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)
		telemetry.SetProtocol(r, deriveProtocol(r.URL.Path))

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			// Request identification
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			"protocol", tags.Protocol,

			// Response details
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			// Timing
			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			// Client info
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"http_version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		}

		// Add handler-set tags
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.LookupResult != telemetry.LookupNA {
			attrs = append(attrs, "lookup_result", string(tags.LookupResult))
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Handler returns the server's root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the archive watchers, if enabled, and then serves HTTP until
// the server is shut down.
func (s *Server) Start() error {
	for _, w := range s.watchers {
		if err := w.Start(context.Background()); err != nil {
			return fmt.Errorf("starting archive watcher: %w", err)
		}
	}

	s.logger.Info("starting server", "address", s.config.Address, "watch", s.config.Watch, "max_in_flight", s.config.MaxInFlight)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the watchers and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	for _, w := range s.watchers {
		w.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// ReloadAll re-reads every configured archive. Each archive that fails to
// reload keeps its previous index; the failures are returned joined.
func (s *Server) ReloadAll(ctx context.Context) error {
	var errs []error
	for _, r := range s.reloaders() {
		if _, err := r.Reload(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reloading %s archive: %w", r.Kind(), err))
		}
	}
	return stderrors.Join(errs...)
}

func (s *Server) reloaders() []reload.Reloader {
	rs := []reload.Reloader{s.git}
	if s.huggingface != nil {
		rs = append(rs, s.huggingface)
	}
	return rs
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// deriveProtocol extracts the protocol name from the request path.
func deriveProtocol(path string) string {
	switch path {
	case "/health", "/stats", "/metrics":
		return "internal"
	case git.Endpoint:
		return string(archive.KindGit)
	case huggingface.Endpoint:
		return string(archive.KindHuggingface)
	default:
		return "unknown"
	}
}
