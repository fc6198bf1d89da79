package git

import (
	"log/slog"
	"net/http"

	"github.com/wolfeidau/repo-archive/archive"
	"github.com/wolfeidau/repo-archive/protocol"
	"github.com/wolfeidau/repo-archive/telemetry"
)

// Endpoint is the path served by Handler.
const Endpoint = "/has_git_repo"

// IndexSource returns the git index in force at the time of the call.
type IndexSource interface {
	Current() *archive.GitIndex
}

// Handler answers whether a git remote URL is in the archive.
type Handler struct {
	source IndexSource
	logger *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger for the handler.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a handler reading from source.
func NewHandler(source IndexSource, opts ...HandlerOption) *Handler {
	h := &Handler{
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.SetProtocol(r, string(archive.KindGit))
	telemetry.SetEndpoint(r, "has_git_repo")

	var req HasGitRepoRequest
	if err := protocol.Decode(r, &req); err != nil {
		h.logger.Warn("json parse error", "error", err)
		telemetry.SetLookupResult(r, telemetry.LookupError)
		protocol.WriteParseError(w, err)
		return
	}

	logger := h.logger.With("url", *req.URL)

	// snapshot once so every variant is checked against the same index
	resp, err := Lookup(h.source.Current(), *req.URL)
	if err != nil {
		logger.Error("git lookup failed", "error", err)
		telemetry.SetLookupResult(r, telemetry.LookupError)
		telemetry.RecordLookup(r.Context(), string(archive.KindGit), telemetry.LookupError)
		protocol.WriteHandlingError(w, err)
		return
	}

	result := telemetry.LookupMissing
	if resp.Exists {
		result = telemetry.LookupFound
	}
	telemetry.SetLookupResult(r, result)
	telemetry.RecordLookup(r.Context(), string(archive.KindGit), result)

	logger.Debug("git lookup", "exists", resp.Exists, "existing", resp.Existing)
	protocol.WriteJSON(w, resp)
}
