package huggingface

import (
	"log/slog"
	"net/http"

	"github.com/jmgilman/go/errors"
	"github.com/wolfeidau/repo-archive/archive"
	"github.com/wolfeidau/repo-archive/protocol"
	"github.com/wolfeidau/repo-archive/telemetry"
)

// Handler answers POST /has_huggingface_repo.
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

// NewHandler creates a handler reading from source. A nil source means the
// instance was started without a model-repository archive; requests are then
// answered with an in-band error.
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
	telemetry.SetProtocol(r, string(archive.KindHuggingface))
	telemetry.SetEndpoint(r, "has_huggingface_repo")

	var req HasHuggingfaceRepoRequest
	if err := protocol.Decode(r, &req); err != nil {
		h.logger.Warn("json parse error", "error", err)
		telemetry.SetLookupResult(r, telemetry.LookupError)
		protocol.WriteParseError(w, err)
		return
	}

	resp, err := Lookup(h.source, *req.Repo)
	switch {
	case errors.Is(err, ErrNotConfigured):
		h.logger.Warn("model repository lookup without archive", "repo", *req.Repo)
		telemetry.SetLookupResult(r, telemetry.LookupError)
		protocol.WriteError(w, protocol.ErrorHuggingfaceUnavailable, "")
		return
	case err != nil:
		h.logger.Error("model repository lookup failed", "repo", *req.Repo, "error", err)
		telemetry.SetLookupResult(r, telemetry.LookupError)
		telemetry.RecordLookup(r.Context(), string(archive.KindHuggingface), telemetry.LookupError)
		protocol.WriteHandlingError(w, err)
		return
	}

	result := telemetry.LookupMissing
	if resp.Exists {
		result = telemetry.LookupFound
	}
	telemetry.SetLookupResult(r, result)
	telemetry.RecordLookup(r.Context(), string(archive.KindHuggingface), result)

	h.logger.Debug("model repository lookup", "repo", *req.Repo, "exists", resp.Exists)
	protocol.WriteJSON(w, resp)
}
