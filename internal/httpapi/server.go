// Package httpapi exposes the text chat endpoint used by frontends that
// bypass the microphone and talk to the completion layer directly.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/voxloop/voxloop/internal/completion"
	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/ratelimit"
)

// Completer answers a chat message, typically the completion layer
// wrapped in its cache.
type Completer interface {
	Complete(ctx context.Context, transcript string, opts completion.Options) (string, error)
}

type chatRequest struct {
	Message       string `json:"message"`
	EnableCaching *bool  `json:"enableCaching,omitempty"`
	Language      string `json:"language,omitempty"`
}

type chatResponse struct {
	Content string `json:"content"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// Handler serves POST /api/chat with per-client rate limiting and the
// same retry discipline the voice pipeline uses.
type Handler struct {
	cfg       config.PipelineConfig
	language  string
	caching   bool
	limiter   *ratelimit.Limiter
	completer Completer
	sleep     completion.SleepFunc
	logger    *slog.Logger
	now       func() time.Time
}

func NewHandler(cfg config.Config, limiter *ratelimit.Limiter, completer Completer, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg.Pipeline,
		language:  cfg.Speech.Locale,
		caching:   cfg.Pipeline.CachingEnabled,
		limiter:   limiter,
		completer: completer,
		logger:    logger.With("component", "httpapi"),
		now:       time.Now,
	}
}

// Register installs the chat route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/chat", h.handleChat)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	if !h.limiter.Allow(clientID(r)) {
		h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later", nil)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		h.writeError(w, http.StatusBadRequest, "message must not be empty", nil)
		return
	}

	opts := completion.Options{CachingEnabled: h.caching, Language: h.language}
	if req.EnableCaching != nil {
		opts.CachingEnabled = *req.EnableCaching
	}
	if req.Language != "" {
		opts.Language = req.Language
	}

	reply, attempts, err := completion.Retry(r.Context(), h.cfg.MaxRetries, h.sleep, func(ctx context.Context) (string, error) {
		return h.completer.Complete(ctx, message, opts)
	})
	if err != nil {
		retryable := completion.Retryable(err)
		h.logger.Error("chat completion failed", "error", err, "attempts", attempts)
		h.writeError(w, http.StatusInternalServerError, err.Error(), &retryable)
		return
	}

	h.writeJSON(w, http.StatusOK, chatResponse{Content: reply})
}

// clientID identifies the caller for rate limiting: the first hop of
// X-Forwarded-For when present, otherwise the connection address.
func clientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string, retryable *bool) {
	resp := errorResponse{Error: msg}
	if status >= http.StatusInternalServerError {
		resp.Timestamp = h.now().UTC().Format(time.RFC3339)
		resp.Retryable = retryable
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("response encode failed", "error", err)
	}
}
