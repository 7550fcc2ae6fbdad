package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/completion"
	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/ratelimit"
)

type stubCompleter struct {
	reply string
	err   error
	calls int
	last  completion.Options
}

func (s *stubCompleter) Complete(ctx context.Context, transcript string, opts completion.Options) (string, error) {
	s.calls++
	s.last = opts
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func testHandler(t *testing.T, comp Completer, limit config.RateLimitConfig) *Handler {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit = limit
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(cfg, ratelimit.New(cfg.RateLimit), comp, logger)
	h.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return h
}

func postChat(h *Handler, body, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:51234"
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rr := httptest.NewRecorder()
	mux := http.NewServeMux()
	h.Register(mux)
	mux.ServeHTTP(rr, req)
	return rr
}

func TestChatReturnsReply(t *testing.T) {
	comp := &stubCompleter{reply: "Hi! How can I help?"}
	h := testHandler(t, comp, config.Default().RateLimit)

	rr := postChat(h, `{"message": "hello there"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Content != "Hi! How can I help?" {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestChatRequestOverridesOptions(t *testing.T) {
	comp := &stubCompleter{reply: "ok"}
	h := testHandler(t, comp, config.Default().RateLimit)

	rr := postChat(h, `{"message": "hola", "enableCaching": false, "language": "es-ES"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if comp.last.CachingEnabled {
		t.Fatal("caching override ignored")
	}
	if comp.last.Language != "es-ES" {
		t.Fatalf("language = %q", comp.last.Language)
	}
}

func TestChatEmptyMessageRejected(t *testing.T) {
	comp := &stubCompleter{reply: "ok"}
	h := testHandler(t, comp, config.Default().RateLimit)

	for _, body := range []string{`{"message": "   "}`, `{}`, `{not json`} {
		rr := postChat(h, body, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rr.Code)
		}
	}
	if comp.calls != 0 {
		t.Fatalf("completer invoked %d times for bad input", comp.calls)
	}
}

func TestChatRateLimited(t *testing.T) {
	comp := &stubCompleter{reply: "ok"}
	h := testHandler(t, comp, config.RateLimitConfig{MaxRequests: 1, WindowMS: 60000})

	if rr := postChat(h, `{"message": "first"}`, ""); rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rr.Code)
	}
	rr := postChat(h, `{"message": "second"}`, "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Error, "rate limit") {
		t.Fatalf("error = %q", resp.Error)
	}
	if comp.calls != 1 {
		t.Fatalf("completer called %d times", comp.calls)
	}
}

func TestForwardedClientsLimitedIndependently(t *testing.T) {
	comp := &stubCompleter{reply: "ok"}
	h := testHandler(t, comp, config.RateLimitConfig{MaxRequests: 1, WindowMS: 60000})

	if rr := postChat(h, `{"message": "a"}`, "203.0.113.7, 10.0.0.1"); rr.Code != http.StatusOK {
		t.Fatalf("first client status = %d", rr.Code)
	}
	if rr := postChat(h, `{"message": "b"}`, "203.0.113.8"); rr.Code != http.StatusOK {
		t.Fatalf("second client status = %d", rr.Code)
	}
	if rr := postChat(h, `{"message": "c"}`, "203.0.113.7"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("repeat client status = %d, want 429", rr.Code)
	}
}

func TestChatUpstreamFailure(t *testing.T) {
	comp := &stubCompleter{err: &completion.UpstreamError{Status: 401, Message: "API key not valid"}}
	h := testHandler(t, comp, config.Default().RateLimit)

	rr := postChat(h, `{"message": "hello"}`, "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var resp struct {
		Error     string `json:"error"`
		Timestamp string `json:"timestamp"`
		Retryable *bool  `json:"retryable"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Timestamp == "" {
		t.Fatal("timestamp missing")
	}
	if resp.Retryable == nil || *resp.Retryable {
		t.Fatalf("retryable = %v, want false", resp.Retryable)
	}
	if comp.calls != 1 {
		t.Fatalf("non-retryable error retried: %d calls", comp.calls)
	}
}

func TestChatMethodNotAllowed(t *testing.T) {
	h := testHandler(t, &stubCompleter{reply: "ok"}, config.Default().RateLimit)

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rr := httptest.NewRecorder()
	mux := http.NewServeMux()
	h.Register(mux)
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}
