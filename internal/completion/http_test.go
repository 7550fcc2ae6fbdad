package completion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxloop/voxloop/internal/config"
)

func httpTestConfig(endpoint string) config.CompletionConfig {
	return config.CompletionConfig{
		Mode:            "http",
		Endpoint:        endpoint,
		Model:           "test-model",
		APIKey:          "test-key",
		MaxOutputTokens: 100,
		Temperature:     0.7,
		TimeoutMS:       8000,
		CacheTTLSeconds: 300,
		CacheMaxEntries: 16,
	}
}

func TestHTTPGeneratorExtractsFirstCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hi! How can I help?"}]}}]}`))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(httpTestConfig(srv.URL))
	text, err := gen.Complete(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "Hi! How can I help?" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestHTTPGeneratorMissingCandidateFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(httpTestConfig(srv.URL))
	text, err := gen.Complete(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != FallbackReply {
		t.Fatalf("expected fallback, got %q", text)
	}
}

func TestHTTPGeneratorUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(httpTestConfig(srv.URL))
	_, err := gen.Complete(context.Background(), Request{Prompt: "hello"})
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if ue.Status != 503 || ue.Message != "model overloaded" {
		t.Fatalf("unexpected upstream error: %+v", ue)
	}
}
