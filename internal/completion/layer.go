package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/voxloop/voxloop/internal/config"
)

// Options are the per-call knobs the coordinator passes by value.
type Options struct {
	CachingEnabled bool
	Language       string
}

// Layer turns a transcript into a reply: cache lookup first, then one
// deadline-bounded upstream call, then cache fill. The cache is TTL-scoped
// and size-capped so sustained unique input cannot grow it without bound.
type Layer struct {
	cfg    config.CompletionConfig
	gen    Generator
	cache  *expirable.LRU[string, string]
	logger *slog.Logger
}

func NewLayer(cfg config.CompletionConfig, gen Generator, logger *slog.Logger) *Layer {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	return &Layer{
		cfg:    cfg,
		gen:    gen,
		cache:  expirable.NewLRU[string, string](cfg.CacheMaxEntries, nil, ttl),
		logger: logger.With(slog.String("component", "completion")),
	}
}

// CacheKey normalizes a transcript so that case and surrounding whitespace
// variants share one entry. A non-empty language prefixes the key, keeping
// locales apart.
func CacheKey(transcript, language string) string {
	key := strings.ToLower(strings.TrimSpace(transcript))
	if language != "" {
		key = language + ":" + key
	}
	return key
}

// Complete resolves one transcript. A fresh cache hit returns without any
// network call.
func (l *Layer) Complete(ctx context.Context, transcript string, opts Options) (string, error) {
	key := CacheKey(transcript, opts.Language)

	if opts.CachingEnabled {
		if cached, ok := l.cache.Get(key); ok {
			l.logger.Debug("cache hit", slog.String("key", key))
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(l.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	start := time.Now()
	text, err := l.gen.Complete(ctx, Request{Prompt: transcript, Language: opts.Language})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %dms", ErrTimeout, l.cfg.TimeoutMS)
		}
		return "", err
	}
	l.logger.Info("completion received",
		slog.Duration("latency", time.Since(start)),
		slog.Int("chars", len(text)))

	text = strings.TrimSpace(text)
	if text == "" {
		text = FallbackReply
	}
	if opts.CachingEnabled {
		l.cache.Add(key, text)
	}
	return text, nil
}

// NewGenerator builds the configured backend.
func NewGenerator(cfg config.CompletionConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(), nil
	case "http":
		if cfg.APIKey == "" {
			return nil, errors.New("completion api key is not configured")
		}
		return NewHTTPGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("unknown completion mode %q", cfg.Mode)
	}
}
