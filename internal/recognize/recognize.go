// Package recognize turns page images into text. Providers wrap concrete
// engines (local Tesseract, vision-capable LLM APIs); the Gateway picks a
// primary provider, retries transient failures and can fall back to a
// second engine.
package recognize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagekeep/pagekeep/internal/config"
)

// Provider is a single text-recognition engine: one image in, text out.
type Provider interface {
	Name() string
	Recognize(ctx context.Context, image []byte, languages []string) (string, error)
}

type Gateway struct {
	providers  map[string]Provider
	primary    string
	fallback   string
	maxRetries int
}

func NewGateway(cfg config.OCRConfig) *Gateway {
	g := &Gateway{
		providers:  make(map[string]Provider),
		primary:    cfg.Provider,
		fallback:   cfg.FallbackProvider,
		maxRetries: cfg.MaxRetries,
	}

	g.Register(NewTesseract())
	if cfg.OpenAIKey != "" {
		g.Register(NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel))
	}
	if cfg.AnthropicKey != "" {
		g.Register(NewAnthropicProvider(cfg.AnthropicKey, cfg.AnthropicModel))
	}

	return g
}

func (g *Gateway) Register(p Provider) {
	g.providers[p.Name()] = p
}

func (g *Gateway) provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("recognizer %q not configured", name)
	}
	return p, nil
}

// Recognize runs the primary provider with retries, then the fallback
// provider if one is configured.
func (g *Gateway) Recognize(ctx context.Context, image []byte, languages []string) (string, error) {
	text, err := g.recognizeWithRetry(ctx, g.primary, image, languages)
	if err != nil && g.fallback != "" && g.fallback != g.primary {
		slog.Warn("primary recognizer failed, trying fallback",
			"primary", g.primary,
			"fallback", g.fallback,
			"error", err,
		)
		return g.recognizeWithRetry(ctx, g.fallback, image, languages)
	}
	return text, err
}

func (g *Gateway) recognizeWithRetry(ctx context.Context, name string, image []byte, languages []string) (string, error) {
	p, err := g.provider(name)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			slog.Debug("retrying recognition", "provider", name, "attempt", attempt)
		}

		text, err := p.Recognize(ctx, image, languages)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("all retries exhausted for %s: %w", name, lastErr)
}
