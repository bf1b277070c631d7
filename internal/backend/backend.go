// Package backend selects the inference service implementation.
package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/Art-Therapy-Chat/web-front/internal/ai"
	"github.com/Art-Therapy-Chat/web-front/internal/errors"
	"github.com/Art-Therapy-Chat/web-front/internal/gemini"
	"github.com/Art-Therapy-Chat/web-front/internal/inference"
)

const (
	// HTTP calls the Python inference services.
	HTTP   = "http"
	OpenAI = "openai"
	Gemini = "gemini"
)

var (
	ErrUnknown       = errors.NewSentinel("unknown inference backend")
	ErrMissingAPIKey = errors.NewSentinel("the backend requires an API key")
)

type Config struct {
	Name string
	// URL and Timeout configure the HTTP backend.
	URL     string
	Timeout time.Duration

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	GeminiAPIKey string
	GeminiModel  string
}

// New returns the configured service and a function that releases it.
func New(ctx context.Context, config Config, logger *slog.Logger) (inference.Service, func() error, error) {
	noop := func() error { return nil }
	switch config.Name {
	case HTTP:
		return inference.NewClient(config.URL, config.Timeout, logger), noop, nil
	case OpenAI:
		if config.OpenAIAPIKey == "" {
			return nil, nil, errors.Wrap(ErrMissingAPIKey, "openai backend", slog.String("env", "OPENAI_API_KEY"))
		}
		return ai.NewClient(ai.Config{
			APIKey:  config.OpenAIAPIKey,
			Model:   config.OpenAIModel,
			BaseURL: config.OpenAIBaseURL,
		}, logger), noop, nil
	case Gemini:
		if config.GeminiAPIKey == "" {
			return nil, nil, errors.Wrap(ErrMissingAPIKey, "gemini backend", slog.String("env", "GEMINI_API_KEY"))
		}
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey: config.GeminiAPIKey,
			Model:  config.GeminiModel,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, errors.Wrap(ErrUnknown, "select backend", slog.String("backend", config.Name))
	}
}
