package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is a role-tagged chat message sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrEmptyResponse is returned when the model replied with no text.
var ErrEmptyResponse = errors.New("empty completion response")

// Service is a stateless request/response text generation call.
type Service interface {
	Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

// Config controls service construction.
type Config struct {
	Mode          string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	HTTPURL       string
	HTTPStrict    bool
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

func NewService(cfg Config) (Service, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	var (
		svc Service
		err error
	)
	switch mode {
	case "auto":
		svc = newAutoService(cfg)
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("openai api key is required for openai mode")
		}
		svc = NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Timeout)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("completion HTTP url is required for http mode")
		}
		svc = NewHTTPServiceWithOptions(cfg.HTTPURL, cfg.HTTPStrict, cfg.Timeout)
	case "mock":
		svc = NewMockService()
	default:
		err = fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RatePerSecond > 0 {
		svc = NewRateLimited(svc, cfg.RatePerSecond, cfg.Burst)
	}
	return svc, nil
}

func newAutoService(cfg Config) Service {
	var secondary Service
	if httpURL := strings.TrimSpace(cfg.HTTPURL); httpURL != "" {
		secondary = NewHTTPServiceWithOptions(httpURL, cfg.HTTPStrict, cfg.Timeout)
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		primary := NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Timeout)
		if secondary != nil {
			return NewFallbackService(primary, secondary)
		}
		return primary
	}
	if secondary != nil {
		return secondary
	}
	return NewMockService()
}
