package completion

import (
	"context"
	"errors"
	"fmt"
)

// FallbackService attempts a primary service first and falls back on error.
type FallbackService struct {
	primary  Service
	fallback Service
}

func NewFallbackService(primary, fallback Service) *FallbackService {
	return &FallbackService{primary: primary, fallback: fallback}
}

func (s *FallbackService) Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	if s == nil || s.primary == nil {
		if s != nil && s.fallback != nil {
			return s.fallback.Complete(ctx, systemPrompt, messages)
		}
		return "", fmt.Errorf("fallback service misconfigured")
	}
	text, err := s.primary.Complete(ctx, systemPrompt, messages)
	if err == nil {
		return text, nil
	}
	// A canceled or expired turn must not spend a second upstream call.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return "", err
	}
	if s.fallback == nil {
		return "", err
	}
	text, fallbackErr := s.fallback.Complete(ctx, systemPrompt, messages)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary completion error: %w; fallback completion error: %v", err, fallbackErr)
	}
	return text, nil
}
