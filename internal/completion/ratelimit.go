package completion

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited bounds the call rate to an upstream service. A call that cannot
// obtain a token before its context ends fails without reaching upstream.
type RateLimited struct {
	next    Service
	limiter *rate.Limiter
}

func NewRateLimited(next Service, perSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (s *RateLimited) Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("completion rate limit: %w", err)
	}
	return s.next.Complete(ctx, systemPrompt, messages)
}
