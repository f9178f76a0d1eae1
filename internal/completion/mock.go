package completion

import (
	"context"
	"fmt"
	"strings"
)

// MockService provides deterministic local replies when no model is configured.
// It never answers YES, so gated features stay dormant in mock mode.
type MockService struct{}

func NewMockService() *MockService { return &MockService{} }

func (s *MockService) Complete(ctx context.Context, _ string, messages []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = strings.TrimSpace(messages[i].Content)
			break
		}
	}
	if last == "" {
		return "Tell me more about how you see this topic.", nil
	}
	if i := strings.IndexByte(last, '\n'); i > 0 {
		last = last[:i]
	}
	return fmt.Sprintf("Thanks for sharing. What makes you say: %q?", last), nil
}
