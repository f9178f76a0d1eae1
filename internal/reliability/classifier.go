package reliability

import (
	"context"
	"errors"
	"net"

	"github.com/ent0n29/agora/internal/completion"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify maps an upstream error to a short, bounded label for metrics and logs.
func Classify(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, completion.ErrEmptyResponse) {
		return "empty"
	}
	var statusErr *completion.StatusError
	if errors.As(err, &statusErr) {
		if IsRetryableHTTPStatus(statusErr.Code) {
			return "http_retryable"
		}
		return "http_status"
	}
	return "error"
}
