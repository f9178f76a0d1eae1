package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError reports a non-2xx response from an HTTP completion endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion http status %d: %s", e.Code, e.Body)
}

type httpRequest struct {
	SystemPrompt string    `json:"system_prompt"`
	Messages     []Message `json:"messages"`
}

// HTTPService forwards completion requests to a JSON HTTP endpoint.
type HTTPService struct {
	url          string
	client       *http.Client
	strictStream bool
}

func NewHTTPService(url string) *HTTPService {
	return NewHTTPServiceWithOptions(url, false, 0)
}

func NewHTTPServiceWithOptions(url string, strictStream bool, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPService{
		url:          strings.TrimSpace(url),
		strictStream: strictStream,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *HTTPService) Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	payload, err := json.Marshal(httpRequest{SystemPrompt: systemPrompt, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &StatusError{Code: res.StatusCode, Body: string(body)}
	}

	var text string
	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		text, err = s.consumeSSE(res.Body)
	case strings.Contains(ct, "application/x-ndjson"):
		text, err = s.consumeNDJSON(res.Body)
	default:
		text, err = readBody(res.Body)
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func readBody(body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw), nil
	}
	return extractText(obj), nil
}

func (s *HTTPService) consumeSSE(body io.Reader) (string, error) {
	scanner := newLineScanner(body)
	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		delta, err := s.decodeDelta(data)
		if err != nil {
			return "", err
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func (s *HTTPService) consumeNDJSON(body io.Reader) (string, error) {
	scanner := newLineScanner(body)
	var out strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.TrimSpace(line) == "[DONE]" {
			break
		}
		delta, err := s.decodeDelta(line)
		if err != nil {
			return "", err
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

// decodeDelta accepts a JSON chunk or, unless strict, a raw text chunk.
func (s *HTTPService) decodeDelta(chunk string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(chunk)), &obj); err != nil {
		if s.strictStream {
			return "", fmt.Errorf("invalid stream chunk: %w", err)
		}
		return chunk, nil
	}
	return extractText(obj), nil
}

func newLineScanner(body io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "content", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
