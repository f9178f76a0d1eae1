package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPServiceJSONResponse(t *testing.T) {
	var got httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  YES, good moment  "}`))
	}))
	defer srv.Close()

	s := NewHTTPService(srv.URL)
	text, err := s.Complete(context.Background(), "sys", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "YES, good moment" {
		t.Fatalf("text = %q, want trimmed body", text)
	}
	if got.SystemPrompt != "sys" || len(got.Messages) != 1 || got.Messages[0].Content != "hi" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
}

func TestHTTPServiceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPService(srv.URL).Complete(context.Background(), "", nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("Code = %d, want 503", statusErr.Code)
	}
}

func TestHTTPServiceEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewHTTPService(srv.URL).Complete(context.Background(), "", nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestHTTPServiceConsumeSSE(t *testing.T) {
	s := NewHTTPServiceWithOptions("http://example.test", false, 0)
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		"data: {\"delta\":\"Hel\"}",
		"",
		"data: {\"delta\":\"lo\"}",
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	text, err := s.consumeSSE(stream)
	if err != nil {
		t.Fatalf("consumeSSE() error = %v", err)
	}
	if text != "Hello" {
		t.Fatalf("text = %q, want %q", text, "Hello")
	}
}

func TestHTTPServiceConsumeSSEStrictInvalidJSON(t *testing.T) {
	s := NewHTTPServiceWithOptions("http://example.test", true, 0)
	_, err := s.consumeSSE(strings.NewReader("data: {not-json}\n\n"))
	if err == nil {
		t.Fatalf("consumeSSE() expected error for invalid strict payload")
	}
}

func TestHTTPServiceConsumeNDJSON(t *testing.T) {
	s := NewHTTPServiceWithOptions("http://example.test", false, 0)
	stream := strings.NewReader(strings.Join([]string{
		"{\"delta\":\"Hi\"}",
		" there",
		"[DONE]",
	}, "\n"))

	text, err := s.consumeNDJSON(stream)
	if err != nil {
		t.Fatalf("consumeNDJSON() error = %v", err)
	}
	if text != "Hi there" {
		t.Fatalf("text = %q, want %q", text, "Hi there")
	}
}

func TestHTTPServiceConsumeNDJSONStrictInvalidJSON(t *testing.T) {
	s := NewHTTPServiceWithOptions("http://example.test", true, 0)
	_, err := s.consumeNDJSON(strings.NewReader("not-json\n"))
	if err == nil {
		t.Fatalf("consumeNDJSON() expected error for strict invalid payload")
	}
}
