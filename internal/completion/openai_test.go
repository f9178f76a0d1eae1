package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

type fakeChatClient struct {
	resp  openai.ChatCompletionResponse
	err   error
	calls []openai.ChatCompletionRequest
}

func (c *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.calls = append(c.calls, req)
	return c.resp, c.err
}

func TestOpenAIServiceBuildsMessages(t *testing.T) {
	client := &fakeChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: " NO "}}},
	}}
	s := NewOpenAIServiceWithClient(client, "")

	text, err := s.Complete(context.Background(), "decide", []Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "NO" {
		t.Fatalf("text = %q, want NO", text)
	}
	if len(client.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(client.calls))
	}
	req := client.calls[0]
	if req.Model != defaultOpenAIModel {
		t.Fatalf("Model = %q, want %q", req.Model, defaultOpenAIModel)
	}
	roles := []string{openai.ChatMessageRoleSystem, openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant}
	if len(req.Messages) != len(roles) {
		t.Fatalf("len(Messages) = %d, want %d", len(req.Messages), len(roles))
	}
	for i, role := range roles {
		if req.Messages[i].Role != role {
			t.Fatalf("Messages[%d].Role = %q, want %q", i, req.Messages[i].Role, role)
		}
	}
}

func TestOpenAIServiceEmptyChoices(t *testing.T) {
	s := NewOpenAIServiceWithClient(&fakeChatClient{}, "m")
	if _, err := s.Complete(context.Background(), "", nil); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestOpenAIServiceAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID: "cmpl-1",
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: "assistant", Content: "What stood out to you?"},
			}},
		})
	}))
	defer srv.Close()

	s := NewOpenAIService("test-key", srv.URL, "test-model", 5*time.Second)
	text, err := s.Complete(context.Background(), "sys", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "What stood out to you?" {
		t.Fatalf("text = %q", text)
	}
}
