package completion

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// ChatClient is the subset of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIService calls an OpenAI compatible chat completions API.
type OpenAIService struct {
	client ChatClient
	model  string
}

func NewOpenAIService(apiKey, baseURL, model string, timeout time.Duration) *OpenAIService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if u := strings.TrimSpace(baseURL); u != "" {
		cfg.BaseURL = u
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return NewOpenAIServiceWithClient(openai.NewClientWithConfig(cfg), model)
}

// NewOpenAIServiceWithClient wraps an existing chat client.
func NewOpenAIServiceWithClient(client ChatClient, model string) *OpenAIService {
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIService{client: client, model: model}
}

func (s *OpenAIService) Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func openAIRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant":
		return openai.ChatMessageRoleAssistant
	case "system":
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
