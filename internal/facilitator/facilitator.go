// Package facilitator generates the normal facilitation reply and runs a
// participant turn end to end.
package facilitator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/agora/internal/completion"
	"github.com/ent0n29/agora/internal/observability"
	"github.com/ent0n29/agora/internal/reliability"
	"github.com/ent0n29/agora/internal/store"
)

// FallbackReply is sent when the model cannot produce a reply.
const FallbackReply = "Thanks for sharing that. Could you say a little more about why it matters to you?"

const historyLimit = 24

// Facilitator asks open questions that keep one participant talking about
// the session topic.
type Facilitator struct {
	completion completion.Service
	timeout    time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func New(svc completion.Service, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Facilitator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Facilitator{completion: svc, timeout: timeout, metrics: metrics, logger: logger}
}

// Reply returns the next facilitator message for history. It never fails;
// upstream errors yield FallbackReply.
func (f *Facilitator) Reply(ctx context.Context, meta store.SessionMeta, history []store.Message) string {
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	msgs := make([]completion.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, completion.Message{Role: string(m.Role), Content: m.Content})
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	started := time.Now()
	text, err := f.completion.Complete(callCtx, systemPrompt(meta), msgs)
	f.metrics.ObserveCompletion("reply", reliability.Classify(err), time.Since(started))
	if err != nil {
		f.logger.Warn("facilitator: completion failed", "code", reliability.Classify(err), "error", err)
		return FallbackReply
	}
	if text = strings.TrimSpace(text); text == "" {
		return FallbackReply
	}
	return text
}

func systemPrompt(meta store.SessionMeta) string {
	var b strings.Builder
	b.WriteString("You are a warm, curious discussion facilitator talking one-on-one with a participant.\n")
	fmt.Fprintf(&b, "Topic: %s\n", meta.Topic)
	fmt.Fprintf(&b, "Goal: %s\n", meta.Goal)
	if meta.Description != "" {
		fmt.Fprintf(&b, "Context: %s\n", meta.Description)
	}
	b.WriteString("Acknowledge what they said in a few words, then ask one open follow-up question. Keep it under three sentences.")
	return b.String()
}
