package crosspoll

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/agora/internal/completion"
	"github.com/ent0n29/agora/internal/observability"
	"github.com/ent0n29/agora/internal/reliability"
	"github.com/ent0n29/agora/internal/store"
)

type summaryLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type perspective struct {
	Participant    string     `json:"participant"`
	Exchanges      []Exchange `json:"exchanges"`
	UserUtterances []string   `json:"key_insights"`
}

type synthesisPayload struct {
	Session           store.SessionMeta `json:"session"`
	CurrentThread     []summaryLine     `json:"current_thread"`
	OtherPerspectives []perspective     `json:"other_perspectives"`
}

// Synthesizer turns sibling content into one question for the active thread.
type Synthesizer struct {
	completion completion.Service
	timeout    time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func NewSynthesizer(svc completion.Service, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{completion: svc, timeout: timeout, metrics: metrics, logger: logger}
}

// Synthesize never fails: on any error it returns FallbackQuestion and
// synthesized=false.
func (s *Synthesizer) Synthesize(ctx context.Context, current []store.Message, agg Aggregation, meta store.SessionMeta) (question string, synthesized bool) {
	body, err := json.Marshal(buildPayload(current, agg, meta))
	if err != nil {
		s.logger.Error("synthesis: encode payload failed", "error", err)
		return FallbackQuestion, false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	started := time.Now()
	text, err := s.completion.Complete(callCtx, synthesisSystemPrompt, []completion.Message{{Role: "user", Content: string(body)}})
	s.metrics.ObserveCompletion("synthesis", reliability.Classify(err), time.Since(started))
	if err != nil {
		s.logger.Warn("synthesis: completion failed", "code", reliability.Classify(err), "error", err)
		return FallbackQuestion, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FallbackQuestion, false
	}
	return text, true
}

func buildPayload(current []store.Message, agg Aggregation, meta store.SessionMeta) synthesisPayload {
	p := synthesisPayload{
		Session:           meta,
		CurrentThread:     summarize(current),
		OtherPerspectives: make([]perspective, 0, len(agg.Threads)),
	}
	for _, t := range agg.Threads {
		p.OtherPerspectives = append(p.OtherPerspectives, perspective{
			Participant:    t.Participant,
			Exchanges:      t.Exchanges,
			UserUtterances: t.UserUtterances,
		})
	}
	return p
}
