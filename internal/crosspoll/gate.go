package crosspoll

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/agora/internal/completion"
	"github.com/ent0n29/agora/internal/observability"
	"github.com/ent0n29/agora/internal/reliability"
	"github.com/ent0n29/agora/internal/store"
	"github.com/ent0n29/agora/internal/throttle"
	"golang.org/x/sync/errgroup"
)

// Gate reasons, also used as metric labels.
const (
	ReasonSuppressed  = "suppressed"
	ReasonCooldown    = "cooldown"
	ReasonTooShallow  = "too_few_messages"
	ReasonStoreError  = "store_error"
	ReasonModelError  = "model_error"
	ReasonModelNo     = "no"
	ReasonModelYes    = "yes"
	ReasonInterrupted = "canceled"
)

// GateDecision is the outcome of one gate evaluation. Transcript and Meta
// are populated once the throttle guards pass.
type GateDecision struct {
	Fire       bool
	Reason     string
	Transcript []store.Message
	Meta       store.SessionMeta
	Asked      bool
}

// Gate decides whether a thread is at a good moment for an interjection.
// Every failure evaluates to false.
type Gate struct {
	threads     store.ThreadReader
	sessions    store.SessionReader
	completion  completion.Service
	throttle    *throttle.Controller
	minMessages int
	timeout     time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
}

func NewGate(threads store.ThreadReader, sessions store.SessionReader, svc completion.Service, ctrl *throttle.Controller, minMessages int, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		threads:     threads,
		sessions:    sessions,
		completion:  svc,
		throttle:    ctrl,
		minMessages: minMessages,
		timeout:     timeout,
		metrics:     metrics,
		logger:      logger,
	}
}

// Evaluate checks the throttle snapshot and the thread depth before asking
// the model. The model is only called when every guard passes.
func (g *Gate) Evaluate(ctx context.Context, sessionID, threadID string, snap throttle.State) GateDecision {
	if !snap.ShouldConsider() {
		return GateDecision{Reason: ReasonSuppressed}
	}
	now := g.throttle.Now()
	if !snap.CooldownElapsed(now, g.throttle.Policy().Cooldown) {
		return GateDecision{Reason: ReasonCooldown}
	}

	var (
		msgs []store.Message
		meta store.SessionMeta
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		msgs, err = g.threads.MessagesInOrder(egCtx, threadID)
		return err
	})
	eg.Go(func() error {
		var err error
		meta, err = g.sessions.SessionMeta(egCtx, sessionID)
		return err
	})
	if err := eg.Wait(); err != nil {
		g.logger.Warn("gate: read thread failed", "session_id", sessionID, "thread_id", threadID, "error", err)
		return GateDecision{Reason: ReasonStoreError}
	}
	if conversationDepth(msgs) < g.minMessages {
		return GateDecision{Reason: ReasonTooShallow, Transcript: msgs, Meta: meta}
	}

	since, triggered := snap.SinceLastTrigger(now)
	prompt := gatePrompt(meta, msgs, since, triggered)

	ctx, span := observability.StartSpan(ctx, "crosspoll.gate")
	defer span.End()
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	started := time.Now()
	answer, err := g.completion.Complete(callCtx, gateSystemPrompt, []completion.Message{{Role: "user", Content: prompt}})
	g.metrics.ObserveCompletion("gate", reliability.Classify(err), time.Since(started))
	if err != nil {
		if ctx.Err() != nil {
			return GateDecision{Reason: ReasonInterrupted, Transcript: msgs, Meta: meta, Asked: true}
		}
		g.logger.Warn("gate: completion failed", "thread_id", threadID, "code", reliability.Classify(err), "error", err)
		return GateDecision{Reason: ReasonModelError, Transcript: msgs, Meta: meta, Asked: true}
	}
	if !isAffirmative(answer) {
		return GateDecision{Reason: ReasonModelNo, Transcript: msgs, Meta: meta, Asked: true}
	}
	return GateDecision{Fire: true, Reason: ReasonModelYes, Transcript: msgs, Meta: meta, Asked: true}
}

// conversationDepth counts the exchanged messages, leaving out pasted
// context seeds.
func conversationDepth(msgs []store.Message) int {
	n := 0
	for _, m := range msgs {
		if !isContextSeed(m) {
			n++
		}
	}
	return n
}

func isAffirmative(answer string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(answer)), "YES")
}
