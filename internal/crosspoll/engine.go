// Package crosspoll decides when to bring other participants' perspectives
// into a thread and synthesizes the anonymized question that does it.
package crosspoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/agora/internal/completion"
	"github.com/ent0n29/agora/internal/observability"
	"github.com/ent0n29/agora/internal/store"
	"github.com/ent0n29/agora/internal/throttle"
)

// Interjection kinds.
const (
	KindSynthesized      = "synthesized"
	KindFallback         = "fallback"
	KindFirstParticipant = "first_participant"
)

// Outcome is either Proceed or Interjection.
type Outcome interface {
	outcome()
}

// Proceed tells the caller to generate the normal facilitation reply.
type Proceed struct{}

// Interjection replaces the normal reply for this turn.
type Interjection struct {
	Role     store.Role `json:"role"`
	Content  string     `json:"content"`
	Question string     `json:"question"`
	Kind     string     `json:"kind"`
}

func (Proceed) outcome()      {}
func (Interjection) outcome() {}

// Options tune one session. Zero durations and counts fall back to the
// engine defaults when applied through Option helpers.
type Options struct {
	Enabled           bool
	Cooldown          time.Duration
	SuppressionTurns  int
	MinMessages       int
	CompletionTimeout time.Duration
}

func DefaultOptions() Options {
	p := throttle.DefaultPolicy()
	return Options{
		Enabled:           true,
		Cooldown:          p.Cooldown,
		SuppressionTurns:  p.SuppressionTurns,
		MinMessages:       3,
		CompletionTimeout: 20 * time.Second,
	}
}

type Option func(*Options)

func WithEnabled(enabled bool) Option {
	return func(o *Options) { o.Enabled = enabled }
}

func WithCooldown(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.Cooldown = d
		}
	}
}

func WithSuppressionTurns(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.SuppressionTurns = n
		}
	}
}

func WithMinMessages(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MinMessages = n
		}
	}
}

func WithCompletionTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.CompletionTimeout = d
		}
	}
}

// Deps are the collaborators injected into an Engine.
type Deps struct {
	Threads    store.ThreadReader
	Sessions   store.SessionReader
	Completion completion.Service
	Throttle   *throttle.Controller
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Engine builds per-session handles sharing one throttle store and one
// completion service.
type Engine struct {
	deps       Deps
	defaults   Options
	aggregator *Aggregator
}

func New(deps Deps, defaults Options) (*Engine, error) {
	if deps.Threads == nil || deps.Sessions == nil {
		return nil, errors.New("crosspoll: thread and session readers are required")
	}
	if deps.Completion == nil {
		return nil, errors.New("crosspoll: completion service is required")
	}
	if deps.Throttle == nil {
		return nil, errors.New("crosspoll: throttle controller is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		deps:       deps,
		defaults:   defaults,
		aggregator: NewAggregator(deps.Threads),
	}, nil
}

// Aggregate exposes sibling aggregation for diagnostics.
func (e *Engine) Aggregate(ctx context.Context, sessionID, excludeThreadID string) (Aggregation, error) {
	return e.aggregator.Aggregate(ctx, sessionID, excludeThreadID)
}

// Handle is the engine bound to one session. It is safe for concurrent use.
type Handle struct {
	sessionID  string
	opts       Options
	throttle   *throttle.Controller
	gate       *Gate
	aggregator *Aggregator
	synth      *Synthesizer
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Initialize binds the engine to sessionID. Handles are cheap; throttle state
// lives in the shared store, not in the handle.
func (e *Engine) Initialize(sessionID string, opts ...Option) *Handle {
	o := e.defaults
	for _, opt := range opts {
		opt(&o)
	}
	ctrl := e.deps.Throttle.WithPolicy(throttle.Policy{
		Cooldown:         o.Cooldown,
		SuppressionTurns: o.SuppressionTurns,
	})
	logger := e.deps.Logger.With("session_id", sessionID)
	return &Handle{
		sessionID:  sessionID,
		opts:       o,
		throttle:   ctrl,
		gate:       NewGate(e.deps.Threads, e.deps.Sessions, e.deps.Completion, ctrl, o.MinMessages, o.CompletionTimeout, e.deps.Metrics, logger),
		aggregator: e.aggregator,
		synth:      NewSynthesizer(e.deps.Completion, o.CompletionTimeout, e.deps.Metrics, logger),
		metrics:    e.deps.Metrics,
		logger:     logger,
	}
}

func (h *Handle) SessionID() string { return h.sessionID }

func (h *Handle) Options() Options { return h.opts }

// HandleTurn runs one participant turn through the engine. msg must already
// be appended to threadID; its ID keys turn idempotency. Failures of any
// kind yield Proceed.
func (h *Handle) HandleTurn(ctx context.Context, threadID string, msg store.Message) (out Outcome) {
	started := time.Now()
	label := "proceed"
	ctx, span := observability.StartSpan(ctx, "crosspoll.handle_turn", trace.WithAttributes(
		attribute.String("session.id", h.sessionID),
		attribute.String("thread.id", threadID),
	))
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("crosspoll: panic recovered", "thread_id", threadID, "panic", fmt.Sprint(r))
			span.SetStatus(codes.Error, "panic")
			out = Proceed{}
			label = "panic"
		}
		span.SetAttributes(attribute.String("crosspoll.outcome", label))
		span.End()
		h.metrics.ObserveTurn(label, time.Since(started))
	}()

	if !h.opts.Enabled || msg.Role != store.RoleUser {
		return Proceed{}
	}

	snap, err := h.throttle.Snapshot(ctx, h.sessionID)
	if err != nil {
		h.storeFailure(span, "snapshot", err)
		return Proceed{}
	}

	dec := h.gate.Evaluate(ctx, h.sessionID, threadID, snap)
	h.metrics.ObserveGate(dec.Reason)
	span.SetAttributes(attribute.String("crosspoll.gate", dec.Reason))
	if !dec.Fire {
		h.logger.Debug("crosspoll: skipped", "thread_id", threadID, "reason", dec.Reason)
		h.turnProcessed(ctx, span, threadID, msg.ID)
		return Proceed{}
	}

	ij, err := h.interjection(ctx, threadID, dec)
	if err != nil {
		h.logger.Warn("crosspoll: build interjection failed", "thread_id", threadID, "error", err)
		span.RecordError(err)
		h.turnProcessed(ctx, span, threadID, msg.ID)
		return Proceed{}
	}
	if ctx.Err() != nil {
		return Proceed{}
	}

	if err := h.throttle.CommitTrigger(ctx, h.sessionID, threadID, msg.ID, snap); err != nil {
		if errors.Is(err, throttle.ErrConflict) {
			h.metrics.ObserveThrottleConflict()
			h.logger.Info("crosspoll: trigger lost to concurrent turn", "thread_id", threadID)
			h.turnProcessed(ctx, span, threadID, msg.ID)
			return Proceed{}
		}
		h.storeFailure(span, "commit", err)
		return Proceed{}
	}

	label = ij.Kind
	h.metrics.ObserveInterjection(ij.Kind)
	h.logger.Info("crosspoll: interjection", "thread_id", threadID, "kind", ij.Kind)
	return ij
}

func (h *Handle) interjection(ctx context.Context, threadID string, dec GateDecision) (Interjection, error) {
	aggCtx, aggSpan := observability.StartSpan(ctx, "crosspoll.aggregate")
	agg, err := h.aggregator.Aggregate(aggCtx, h.sessionID, threadID)
	aggSpan.SetAttributes(attribute.Int("crosspoll.sibling_threads", len(agg.Threads)))
	aggSpan.End()
	if err != nil {
		return Interjection{}, err
	}
	if agg.Empty() {
		return Interjection{
			Role:     store.RoleAssistant,
			Content:  FirstParticipantMessage,
			Question: FirstParticipantMessage,
			Kind:     KindFirstParticipant,
		}, nil
	}

	synthCtx, synthSpan := observability.StartSpan(ctx, "crosspoll.synthesize")
	question, ok := h.synth.Synthesize(synthCtx, dec.Transcript, agg, dec.Meta)
	synthSpan.SetAttributes(attribute.Bool("crosspoll.synthesized", ok))
	synthSpan.End()
	kind := KindSynthesized
	if !ok {
		kind = KindFallback
	}
	return Interjection{
		Role:     store.RoleAssistant,
		Content:  InterjectionPrefix + question,
		Question: question,
		Kind:     kind,
	}, nil
}

// turnProcessed never mutates state for a canceled turn.
func (h *Handle) turnProcessed(ctx context.Context, span trace.Span, threadID, turnID string) {
	if ctx.Err() != nil {
		return
	}
	if err := h.throttle.RecordTurnProcessed(ctx, h.sessionID, threadID, turnID); err != nil {
		h.storeFailure(span, "turn_processed", err)
	}
}

func (h *Handle) storeFailure(span trace.Span, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.metrics.ObserveThrottleStoreError()
	span.RecordError(err)
	h.logger.Warn("crosspoll: throttle store failed", "op", op, "error", err)
}
