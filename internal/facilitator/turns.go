package facilitator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ent0n29/agora/internal/crosspoll"
	"github.com/ent0n29/agora/internal/store"
)

// TurnResult is everything one participant turn produced. Interjection is
// set when Reply carries a cross-pollination question.
type TurnResult struct {
	UserMessage  store.Message           `json:"user_message"`
	Reply        store.Message           `json:"reply"`
	Interjection *crosspoll.Interjection `json:"interjection,omitempty"`
}

// Turns stores a participant message, consults the cross-pollination engine
// and stores the facilitator's answer. Turns on one thread run one at a time.
type Turns struct {
	store       store.Store
	engine      *crosspoll.Engine
	facilitator *Facilitator
	logger      *slog.Logger
	locks       threadLocks
}

func NewTurns(st store.Store, engine *crosspoll.Engine, f *Facilitator, logger *slog.Logger) *Turns {
	if logger == nil {
		logger = slog.Default()
	}
	return &Turns{
		store:       st,
		engine:      engine,
		facilitator: f,
		logger:      logger,
		locks:       threadLocks{locks: make(map[string]*threadLock)},
	}
}

func (t *Turns) Submit(ctx context.Context, threadID, content string) (TurnResult, error) {
	thread, err := t.store.Thread(ctx, threadID)
	if err != nil {
		return TurnResult{}, err
	}

	unlock := t.locks.lock(threadID)
	defer unlock()

	user, err := t.store.AppendMessage(ctx, store.Message{
		ThreadID: threadID,
		Role:     store.RoleUser,
		Content:  content,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("append user message: %w", err)
	}
	res := TurnResult{UserMessage: user}

	var text string
	switch out := t.engine.Initialize(thread.SessionID).HandleTurn(ctx, threadID, user).(type) {
	case crosspoll.Interjection:
		text = out.Content
		res.Interjection = &out
	default:
		text, err = t.reply(ctx, thread)
		if err != nil {
			return res, err
		}
	}

	reply, err := t.store.AppendMessage(ctx, store.Message{
		ThreadID: threadID,
		Role:     store.RoleAssistant,
		Content:  text,
	})
	if err != nil {
		return res, fmt.Errorf("append reply: %w", err)
	}
	res.Reply = reply
	return res, nil
}

func (t *Turns) reply(ctx context.Context, thread store.Thread) (string, error) {
	meta, err := t.store.SessionMeta(ctx, thread.SessionID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	history, err := t.store.MessagesInOrder(ctx, thread.ID)
	if err != nil {
		return "", fmt.Errorf("load thread: %w", err)
	}
	return t.facilitator.Reply(ctx, meta, history), nil
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

func (l *threadLocks) lock(id string) func() {
	l.mu.Lock()
	tl, ok := l.locks[id]
	if !ok {
		tl = &threadLock{}
		l.locks[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
