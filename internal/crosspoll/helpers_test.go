package crosspoll

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/agora/internal/completion"
	"github.com/ent0n29/agora/internal/store"
	"github.com/ent0n29/agora/internal/throttle"
)

// scriptedService answers gate and synthesis prompts with fixed replies.
type scriptedService struct {
	mu         sync.Mutex
	gateReply  string
	gateErr    error
	synthReply string
	synthErr   error
	gateCalls  int
	synthCalls int
	payloads   []string
	onCall     func()
}

func (s *scriptedService) Complete(ctx context.Context, systemPrompt string, messages []completion.Message) (string, error) {
	s.mu.Lock()
	hook := s.onCall
	var (
		reply string
		err   error
	)
	switch systemPrompt {
	case gateSystemPrompt:
		s.gateCalls++
		reply, err = s.gateReply, s.gateErr
	case synthesisSystemPrompt:
		s.synthCalls++
		s.payloads = append(s.payloads, messages[len(messages)-1].Content)
		reply, err = s.synthReply, s.synthErr
	default:
		err = fmt.Errorf("unexpected system prompt")
	}
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return reply, err
}

func (s *scriptedService) calls() (gate, synth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gateCalls, s.synthCalls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *store.InMemoryStore
	states   *throttle.MemoryStore
	throttle *throttle.Controller
	clock    *fakeClock
	svc      *scriptedService
	session  store.Session
	base     time.Time
	n        int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: base}
	states := throttle.NewMemoryStore(time.Hour)
	f := &fixture{
		store:    store.NewInMemoryStore(),
		states:   states,
		throttle: throttle.NewController(states, throttle.DefaultPolicy()).WithClock(clock.Now),
		clock:    clock,
		svc:      &scriptedService{gateReply: "YES, good pause point", synthReply: "Some others have noted budget worries. How does that land for you?"},
		base:     base,
	}
	sess, err := f.store.CreateSession(context.Background(), store.Session{ID: "s1", Topic: "Office move", Goal: "Pick a neighbourhood"})
	require.NoError(t, err)
	f.session = sess
	return f
}

func (f *fixture) thread(t *testing.T, id string) {
	t.Helper()
	_, err := f.store.CreateThread(context.Background(), store.Thread{ID: id, SessionID: f.session.ID})
	require.NoError(t, err)
}

// say appends alternating participant and facilitator messages, starting
// with the participant.
func (f *fixture) say(t *testing.T, threadID string, contents ...string) store.Message {
	t.Helper()
	var last store.Message
	for _, c := range contents {
		role := store.RoleUser
		if f.count(threadID)%2 == 1 {
			role = store.RoleAssistant
		}
		last = f.append(t, threadID, role, c)
	}
	return last
}

func (f *fixture) append(t *testing.T, threadID string, role store.Role, content string) store.Message {
	t.Helper()
	f.n++
	m, err := f.store.AppendMessage(context.Background(), store.Message{
		ID:        fmt.Sprintf("%s-m%d", threadID, f.n),
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: f.base.Add(time.Duration(f.n) * time.Second),
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) count(threadID string) int {
	msgs, _ := f.store.MessagesInOrder(context.Background(), threadID)
	return len(msgs)
}

func (f *fixture) engine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Deps{
		Threads:    f.store,
		Sessions:   f.store,
		Completion: f.svc,
		Throttle:   f.throttle,
	}, DefaultOptions())
	require.NoError(t, err)
	return e
}

func (f *fixture) state(t *testing.T) throttle.State {
	t.Helper()
	st, err := f.throttle.Snapshot(context.Background(), f.session.ID)
	require.NoError(t, err)
	return st
}
