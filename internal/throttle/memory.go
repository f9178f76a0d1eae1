package throttle

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	state        State
	lastActivity time.Time
}

// MemoryStore keeps throttle state in process. Entries idle for longer than
// the inactivity timeout are reaped by the janitor.
type MemoryStore struct {
	mu                sync.Mutex
	entries           map[string]*memoryEntry
	inactivityTimeout time.Duration
	onExpire          func(sessionID string)
	now               func() time.Time
}

func NewMemoryStore(inactivityTimeout time.Duration) *MemoryStore {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Hour
	}
	return &MemoryStore{
		entries:           make(map[string]*memoryEntry),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) SetExpireHook(hook func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return State{}, nil
	}
	e.lastActivity = m.now()
	return e.state.clone(), nil
}

func (m *MemoryStore) CompareAndSwap(_ context.Context, sessionID string, expected int64, next State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		e = &memoryEntry{}
	}
	if e.state.Version != expected {
		return false, nil
	}
	next = next.clone()
	next.Version = expected + 1
	e.state = next
	e.lastActivity = m.now()
	m.entries[sessionID] = e
	return true, nil
}

// Len returns the number of tracked sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *MemoryStore) expireInactive() {
	now := m.now()
	var expired []string

	m.mu.Lock()
	for id, e := range m.entries {
		if now.Sub(e.lastActivity) < m.inactivityTimeout {
			continue
		}
		delete(m.entries, id)
		expired = append(expired, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, id := range expired {
			hook(id)
		}
	}
}
