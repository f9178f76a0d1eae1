package throttle

import (
	"context"
	"errors"
	"slices"
	"time"
)

const recentTurnLimit = 16

var (
	// ErrConflict means the session state changed between read and write.
	ErrConflict = errors.New("throttle state changed concurrently")
)

// State is the per-session throttle record. A zero LastTriggeredAt means the
// session never triggered. SuppressionCount counts down only on user turns
// of SuppressedThreadID, the thread that received the last interjection, but
// it blocks triggers in every thread of the session while positive.
type State struct {
	LastTriggeredAt    time.Time `json:"last_triggered_at"`
	SuppressionCount   int       `json:"suppression_count"`
	SuppressedThreadID string    `json:"suppressed_thread_id,omitempty"`
	RecentTurns        []string  `json:"recent_turns,omitempty"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Triggered reports whether the session ever fired.
func (s State) Triggered() bool { return !s.LastTriggeredAt.IsZero() }

// ShouldConsider is true once the suppression window is exhausted.
func (s State) ShouldConsider() bool { return s.SuppressionCount <= 0 }

// CooldownElapsed treats a never-triggered session as elapsed.
func (s State) CooldownElapsed(now time.Time, cooldown time.Duration) bool {
	if !s.Triggered() {
		return true
	}
	return now.Sub(s.LastTriggeredAt) >= cooldown
}

// SinceLastTrigger returns the time since the last trigger, or false if none.
func (s State) SinceLastTrigger(now time.Time) (time.Duration, bool) {
	if !s.Triggered() {
		return 0, false
	}
	return now.Sub(s.LastTriggeredAt), true
}

func (s State) seen(turnID string) bool {
	return turnID != "" && slices.Contains(s.RecentTurns, turnID)
}

func (s State) clone() State {
	c := s
	c.RecentTurns = slices.Clone(s.RecentTurns)
	return c
}

func (s *State) remember(turnID string) {
	if turnID == "" {
		return
	}
	s.RecentTurns = append(s.RecentTurns, turnID)
	if over := len(s.RecentTurns) - recentTurnLimit; over > 0 {
		s.RecentTurns = slices.Clone(s.RecentTurns[over:])
	}
}

// Store keeps throttle state keyed by session id. CompareAndSwap writes next
// only if the stored version still equals expected, and stores it with
// version expected+1.
type Store interface {
	Load(ctx context.Context, sessionID string) (State, error)
	CompareAndSwap(ctx context.Context, sessionID string, expected int64, next State) (bool, error)
}
