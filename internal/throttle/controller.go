package throttle

import (
	"context"
	"fmt"
	"time"
)

const casAttempts = 8

// Policy holds the tunable throttle magnitudes.
type Policy struct {
	Cooldown         time.Duration
	SuppressionTurns int
}

func DefaultPolicy() Policy {
	return Policy{
		Cooldown:         3 * time.Minute,
		SuppressionTurns: 2,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Cooldown < 0 {
		p.Cooldown = d.Cooldown
	}
	if p.SuppressionTurns < 0 {
		p.SuppressionTurns = d.SuppressionTurns
	}
	return p
}

// Controller enforces the cooldown and the turn suppression window for each
// session. It holds no state of its own; all mutation goes through Store.
type Controller struct {
	store  Store
	policy Policy
	now    func() time.Time
}

func NewController(store Store, policy Policy) *Controller {
	return &Controller{
		store:  store,
		policy: policy.normalized(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithPolicy returns a controller sharing the same store with other magnitudes.
func (c *Controller) WithPolicy(p Policy) *Controller {
	cp := *c
	cp.policy = p.normalized()
	return &cp
}

// WithClock returns a controller reading time from now.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	cp := *c
	cp.now = now
	return &cp
}

func (c *Controller) Policy() Policy { return c.policy }

func (c *Controller) Now() time.Time { return c.now() }

// Snapshot returns the current state of the session, lazily zero.
func (c *Controller) Snapshot(ctx context.Context, sessionID string) (State, error) {
	st, err := c.store.Load(ctx, sessionID)
	if err != nil {
		return State{}, fmt.Errorf("load throttle state: %w", err)
	}
	return st, nil
}

func (c *Controller) ShouldConsiderTrigger(ctx context.Context, sessionID string) (bool, error) {
	st, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return st.ShouldConsider(), nil
}

func (c *Controller) CooldownElapsed(ctx context.Context, sessionID string) (bool, error) {
	st, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return st.CooldownElapsed(c.now(), c.policy.Cooldown), nil
}

// Eligible applies both throttle guards to a snapshot.
func (c *Controller) Eligible(st State) bool {
	return st.ShouldConsider() && st.CooldownElapsed(c.now(), c.policy.Cooldown)
}

// RecordTurnProcessed consumes one turn of the suppression window when the
// turn belongs to the thread that was interjected. It is a no-op for turns of
// other threads, when the window is already closed, or when turnID was
// already applied.
func (c *Controller) RecordTurnProcessed(ctx context.Context, sessionID, threadID, turnID string) error {
	return c.update(ctx, sessionID, func(st State) (State, bool) {
		if st.SuppressionCount <= 0 || st.seen(turnID) {
			return st, false
		}
		// States written without a thread fall back to session-wide counting.
		if st.SuppressedThreadID != "" && threadID != st.SuppressedThreadID {
			return st, false
		}
		st.SuppressionCount--
		st.remember(turnID)
		return st, true
	})
}

// RecordTriggered opens a new suppression window on threadID and stamps the
// trigger time.
func (c *Controller) RecordTriggered(ctx context.Context, sessionID, threadID, turnID string) error {
	return c.update(ctx, sessionID, func(st State) (State, bool) {
		if st.seen(turnID) {
			return st, false
		}
		return c.triggered(st, threadID, turnID), true
	})
}

// CommitTrigger records a trigger decided on snapshot. It fails with
// ErrConflict if any other turn mutated the session since the snapshot.
func (c *Controller) CommitTrigger(ctx context.Context, sessionID, threadID, turnID string, snapshot State) error {
	next := c.triggered(snapshot.clone(), threadID, turnID)
	ok, err := c.store.CompareAndSwap(ctx, sessionID, snapshot.Version, next)
	if err != nil {
		return fmt.Errorf("commit trigger: %w", err)
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (c *Controller) triggered(st State, threadID, turnID string) State {
	now := c.now()
	st.SuppressionCount = c.policy.SuppressionTurns
	st.SuppressedThreadID = threadID
	st.LastTriggeredAt = now
	st.UpdatedAt = now
	st.remember(turnID)
	return st
}

func (c *Controller) update(ctx context.Context, sessionID string, mutate func(State) (State, bool)) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur, err := c.store.Load(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load throttle state: %w", err)
		}
		next, changed := mutate(cur.clone())
		if !changed {
			return nil
		}
		next.UpdatedAt = c.now()
		ok, err := c.store.CompareAndSwap(ctx, sessionID, cur.Version, next)
		if err != nil {
			return fmt.Errorf("write throttle state: %w", err)
		}
		if ok {
			return nil
		}
	}
	return ErrConflict
}
