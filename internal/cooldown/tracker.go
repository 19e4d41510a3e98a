// Package cooldown tracks skill reuse timers and mirrors them to redis so
// they survive a relog.
package cooldown

import (
	"context"
	"sync"
	"time"
)

type key struct {
	actor string
	skill int
}

// Mirror persists reuse timers outside the process.
type Mirror interface {
	Save(actor string, skillID int, expiry time.Time)
	Load(ctx context.Context, actor string) (map[int]time.Time, error)
}

// Tracker is an in-memory reuse timer table. It is safe for concurrent use by
// every region.
type Tracker struct {
	mu       sync.Mutex
	expiries map[key]time.Time
	mirror   Mirror
}

// NewTracker creates a tracker. mirror may be nil.
func NewTracker(mirror Mirror) *Tracker {
	return &Tracker{
		expiries: make(map[key]time.Time),
		mirror:   mirror,
	}
}

// Remaining returns how long the skill stays on cooldown.
func (t *Tracker) Remaining(actor string, skillID int, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{actor: actor, skill: skillID}
	exp, ok := t.expiries[k]
	if !ok {
		return 0
	}
	if !exp.After(now) {
		delete(t.expiries, k)
		return 0
	}
	return exp.Sub(now)
}

// Start begins a reuse timer of length d.
func (t *Tracker) Start(actor string, skillID int, d time.Duration, now time.Time) {
	exp := now.Add(d)
	t.mu.Lock()
	t.expiries[key{actor: actor, skill: skillID}] = exp
	t.mu.Unlock()

	if t.mirror != nil {
		t.mirror.Save(actor, skillID, exp)
	}
}

// Restore loads the actor's mirrored timers. Expired entries are skipped.
func (t *Tracker) Restore(ctx context.Context, actor string, now time.Time) (int, error) {
	if t.mirror == nil {
		return 0, nil
	}
	loaded, err := t.mirror.Load(ctx, actor)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for skill, exp := range loaded {
		if !exp.After(now) {
			continue
		}
		t.expiries[key{actor: actor, skill: skill}] = exp
		n++
	}
	return n, nil
}

// Forget drops every timer of an actor from memory. The mirror keeps them.
func (t *Tracker) Forget(actor string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.expiries {
		if k.actor == actor {
			delete(t.expiries, k)
		}
	}
}

// Prune drops expired timers and returns how many were removed.
func (t *Tracker) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, exp := range t.expiries {
		if !exp.After(now) {
			delete(t.expiries, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked timers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.expiries)
}
