package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler runs a callback after a delay, keyed so a pending callback can
// be canceled (spec §4.2, timer-driven activities; §5, Resource model). A
// reference implementation backed by a binary heap, grounded on the
// teacher's graph/scheduler.go work-heap, ships in the sibling `sched`
// package.
type Scheduler interface {
	ScheduleAfter(ctx context.Context, key string, d time.Duration, fn func(context.Context) error) error
	Cancel(key string) error
}

// inlineScheduler runs fn synchronously once a timer for d has fired,
// returning ctx.Err() instead if ctx is done first; it is the
// engine's zero-value default and is adequate for tests and short delays.
// Production deployments should install a sched.Scheduler instead. Unlike
// a no-op stub, Cancel here actually suppresses a still-pending fire: a key
// marked canceled before its timer elapses never runs fn.
type inlineScheduler struct {
	mu       sync.Mutex
	canceled map[string]bool
}

func newInlineScheduler() *inlineScheduler {
	return &inlineScheduler{canceled: make(map[string]bool)}
}

func (s *inlineScheduler) ScheduleAfter(ctx context.Context, key string, d time.Duration, fn func(context.Context) error) error {
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	s.mu.Lock()
	canceled := s.canceled[key]
	delete(s.canceled, key)
	s.mu.Unlock()
	if canceled {
		return nil
	}
	return fn(ctx)
}

func (s *inlineScheduler) Cancel(key string) error {
	s.mu.Lock()
	s.canceled[key] = true
	s.mu.Unlock()
	return nil
}

// schedulerRegistry records every outstanding scheduled-invocation key
// against the task generation or work item that owns it, so a terminal
// transition can sweep them all (spec §4.7, Scheduler registry — "every
// deferred invocation created inside an activity is recorded against its
// owning task or work item... on terminal transitions the engine cancels
// outstanding invocations").
type schedulerRegistry struct {
	mu      sync.Mutex
	byOwner map[string][]string
}

func newSchedulerRegistry() *schedulerRegistry {
	return &schedulerRegistry{byOwner: make(map[string][]string)}
}

func (r *schedulerRegistry) add(owner, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byOwner[owner] = append(r.byOwner[owner], key)
}

func (r *schedulerRegistry) drain(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.byOwner[owner]
	delete(r.byOwner, owner)
	return keys
}

func (r *schedulerRegistry) remove(owner, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.byOwner[owner]
	for i, k := range keys {
		if k == key {
			r.byOwner[owner] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(r.byOwner[owner]) == 0 {
		delete(r.byOwner, owner)
	}
}

// scheduleFor runs fn after d, recording the scheduler key against owner so
// a later cancelScheduledFor(owner) can cancel it before it fires. The key
// is dropped from the registry once fn returns (successfully or not), so a
// long-lived engine does not accumulate entries for invocations that already
// ran.
func (e *Engine) scheduleFor(ctx context.Context, owner string, d time.Duration, fn func(context.Context) error) error {
	key := owner + "#" + uuid.NewString()
	e.schedules.add(owner, key)
	wrapped := func(c context.Context) error {
		defer e.schedules.remove(owner, key)
		return fn(c)
	}
	return e.scheduler.ScheduleAfter(ctx, key, d, wrapped)
}

// cancelScheduledFor cancels every outstanding scheduled invocation
// recorded against owner, used when a task generation or work item reaches
// a terminal state.
func (e *Engine) cancelScheduledFor(owner string) {
	for _, key := range e.schedules.drain(owner) {
		_ = e.scheduler.Cancel(key)
	}
}
