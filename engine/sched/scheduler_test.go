package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestScheduler_RunsAfterDelay(t *testing.T) {
	s := New()
	defer s.Close()

	fired := make(chan struct{})
	start := time.Now()
	if err := s.ScheduleAfter(context.Background(), "k1", 20*time.Millisecond, func(context.Context) error {
		close(fired)
		return nil
	}); err != nil {
		t.Fatalf("ScheduleAfter: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("callback fired suspiciously early")
	}
}

func TestScheduler_ZeroDelayRunsInline(t *testing.T) {
	s := New()
	defer s.Close()

	var ran bool
	err := s.ScheduleAfter(context.Background(), "k", 0, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("ScheduleAfter: %v", err)
	}
	if !ran {
		t.Error("zero-delay callback should run synchronously")
	}
}

func TestScheduler_ContextAlreadyCanceled(t *testing.T) {
	s := New()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.ScheduleAfter(ctx, "k", time.Second, func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("ScheduleAfter: got %v, want context.Canceled", err)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := New()
	defer s.Close()

	var mu sync.Mutex
	fired := false
	if err := s.ScheduleAfter(context.Background(), "k", 50*time.Millisecond, func(context.Context) error {
		mu.Lock()
		fired = true
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("ScheduleAfter: %v", err)
	}

	if err := s.Cancel("k"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Error("canceled callback fired")
	}
}

func TestScheduler_CancelUnknownKeyIsNoop(t *testing.T) {
	s := New()
	defer s.Close()

	if err := s.Cancel("never-scheduled"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestScheduler_RescheduleSameKeyReplaces(t *testing.T) {
	s := New()
	defer s.Close()

	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)

	_ = s.ScheduleAfter(context.Background(), "k", time.Hour, func(context.Context) error {
		first <- struct{}{}
		return nil
	})
	_ = s.ScheduleAfter(context.Background(), "k", 10*time.Millisecond, func(context.Context) error {
		second <- struct{}{}
		return nil
	})

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement callback did not fire")
	}
	select {
	case <-first:
		t.Fatal("original callback should have been replaced")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_Backlog(t *testing.T) {
	s := New()
	defer s.Close()

	_ = s.ScheduleAfter(context.Background(), "a", time.Hour, func(context.Context) error { return nil })
	_ = s.ScheduleAfter(context.Background(), "b", time.Hour, func(context.Context) error { return nil })

	if got := s.Backlog(); got != 2 {
		t.Errorf("Backlog() = %d, want 2", got)
	}

	_ = s.Cancel("a")
	if got := s.Backlog(); got != 1 {
		t.Errorf("Backlog() after cancel = %d, want 1", got)
	}
}

func TestScheduler_CloseDiscardsPending(t *testing.T) {
	s := New()

	fired := make(chan struct{}, 1)
	_ = s.ScheduleAfter(context.Background(), "k", 50*time.Millisecond, func(context.Context) error {
		fired <- struct{}{}
		return nil
	})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case <-fired:
		t.Error("callback fired after Close")
	case <-time.After(100 * time.Millisecond):
	}
}
