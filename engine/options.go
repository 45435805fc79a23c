package engine

import "time"

// Option configures an Engine at construction time (spec §2, Ambient
// stack — functional options, matching the teacher's graph.Option
// pattern).
type Option func(*Engine) error

// WithTracer installs the audit tracer. The default is a no-op tracer.
func WithTracer(t Tracer) Option {
	return func(e *Engine) error {
		if t != nil {
			e.tracer = t
		}
		return nil
	}
}

// WithMetrics installs a telemetry sink. The default discards everything.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) error {
		if m != nil {
			e.metrics = m
		}
		return nil
	}
}

// WithClock overrides time.Now, primarily for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) error {
		if clock != nil {
			e.clock = clock
		}
		return nil
	}
}

// WithScheduler installs the deferred-work scheduler used for timer-driven
// task activities (spec §4.2, fast-forward timers). The default is a
// scheduler that runs entirely in-process.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) error {
		if s != nil {
			e.scheduler = s
		}
		return nil
	}
}
