package emit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiborkr/tasquencer/engine"
)

// Record is one completed or in-flight span captured by BufferTracer.
// Depth and Path mirror a call stack: Path is the span-name chain from the
// trace root down to this span, Depth is len(Path)-1. SequenceNumber is
// monotone per trace and survives Clear, so replaying a trimmed buffer
// alongside an untrimmed one never produces colliding order keys.
type Record struct {
	TraceID        string
	SpanID         string
	ParentSpanID   string
	Name           string
	Depth          int
	Path           []string
	SequenceNumber int64
	Attributes     map[string]string
	Events         []RecordEvent
	Status         string
	StatusDetail   string
	StartedAt      time.Time
	EndedAt        time.Time
}

// RecordEvent is a point-in-time annotation added to a Record via
// Span.AddEvent.
type RecordEvent struct {
	Name       string
	Attributes map[string]string
	At         time.Time
}

// Filter narrows GetHistory to matching records; zero-value fields are
// unfiltered. Multiple set fields combine with AND.
type Filter struct {
	Name     string
	MinDepth *int
	MaxDepth *int
}

// BufferTracer is an in-memory engine.Tracer, grounded on the teacher's
// BufferedEmitter: thread-safe, queryable by trace, and built for tests
// and short-lived debugging sessions rather than production retention.
type BufferTracer struct {
	mu      sync.Mutex
	byTrace map[string][]*Record
	seq     map[string]int64
	clock   func() time.Time
}

// NewBufferTracer creates an empty BufferTracer.
func NewBufferTracer() *BufferTracer {
	return &BufferTracer{
		byTrace: make(map[string][]*Record),
		seq:     make(map[string]int64),
	}
}

func (b *BufferTracer) now() time.Time {
	if b.clock != nil {
		return b.clock()
	}
	return time.Now().UTC()
}

func (b *BufferTracer) Start(ctx context.Context, spanName string, attrs map[string]string) (context.Context, engine.Span) {
	parent, hasParent := spanInfoFromContext(ctx)

	traceID := parent.traceID
	if !hasParent || traceID == "" {
		traceID = uuid.NewString()
	}
	depth := 0
	var path []string
	var parentSpanID string
	if hasParent {
		depth = parent.depth + 1
		path = append(append([]string{}, parent.path...), spanName)
		parentSpanID = parent.spanID
	} else {
		path = []string{spanName}
	}

	b.mu.Lock()
	b.seq[traceID]++
	seq := b.seq[traceID]
	rec := &Record{
		TraceID:        traceID,
		SpanID:         uuid.NewString(),
		ParentSpanID:   parentSpanID,
		Name:           spanName,
		Depth:          depth,
		Path:           path,
		SequenceNumber: seq,
		Attributes:     copyAttrs(attrs),
		StartedAt:      b.now(),
	}
	b.byTrace[traceID] = append(b.byTrace[traceID], rec)
	b.mu.Unlock()

	next := withSpanInfo(ctx, spanInfo{traceID: traceID, spanID: rec.SpanID, depth: depth, path: path})
	return next, &bufferSpan{tracer: b, rec: rec}
}

// GetHistory returns a copy of every record captured for traceID, ordered
// by SequenceNumber.
func (b *BufferTracer) GetHistory(traceID string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return snapshotRecords(b.byTrace[traceID])
}

// GetHistoryWithFilter returns a filtered, ordered copy of traceID's
// records. An empty traceID selects the records of every trace, grouped by
// trace id in sorted order.
func (b *BufferTracer) GetHistoryWithFilter(traceID string, f Filter) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := b.byTrace[traceID]
	if traceID == "" {
		ids := make([]string, 0, len(b.byTrace))
		for id := range b.byTrace {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		all = nil
		for _, id := range ids {
			all = append(all, b.byTrace[id]...)
		}
	}
	if f.Name == "" && f.MinDepth == nil && f.MaxDepth == nil {
		return snapshotRecords(all)
	}
	var matched []*Record
	for _, r := range all {
		if f.Name != "" && r.Name != f.Name {
			continue
		}
		if f.MinDepth != nil && r.Depth < *f.MinDepth {
			continue
		}
		if f.MaxDepth != nil && r.Depth > *f.MaxDepth {
			continue
		}
		matched = append(matched, r)
	}
	return snapshotRecords(matched)
}

// Clear discards traceID's buffered records (or every trace, if traceID is
// empty) while preserving its sequence counter, so spans recorded after a
// Clear keep monotone, gap-free numbering relative to what was discarded.
func (b *BufferTracer) Clear(traceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if traceID == "" {
		b.byTrace = make(map[string][]*Record)
		return
	}
	delete(b.byTrace, traceID)
}

func snapshotRecords(in []*Record) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = *r
	}
	return out
}

func copyAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

type bufferSpan struct {
	tracer *BufferTracer
	rec    *Record
}

func (s *bufferSpan) End() {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.rec.EndedAt = s.tracer.now()
}

func (s *bufferSpan) SetStatus(code, description string) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.rec.Status = code
	s.rec.StatusDetail = description
}

func (s *bufferSpan) SetAttributes(attrs map[string]string) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	for k, v := range attrs {
		s.rec.Attributes[k] = v
	}
}

func (s *bufferSpan) AddEvent(name string, attrs map[string]string) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.rec.Events = append(s.rec.Events, RecordEvent{Name: name, Attributes: copyAttrs(attrs), At: s.tracer.now()})
}
