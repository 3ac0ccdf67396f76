package observability

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Span is one finished span in the in-process trace store.
type Span struct {
	SpanID   string         `json:"span_id"`
	ParentID string         `json:"parent_id,omitempty"`
	TraceID  string         `json:"trace_id"`
	Name     string         `json:"name"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// Duration returns the span's wall time.
func (s Span) Duration() time.Duration { return s.End.Sub(s.Start) }

// SpanMirror receives every finished span. Optional export bridge; the
// recorder works identically without one.
type SpanMirror interface {
	MirrorSpan(span Span)
}

// SpanRecorder collects hierarchical spans: one root per workflow, one
// child per node. Finished spans are queryable for health and tests.
type SpanRecorder struct {
	mu       sync.Mutex
	finished []Span
	mirror   SpanMirror
}

// NewSpanRecorder creates an empty recorder.
func NewSpanRecorder() *SpanRecorder {
	return &SpanRecorder{}
}

// ActiveSpan is a span still open. End finishes and stores it.
type ActiveSpan struct {
	rec     *SpanRecorder
	span    Span
	endOnce sync.Once
}

// StartRoot opens a root span with a fresh trace id.
func (r *SpanRecorder) StartRoot(name string, attrs map[string]any) *ActiveSpan {
	return &ActiveSpan{
		rec: r,
		span: Span{
			SpanID:  uuid.New().String(),
			TraceID: uuid.New().String(),
			Name:    name,
			Start:   time.Now().UTC(),
			Attrs:   attrs,
		},
	}
}

// StartChild opens a child span under parent.
func (r *SpanRecorder) StartChild(parent *ActiveSpan, name string, attrs map[string]any) *ActiveSpan {
	return &ActiveSpan{
		rec: r,
		span: Span{
			SpanID:   uuid.New().String(),
			ParentID: parent.span.SpanID,
			TraceID:  parent.span.TraceID,
			Name:     name,
			Start:    time.Now().UTC(),
			Attrs:    attrs,
		},
	}
}

// TraceID returns the span's trace id.
func (a *ActiveSpan) TraceID() string { return a.span.TraceID }

// SetAttr attaches an attribute to the open span.
func (a *ActiveSpan) SetAttr(key string, value any) {
	if a.span.Attrs == nil {
		a.span.Attrs = make(map[string]any)
	}
	a.span.Attrs[key] = value
}

// SetMirror forwards every subsequently finished span to m.
func (r *SpanRecorder) SetMirror(m SpanMirror) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = m
}

// End closes the span, stores it and hands it to the mirror. Idempotent.
func (a *ActiveSpan) End() {
	a.endOnce.Do(func() {
		a.span.End = time.Now().UTC()
		a.rec.mu.Lock()
		a.rec.finished = append(a.rec.finished, a.span)
		mirror := a.rec.mirror
		a.rec.mu.Unlock()
		if mirror != nil {
			mirror.MirrorSpan(a.span)
		}
	})
}

// Finished returns a copy of all closed spans.
func (r *SpanRecorder) Finished() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Span, len(r.finished))
	copy(out, r.finished)
	return out
}

// ByTrace returns the closed spans of one trace, roots first.
func (r *SpanRecorder) ByTrace(traceID string) []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Span
	for _, s := range r.finished {
		if s.TraceID == traceID {
			out = append(out, s)
		}
	}
	return out
}
