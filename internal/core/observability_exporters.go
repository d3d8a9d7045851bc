package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Process-local instrumentation sinks. The expvar recorder aggregates
// per-operation counters for deployments that do not run a metrics server;
// the JSON tracer writes one line per finished span so operation outcomes
// survive in plain logs.

var expvarSeq uint64

// OperationMetrics aggregates the observed outcomes of one service operation.
type OperationMetrics struct {
	Calls   int64   `json:"calls"`
	Errors  int64   `json:"errors"`
	TotalMS float64 `json:"total_ms"`
}

// ExpvarMetricsRecorder implements MetricsRecorder over expvar. Each
// recorder publishes itself once under its name, so names must be unique
// within a process.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  map[string]OperationMetrics
}

// NewExpvarMetricsRecorder publishes a recorder under name. An empty name
// gets a generated one.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("lifecycle_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	r := &ExpvarMetricsRecorder{name: name, ops: make(map[string]OperationMetrics)}
	expvar.Publish(name, expvar.Func(func() any { return r.Snapshot() }))
	return r
}

// Name returns the expvar name the recorder publishes under.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the aggregated metrics keyed by operation.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]OperationMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OperationMetrics, len(r.ops))
	for op, m := range r.ops {
		out[op] = m
	}
	return out
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	m := r.ops[operation]
	m.Calls++
	if !success {
		m.Errors++
	}
	m.TotalMS += float64(duration) / float64(time.Millisecond)
	r.ops[operation] = m
	r.mu.Unlock()
}

// TraceEvent is one finished span as emitted by the JSON tracer.
type TraceEvent struct {
	Op        string    `json:"op"`
	Outcome   string    `json:"outcome"`
	ElapsedMS float64   `json:"elapsed_ms"`
	Error     string    `json:"error,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// JSONTraceTracer implements Tracer by writing finished spans as JSON lines.
// Finished spans are also retained in memory for Events.
type JSONTraceTracer struct {
	mu  sync.Mutex
	enc *json.Encoder
	log []TraceEvent
}

// NewJSONTracer builds a tracer writing to w. A nil writer keeps spans in
// memory only.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Events returns the spans finished so far.
func (t *JSONTraceTracer) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEvent, len(t.log))
	copy(out, t.log)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, op: operation, start: time.Now().UTC()}
}

type jsonSpan struct {
	tracer *JSONTraceTracer
	op     string
	start  time.Time
}

func (s *jsonSpan) End(err error) {
	ev := TraceEvent{Op: s.op, Outcome: "ok", Start: s.start, End: time.Now().UTC()}
	ev.ElapsedMS = float64(ev.End.Sub(ev.Start)) / float64(time.Millisecond)
	if err != nil {
		ev.Outcome = "error"
		ev.Error = err.Error()
	}
	t := s.tracer
	t.mu.Lock()
	t.log = append(t.log, ev)
	if t.enc != nil {
		_ = t.enc.Encode(ev)
	}
	t.mu.Unlock()
}
