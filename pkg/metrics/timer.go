package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// PipelineTimer measures named pipeline stages for one turn. Starting a
// label twice overwrites the previous start; ending an unstarted label
// yields zero.
type PipelineTimer struct {
	mu        sync.Mutex
	starts    map[string]time.Time
	durations map[string]int64
	order     []string
	log       *slog.Logger
}

func NewPipelineTimer(log *slog.Logger) *PipelineTimer {
	if log == nil {
		log = slog.Default()
	}
	return &PipelineTimer{
		starts:    make(map[string]time.Time),
		durations: make(map[string]int64),
		log:       log,
	}
}

func (t *PipelineTimer) Start(label string) {
	t.mu.Lock()
	t.starts[label] = time.Now()
	t.mu.Unlock()
}

// End stops a stage and returns its duration in milliseconds.
func (t *PipelineTimer) End(label string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.starts[label]
	if !ok {
		return 0
	}
	delete(t.starts, label)
	d := time.Since(start).Milliseconds()
	if _, seen := t.durations[label]; !seen {
		t.order = append(t.order, label)
	}
	t.durations[label] = d
	return d
}

// Metrics returns a copy of all completed stage durations.
func (t *PipelineTimer) Metrics() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.durations))
	for k, v := range t.durations {
		out[k] = v
	}
	return out
}

// LogSummary emits one structured event with all stage durations and
// their sum, keyed by the request id for correlation.
func (t *PipelineTimer) LogSummary(requestID string) {
	t.mu.Lock()
	attrs := make([]any, 0, 2*len(t.order)+4)
	attrs = append(attrs, "request_id", requestID)
	var total int64
	for _, label := range t.order {
		attrs = append(attrs, label+"_ms", t.durations[label])
		total += t.durations[label]
	}
	attrs = append(attrs, "total_ms", total)
	t.mu.Unlock()
	t.log.Info("pipeline_metrics", attrs...)
}
