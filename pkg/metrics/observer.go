package metrics

import (
	"log/slog"
	"sort"
	"time"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// SlogObserver emits each metrics event as one structured log record.
// Tags and fields are flattened into sorted attributes so records stay
// diffable.
type SlogObserver struct {
	Log *slog.Logger
}

func (o SlogObserver) RecordEvent(ev MetricsEvent) {
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := make([]any, 0, 2*(len(ev.Tags)+len(ev.Fields))+2)
	attrs = append(attrs, "value", ev.Value)
	for _, k := range sortedKeys(ev.Tags) {
		attrs = append(attrs, k, ev.Tags[k])
	}
	for _, k := range sortedKeys(ev.Fields) {
		attrs = append(attrs, k, ev.Fields[k])
	}
	log.Info(ev.Name, attrs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
