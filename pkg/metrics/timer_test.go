package metrics

import (
	"testing"
	"time"
)

func TestPipelineTimerEndUnstarted(t *testing.T) {
	pt := NewPipelineTimer(nil)
	if d := pt.End("transcription"); d != 0 {
		t.Fatalf("expected 0 for unstarted label, got %d", d)
	}
}

func TestPipelineTimerLastStartWins(t *testing.T) {
	pt := NewPipelineTimer(nil)
	pt.Start("think")
	time.Sleep(30 * time.Millisecond)
	pt.Start("think")
	d := pt.End("think")
	if d >= 30 {
		t.Fatalf("expected restart to reset the clock, got %dms", d)
	}
}

func TestPipelineTimerMetrics(t *testing.T) {
	pt := NewPipelineTimer(nil)
	pt.Start("transcription")
	time.Sleep(5 * time.Millisecond)
	pt.End("transcription")
	pt.Start("synthesis")
	pt.End("synthesis")

	m := pt.Metrics()
	if len(m) != 2 {
		t.Fatalf("expected 2 stages, got %v", m)
	}
	if m["transcription"] < 5 {
		t.Fatalf("expected transcription >= 5ms, got %d", m["transcription"])
	}
	if _, ok := m["synthesis"]; !ok {
		t.Fatalf("missing synthesis stage")
	}
}
