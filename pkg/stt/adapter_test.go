package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/elara/pkg/errorsx"
	"github.com/harunnryd/elara/pkg/jobqueue"
)

type fastMock struct {
	result Result
	err    error
	calls  int
}

func (f *fastMock) Transcribe(ctx context.Context, audio []byte, format string) (Result, error) {
	f.calls++
	return f.result, f.err
}

func TestFastPathSuccess(t *testing.T) {
	fast := &fastMock{result: Result{Text: "bonjour", Language: "fr"}}
	queue := jobqueue.NewMemory()
	adapter := NewAdapter(fast, queue, Config{})

	res, err := adapter.Transcribe(context.Background(), []byte("pcm"), "wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "bonjour" || res.Language != "fr" {
		t.Errorf("result = %+v", res)
	}
	if job := queue.Pop("stt:jobs"); job != nil {
		t.Error("fast path success must not enqueue a fallback job")
	}
}

func TestFallbackAfterFastFailure(t *testing.T) {
	fast := &fastMock{err: errors.New("connection refused")}
	queue := jobqueue.NewMemory()
	adapter := NewAdapter(fast, queue, Config{PollTimeout: 2 * time.Second})

	audio := []byte{0x01, 0x02, 0x03}
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			raw := queue.Pop("stt:jobs")
			if raw == nil {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			var j struct {
				JobID       string `json:"job_id"`
				AudioBase64 string `json:"audio_base64"`
				Format      string `json:"format"`
			}
			if err := json.Unmarshal(raw, &j); err != nil {
				t.Errorf("unmarshal job: %v", err)
				return
			}
			decoded, _ := base64.StdEncoding.DecodeString(j.AudioBase64)
			if string(decoded) != string(audio) || j.Format != "wav" {
				t.Errorf("job = %+v", j)
			}
			out, _ := json.Marshal(map[string]any{"text": "salut", "language": "fr", "duration_ms": 840})
			queue.SetResult("stt:result:"+j.JobID, out)
			return
		}
		t.Error("no job appeared on the fallback queue")
	}()

	res, err := adapter.Transcribe(context.Background(), audio, "wav")
	<-done
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "salut" || res.DurationMS != 840 {
		t.Errorf("result = %+v", res)
	}
	if fast.calls != 1 {
		t.Errorf("fast calls = %d", fast.calls)
	}
}

func TestBothTiersFailIsProviderUnavailable(t *testing.T) {
	fast := &fastMock{err: errors.New("down")}
	queue := jobqueue.NewMemory()
	adapter := NewAdapter(fast, queue, Config{PollTimeout: 100 * time.Millisecond})

	_, err := adapter.Transcribe(context.Background(), []byte("pcm"), "wav")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonProviderUnavailable) {
		t.Errorf("reason = %v", errorsx.Reason(err))
	}
}

func TestNoFallbackConfigured(t *testing.T) {
	fast := &fastMock{err: errors.New("down")}
	adapter := NewAdapter(fast, nil, Config{})

	_, err := adapter.Transcribe(context.Background(), []byte("pcm"), "wav")
	if !errorsx.HasReason(err, errorsx.ReasonProviderUnavailable) {
		t.Errorf("reason = %v", errorsx.Reason(err))
	}
}
