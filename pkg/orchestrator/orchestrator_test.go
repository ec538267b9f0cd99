package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/elara/pkg/events"
	"github.com/harunnryd/elara/pkg/llm"
	"github.com/harunnryd/elara/pkg/metrics"
	"github.com/harunnryd/elara/pkg/stt"
	"github.com/harunnryd/elara/pkg/tools"
	"github.com/harunnryd/elara/pkg/tts"
)

type fakeConn struct {
	mu     sync.Mutex
	events []events.ServerEvent
	closed bool
}

func (c *fakeConn) SendEvent(ev events.ServerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) snapshot() []events.ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.ServerEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) waitFor(t *testing.T, match func(events.ServerEvent) bool) events.ServerEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range c.snapshot() {
			if match(ev) {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event never arrived; got %+v", c.snapshot())
	return events.ServerEvent{}
}

func (c *fakeConn) waitForState(t *testing.T, state string) {
	t.Helper()
	c.waitFor(t, func(ev events.ServerEvent) bool {
		return ev.Type == events.EvStateChange && ev.State == state
	})
}

type mockLLM struct {
	mu        sync.Mutex
	chat      func(req llm.Request) (llm.Response, error)
	followUp  func(req llm.Request, first llm.Response, results []llm.ToolResult) (llm.Response, error)
	chatCalls []llm.Request
}

func (m *mockLLM) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.chatCalls = append(m.chatCalls, req)
	fn := m.chat
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return llm.Response{Text: "Hello there."}, nil
}

func (m *mockLLM) setChat(fn func(req llm.Request) (llm.Response, error)) {
	m.mu.Lock()
	m.chat = fn
	m.mu.Unlock()
}

func (m *mockLLM) ChatWithToolResults(ctx context.Context, req llm.Request, first llm.Response, results []llm.ToolResult) (llm.Response, error) {
	if m.followUp != nil {
		return m.followUp(req, first, results)
	}
	return llm.Response{Text: "Folded."}, nil
}

func (m *mockLLM) Name() string { return "mock" }

type mockSTT struct {
	text string
	err  error
}

func (m *mockSTT) Transcribe(ctx context.Context, audio []byte, format string) (stt.Result, error) {
	if m.err != nil {
		return stt.Result{}, m.err
	}
	return stt.Result{Text: m.text}, nil
}

type mockTTS struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (m *mockTTS) Synthesize(ctx context.Context, text string) (tts.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	if m.err != nil {
		return tts.Result{}, m.err
	}
	return tts.Result{AudioBase64: base64.StdEncoding.EncodeToString([]byte(text))}, nil
}

func (m *mockTTS) sentences() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func newTestOrchestrator(adapter llm.Adapter, transcriber Transcriber, synthesizer Synthesizer, runner ToolRunner) *Orchestrator {
	return New(Config{}, adapter, transcriber, synthesizer, nil, runner)
}

func frame(t *testing.T, v map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return raw
}

func TestConnectSendsWelcome(t *testing.T) {
	conn := &fakeConn{}
	o := newTestOrchestrator(&mockLLM{}, &mockSTT{}, &mockTTS{}, nil)
	o.Connect(conn, "user-1")

	ev := conn.waitFor(t, func(ev events.ServerEvent) bool { return ev.Type == events.EvConnected })
	if ev.UserID != "user-1" {
		t.Errorf("UserID = %q", ev.UserID)
	}
}

func TestTextMessageFullTurn(t *testing.T) {
	conn := &fakeConn{}
	synth := &mockTTS{}
	o := newTestOrchestrator(&mockLLM{
		chat: func(req llm.Request) (llm.Response, error) {
			return llm.Response{Text: "Bonjour. Comment vas-tu?"}, nil
		},
	}, &mockSTT{}, synth, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "salut"}))
	conn.waitForState(t, "completed")

	if got := synth.sentences(); len(got) != 2 || got[0] != "Bonjour." || got[1] != "Comment vas-tu?" {
		t.Errorf("synthesized = %v", got)
	}

	var sawThinking, sawSynth, sawStreaming, sawText bool
	for _, ev := range conn.snapshot() {
		switch {
		case ev.Type == events.EvStateChange && ev.State == "thinking":
			sawThinking = true
		case ev.Type == events.EvStateChange && ev.State == "synthesizing":
			sawSynth = true
		case ev.Type == events.EvStateChange && ev.State == "streaming_audio":
			sawStreaming = true
		case ev.Type == events.EvTextResponse:
			sawText = true
			if ev.Text != "Bonjour. Comment vas-tu?" {
				t.Errorf("text_response = %q", ev.Text)
			}
		}
	}
	if !sawThinking || !sawSynth || !sawStreaming || !sawText {
		t.Errorf("missing lifecycle events: thinking=%v synth=%v streaming=%v text=%v",
			sawThinking, sawSynth, sawStreaming, sawText)
	}

	if _, active := o.ActiveRequest("user-1"); active {
		t.Error("request still registered after completion")
	}
}

func TestAudioMessageEventSequence(t *testing.T) {
	conn := &fakeConn{}
	o := newTestOrchestrator(&mockLLM{}, &mockSTT{text: "quelle heure est-il"}, &mockTTS{}, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{
		"type":  "audio_message",
		"audio": base64.StdEncoding.EncodeToString([]byte("pcm-bytes")),
	}))
	conn.waitForState(t, "completed")

	var order []string
	for _, ev := range conn.snapshot() {
		if ev.Type == events.EvStateChange {
			order = append(order, ev.State)
		}
	}
	want := []string{"transcribing", "thinking", "synthesizing", "streaming_audio", "completed"}
	if len(order) != len(want) {
		t.Fatalf("states = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("states = %v, want %v", order, want)
		}
	}

	tr := conn.waitFor(t, func(ev events.ServerEvent) bool { return ev.Type == events.EvTranscript })
	if tr.Text != "quelle heure est-il" || !tr.Final {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestChunkedAudioTurn(t *testing.T) {
	conn := &fakeConn{}
	transcriber := &recordingSTT{text: "bonjour"}
	o := newTestOrchestrator(&mockLLM{}, transcriber, &mockTTS{}, nil)
	sess := o.Connect(conn, "user-1")

	for _, chunk := range []string{"abc", "def", "gh"} {
		o.HandleMessage(sess, frame(t, map[string]any{
			"type": "audio_chunk",
			"data": base64.StdEncoding.EncodeToString([]byte(chunk)),
		}))
	}
	o.HandleMessage(sess, frame(t, map[string]any{"type": "audio_end"}))
	conn.waitForState(t, "completed")

	if string(transcriber.got()) != "abcdefgh" {
		t.Errorf("audio = %q", transcriber.got())
	}
}

type recordingSTT struct {
	mu    sync.Mutex
	text  string
	audio []byte
}

func (r *recordingSTT) Transcribe(ctx context.Context, audio []byte, format string) (stt.Result, error) {
	r.mu.Lock()
	r.audio = append([]byte(nil), audio...)
	r.mu.Unlock()
	return stt.Result{Text: r.text}, nil
}

func (r *recordingSTT) got() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audio
}

func TestEmptyTranscriptShortCircuits(t *testing.T) {
	conn := &fakeConn{}
	adapter := &mockLLM{}
	o := newTestOrchestrator(adapter, &mockSTT{text: ""}, &mockTTS{}, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{
		"type":  "audio_message",
		"audio": base64.StdEncoding.EncodeToString([]byte("silence")),
	}))
	conn.waitForState(t, "completed")

	adapter.mu.Lock()
	calls := len(adapter.chatCalls)
	adapter.mu.Unlock()
	if calls != 0 {
		t.Errorf("model called %d times for empty transcript", calls)
	}
	for _, ev := range conn.snapshot() {
		if ev.Type == events.EvStateChange && ev.State == "thinking" {
			t.Error("pipeline entered thinking on empty transcript")
		}
	}
}

func TestWhitespaceTranscriptShortCircuits(t *testing.T) {
	conn := &fakeConn{}
	adapter := &mockLLM{}
	o := newTestOrchestrator(adapter, &mockSTT{text: "   "}, &mockTTS{}, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{
		"type":  "audio_message",
		"audio": base64.StdEncoding.EncodeToString([]byte("breathing")),
	}))
	conn.waitForState(t, "completed")

	adapter.mu.Lock()
	calls := len(adapter.chatCalls)
	adapter.mu.Unlock()
	if calls != 0 {
		t.Errorf("model called %d times for whitespace-only transcript", calls)
	}
	for _, ev := range conn.snapshot() {
		if ev.Type == events.EvStateChange && ev.State == "thinking" {
			t.Error("pipeline entered thinking on whitespace-only transcript")
		}
	}
}

func TestEmptyReplySkipsSynthesis(t *testing.T) {
	conn := &fakeConn{}
	adapter := &mockLLM{}
	adapter.setChat(func(req llm.Request) (llm.Response, error) {
		return llm.Response{Text: ""}, nil
	})
	synth := &mockTTS{}
	o := newTestOrchestrator(adapter, &mockSTT{}, synth, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "say nothing"}))
	conn.waitForState(t, "completed")

	if got := synth.sentences(); len(got) != 0 {
		t.Errorf("synthesized %v for an empty reply", got)
	}
	for _, ev := range conn.snapshot() {
		if ev.Type == events.EvStateChange && (ev.State == "synthesizing" || ev.State == "streaming_audio") {
			t.Errorf("emitted state_change(%s) for an empty reply", ev.State)
		}
	}
}

func TestNewerInputSupersedesActiveRequest(t *testing.T) {
	conn := &fakeConn{}
	release := make(chan struct{})
	adapter := &mockLLM{
		chat: func(req llm.Request) (llm.Response, error) {
			<-release
			return llm.Response{Text: "Too late."}, nil
		},
	}
	o := newTestOrchestrator(adapter, &mockSTT{}, &mockTTS{}, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "first"}))
	conn.waitForState(t, "thinking")
	firstID, _ := o.ActiveRequest("user-1")

	adapter.setChat(nil)
	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "second"}))
	close(release)
	conn.waitForState(t, "completed")

	secondID, _ := o.ActiveRequest("user-1")
	_ = secondID

	for _, ev := range conn.snapshot() {
		if ev.Type == events.EvTextResponse && ev.Text == "Too late." {
			t.Error("superseded request still produced output")
		}
		if ev.Type == events.EvError && ev.RequestID == firstID {
			t.Error("superseded request emitted an error event")
		}
	}
}

func TestCancelIsSilent(t *testing.T) {
	conn := &fakeConn{}
	release := make(chan struct{})
	adapter := &mockLLM{
		chat: func(req llm.Request) (llm.Response, error) {
			<-release
			return llm.Response{Text: "Ignored."}, nil
		},
	}
	o := newTestOrchestrator(adapter, &mockSTT{}, &mockTTS{}, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "hello"}))
	conn.waitForState(t, "thinking")
	o.HandleMessage(sess, frame(t, map[string]any{"type": "cancel"}))
	close(release)

	if _, active := o.ActiveRequest("user-1"); active {
		t.Error("cancelled request still registered")
	}

	time.Sleep(50 * time.Millisecond)
	for _, ev := range conn.snapshot() {
		if ev.Type == events.EvTextResponse || ev.Type == events.EvError {
			t.Errorf("cancelled turn emitted %+v", ev)
		}
	}
}

func TestToolRoundFoldsResults(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(llm.Tool{Name: "get_weather", Schema: map[string]any{"type": "object"}},
		func(ctx context.Context, args map[string]any) (tools.Result, error) {
			return tools.Result{Text: "22C in Paris"}, nil
		})
	runner := tools.NewDispatcher(reg)

	var captured []llm.ToolResult
	conn := &fakeConn{}
	adapter := &mockLLM{
		chat: func(req llm.Request) (llm.Response, error) {
			if len(req.Tools) == 0 {
				return llm.Response{}, errors.New("tools not offered")
			}
			return llm.Response{
				Text:      "Let me check.",
				ToolCalls: []llm.ToolCall{{ID: "t1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}}},
			}, nil
		},
		followUp: func(req llm.Request, first llm.Response, results []llm.ToolResult) (llm.Response, error) {
			captured = results
			return llm.Response{Text: "It is 22C in Paris."}, nil
		},
	}
	o := newTestOrchestrator(adapter, &mockSTT{}, &mockTTS{}, runner)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "weather?"}))
	conn.waitForState(t, "completed")

	if len(captured) != 1 || captured[0].CallID != "t1" || captured[0].Content != "22C in Paris" {
		t.Errorf("folded results = %+v", captured)
	}
	conn.waitForState(t, "executing_action")
	ev := conn.waitFor(t, func(ev events.ServerEvent) bool { return ev.Type == events.EvTextResponse })
	if ev.Text != "It is 22C in Paris." {
		t.Errorf("text_response = %q", ev.Text)
	}
}

func TestUnknownToolStillCompletes(t *testing.T) {
	runner := tools.NewDispatcher(tools.NewRegistry())
	conn := &fakeConn{}
	var captured []llm.ToolResult
	adapter := &mockLLM{
		chat: func(req llm.Request) (llm.Response, error) {
			return llm.Response{
				ToolCalls: []llm.ToolCall{{ID: "t1", Name: "does_not_exist"}},
			}, nil
		},
		followUp: func(req llm.Request, first llm.Response, results []llm.ToolResult) (llm.Response, error) {
			captured = results
			return llm.Response{Text: "I could not do that."}, nil
		},
	}
	o := newTestOrchestrator(adapter, &mockSTT{}, &mockTTS{}, runner)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "do the thing"}))
	conn.waitForState(t, "completed")

	if len(captured) != 1 || captured[0].Content == "" {
		t.Errorf("results = %+v", captured)
	}
}

func TestToolSideEffectEmitsOpenURL(t *testing.T) {
	reg := tools.NewRegistry()
	app := tools.OpenAppTool{}
	reg.Register(app.Definition(), app.Handle)
	runner := tools.NewDispatcher(reg)

	conn := &fakeConn{}
	adapter := &mockLLM{
		chat: func(req llm.Request) (llm.Response, error) {
			return llm.Response{
				ToolCalls: []llm.ToolCall{{ID: "t1", Name: "open_app", Arguments: map[string]any{"app": "spotify"}}},
			}, nil
		},
	}
	o := newTestOrchestrator(adapter, &mockSTT{}, &mockTTS{}, runner)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "open spotify"}))
	ev := conn.waitFor(t, func(ev events.ServerEvent) bool { return ev.Type == events.EvOpenURL })
	if ev.URL != "spotify://" {
		t.Errorf("URL = %q", ev.URL)
	}
}

func TestProviderFailureEmitsFriendlyError(t *testing.T) {
	conn := &fakeConn{}
	o := newTestOrchestrator(&mockLLM{
		chat: func(req llm.Request) (llm.Response, error) {
			return llm.Response{}, errors.New("upstream exploded")
		},
	}, &mockSTT{}, &mockTTS{}, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "hello"}))
	ev := conn.waitFor(t, func(ev events.ServerEvent) bool { return ev.Type == events.EvError })
	if ev.Message != "Sorry, something went wrong. Please try again." {
		t.Errorf("Message = %q", ev.Message)
	}
	conn.waitForState(t, "error")
	if _, active := o.ActiveRequest("user-1"); active {
		t.Error("failed request still registered")
	}
}

func TestGlobalTimeoutFiresFriendlyError(t *testing.T) {
	conn := &fakeConn{}
	release := make(chan struct{})
	defer close(release)
	adapter := &mockLLM{
		chat: func(req llm.Request) (llm.Response, error) {
			<-release
			return llm.Response{}, nil
		},
	}
	o := New(Config{RequestTimeout: 50 * time.Millisecond}, adapter, &mockSTT{}, &mockTTS{}, nil, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "hello"}))
	conn.waitFor(t, func(ev events.ServerEvent) bool { return ev.Type == events.EvError })
	conn.waitForState(t, "error")
}

func TestHistoryWindowTrims(t *testing.T) {
	conn := &fakeConn{}
	o := newTestOrchestrator(&mockLLM{}, &mockSTT{}, &mockTTS{}, nil)
	sess := o.Connect(conn, "user-1")

	for i := 0; i < 15; i++ {
		sess.AppendExchange("q"+strconv.Itoa(i), "a"+strconv.Itoa(i))
	}
	history := sess.History()
	if len(history) != 20 {
		t.Fatalf("history len = %d", len(history))
	}
	if history[0].Content != "q5" {
		t.Errorf("oldest = %q", history[0].Content)
	}
	if history[19].Content != "a14" {
		t.Errorf("newest = %q", history[19].Content)
	}
}

func TestInvalidMessageRejected(t *testing.T) {
	conn := &fakeConn{}
	o := newTestOrchestrator(&mockLLM{}, &mockSTT{}, &mockTTS{}, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, []byte("{not json"))
	conn.waitFor(t, func(ev events.ServerEvent) bool { return ev.Type == events.EvError })

	o.HandleMessage(sess, frame(t, map[string]any{"type": "mystery"}))
	var errCount int
	for _, ev := range conn.snapshot() {
		if ev.Type == events.EvError {
			errCount++
		}
	}
	if errCount < 2 {
		t.Errorf("error events = %d", errCount)
	}
	if _, active := o.ActiveRequest("user-1"); active {
		t.Error("invalid message created a request")
	}
}

func TestDisconnectCancelsActiveRequest(t *testing.T) {
	conn := &fakeConn{}
	release := make(chan struct{})
	defer close(release)
	adapter := &mockLLM{
		chat: func(req llm.Request) (llm.Response, error) {
			<-release
			return llm.Response{}, nil
		},
	}
	o := newTestOrchestrator(adapter, &mockSTT{}, &mockTTS{}, nil)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "hello"}))
	conn.waitForState(t, "thinking")
	o.Disconnect(sess)

	if _, active := o.ActiveRequest("user-1"); active {
		t.Error("request survived disconnect")
	}
}

func TestExtractorReceivesFinishedExchange(t *testing.T) {
	conn := &fakeConn{}
	o := newTestOrchestrator(&mockLLM{}, &mockSTT{}, &mockTTS{}, nil)

	got := make(chan []llm.Message, 1)
	o.SetExtractor(func(userID string, msgs []llm.Message, conversationID string) {
		if userID == "user-1" && conversationID != "" {
			got <- msgs
		}
	})
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "remember me"}))
	select {
	case msgs := <-got:
		if len(msgs) != 2 || msgs[0].Content != "remember me" {
			t.Errorf("msgs = %+v", msgs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("extractor never called")
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []metrics.MetricsEvent
}

func (r *recordingObserver) RecordEvent(ev metrics.MetricsEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingObserver) find(name string) (metrics.MetricsEvent, bool) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		for _, ev := range r.events {
			if ev.Name == name {
				r.mu.Unlock()
				return ev, true
			}
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			return metrics.MetricsEvent{}, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestObserverRecordsCompletedTurn(t *testing.T) {
	conn := &fakeConn{}
	o := newTestOrchestrator(&mockLLM{}, &mockSTT{}, &mockTTS{}, nil)
	obs := &recordingObserver{}
	o.SetObserver(obs)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "hi"}))
	conn.waitForState(t, "completed")

	ev, ok := obs.find("turn_completed")
	if !ok {
		t.Fatal("no turn_completed event recorded")
	}
	if ev.Tags["user_id"] != "user-1" || ev.Tags["request_id"] == "" {
		t.Errorf("tags = %+v", ev.Tags)
	}
	if _, ok := ev.Fields["think_ms"]; !ok {
		t.Errorf("fields = %+v", ev.Fields)
	}
}

func TestObserverRecordsFailedTurn(t *testing.T) {
	conn := &fakeConn{}
	adapter := &mockLLM{}
	adapter.setChat(func(req llm.Request) (llm.Response, error) {
		return llm.Response{}, errors.New("model down")
	})
	o := newTestOrchestrator(adapter, &mockSTT{}, &mockTTS{}, nil)
	obs := &recordingObserver{}
	o.SetObserver(obs)
	sess := o.Connect(conn, "user-1")

	o.HandleMessage(sess, frame(t, map[string]any{"type": "text_message", "text": "hi"}))
	conn.waitForState(t, "error")

	ev, ok := obs.find("turn_failed")
	if !ok {
		t.Fatal("no turn_failed event recorded")
	}
	if ev.Tags["reason"] != "llm_generate" {
		t.Errorf("reason = %q", ev.Tags["reason"])
	}
	if _, ok := ev.Fields["think_ms"]; !ok {
		t.Errorf("failed turn carries no stage durations: %+v", ev.Fields)
	}
}
