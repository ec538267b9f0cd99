// Package orchestrator runs the voice interaction pipeline: admit one
// request per user, transcribe, think, act, synthesize, and stream the
// reply back over the session's connection.
package orchestrator

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/elara/pkg/errorsx"
	"github.com/harunnryd/elara/pkg/events"
	"github.com/harunnryd/elara/pkg/llm"
	"github.com/harunnryd/elara/pkg/logging"
	"github.com/harunnryd/elara/pkg/memory"
	"github.com/harunnryd/elara/pkg/metrics"
	"github.com/harunnryd/elara/pkg/stt"
	"github.com/harunnryd/elara/pkg/tools"
	"github.com/harunnryd/elara/pkg/tts"
	"github.com/harunnryd/elara/pkg/turn"
)

// Transcriber turns one finished utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (stt.Result, error)
}

// Synthesizer turns one sentence into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (tts.Result, error)
}

// ToolRunner executes one tool call, absorbing failures into text.
type ToolRunner interface {
	Execute(ctx context.Context, call llm.ToolCall) tools.Result
	Schema() []llm.Tool
}

// Extractor receives finished exchanges for background fact mining.
// Implementations must not block.
type Extractor func(userID string, msgs []llm.Message, conversationID string)

type Config struct {
	RequestTimeout    time.Duration
	MaxHistory        int
	MemoryLimit       int
	LegacyAudioChunks bool
	ErrorMessage      string
	Version           string
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 45 * time.Second
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 20
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 5
	}
	if c.ErrorMessage == "" {
		c.ErrorMessage = "Sorry, something went wrong. Please try again."
	}
	return c
}

type Orchestrator struct {
	cfg      Config
	logger   *slog.Logger
	llm      llm.Adapter
	stt      Transcriber
	tts      Synthesizer
	memories memory.Retriever
	tools    ToolRunner
	observer metrics.Observer

	mu        sync.Mutex
	requests  map[string]*turn.Request // request id -> request
	byUser    map[string]string        // user id -> active request id
	sessions  map[string]*Session      // user id -> session
	extractor Extractor
}

func New(cfg Config, adapter llm.Adapter, transcriber Transcriber, synthesizer Synthesizer, retriever memory.Retriever, runner ToolRunner) *Orchestrator {
	if retriever == nil {
		retriever = memory.Noop{}
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		logger:   logging.NewComponentLogger(slog.Default(), "orchestrator"),
		llm:      adapter,
		stt:      transcriber,
		tts:      synthesizer,
		memories: retriever,
		tools:    runner,
		observer: metrics.NoopObserver{},
		requests: make(map[string]*turn.Request),
		byUser:   make(map[string]string),
		sessions: make(map[string]*Session),
	}
}

// SetExtractor installs the background fact extraction hook.
func (o *Orchestrator) SetExtractor(fn Extractor) {
	o.mu.Lock()
	o.extractor = fn
	o.mu.Unlock()
}

// SetObserver installs the metrics sink for per-turn events.
func (o *Orchestrator) SetObserver(obs metrics.Observer) {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	o.mu.Lock()
	o.observer = obs
	o.mu.Unlock()
}

// observe emits one per-turn metrics event with the stage durations.
func (o *Orchestrator) observe(name string, req *turn.Request, tm *metrics.PipelineTimer, tags map[string]string) {
	o.mu.Lock()
	obs := o.observer
	o.mu.Unlock()

	if tags == nil {
		tags = make(map[string]string, 2)
	}
	tags["user_id"] = req.UserID
	tags["request_id"] = req.ID
	fields := make(map[string]any)
	if tm != nil {
		for label, ms := range tm.Metrics() {
			fields[label+"_ms"] = ms
		}
	}
	obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  float64(req.Elapsed().Milliseconds()),
		Tags:   tags,
		Fields: fields,
	})
}

// Connect registers a client connection and greets it.
func (o *Orchestrator) Connect(conn Conn, userID string) *Session {
	sess := newSession(conn, userID, o.cfg.MaxHistory)
	o.mu.Lock()
	o.sessions[userID] = sess
	o.mu.Unlock()
	o.logger.Info("session_connected", "user_id", userID, "conversation_id", sess.ConversationID)
	sess.send(events.Connected("ready", o.cfg.Version, userID))
	return sess
}

// Disconnect cancels the user's in-flight request and forgets the
// session.
func (o *Orchestrator) Disconnect(sess *Session) {
	o.cancelActive(sess.UserID)
	o.mu.Lock()
	if o.sessions[sess.UserID] == sess {
		delete(o.sessions, sess.UserID)
	}
	o.mu.Unlock()
	o.logger.Info("session_disconnected", "user_id", sess.UserID)
}

// HandleMessage dispatches one inbound frame.
func (o *Orchestrator) HandleMessage(sess *Session, raw []byte) {
	msg, err := events.ParseClientMessage(raw)
	if err != nil {
		o.logger.Warn("invalid_message", "user_id", sess.UserID, "error", err)
		sess.send(events.Error("Invalid message.", ""))
		return
	}

	switch msg.Type {
	case events.MsgAudioChunk:
		o.handleAudioChunk(sess, msg)
	case events.MsgAudioEnd:
		o.handleAudioEnd(sess)
	case events.MsgAudioMessage:
		o.handleAudioMessage(sess, msg)
	case events.MsgTextMessage:
		o.handleTextMessage(sess, msg)
	case events.MsgStartListening:
		o.cancelActive(sess.UserID)
	case events.MsgStopListening:
		// No buffered request means nothing to do.
		o.handleAudioEnd(sess)
	case events.MsgCancel:
		o.cancelActive(sess.UserID)
	}
}

// handleAudioChunk buffers streamed audio, opening a request on the
// first chunk. A chunk arriving while a pipeline is past the receiving
// state supersedes it.
func (o *Orchestrator) handleAudioChunk(sess *Session, msg events.ClientMessage) {
	chunk, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		sess.send(events.Error("Invalid message.", ""))
		return
	}
	req := o.receivingRequest(sess)
	req.AppendAudio(chunk)
}

func (o *Orchestrator) handleAudioEnd(sess *Session) {
	o.mu.Lock()
	id, ok := o.byUser[sess.UserID]
	var req *turn.Request
	if ok {
		req = o.requests[id]
	}
	o.mu.Unlock()
	if req == nil || req.State() != turn.StateReceivingAudio {
		return
	}
	if len(req.Audio()) == 0 {
		o.finish(req)
		return
	}
	go o.processVoice(sess, req, req.Audio(), "wav")
}

// handleAudioMessage carries a complete utterance in one frame.
func (o *Orchestrator) handleAudioMessage(sess *Session, msg events.ClientMessage) {
	audio, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil || len(audio) == 0 {
		sess.send(events.Error("Invalid message.", ""))
		return
	}
	req := o.admit(sess)
	go o.processVoice(sess, req, audio, msg.Format)
}

func (o *Orchestrator) handleTextMessage(sess *Session, msg events.ClientMessage) {
	if msg.Text == "" {
		sess.send(events.Error("Invalid message.", ""))
		return
	}
	req := o.admit(sess)
	go o.processText(sess, req, msg.Text, nil)
}

// receivingRequest returns the user's request if it is still buffering
// audio, superseding anything further along.
func (o *Orchestrator) receivingRequest(sess *Session) *turn.Request {
	o.mu.Lock()
	if id, ok := o.byUser[sess.UserID]; ok {
		if req := o.requests[id]; req != nil && req.State() == turn.StateReceivingAudio {
			o.mu.Unlock()
			return req
		}
	}
	o.mu.Unlock()
	return o.admit(sess)
}

// admit creates a new request for the user, cancelling any prior one.
// At most one request per user is ever active.
func (o *Orchestrator) admit(sess *Session) *turn.Request {
	o.cancelActive(sess.UserID)
	req := turn.New(sess.UserID, sess.ConversationID)
	o.mu.Lock()
	o.requests[req.ID] = req
	o.byUser[sess.UserID] = req.ID
	o.mu.Unlock()
	req.ArmTimeout(o.cfg.RequestTimeout, func() { o.timeout(sess, req) })
	o.logger.Debug("request_admitted", "user_id", sess.UserID, "request_id", req.ID)
	return req
}

func (o *Orchestrator) cancelActive(userID string) {
	o.mu.Lock()
	id, ok := o.byUser[userID]
	var req *turn.Request
	if ok {
		req = o.requests[id]
		delete(o.byUser, userID)
		delete(o.requests, id)
	}
	o.mu.Unlock()
	if req != nil && !req.State().Terminal() {
		req.Cancel()
		o.logger.Info("request_cancelled", "user_id", userID, "request_id", req.ID)
	}
}

// finish removes a terminal request from the registry.
func (o *Orchestrator) finish(req *turn.Request) {
	req.StopTimeout()
	o.mu.Lock()
	if o.byUser[req.UserID] == req.ID {
		delete(o.byUser, req.UserID)
	}
	delete(o.requests, req.ID)
	o.mu.Unlock()
}

// timeout fires when a request outlives the global deadline. It is
// unrecoverable: the client gets the fixed friendly message.
func (o *Orchestrator) timeout(sess *Session, req *turn.Request) {
	if req.Cancelled() || req.State().Terminal() {
		return
	}
	o.logger.Warn("request_timeout", "user_id", req.UserID, "request_id", req.ID, "elapsed_ms", req.Elapsed().Milliseconds())
	o.fail(sess, req, nil, errorsx.Wrap(errTimedOut, errorsx.ReasonRequestTimeout))
}

// ActiveRequest reports the user's current request id, if any.
func (o *Orchestrator) ActiveRequest(userID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.byUser[userID]
	return id, ok
}

var errTimedOut = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "request exceeded global deadline" }
