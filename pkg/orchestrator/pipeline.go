package orchestrator

import (
	"context"
	"strings"

	"github.com/harunnryd/elara/pkg/errorsx"
	"github.com/harunnryd/elara/pkg/events"
	"github.com/harunnryd/elara/pkg/llm"
	"github.com/harunnryd/elara/pkg/metrics"
	"github.com/harunnryd/elara/pkg/segment"
	"github.com/harunnryd/elara/pkg/tools"
	"github.com/harunnryd/elara/pkg/turn"
)

// processVoice runs the transcription stage, then hands off to the text
// pipeline. Cancellation is checked between stages; in-flight calls are
// allowed to finish and their results discarded.
func (o *Orchestrator) processVoice(sess *Session, req *turn.Request, audio []byte, format string) {
	tm := metrics.NewPipelineTimer(o.logger)
	ctx := context.Background()

	if err := req.Transition(turn.StateTranscribing); err != nil {
		o.fail(sess, req, tm, err)
		return
	}
	sess.send(events.StateChange(string(turn.StateTranscribing), req.ID))

	tm.Start("transcription")
	result, err := o.stt.Transcribe(ctx, audio, format)
	tm.End("transcription")
	if req.Cancelled() {
		return
	}
	if err != nil {
		o.fail(sess, req, tm, err)
		return
	}

	sess.send(events.Transcript(result.Text, req.ID, true))
	if strings.TrimSpace(result.Text) == "" {
		o.logger.Info("empty_transcript", "user_id", req.UserID, "request_id", req.ID)
		if err := req.Transition(turn.StateCompleted); err == nil {
			sess.send(events.StateChange(string(turn.StateCompleted), req.ID))
		}
		o.finish(req)
		return
	}
	o.processText(sess, req, result.Text, tm)
}

// processText runs the think, act, and synthesize stages for one turn.
func (o *Orchestrator) processText(sess *Session, req *turn.Request, text string, tm *metrics.PipelineTimer) {
	if tm == nil {
		tm = metrics.NewPipelineTimer(o.logger)
	}
	ctx := context.Background()

	if err := req.Transition(turn.StateThinking); err != nil {
		o.fail(sess, req, tm, err)
		return
	}
	sess.send(events.StateChange(string(turn.StateThinking), req.ID))

	// Memory retrieval is best effort: a degraded turn beats a failed
	// one.
	var facts []string
	if items, err := o.memories.Retrieve(ctx, req.UserID, text, o.cfg.MemoryLimit); err != nil {
		o.logger.Warn("memory_retrieval_degraded", "user_id", req.UserID, "error", err)
	} else {
		for _, f := range items {
			facts = append(facts, f.Content)
		}
	}
	if req.Cancelled() {
		return
	}

	llmReq := llm.Request{
		UserID:   req.UserID,
		Message:  text,
		History:  sess.History(),
		Memories: facts,
	}
	if o.tools != nil {
		llmReq.Tools = o.tools.Schema()
	}

	tm.Start("think")
	first, err := o.llm.Chat(ctx, llmReq)
	tm.End("think")
	if req.Cancelled() {
		return
	}
	if err != nil {
		o.fail(sess, req, tm, errorsx.Wrap(err, errorsx.ReasonLLMGenerate))
		return
	}

	final := first
	if len(first.ToolCalls) > 0 && o.tools != nil {
		final, err = o.runToolRound(ctx, sess, req, llmReq, first, tm)
		if req.Cancelled() {
			return
		}
		if err != nil {
			o.fail(sess, req, tm, errorsx.Wrap(err, errorsx.ReasonLLMGenerate))
			return
		}
	}

	// An empty reply has nothing to speak: skip the synthesis states
	// and complete directly.
	if strings.TrimSpace(final.Text) != "" {
		if !o.synthesize(ctx, sess, req, final.Text, tm) {
			return
		}
	}

	sess.AppendExchange(text, final.Text)
	sess.send(events.TextResponse(final.Text, req.ID, false))
	if err := req.Transition(turn.StateCompleted); err == nil {
		sess.send(events.StateChange(string(turn.StateCompleted), req.ID))
	}
	o.finish(req)
	tm.LogSummary(req.ID)
	o.observe("turn_completed", req, tm, nil)

	o.mu.Lock()
	extractor := o.extractor
	o.mu.Unlock()
	if extractor != nil {
		msgs := sess.History()
		go extractor(req.UserID, msgs, req.ConversationID)
	}
}

// runToolRound executes the model's tool calls sequentially in emission
// order and folds the results through a single follow-up call. Tool
// failures are already absorbed into textual results, so only the
// follow-up call itself can fail the turn.
func (o *Orchestrator) runToolRound(ctx context.Context, sess *Session, req *turn.Request, llmReq llm.Request, first llm.Response, tm *metrics.PipelineTimer) (llm.Response, error) {
	if err := req.Transition(turn.StateExecutingAction); err != nil {
		return llm.Response{}, err
	}
	sess.send(events.StateChange(string(turn.StateExecutingAction), req.ID))

	tm.Start("tools")
	results := make([]llm.ToolResult, 0, len(first.ToolCalls))
	for _, call := range first.ToolCalls {
		if req.Cancelled() {
			tm.End("tools")
			return llm.Response{}, nil
		}
		res := o.tools.Execute(ctx, call)
		if res.SideEffect != nil && res.SideEffect.Kind == tools.SideEffectOpenURL {
			sess.send(events.OpenURL(res.SideEffect.URL, req.ID))
		}
		results = append(results, llm.ToolResult{CallID: call.ID, Content: res.Text})
	}
	tm.End("tools")

	if err := req.Transition(turn.StateThinking); err != nil {
		return llm.Response{}, err
	}
	sess.send(events.StateChange(string(turn.StateThinking), req.ID))

	tm.Start("think_followup")
	final, err := o.llm.ChatWithToolResults(ctx, llmReq, first, results)
	tm.End("think_followup")
	return final, err
}

// synthesize converts the reply sentence by sentence and streams the
// audio. Returns false when the turn ended early (cancel or failure).
func (o *Orchestrator) synthesize(ctx context.Context, sess *Session, req *turn.Request, text string, tm *metrics.PipelineTimer) bool {
	if err := req.Transition(turn.StateSynthesizing); err != nil {
		o.fail(sess, req, tm, err)
		return false
	}
	sess.send(events.StateChange(string(turn.StateSynthesizing), req.ID))

	tm.Start("synthesis")
	sentences := segment.Split(text)
	for i, sentence := range sentences {
		if req.Cancelled() {
			tm.End("synthesis")
			return false
		}
		res, err := o.tts.Synthesize(ctx, sentence)
		if req.Cancelled() {
			tm.End("synthesis")
			return false
		}
		if err != nil {
			tm.End("synthesis")
			o.fail(sess, req, tm, err)
			return false
		}
		if o.cfg.LegacyAudioChunks {
			sess.send(events.LegacyAudioChunk(res.AudioBase64, req.ID, i, i == len(sentences)-1))
		} else {
			sess.send(events.TTSAudio(res.AudioBase64, req.ID))
		}
	}
	tm.End("synthesis")

	if err := req.Transition(turn.StateStreamingAudio); err != nil {
		o.fail(sess, req, tm, err)
		return false
	}
	sess.send(events.StateChange(string(turn.StateStreamingAudio), req.ID))
	return true
}

// fail terminates a turn with the fixed friendly message. A cancelled
// request stays silent: the client asked for something newer.
func (o *Orchestrator) fail(sess *Session, req *turn.Request, tm *metrics.PipelineTimer, cause error) {
	if req.Cancelled() {
		return
	}
	o.logger.Error("turn_failed",
		"user_id", req.UserID,
		"request_id", req.ID,
		"reason", string(errorsx.Reason(cause)),
		"error", cause,
	)
	if tm != nil {
		tm.LogSummary(req.ID)
	}
	o.observe("turn_failed", req, tm, map[string]string{"reason": string(errorsx.Reason(cause))})
	if err := req.Transition(turn.StateError); err != nil {
		o.finish(req)
		return
	}
	sess.send(events.Error(o.cfg.ErrorMessage, req.ID))
	sess.send(events.StateChange(string(turn.StateError), req.ID))
	o.finish(req)
}
