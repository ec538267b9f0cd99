package turn

import (
	"errors"
	"testing"
	"time"
)

func TestHappyPathTransitions(t *testing.T) {
	r := New("user-1", "conv-1")
	path := []State{
		StateTranscribing,
		StateThinking,
		StateExecutingAction,
		StateThinking,
		StateSynthesizing,
		StateStreamingAudio,
		StateCompleted,
	}
	for _, next := range path {
		if err := r.Transition(next); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}
	if !r.State().Terminal() {
		t.Errorf("state = %s", r.State())
	}
}

func TestThinkingCompletesDirectly(t *testing.T) {
	r := New("user-1", "conv-1")
	for _, next := range []State{StateTranscribing, StateThinking, StateCompleted} {
		if err := r.Transition(next); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}
	if r.State() != StateCompleted {
		t.Errorf("state = %s", r.State())
	}
}

func TestInvalidTransition(t *testing.T) {
	r := New("user-1", "conv-1")
	err := r.Transition(StateSynthesizing)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v", err)
	}
	if ite.From != StateReceivingAudio || ite.To != StateSynthesizing {
		t.Errorf("error = %+v", ite)
	}
}

func TestTerminalStatesAreSticky(t *testing.T) {
	r := New("user-1", "conv-1")
	if err := r.Transition(StateError); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := r.Transition(StateThinking); err == nil {
		t.Error("expected error leaving terminal state")
	}
	if err := r.Transition(StateCancelled); err == nil {
		t.Error("terminal state must not change again")
	}
}

func TestErrorAndCancelledReachableFromAnywhere(t *testing.T) {
	for _, from := range []State{
		StateReceivingAudio, StateTranscribing, StateThinking,
		StateExecutingAction, StateSynthesizing, StateStreamingAudio,
	} {
		for _, to := range []State{StateError, StateCancelled} {
			if !transitionValid(from, to) {
				t.Errorf("transition %s -> %s should be valid", from, to)
			}
		}
	}
}

func TestCancelFlagsAndMovesState(t *testing.T) {
	r := New("user-1", "conv-1")
	if r.Cancelled() {
		t.Fatal("fresh request already cancelled")
	}
	r.Cancel()
	if !r.Cancelled() {
		t.Error("Cancelled() = false after Cancel")
	}
	if r.State() != StateCancelled {
		t.Errorf("state = %s", r.State())
	}
}

func TestCancelPreservesTerminalState(t *testing.T) {
	r := New("user-1", "conv-1")
	if err := r.Transition(StateError); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	r.Cancel()
	if r.State() != StateError {
		t.Errorf("state = %s", r.State())
	}
}

func TestAudioConcatenatesInArrivalOrder(t *testing.T) {
	r := New("user-1", "conv-1")
	r.AppendAudio([]byte{1, 2})
	r.AppendAudio([]byte{3})
	r.AppendAudio([]byte{4, 5})
	got := r.Audio()
	want := []byte{1, 2, 3, 4, 5}
	if string(got) != string(want) {
		t.Errorf("Audio() = %v, want %v", got, want)
	}
}

func TestTimeoutFires(t *testing.T) {
	r := New("user-1", "conv-1")
	fired := make(chan struct{})
	r.ArmTimeout(20*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestTimeoutDisarmedOnTerminal(t *testing.T) {
	r := New("user-1", "conv-1")
	fired := make(chan struct{}, 1)
	r.ArmTimeout(30*time.Millisecond, func() { fired <- struct{}{} })
	if err := r.Transition(StateError); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	select {
	case <-fired:
		t.Error("timer fired after terminal transition")
	case <-time.After(80 * time.Millisecond):
	}
}
