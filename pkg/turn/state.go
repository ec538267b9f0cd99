// Package turn models one request's lifecycle from first audio chunk to
// terminal state.
package turn

// State is one step of the request lifecycle.
type State string

const (
	StateReceivingAudio  State = "receiving_audio"
	StateTranscribing    State = "transcribing"
	StateThinking        State = "thinking"
	StateExecutingAction State = "executing_action"
	StateSynthesizing    State = "synthesizing"
	StateStreamingAudio  State = "streaming_audio"
	StateCompleted       State = "completed"
	StateError           State = "error"
	StateCancelled       State = "cancelled"
)

func (s State) String() string { return string(s) }

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateError, StateCancelled:
		return true
	}
	return false
}

// validTransitions defines the forward path. The terminal states
// error and cancelled are additionally reachable from every
// non-terminal state.
var validTransitions = map[State][]State{
	StateReceivingAudio:  {StateTranscribing, StateThinking},
	StateTranscribing:    {StateThinking, StateCompleted},
	StateThinking:        {StateExecutingAction, StateSynthesizing, StateCompleted},
	StateExecutingAction: {StateThinking, StateSynthesizing},
	StateSynthesizing:    {StateStreamingAudio},
	StateStreamingAudio:  {StateCompleted},
}

func transitionValid(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateError || to == StateCancelled {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
