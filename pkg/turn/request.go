package turn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Request is one in-flight interaction. Audio chunks accumulate until
// the utterance ends, then the request walks the pipeline states.
// Cancellation is cooperative: stages check Cancelled between steps and
// abandon silently.
type Request struct {
	ID             string
	UserID         string
	ConversationID string

	mu      sync.Mutex
	state   State
	audio   [][]byte
	started time.Time
	timer   *time.Timer

	cancelled atomic.Bool
}

func New(userID, conversationID string) *Request {
	return &Request{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		state:          StateReceivingAudio,
		started:        time.Now(),
	}
}

// ArmTimeout starts the per-request deadline. onFire runs in the timer
// goroutine when the deadline passes before the request reaches a
// terminal state.
func (r *Request) ArmTimeout(d time.Duration, onFire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(d, onFire)
}

// StopTimeout disarms the deadline, usually on terminal transition.
func (r *Request) StopTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Cancel flags the request for silent abandonment and moves it to the
// cancelled state.
func (r *Request) Cancel() {
	r.cancelled.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if !r.state.Terminal() {
		r.state = StateCancelled
	}
}

func (r *Request) Cancelled() bool {
	return r.cancelled.Load()
}

func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Transition moves the request to a new state with validation.
func (r *Request) Transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !transitionValid(r.state, to) {
		return &InvalidTransitionError{From: r.state, To: to}
	}
	r.state = to
	if to.Terminal() && r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	return nil
}

// AppendAudio buffers one chunk in arrival order.
func (r *Request) AppendAudio(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = append(r.audio, append([]byte(nil), chunk...))
}

// Audio returns the buffered chunks concatenated in arrival order.
func (r *Request) Audio() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int
	for _, c := range r.audio {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range r.audio {
		out = append(out, c...)
	}
	return out
}

func (r *Request) Elapsed() time.Duration {
	return time.Since(r.started)
}
