package orchestrator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/harunnryd/elara/pkg/events"
	"github.com/harunnryd/elara/pkg/llm"
)

// Conn is the transport side of one connected client.
type Conn interface {
	SendEvent(ev events.ServerEvent) error
	Close() error
}

// Session is one connected client's conversation scope. History is a
// FIFO window: once the cap is reached the oldest entries fall off.
type Session struct {
	UserID         string
	ConversationID string

	conn       Conn
	mu         sync.Mutex
	history    []llm.Message
	maxHistory int
}

func newSession(conn Conn, userID string, maxHistory int) *Session {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &Session{
		UserID:         userID,
		ConversationID: uuid.NewString(),
		conn:           conn,
		maxHistory:     maxHistory,
	}
}

func (s *Session) send(ev events.ServerEvent) {
	_ = s.conn.SendEvent(ev)
}

// History returns a copy of the current window.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// AppendExchange records a completed turn and trims to the window.
func (s *Session) AppendExchange(userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: assistantText},
	)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}
