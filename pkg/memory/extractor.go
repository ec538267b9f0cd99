package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/harunnryd/elara/pkg/llm"
	"github.com/harunnryd/elara/pkg/logging"
)

// Store persists extracted facts.
type Store interface {
	Save(ctx context.Context, userID string, facts []Fact) error
}

const extractionPrompt = `Analyze this conversation and extract durable facts worth remembering about the user.

For each fact give:
- category: preference | fact | person | event
- content: the fact in one concise sentence

Keep ONLY lasting personal information, never one-off questions.
Examples of what to keep:
- Preferences ("likes jazz", "prefers tea")
- Facts ("lives in Lyon", "works at Airbus")
- People ("Sophie is their wife", "Marc is a colleague")
- Events ("getting married in June")

Reply ONLY with a JSON array. If there is nothing to keep, reply [].`

var jsonArrayPattern = regexp.MustCompile(`\[[\s\S]*\]`)

// Extractor mines finished conversations for facts and stores them.
// It runs after the turn completes and never surfaces failures to the
// user.
type Extractor struct {
	llm     llm.Adapter
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

func NewExtractor(adapter llm.Adapter, store Store) *Extractor {
	return &Extractor{
		llm:     adapter,
		store:   store,
		timeout: 30 * time.Second,
		logger:  logging.NewComponentLogger(slog.Default(), "memory_extractor"),
	}
}

// Extract runs one extraction pass. Conversations shorter than three
// messages carry too little signal and are skipped.
func (e *Extractor) Extract(userID string, msgs []llm.Message, conversationID string) {
	if len(msgs) < 3 {
		e.logger.Debug("conversation_too_short", "conversation_id", conversationID, "messages", len(msgs))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	var sb strings.Builder
	for _, m := range msgs {
		speaker := "User"
		if m.Role == llm.RoleAssistant {
			speaker = "Assistant"
		}
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	resp, err := e.llm.Chat(ctx, llm.Request{
		UserID:  userID,
		Message: extractionPrompt + "\n\nConversation:\n" + sb.String(),
	})
	if err != nil {
		e.logger.Warn("extraction_failed", "conversation_id", conversationID, "error", err)
		return
	}

	facts := parseFacts(resp.Text)
	if len(facts) == 0 {
		e.logger.Debug("no_facts_extracted", "conversation_id", conversationID)
		return
	}
	if err := e.store.Save(ctx, userID, facts); err != nil {
		e.logger.Warn("fact_save_failed", "conversation_id", conversationID, "error", err)
		return
	}
	e.logger.Info("facts_extracted", "conversation_id", conversationID, "count", len(facts))
}

func parseFacts(text string) []Fact {
	match := jsonArrayPattern.FindString(text)
	if match == "" {
		return nil
	}
	var raw []struct {
		Category string `json:"category"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil
	}
	facts := make([]Fact, 0, len(raw))
	for _, f := range raw {
		if strings.TrimSpace(f.Content) == "" {
			continue
		}
		facts = append(facts, Fact{Category: f.Category, Content: f.Content})
	}
	return facts
}
