// Package segment turns a streamed token sequence into sentence-sized
// chunks so synthesis can start before the full response is generated.
package segment

import (
	"regexp"
	"strings"
)

// sentenceEnd matches a sentence-terminal punctuation mark plus any
// trailing whitespace.
var sentenceEnd = regexp.MustCompile(`[.!?:;]\s*`)

// SentenceAccumulator buffers streamed tokens and emits complete
// sentences as soon as a boundary appears. One instance serves one turn;
// it holds no request or network state.
type SentenceAccumulator struct {
	buf strings.Builder
}

func NewSentenceAccumulator() *SentenceAccumulator {
	return &SentenceAccumulator{}
}

// AddToken appends a token to the buffer. When the buffer contains a
// sentence boundary it returns everything up to and including the
// boundary (trimmed) and keeps the remainder buffered.
func (a *SentenceAccumulator) AddToken(token string) (string, bool) {
	a.buf.WriteString(token)

	loc := sentenceEnd.FindStringIndex(a.buf.String())
	if loc == nil {
		return "", false
	}

	text := a.buf.String()
	sentence := strings.TrimSpace(text[:loc[1]])
	rest := text[loc[1]:]
	a.buf.Reset()
	a.buf.WriteString(rest)

	if sentence == "" {
		return "", false
	}
	return sentence, true
}

// Flush returns any non-empty remainder at end of stream and clears the
// buffer.
func (a *SentenceAccumulator) Flush() (string, bool) {
	remaining := strings.TrimSpace(a.buf.String())
	a.buf.Reset()
	if remaining == "" {
		return "", false
	}
	return remaining, true
}

// Split runs a complete text through a fresh accumulator, feeding it
// word by word the way a streaming caller would. Used when the model
// response arrives whole but synthesis should still run per sentence.
func Split(text string) []string {
	acc := NewSentenceAccumulator()
	var out []string
	for _, tok := range strings.SplitAfter(text, " ") {
		if s, ok := acc.AddToken(tok); ok {
			out = append(out, s)
		}
	}
	if s, ok := acc.Flush(); ok {
		out = append(out, s)
	}
	return out
}
