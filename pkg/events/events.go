// Package events defines the message-framed wire protocol between the
// mobile client and the orchestrator. Frames are flat JSON objects
// discriminated by a "type" field.
package events

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/harunnryd/elara/pkg/errorsx"
)

// Client → server message kinds.
const (
	MsgAudioChunk     = "audio_chunk"
	MsgAudioEnd       = "audio_end"
	MsgAudioMessage   = "audio_message"
	MsgTextMessage    = "text_message"
	MsgStartListening = "start_listening"
	MsgStopListening  = "stop_listening"
	MsgCancel         = "cancel"
)

// Server → client event kinds.
const (
	EvStateChange  = "state_change"
	EvTranscript   = "transcript"
	EvTextResponse = "text_response"
	EvTTSAudio     = "tts_audio"
	EvAudioChunk   = "audio_chunk"
	EvOpenURL      = "open_url"
	EvError        = "error"
	EvConnected    = "connected"
)

// ClientMessage is one inbound frame.
type ClientMessage struct {
	Type   string `json:"type"`
	Data   string `json:"data,omitempty"`   // audio_chunk: base64 audio
	Audio  string `json:"audio,omitempty"`  // audio_message: base64 audio
	Format string `json:"format,omitempty"` // audio_message: container format (m4a, wav, ...)
	Text   string `json:"text,omitempty"`   // text_message
}

var knownClientTypes = map[string]struct{}{
	MsgAudioChunk:     {},
	MsgAudioEnd:       {},
	MsgAudioMessage:   {},
	MsgTextMessage:    {},
	MsgStartListening: {},
	MsgStopListening:  {},
	MsgCancel:         {},
}

// ParseClientMessage decodes and validates one inbound frame.
// Malformed or unknown frames fail with an invalid_message reason.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, errorsx.Wrap(err, errorsx.ReasonInvalidMessage)
	}
	if _, ok := knownClientTypes[strings.TrimSpace(msg.Type)]; !ok {
		return ClientMessage{}, errorsx.Wrap(errors.New("unknown message type: "+msg.Type), errorsx.ReasonInvalidMessage)
	}
	return msg, nil
}

// ServerEvent is one outbound frame.
type ServerEvent struct {
	Type       string `json:"type"`
	State      string `json:"state,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	Text       string `json:"text,omitempty"`
	Message    string `json:"message,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Data       string `json:"data,omitempty"`
	ChunkIndex int    `json:"chunkIndex,omitempty"`
	IsLast     bool   `json:"isLast,omitempty"`
	IsPartial  bool   `json:"isPartial,omitempty"`
	Final      bool   `json:"final,omitempty"`
	URL        string `json:"url,omitempty"`
	Version    string `json:"version,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

func StateChange(state, requestID string) ServerEvent {
	return ServerEvent{Type: EvStateChange, State: state, RequestID: requestID}
}

func Transcript(text, requestID string, final bool) ServerEvent {
	return ServerEvent{Type: EvTranscript, Text: text, RequestID: requestID, Final: final}
}

func TextResponse(text, requestID string, partial bool) ServerEvent {
	return ServerEvent{Type: EvTextResponse, Text: text, RequestID: requestID, IsPartial: partial}
}

func TTSAudio(audioBase64, requestID string) ServerEvent {
	return ServerEvent{Type: EvTTSAudio, Audio: audioBase64, RequestID: requestID}
}

// LegacyAudioChunk is the chunked audio form older clients consume.
func LegacyAudioChunk(audioBase64, requestID string, index int, last bool) ServerEvent {
	return ServerEvent{Type: EvAudioChunk, Data: audioBase64, RequestID: requestID, ChunkIndex: index, IsLast: last}
}

func OpenURL(url, requestID string) ServerEvent {
	return ServerEvent{Type: EvOpenURL, URL: url, RequestID: requestID}
}

func Error(message, requestID string) ServerEvent {
	return ServerEvent{Type: EvError, Message: message, RequestID: requestID}
}

func Connected(message, version, userID string) ServerEvent {
	return ServerEvent{Type: EvConnected, Message: message, Version: version, UserID: userID}
}
