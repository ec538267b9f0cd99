package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Turn-level reasons.
	ReasonProviderUnavailable ReasonCode = "provider_unavailable"
	ReasonRequestTimeout      ReasonCode = "request_timeout"
	ReasonInvalidMessage      ReasonCode = "invalid_message"
	ReasonCancelled           ReasonCode = "cancelled"

	// Stage-level reasons.
	ReasonSTTFastPath    ReasonCode = "stt_fast_path"
	ReasonSTTFallback    ReasonCode = "stt_fallback"
	ReasonTTSFastPath    ReasonCode = "tts_fast_path"
	ReasonTTSFallback    ReasonCode = "tts_fallback"
	ReasonLLMGenerate    ReasonCode = "llm_generate"
	ReasonToolExecution  ReasonCode = "tool_execution"
	ReasonMemoryRetrieve ReasonCode = "memory_retrieve"
	ReasonQueuePoll      ReasonCode = "queue_poll"
)
