package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Transcription channel.
	ReasonSTTConnect     ReasonCode = "stt_connect"
	ReasonSTTClosed      ReasonCode = "stt_closed"
	ReasonSTTInterrupted ReasonCode = "stt_interrupted"
	ReasonSTTSend        ReasonCode = "stt_send"

	// Reply generation.
	ReasonLLMStream    ReasonCode = "llm_stream"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	// Speech synthesis.
	ReasonTTSConnect    ReasonCode = "tts_connect"
	ReasonTTSSynthesize ReasonCode = "tts_synthesize"
	ReasonTTSRateLimit  ReasonCode = "tts_rate_limit"

	// Audio plumbing.
	ReasonResampleFormat ReasonCode = "resample_format"

	// Media boundary.
	ReasonTransportStart ReasonCode = "transport_start"
	ReasonTransportSend  ReasonCode = "transport_send"
)
