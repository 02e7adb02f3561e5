package errorsx

import "errors"

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConfigMissingCredential ReasonCode = "config_missing_credential"
	ReasonConfigInvalid           ReasonCode = "config_invalid"

	ReasonConnClosed      ReasonCode = "conn_closed"
	ReasonConnCircuitOpen ReasonCode = "conn_circuit_open"

	ReasonSTTConnect   ReasonCode = "stt_connect"
	ReasonSTTSend      ReasonCode = "stt_send"
	ReasonSTTProtocol  ReasonCode = "stt_protocol"
	ReasonSTTDecode    ReasonCode = "stt_decode"
	ReasonSTTRateLimit ReasonCode = "stt_rate_limit"

	ReasonTTSConnect   ReasonCode = "tts_connect"
	ReasonTTSSend      ReasonCode = "tts_send"
	ReasonTTSProtocol  ReasonCode = "tts_protocol"
	ReasonTTSDecode    ReasonCode = "tts_decode"
	ReasonTTSRateLimit ReasonCode = "tts_rate_limit"

	ReasonLLMStream    ReasonCode = "llm_stream"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonArtifactIO ReasonCode = "artifact_io"
)

// ErrMissingCredential is returned when a client is constructed without an
// API key in its settings or the fallback environment variable.
var ErrMissingCredential = errors.New("missing credential")
