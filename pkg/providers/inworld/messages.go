package inworld

import (
	"bytes"
	"encoding/json"
)

const audioEncodingLinear16 = "LINEAR16"

type audioConfig struct {
	AudioEncoding   string `json:"audio_encoding"`
	SampleRateHertz int    `json:"sample_rate_hertz"`
}

type createBody struct {
	VoiceID     string      `json:"voice_id"`
	ModelID     string      `json:"model_id"`
	AudioConfig audioConfig `json:"audio_config"`
}

type createMessage struct {
	ContextID string     `json:"context_id"`
	Create    createBody `json:"create"`
}

type empty struct{}

type sendTextBody struct {
	Text         string `json:"text"`
	FlushContext empty  `json:"flush_context"`
}

type sendTextMessage struct {
	ContextID string       `json:"context_id"`
	SendText  sendTextBody `json:"send_text"`
}

type closeContextMessage struct {
	ContextID    string `json:"context_id"`
	CloseContext empty  `json:"close_context"`
}

type response struct {
	Result *struct {
		ContextID  string `json:"contextId"`
		AudioChunk *struct {
			AudioContent string `json:"audioContent"`
		} `json:"audioChunk"`
		// contextClosed is a bool in some API versions and an object in others.
		ContextClosed json.RawMessage `json:"contextClosed"`
		Status        json.RawMessage `json:"status"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Done bool `json:"done"`
}

func (r response) audioContent() string {
	if r.Result == nil || r.Result.AudioChunk == nil {
		return ""
	}
	return r.Result.AudioChunk.AudioContent
}

func (r response) contextClosed() bool {
	if r.Result == nil {
		return false
	}
	raw := bytes.TrimSpace(r.Result.ContextClosed)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte("false"))
}

func (r response) errorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

const wavHeaderSize = 44

// stripWAVHeader drops a canonical 44-byte RIFF header so only PCM is emitted.
func stripWAVHeader(b []byte) []byte {
	if len(b) > wavHeaderSize && bytes.HasPrefix(b, []byte("RIFF")) {
		return b[wavHeaderSize:]
	}
	return b
}
