package events

import (
	"encoding/json"
	"time"
)

type Type string

const (
	TypeSTTChunk  Type = "stt_chunk"
	TypeSTTOutput Type = "stt_output"
	TypeTTSChunk  Type = "tts_chunk"
)

// Event is one pipeline event. The set of implementations is closed:
// STTChunk, STTOutput and TTSChunk.
type Event interface {
	Type() Type
	Timestamp() time.Time
	isEvent()
}

// STTChunk is an interim transcript guess for the utterance in progress.
// Transcript is not cumulative; a later chunk or STTOutput supersedes it.
type STTChunk struct {
	Transcript string
	At         time.Time
}

// STTOutput is the final, formatted transcript of a completed utterance.
type STTOutput struct {
	Transcript string
	At         time.Time
}

// TTSChunk is one decoded slice of synthesized 16-bit linear PCM.
// ContextID names the synthesis request the audio belongs to, when the
// provider reports one. It is not part of the JSON form.
type TTSChunk struct {
	Audio     []byte
	ContextID string
	At        time.Time
}

func (STTChunk) Type() Type  { return TypeSTTChunk }
func (STTOutput) Type() Type { return TypeSTTOutput }
func (TTSChunk) Type() Type  { return TypeTTSChunk }

func (e STTChunk) Timestamp() time.Time  { return e.At }
func (e STTOutput) Timestamp() time.Time { return e.At }
func (e TTSChunk) Timestamp() time.Time  { return e.At }

func (STTChunk) isEvent()  {}
func (STTOutput) isEvent() {}
func (TTSChunk) isEvent()  {}

type transcriptJSON struct {
	Type       Type   `json:"type"`
	Transcript string `json:"transcript"`
	TS         int64  `json:"ts"`
}

// audio is emitted base64 encoded, which is what encoding/json does for []byte.
type audioJSON struct {
	Type  Type   `json:"type"`
	Audio []byte `json:"audio"`
	TS    int64  `json:"ts"`
}

func (e STTChunk) MarshalJSON() ([]byte, error) {
	return json.Marshal(transcriptJSON{Type: TypeSTTChunk, Transcript: e.Transcript, TS: e.At.UnixMilli()})
}

func (e STTOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(transcriptJSON{Type: TypeSTTOutput, Transcript: e.Transcript, TS: e.At.UnixMilli()})
}

func (e TTSChunk) MarshalJSON() ([]byte, error) {
	audio := e.Audio
	if audio == nil {
		audio = []byte{}
	}
	return json.Marshal(audioJSON{Type: TypeTTSChunk, Audio: audio, TS: e.At.UnixMilli()})
}

// Transcript returns the transcript carried by an STT event.
func Transcript(e Event) (string, bool) {
	switch v := e.(type) {
	case STTChunk:
		return v.Transcript, true
	case STTOutput:
		return v.Transcript, true
	default:
		return "", false
	}
}
