package assemblyai

import (
	"encoding/json"
	"fmt"
)

// inbound is one decoded server message: beginMessage, turnMessage,
// terminationMessage or errorMessage.
type inbound interface {
	kind() string
}

type beginMessage struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	TurnOrder       int     `json:"turn_order"`
	Transcript      string  `json:"transcript"`
	TurnIsFormatted bool    `json:"turn_is_formatted"`
	EndOfTurn       bool    `json:"end_of_turn"`
	EndOfTurnConf   float64 `json:"end_of_turn_confidence"`
}

type terminationMessage struct {
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Error string `json:"error"`
}

func (beginMessage) kind() string       { return "Begin" }
func (turnMessage) kind() string        { return "Turn" }
func (terminationMessage) kind() string { return "Termination" }
func (errorMessage) kind() string       { return "Error" }

// controlMessage is sent as text on the audio socket.
type controlMessage struct {
	Type string `json:"type"`
}

var (
	terminateMessage     = controlMessage{Type: "Terminate"}
	forceEndpointMessage = controlMessage{Type: "ForceEndpoint"}
)

// parseMessage dispatches on the "type" discriminator. Malformed JSON and
// unknown types are both decode errors.
func parseMessage(data []byte) (inbound, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var msg inbound
	switch envelope.Type {
	case "Begin":
		var m beginMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode Begin: %w", err)
		}
		msg = m
	case "Turn":
		var m turnMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode Turn: %w", err)
		}
		msg = m
	case "Termination":
		var m terminationMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode Termination: %w", err)
		}
		msg = m
	case "Error":
		var m errorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode Error: %w", err)
		}
		msg = m
	default:
		return nil, fmt.Errorf("unknown message type %q", envelope.Type)
	}
	return msg, nil
}
