package llm

import (
	"strings"
	"sync"
)

// DefaultMaxTurns bounds how many user/assistant exchanges are replayed.
const DefaultMaxTurns = 12

// History holds the system prompt and the most recent exchanges. It is safe
// for concurrent use.
type History struct {
	mu       sync.Mutex
	system   string
	maxTurns int
	turns    []Message
}

func NewHistory(systemPrompt string, maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &History{system: systemPrompt, maxTurns: maxTurns}
}

// Prompt returns the messages to send for a new user utterance without
// recording it.
func (h *History) Prompt(userText string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, 0, len(h.turns)+2)
	if strings.TrimSpace(h.system) != "" {
		out = append(out, Message{Role: RoleSystem, Content: h.system})
	}
	out = append(out, h.turns...)
	return append(out, Message{Role: RoleUser, Content: userText})
}

// Append records a completed exchange, dropping the oldest beyond maxTurns.
// A blank reply is still kept so the user side is not lost.
func (h *History) Append(userText, reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns,
		Message{Role: RoleUser, Content: userText},
		Message{Role: RoleAssistant, Content: reply},
	)
	if over := len(h.turns) - 2*h.maxTurns; over > 0 {
		h.turns = append([]Message(nil), h.turns[over:]...)
	}
}

// Len is the number of recorded messages, excluding the system prompt.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
