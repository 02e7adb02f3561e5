// Package llm defines the agent side of a conversation: a streaming
// responder and the rolling history it is prompted with.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Token is one increment of a streamed reply. A token with Err set is the
// last one sent and means the reply was cut short.
type Token struct {
	Text string
	Err  error
}

// Responder streams a reply to messages as text increments. The channel is
// closed when the reply is complete or ctx is done.
type Responder interface {
	Name() string
	Stream(ctx context.Context, messages []Message) (<-chan Token, error)
}
