// Package inference abstracts the remote vision-capable language model that
// analyzes normalized document frames. The OpenAI adapter is the only
// concrete engine; tests use the mock.
package inference

import (
	"context"

	"github.com/ashaai/navigator/plugin/docnorm"
)

// Message represents a role-tagged chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Request is one inference request: all frames of a document in page order
// plus the structured instruction text, optionally preceded by prior
// transcript messages for conversational continuity.
type Request struct {
	Frames      []*docnorm.Frame
	Instruction string
	History     []Message
}

// Engine is the inference collaborator interface.
type Engine interface {
	// AnalyzeDocument issues exactly one inference call with the request's
	// frames and instruction. Failures come back as *Failure.
	AnalyzeDocument(ctx context.Context, req *Request) (string, error)

	// Chat performs a text-only completion over role-tagged messages.
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Helper constructors for role-tagged messages.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}
