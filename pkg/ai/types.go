package ai

import "context"

// Chat roles accepted from clients.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation with the assistant.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the system context and the prior turns.
type ChatRequest struct {
	System   string
	Messages []ChatMessage
}

// ChatResult is the assistant reply plus token usage.
type ChatResult struct {
	Reply            string `json:"reply"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Chatter describes a model capable of answering a chat conversation.
type Chatter interface {
	Chat(ctx context.Context, request ChatRequest) (ChatResult, error)
}
