package types

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind tags message content at write time so replay never has to inspect it
type Kind string

const (
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
)

// Conversation is the persisted header of a chat thread
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	MessageCount  int       `json:"message_count"`
	TotalTokens   int       `json:"total_tokens"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is one persisted chat message
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Kind           Kind      `json:"kind"`
	Content        string    `json:"content"`
	InputTokens    int       `json:"input_tokens,omitempty"`
	OutputTokens   int       `json:"output_tokens,omitempty"`
	TotalTokens    int       `json:"total_tokens,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	Model          string    `json:"model,omitempty"`
	CostUSD        float64   `json:"cost_usd,omitempty"`
	UsedBYOKey     bool      `json:"used_byo_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// Usage tracks token consumption
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage into u
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// ToolCall is a tool invocation requested by the model during one round.
// It is never persisted.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Navigation asks the client UI to offer a page change
type Navigation struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

// UsageRecord is one chargeable assistant turn
type UsageRecord struct {
	ID                 string    `json:"id"`
	MessageID          string    `json:"message_id"`
	UserID             string    `json:"user_id"`
	ConversationID     string    `json:"conversation_id"`
	InputTokens        int       `json:"input_tokens"`
	OutputTokens       int       `json:"output_tokens"`
	TotalTokens        int       `json:"total_tokens"`
	CostUSD            float64   `json:"cost_usd"`
	Provider           string    `json:"provider"`
	Model              string    `json:"model"`
	CountsAgainstQuota bool      `json:"counts_against_quota"`
	CreatedAt          time.Time `json:"created_at"`
}

// StoredKey is a user-owned provider key sealed with AES-256-GCM.
// EncryptedKey, IV and AuthTag are base64 encoded.
type StoredKey struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	EncryptedKey string    `json:"-"`
	IV           string    `json:"-"`
	AuthTag      string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Preferences holds per-user chat customisation
type Preferences struct {
	UserID       string    `json:"user_id"`
	CustomPrompt string    `json:"custom_prompt"`
	UpdatedAt    time.Time `json:"updated_at"`
}
