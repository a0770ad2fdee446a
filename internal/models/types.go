package models

import (
	"time"
)

// Message represents a single conversation turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TrustFlag names a per-user access flag stored on the profile
type TrustFlag string

const (
	FlagAdmin       TrustFlag = "is_admin"
	FlagWhitelisted TrustFlag = "is_whitelisted"
	FlagBlacklisted TrustFlag = "is_blacklisted"
)

// UserProfile represents a user's identity, conversation memory and preferences
type UserProfile struct {
	UserID         int64     `json:"user_id"`
	UserName       string    `json:"user_name"`
	MessageHistory []Message `json:"message_history"`
	Model          string    `json:"model"`
	SystemPrompt   string    `json:"system_prompt"`
	Temperature    float64   `json:"temperature"`
	TopP           float64   `json:"top_p"`
	MaxTokens      int       `json:"max_tokens"`
	Language       string    `json:"language"`
	Speaker        string    `json:"speaker"`
	IsAdmin        bool      `json:"is_admin"`
	IsWhitelisted  bool      `json:"is_whitelisted"`
	IsBlacklisted  bool      `json:"is_blacklisted"`
	LastRequest    time.Time `json:"last_request"`
}

// Clone returns a deep copy of the profile. Cached entries and values handed
// to callers must not share the history slice.
func (p *UserProfile) Clone() *UserProfile {
	cp := *p
	cp.MessageHistory = make([]Message, len(p.MessageHistory))
	copy(cp.MessageHistory, p.MessageHistory)
	return &cp
}

// GenerationOptions carries per-request model parameters
type GenerationOptions struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}
