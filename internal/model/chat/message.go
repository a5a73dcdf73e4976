package chat

import "time"

// Role identifies the author of a turn. It is fixed when the turn is built.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable entry of a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// UserTurn builds a user turn stamped with the current time.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// AssistantTurn builds an assistant turn stamped with the current time.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content, Timestamp: time.Now().UTC()}
}

// Message is the external projection of a Turn used by history responses.
type Message struct {
	Content   string     `json:"content"`
	Role      Role       `json:"role"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}
