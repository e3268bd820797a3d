package models

import "time"

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleModel represents a message generated by the language model.
	RoleModel Role = "model"
	// RoleSystem represents an instruction message. Messages with this role are
	// kept in the session log but are never transmitted to the model provider.
	RoleSystem Role = "system"
)

// Message represents an individual entry within a chat session. Content and
// IsStreaming are the only fields mutated after creation, and only on the
// model-role placeholder while a reply is being streamed into it.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	IsStreaming bool      `json:"isStreaming,omitempty"`
}
