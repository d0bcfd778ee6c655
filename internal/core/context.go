package core

// Message roles, matching the chat completion wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is one entry in a conversation. Immutable once appended.
type ChatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

// ChatContext carries the caller identity and tenant scope through every
// downstream call. It is read, never mutated.
type ChatContext struct {
	RequestID string
	UserID    string
	TenantID  string
	AuthToken string
	Language  string
}

// RateKey returns the admission-control key for this caller.
func (c ChatContext) RateKey() string {
	return c.UserID + ":" + c.TenantID
}

// HasPermission reports whether perms grants the named permission. A
// wildcard or owner grant implies everything.
func HasPermission(perms []string, required string) bool {
	if required == "" {
		return true
	}
	for _, p := range perms {
		if p == required || p == "*" || p == "owner" {
			return true
		}
	}
	return false
}

// TrimHistory bounds a conversation to its trailing max messages while
// keeping the leading system message in place.
func TrimHistory(history []ChatMessage, max int) []ChatMessage {
	if max <= 0 || len(history) <= max {
		return history
	}
	if len(history) > 0 && history[0].Role == RoleSystem {
		trimmed := make([]ChatMessage, 0, max+1)
		trimmed = append(trimmed, history[0])
		return append(trimmed, history[len(history)-max:]...)
	}
	return history[len(history)-max:]
}
