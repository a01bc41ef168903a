package transcript

import (
	"strings"
	"time"
)

// Role identifies who produced a transcript item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleUnknown   Role = "unknown"
)

// ParseRole maps the loose role strings seen on the wire to a Role.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "human", "caller":
		return RoleUser
	case "assistant", "agent", "ai", "bot":
		return RoleAssistant
	case "system":
		return RoleSystem
	default:
		return RoleUnknown
	}
}

// Event is one conversation item. Events are ordered by arrival, not by Timestamp.
type Event struct {
	ItemID    string    `json:"item_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`

	// Raw is the collaborator's string form of the item, kept only when the
	// structured fields were missing.
	Raw string `json:"raw,omitempty"`
}

// IsUser reports whether the event was spoken by the caller.
func (e Event) IsUser() bool { return e.Role == RoleUser }

// IsAgent reports whether the event was produced by the assistant or the system prompt.
func (e Event) IsAgent() bool { return e.Role == RoleAssistant || e.Role == RoleSystem }
