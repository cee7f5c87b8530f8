package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message, or that it is still provisional.
type Role string

const (
	RoleUser        Role = "user"
	RoleBot         Role = "bot"
	RolePlaceholder Role = "placeholder"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleBot, RolePlaceholder:
		return true
	}
	return false
}

// Message is a single entry of the conversation log.
//
// Seq is the insertion index and never changes. PlaceholderID is only set
// while the message is provisional and is cleared once it resolves to a
// user or bot message.
type Message struct {
	Seq           int       `json:"seq" yaml:"seq"`
	PlaceholderID string    `json:"placeholder_id,omitempty" yaml:"placeholder_id,omitempty"`
	Text          string    `json:"text" yaml:"text"`
	Role          Role      `json:"role" yaml:"role"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

func (m Message) IsPlaceholder() bool {
	return m.PlaceholderID != ""
}

// NewPlaceholderID returns a fresh placeholder id such as "listening-<uuid>".
func NewPlaceholderID(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "placeholder"
	}
	return prefix + "-" + uuid.NewString()
}
