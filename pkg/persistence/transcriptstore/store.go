package transcriptstore

import (
	"context"
	"strings"

	"github.com/go-go-golems/voicebot/pkg/conversation"
)

// ConversationRecord is the listing metadata of one persisted chat.
type ConversationRecord struct {
	ConvID         string `json:"conv_id" yaml:"conv_id"`
	Title          string `json:"title" yaml:"title"`
	CreatedAtMs    int64  `json:"created_at_ms" yaml:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms" yaml:"last_activity_ms"`
	MessageCount   int    `json:"message_count" yaml:"message_count"`
	Status         string `json:"status" yaml:"status"`
	LastError      string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// TranscriptStore is the durable projection of a conversation log. Messages
// are keyed by their log sequence number, so a resolved placeholder
// overwrites the row it was first stored in.
type TranscriptStore interface {
	UpsertMessage(ctx context.Context, convID string, m conversation.Message) error
	// ClearMessages drops the transcript of a conversation but keeps its record.
	ClearMessages(ctx context.Context, convID string) error
	GetTranscript(ctx context.Context, convID string) ([]conversation.Message, error)
	UpsertConversation(ctx context.Context, record ConversationRecord) error
	GetConversation(ctx context.Context, convID string) (ConversationRecord, bool, error)
	ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error)
	Close() error
}

const titleMaxLen = 60

// titleFor derives a listing title from the first user message.
func titleFor(m conversation.Message) string {
	if m.Role != conversation.RoleUser {
		return ""
	}
	t := strings.Join(strings.Fields(m.Text), " ")
	if r := []rune(t); len(r) > titleMaxLen {
		t = string(r[:titleMaxLen-3]) + "..."
	}
	return t
}

func normalizeConversationRecord(record ConversationRecord, now int64) ConversationRecord {
	record.ConvID = strings.TrimSpace(record.ConvID)
	record.Title = strings.TrimSpace(record.Title)
	record.Status = strings.TrimSpace(record.Status)
	record.LastError = strings.TrimSpace(record.LastError)
	if record.CreatedAtMs <= 0 {
		record.CreatedAtMs = now
	}
	if record.LastActivityMs <= 0 {
		record.LastActivityMs = record.CreatedAtMs
	}
	return record
}

// mergeConversationRecord keeps the earliest creation time, the latest
// activity and any non-empty field the incoming record leaves blank.
func mergeConversationRecord(existing, incoming ConversationRecord, now int64) ConversationRecord {
	incoming = normalizeConversationRecord(incoming, now)
	if existing.ConvID == "" {
		if incoming.Status == "" {
			incoming.Status = "active"
		}
		return incoming
	}
	if existing.CreatedAtMs > 0 {
		incoming.CreatedAtMs = existing.CreatedAtMs
	}
	if incoming.LastActivityMs < existing.LastActivityMs {
		incoming.LastActivityMs = existing.LastActivityMs
	}
	if incoming.Title == "" {
		incoming.Title = existing.Title
	}
	if incoming.MessageCount < existing.MessageCount {
		incoming.MessageCount = existing.MessageCount
	}
	if incoming.Status == "" {
		incoming.Status = existing.Status
	}
	if incoming.LastError == "" {
		incoming.LastError = existing.LastError
	}
	if incoming.Status == "" {
		incoming.Status = "active"
	}
	return incoming
}
