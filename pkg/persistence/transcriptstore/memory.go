package transcriptstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/voicebot/pkg/conversation"
)

// InMemoryTranscriptStore mirrors the sqlite store's ordering for tests and
// runs without a database file.
type InMemoryTranscriptStore struct {
	mu            sync.Mutex
	transcripts   map[string]map[int]conversation.Message
	conversations map[string]ConversationRecord
}

var _ TranscriptStore = &InMemoryTranscriptStore{}

func NewInMemoryTranscriptStore() *InMemoryTranscriptStore {
	return &InMemoryTranscriptStore{
		transcripts:   map[string]map[int]conversation.Message{},
		conversations: map[string]ConversationRecord{},
	}
}

func (s *InMemoryTranscriptStore) Close() error { return nil }

func (s *InMemoryTranscriptStore) UpsertMessage(_ context.Context, convID string, m conversation.Message) error {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("in-memory transcript store: convID is empty")
	}
	if m.Seq < 0 {
		return errors.Errorf("in-memory transcript store: invalid seq %d", m.Seq)
	}
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transcripts[convID]
	if t == nil {
		t = map[int]conversation.Message{}
		s.transcripts[convID] = t
	}
	if existing, ok := t[m.Seq]; ok && !existing.CreatedAt.IsZero() {
		m.CreatedAt = existing.CreatedAt
	}
	t[m.Seq] = m

	record := ConversationRecord{ConvID: convID, LastActivityMs: now, MessageCount: len(t)}
	if prev := s.conversations[convID]; prev.Title == "" {
		record.Title = titleFor(m)
	}
	s.conversations[convID] = mergeConversationRecord(s.conversations[convID], record, now)
	return nil
}

func (s *InMemoryTranscriptStore) ClearMessages(_ context.Context, convID string) error {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("in-memory transcript store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, convID)
	if rec, ok := s.conversations[convID]; ok {
		rec.MessageCount = 0
		rec.Title = ""
		rec.LastActivityMs = time.Now().UnixMilli()
		s.conversations[convID] = rec
	}
	return nil
}

func (s *InMemoryTranscriptStore) GetTranscript(_ context.Context, convID string) ([]conversation.Message, error) {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, errors.New("in-memory transcript store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transcripts[convID]
	out := make([]conversation.Message, 0, len(t))
	for _, m := range t {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *InMemoryTranscriptStore) UpsertConversation(_ context.Context, record ConversationRecord) error {
	now := time.Now().UnixMilli()
	record = normalizeConversationRecord(record, now)
	if record.ConvID == "" {
		return errors.New("in-memory transcript store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[record.ConvID] = mergeConversationRecord(s.conversations[record.ConvID], record, now)
	return nil
}

func (s *InMemoryTranscriptStore) GetConversation(_ context.Context, convID string) (ConversationRecord, bool, error) {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return ConversationRecord{}, false, errors.New("in-memory transcript store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.conversations[convID]
	return record, ok, nil
}

func (s *InMemoryTranscriptStore) ListConversations(_ context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]ConversationRecord, 0, len(s.conversations))
	for _, record := range s.conversations {
		if sinceMs > 0 && record.LastActivityMs < sinceMs {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastActivityMs == records[j].LastActivityMs {
			return records[i].ConvID < records[j].ConvID
		}
		return records[i].LastActivityMs > records[j].LastActivityMs
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
