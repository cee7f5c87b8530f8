package transcriptstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voicebot/pkg/conversation"
)

func newStores(t *testing.T) map[string]TranscriptStore {
	t.Helper()
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	sqlite, err := NewSQLiteTranscriptStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]TranscriptStore{
		"memory": NewInMemoryTranscriptStore(),
		"sqlite": sqlite,
	}
}

func TestTranscriptStore_ResolveOverwritesInPlace(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.UnixMilli(1_700_000_000_000).UTC()

			require.NoError(t, s.UpsertMessage(ctx, "c1", conversation.Message{
				Seq: 0, Text: "Hello!", Role: conversation.RoleBot, CreatedAt: created,
			}))
			require.NoError(t, s.UpsertMessage(ctx, "c1", conversation.Message{
				Seq: 1, Text: "Listening...", Role: conversation.RolePlaceholder, PlaceholderID: "listening-1", CreatedAt: created,
			}))
			require.NoError(t, s.UpsertMessage(ctx, "c1", conversation.Message{
				Seq: 1, Text: "book a room", Role: conversation.RoleUser, CreatedAt: created.Add(time.Second),
			}))
			require.NoError(t, s.UpsertMessage(ctx, "c1", conversation.Message{
				Seq: 2, Text: "Sure, for how many nights?", Role: conversation.RoleBot, CreatedAt: created,
			}))

			msgs, err := s.GetTranscript(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			require.Equal(t, "Hello!", msgs[0].Text)
			require.Equal(t, "book a room", msgs[1].Text)
			require.Equal(t, conversation.RoleUser, msgs[1].Role)
			require.Empty(t, msgs[1].PlaceholderID)
			require.True(t, msgs[1].CreatedAt.Equal(created), "creation time survives resolution")
			require.Equal(t, "Sure, for how many nights?", msgs[2].Text)

			rec, ok, err := s.GetConversation(ctx, "c1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, 3, rec.MessageCount)
			require.Equal(t, "book a room", rec.Title)
			require.Equal(t, "active", rec.Status)
		})
	}
}

func TestTranscriptStore_ClearMessages(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertMessage(ctx, "c1", conversation.Message{Seq: 0, Text: "hi", Role: conversation.RoleUser}))
			require.NoError(t, s.ClearMessages(ctx, "c1"))

			msgs, err := s.GetTranscript(ctx, "c1")
			require.NoError(t, err)
			require.Empty(t, msgs)

			rec, ok, err := s.GetConversation(ctx, "c1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, 0, rec.MessageCount)
		})
	}
}

func TestTranscriptStore_ListConversations(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "old", CreatedAtMs: 100, LastActivityMs: 100}))
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "new", CreatedAtMs: 200, LastActivityMs: 300}))
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "old", LastActivityMs: 50, Status: "closed"}))

			all, err := s.ListConversations(ctx, 10, 0)
			require.NoError(t, err)
			require.Len(t, all, 2)
			require.Equal(t, "new", all[0].ConvID)
			require.Equal(t, "old", all[1].ConvID)
			require.Equal(t, int64(100), all[1].LastActivityMs)
			require.Equal(t, int64(100), all[1].CreatedAtMs)
			require.Equal(t, "closed", all[1].Status)

			recent, err := s.ListConversations(ctx, 10, 200)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			require.Equal(t, "new", recent[0].ConvID)

			limited, err := s.ListConversations(ctx, 1, 0)
			require.NoError(t, err)
			require.Len(t, limited, 1)

			_, ok, err := s.GetConversation(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestTranscriptStore_RejectsEmptyConvID(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.Error(t, s.UpsertMessage(ctx, " ", conversation.Message{}))
			require.Error(t, s.UpsertConversation(ctx, ConversationRecord{}))
			_, err := s.GetTranscript(ctx, "")
			require.Error(t, err)
		})
	}
}

func TestTitleFor(t *testing.T) {
	require.Equal(t, "", titleFor(conversation.Message{Role: conversation.RoleBot, Text: "hi"}))
	require.Equal(t, "what time is it", titleFor(conversation.Message{Role: conversation.RoleUser, Text: " what  time\nis it "}))
	long := titleFor(conversation.Message{Role: conversation.RoleUser, Text: string(make([]rune, 100))})
	require.Len(t, []rune(long), titleMaxLen)
}
