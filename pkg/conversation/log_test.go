package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func texts(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}

func TestLog_AppendKeepsInsertionOrder(t *testing.T) {
	l := NewLog()
	l.Append("welcome", RoleBot, "")
	l.Append("hi", RoleUser, "")
	l.Append("hello", RoleBot, "")

	msgs := l.Messages()
	require.Equal(t, []string{"welcome", "hi", "hello"}, texts(msgs))
	for i, m := range msgs {
		require.Equal(t, i, m.Seq)
	}
}

func TestLog_ResolveRewritesInPlace(t *testing.T) {
	l := NewLog()
	l.Append("welcome", RoleBot, "")
	l.Append("Listening...", RolePlaceholder, "listening-1")
	l.Append("later", RoleBot, "")

	msg, found := l.Resolve("listening-1", "Thinking...", RolePlaceholder)
	require.True(t, found)
	require.Equal(t, 1, msg.Seq)
	require.Equal(t, "listening-1", msg.PlaceholderID)

	msg, found = l.Resolve("listening-1", "book a room", RoleUser)
	require.True(t, found)
	require.Equal(t, 1, msg.Seq)
	require.Equal(t, RoleUser, msg.Role)
	require.Empty(t, msg.PlaceholderID)

	require.Equal(t, []string{"welcome", "book a room", "later"}, texts(l.Messages()))
	_, ok := l.Lookup("listening-1")
	require.False(t, ok)
}

func TestLog_ResolveUnknownIDFallsBackToAppend(t *testing.T) {
	l := NewLog()
	l.Append("welcome", RoleBot, "")

	msg, found := l.Resolve("never-existed", "late result", RoleBot)
	require.False(t, found)
	require.Equal(t, 1, msg.Seq)
	require.Empty(t, msg.PlaceholderID)

	other := NewLog()
	other.Append("welcome", RoleBot, "")
	other.Append("late result", RoleBot, "")
	require.Equal(t, texts(other.Messages()), texts(l.Messages()))
}

func TestLog_ResolvedIDCannotBeResolvedTwice(t *testing.T) {
	l := NewLog()
	l.Append("Listening...", RolePlaceholder, "p")
	_, found := l.Resolve("p", "done", RoleBot)
	require.True(t, found)

	_, found = l.Resolve("p", "again", RoleBot)
	require.False(t, found)
	require.Equal(t, []string{"done", "again"}, texts(l.Messages()))
}

func TestLog_DuplicateTagMovesToNewestMessage(t *testing.T) {
	l := NewLog()
	l.Append("first", RolePlaceholder, "dup")
	l.Append("second", RolePlaceholder, "dup")

	msgs := l.Messages()
	require.Empty(t, msgs[0].PlaceholderID)
	require.Equal(t, "dup", msgs[1].PlaceholderID)

	msg, found := l.Resolve("dup", "resolved", RoleBot)
	require.True(t, found)
	require.Equal(t, 1, msg.Seq)
}

func TestLog_RandomSequencesNeverReorder(t *testing.T) {
	l := NewLog()
	var expected []string
	ids := []string{}
	for i := 0; i < 50; i++ {
		switch i % 3 {
		case 0:
			id := NewPlaceholderID("p")
			ids = append(ids, id)
			l.Append("pending", RolePlaceholder, id)
			expected = append(expected, "pending")
		case 1:
			l.Append("user", RoleUser, "")
			expected = append(expected, "user")
		case 2:
			id := ids[len(ids)-1]
			msg, found := l.Resolve(id, "resolved", RoleBot)
			if found {
				expected[msg.Seq] = "resolved"
			} else {
				expected = append(expected, "resolved")
			}
		}
	}
	require.Equal(t, expected, texts(l.Messages()))
}

func TestLog_SubscribersSeeEveryChange(t *testing.T) {
	l := NewLog()
	var changes []Change
	l.Subscribe(func(c Change) { changes = append(changes, c) })

	l.Append("Listening...", RolePlaceholder, "p")
	l.Resolve("p", "hi", RoleUser)
	l.Resolve("p", "fallback", RoleBot)
	l.Reset()

	require.Len(t, changes, 4)
	require.Equal(t, ChangeAppended, changes[0].Kind)
	require.Equal(t, ChangeResolved, changes[1].Kind)
	require.Equal(t, "hi", changes[1].Message.Text)
	require.Equal(t, ChangeAppended, changes[2].Kind)
	require.Equal(t, 1, changes[2].Message.Seq)
	require.Equal(t, ChangeReset, changes[3].Kind)
	require.Equal(t, 0, l.Len())
}

func TestLog_ClockStampsMessages(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now := t0
	l := NewLog(WithClock(func() time.Time { return now }))
	l.Append("Listening...", RolePlaceholder, "p")
	now = t0.Add(time.Second)
	msg, _ := l.Resolve("p", "hi", RoleUser)
	require.Equal(t, t0, msg.CreatedAt)
	require.Equal(t, t0.Add(time.Second), msg.UpdatedAt)
}

func TestLog_Last(t *testing.T) {
	l := NewLog()
	_, ok := l.Last()
	require.False(t, ok)

	l.Append("a", RoleBot, "")
	l.Append("b", RoleUser, "")
	last, ok := l.Last()
	require.True(t, ok)
	require.Equal(t, "b", last.Text)
}

func TestNewPlaceholderID(t *testing.T) {
	a := NewPlaceholderID("listening")
	b := NewPlaceholderID("listening")
	require.True(t, strings.HasPrefix(a, "listening-"))
	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(NewPlaceholderID(" "), "placeholder-"))
}
