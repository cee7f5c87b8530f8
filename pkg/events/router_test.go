package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voicebot/pkg/conversation"
	"github.com/go-go-golems/voicebot/pkg/session"
)

type fakeStates struct {
	fns []func(session.State)
}

func (f *fakeStates) OnStateChange(fn func(session.State)) {
	f.fns = append(f.fns, fn)
}

func (f *fakeStates) set(s session.State) {
	for _, fn := range f.fns {
		fn(s)
	}
}

func startRouter(t *testing.T, r *EventRouter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case <-r.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	t.Cleanup(func() {
		cancel()
		<-done
		_ = r.Close()
	})
}

func TestEventsArriveInLogOrder(t *testing.T) {
	r, err := NewEventRouter()
	require.NoError(t, err)

	var mu sync.Mutex
	var got []*Event
	require.NoError(t, r.AddHandler("collect", TopicChat, func(msg *message.Message) error {
		e, err := NewEventFromJSON(msg.Payload)
		if !assert.NoError(t, err) {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	}))
	startRouter(t, r)

	l := conversation.NewLog()
	states := &fakeStates{}
	sink := NewSink(r.Publisher, TopicChat, "conv-1")
	sink.Attach(l, states)

	id := conversation.NewPlaceholderID("listening")
	l.Append("Listening...", conversation.RolePlaceholder, id)
	states.set(session.StateRecording)
	l.Resolve(id, "book a room", conversation.RoleUser)
	l.Append("Sure, for how many nights?", conversation.RoleBot, "")
	l.Reset()

	// Publish blocks until acked, so everything is already delivered.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 5)
	types := []EventType{}
	for _, e := range got {
		types = append(types, e.Type)
		assert.Equal(t, "conv-1", e.ConversationID)
	}
	assert.Equal(t, []EventType{
		EventMessageAppended, EventStateChanged, EventMessageResolved, EventMessageAppended, EventLogReset,
	}, types)
	assert.Equal(t, "recording", got[1].State)
	assert.Equal(t, "book a room", got[2].Message.Text)
	assert.Equal(t, 0, got[2].Message.Seq)
	assert.Equal(t, 1, got[3].Message.Seq)
}

func TestEveryHandlerSeesEveryEvent(t *testing.T) {
	r, err := NewEventRouter(WithVerbose(true))
	require.NoError(t, err)

	var mu sync.Mutex
	counts := map[string]int{}
	for _, name := range []string{"a", "b"} {
		name := name
		require.NoError(t, r.AddHandler(name, TopicChat, func(msg *message.Message) error {
			mu.Lock()
			defer mu.Unlock()
			counts[name]++
			return nil
		}))
	}
	startRouter(t, r)

	sink := NewSink(r.Publisher, TopicChat, "conv-2")
	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Publish(Event{Type: EventStateChanged, State: "idle"}))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"a": 3, "b": 3}, counts)
}

func TestNewEventFromJSON(t *testing.T) {
	e, err := NewEventFromJSON([]byte(`{"type":"state-changed","conversation_id":"c","state":"playing"}`))
	require.NoError(t, err)
	assert.Equal(t, EventStateChanged, e.Type)
	assert.Equal(t, "playing", e.State)

	_, err = NewEventFromJSON([]byte(`{"type":"message-appended"}`))
	assert.Error(t, err)
	_, err = NewEventFromJSON([]byte(`{"type":"nope"}`))
	assert.Error(t, err)
	_, err = NewEventFromJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestEventFromChange(t *testing.T) {
	m := conversation.Message{Seq: 3, Text: "hi", Role: conversation.RoleUser}
	e := EventFromChange(conversation.Change{Kind: conversation.ChangeResolved, Message: m})
	assert.Equal(t, EventMessageResolved, e.Type)
	require.NotNil(t, e.Message)
	assert.Equal(t, m, *e.Message)

	e = EventFromChange(conversation.Change{Kind: conversation.ChangeReset})
	assert.Equal(t, EventLogReset, e.Type)
	assert.Nil(t, e.Message)
}
