package events

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/voicebot/pkg/conversation"
)

// TopicChat carries every event of a chat session.
const TopicChat = "voicebot.chat"

type EventType string

const (
	EventMessageAppended EventType = "message-appended"
	EventMessageResolved EventType = "message-resolved"
	EventLogReset        EventType = "log-reset"
	EventStateChanged    EventType = "state-changed"
)

// Event is the JSON payload published on the router. Message is set for
// log changes, State for controller transitions.
type Event struct {
	Type           EventType             `json:"type"`
	ConversationID string                `json:"conversation_id"`
	Message        *conversation.Message `json:"message,omitempty"`
	State          string                `json:"state,omitempty"`
	At             time.Time             `json:"at"`
}

func NewEventFromJSON(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "failed to decode event")
	}
	switch e.Type {
	case EventMessageAppended, EventMessageResolved:
		if e.Message == nil {
			return nil, errors.Errorf("%s event without message", e.Type)
		}
	case EventLogReset, EventStateChanged:
	default:
		return nil, errors.Errorf("unknown event type %q", e.Type)
	}
	return &e, nil
}

// EventFromChange converts a log change into its event.
func EventFromChange(c conversation.Change) Event {
	e := Event{At: time.Now()}
	switch c.Kind {
	case conversation.ChangeAppended:
		e.Type = EventMessageAppended
	case conversation.ChangeResolved:
		e.Type = EventMessageResolved
	case conversation.ChangeReset:
		e.Type = EventLogReset
		return e
	}
	m := c.Message
	e.Message = &m
	return e
}
