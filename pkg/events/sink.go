package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicebot/pkg/conversation"
	"github.com/go-go-golems/voicebot/pkg/session"
)

// Sink publishes the changes of one conversation to a topic.
type Sink struct {
	publisher      message.Publisher
	topic          string
	conversationID string
}

func NewSink(publisher message.Publisher, topic string, conversationID string) *Sink {
	return &Sink{publisher: publisher, topic: topic, conversationID: conversationID}
}

func (s *Sink) ConversationID() string {
	return s.conversationID
}

func (s *Sink) Publish(e Event) error {
	e.ConversationID = s.conversationID
	if e.At.IsZero() {
		e.At = time.Now()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return errors.Wrapf(err, "failed to publish %s", e.Type)
	}
	return nil
}

// stateSource is implemented by *session.Controller.
type stateSource interface {
	OnStateChange(fn func(session.State))
}

// Attach publishes every change of l and every transition of states.
// Publish failures are logged; the chat keeps working without observers.
func (s *Sink) Attach(l *conversation.Log, states stateSource) {
	if l != nil {
		l.Subscribe(func(c conversation.Change) {
			if err := s.Publish(EventFromChange(c)); err != nil {
				log.Warn().Err(err).Msg("failed to publish log change")
			}
		})
	}
	if states != nil {
		states.OnStateChange(func(st session.State) {
			if err := s.Publish(Event{Type: EventStateChanged, State: st.String()}); err != nil {
				log.Warn().Err(err).Msg("failed to publish state change")
			}
		})
	}
}
