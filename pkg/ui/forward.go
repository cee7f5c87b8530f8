package ui

import (
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicebot/pkg/conversation"
	"github.com/go-go-golems/voicebot/pkg/events"
	"github.com/go-go-golems/voicebot/pkg/session"
)

// MessageAppendedMsg and MessageResolvedMsg carry a log entry to the model.
type MessageAppendedMsg struct {
	Message conversation.Message
}

type MessageResolvedMsg struct {
	Message conversation.Message
}

type LogResetMsg struct{}

type StateChangedMsg struct {
	State session.State
}

// Sender is implemented by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// StepChatForwardFunc forwards router events of conversationID to the UI by
// turning them into bubbletea messages and injecting them into p.
func StepChatForwardFunc(p Sender, conversationID string) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		e, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("payload", string(msg.Payload)).Msg("failed to parse event")
			return err
		}
		if conversationID != "" && e.ConversationID != conversationID {
			return nil
		}

		log.Trace().Str("type", string(e.Type)).Msg("dispatching event to UI")
		switch e.Type {
		case events.EventMessageAppended:
			p.Send(MessageAppendedMsg{Message: *e.Message})
		case events.EventMessageResolved:
			p.Send(MessageResolvedMsg{Message: *e.Message})
		case events.EventLogReset:
			p.Send(LogResetMsg{})
		case events.EventStateChanged:
			p.Send(StateChangedMsg{State: session.ParseState(e.State)})
		}
		return nil
	}
}
