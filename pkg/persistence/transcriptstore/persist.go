package transcriptstore

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicebot/pkg/events"
)

// StepTranscriptPersistFunc stores log changes of convID into store.
// Persistence is best-effort: failures are logged and never fail the chat.
func StepTranscriptPersistFunc(store TranscriptStore, convID string) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		ev, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "transcript_persist").Msg("failed to decode event payload")
			return nil
		}
		if store == nil || ev.ConversationID != convID {
			return nil
		}

		ctx := msg.Context()
		if ctx == nil || ctx.Err() != nil {
			// Message contexts can be canceled during shutdown before the queue drains.
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer cancel()
		}

		switch ev.Type {
		case events.EventMessageAppended, events.EventMessageResolved:
			err = store.UpsertMessage(ctx, convID, *ev.Message)
		case events.EventLogReset:
			err = store.ClearMessages(ctx, convID)
		case events.EventStateChanged:
			err = store.UpsertConversation(ctx, ConversationRecord{
				ConvID:         convID,
				LastActivityMs: ev.At.UnixMilli(),
			})
		}
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).
				Str("component", "transcript_persist").
				Str("conv_id", convID).
				Str("event", string(ev.Type)).
				Msg("transcript upsert failed")
		}
		return nil
	}
}
