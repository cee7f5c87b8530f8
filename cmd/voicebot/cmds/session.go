package cmds

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/voicebot/pkg/backend"
	"github.com/go-go-golems/voicebot/pkg/config"
	"github.com/go-go-golems/voicebot/pkg/conversation"
	"github.com/go-go-golems/voicebot/pkg/events"
	"github.com/go-go-golems/voicebot/pkg/media"
	"github.com/go-go-golems/voicebot/pkg/persistence/transcriptstore"
	"github.com/go-go-golems/voicebot/pkg/session"
)

const (
	statusActive = "active"
	statusClosed = "closed"
)

// chatSession wires one conversation: log, controller, event router and
// the optional transcript store.
type chatSession struct {
	settings *config.Settings
	convID   string

	log    *conversation.Log
	ctrl   *session.Controller
	client *backend.Client
	router *events.EventRouter
	sink   *events.Sink
	store  transcriptstore.TranscriptStore
}

func openStore(s *config.Settings) (transcriptstore.TranscriptStore, error) {
	if !s.Store.Enabled {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Store.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create store directory")
	}
	dsn, err := transcriptstore.SQLiteDSNForFile(s.Store.Path)
	if err != nil {
		return nil, err
	}
	return transcriptstore.NewSQLiteTranscriptStore(dsn)
}

func newMicrophone(s *config.Settings) media.Microphone {
	mic := media.NewCommandMicrophone(s.Audio.CaptureProgram, s.Audio.InputFormat, s.Audio.InputDevice)
	if s.Audio.CaptureStartup > 0 {
		mic.StartupTimeout = s.Audio.CaptureStartup
	}
	return mic
}

func newPlayer(s *config.Settings) media.Player {
	p := media.NewCommandPlayer(s.Audio.PlayerProgram, s.Audio.PlayerArgs...)
	p.Inspector = s.Audio.InspectProgram
	return p
}

func newChatSession(s *config.Settings, mic media.Microphone, verbose bool, options ...session.Option) (*chatSession, error) {
	b, client, err := s.NewBackend()
	if err != nil {
		return nil, err
	}

	router, err := events.BuildRouter(s.Redis, verbose)
	if err != nil {
		return nil, err
	}

	cs := &chatSession{
		settings: s,
		convID:   uuid.NewString(),
		log:      conversation.NewLog(),
		client:   client,
		router:   router,
	}
	cs.sink = events.NewSink(router.Publisher, events.TopicChat, cs.convID)

	options = append([]session.Option{session.WithSettings(s.SessionSettings())}, options...)
	cs.ctrl = session.NewController(cs.log, b, mic, newPlayer(s), options...)

	store, err := openStore(s)
	if err != nil {
		_ = router.Close()
		return nil, err
	}
	if store != nil {
		cs.store = store
		if err := router.AddHandler("persist", events.TopicChat, transcriptstore.StepTranscriptPersistFunc(store, cs.convID)); err != nil {
			_ = cs.Close()
			return nil, err
		}
	}
	return cs, nil
}

func (cs *chatSession) markConversation(ctx context.Context, status string) {
	if cs.store == nil {
		return
	}
	now := time.Now().UnixMilli()
	err := cs.store.UpsertConversation(ctx, transcriptstore.ConversationRecord{
		ConvID:         cs.convID,
		CreatedAtMs:    now,
		LastActivityMs: now,
		Status:         status,
	})
	if err != nil {
		log.Warn().Err(err).Str("conv_id", cs.convID).Msg("failed to update conversation record")
	}
}

// run starts the router, publishes log changes once every handler is
// subscribed and then calls body. The router stops when body returns.
func (cs *chatSession) run(ctx context.Context, body func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return cs.router.Run(groupCtx)
	})
	eg.Go(func() error {
		defer cancel()
		select {
		case <-cs.router.Running():
		case <-groupCtx.Done():
			return groupCtx.Err()
		}
		cs.sink.Attach(cs.log, cs.ctrl)
		cs.markConversation(groupCtx, statusActive)
		err := body(groupCtx)
		// release the microphone while the router still drains events
		if cerr := cs.ctrl.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to release audio devices")
		}
		cs.markConversation(context.Background(), statusClosed)
		return err
	})

	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (cs *chatSession) Close() error {
	var firstErr error
	if cs.ctrl != nil {
		if err := cs.ctrl.Close(); err != nil {
			firstErr = err
		}
	}
	if err := cs.router.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if cs.store != nil {
		if err := cs.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
