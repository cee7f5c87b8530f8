package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicebot/pkg/backend"
	"github.com/go-go-golems/voicebot/pkg/conversation"
	"github.com/go-go-golems/voicebot/pkg/media"
)

// Backend is what the controller needs from the remote service.
// *backend.Client and *backend.Pipeline both satisfy it.
type Backend interface {
	VoiceBot(ctx context.Context, payload backend.AudioPayload) (*backend.VoiceBotResponse, error)
	Complete(ctx context.Context, prompt string) (*backend.CompletionResponse, error)
	Synthesize(ctx context.Context, text string) (*backend.SpeechResponse, error)
}

type Settings struct {
	Constraints     media.Constraints
	Encodings       []string
	BitsPerSecond   int
	SegmentInterval time.Duration
	// ReplyDelay paces the bot reply after the transcript is shown.
	ReplyDelay time.Duration
	// SpeakTypedReplies sends typed-turn answers to speech synthesis.
	SpeakTypedReplies bool
}

func DefaultSettings() Settings {
	return Settings{
		Constraints:       media.DefaultConstraints(),
		Encodings:         DefaultEncodings(),
		BitsPerSecond:     128000,
		SegmentInterval:   100 * time.Millisecond,
		ReplyDelay:        300 * time.Millisecond,
		SpeakTypedReplies: true,
	}
}

type Option func(*Controller)

func WithSettings(s Settings) Option {
	return func(c *Controller) {
		c.settings = s
	}
}

// WithSleep replaces the pacing delay, mostly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(c *Controller) {
		c.sleep = sleep
	}
}

// Controller drives voice and typed turns and writes their progress into a
// conversation log.
//
// At most one turn is in flight: StartRecording and SubmitText return
// ErrBusy while recording, uploading or waiting for a response. Starting a
// turn while a reply is playing stops the playback.
type Controller struct {
	log      *conversation.Log
	backend  Backend
	mic      media.Microphone
	player   media.Player
	settings Settings
	sleep    func(ctx context.Context, d time.Duration)

	mu         sync.Mutex
	state      State
	rec        *Recording
	playCancel context.CancelFunc
	playToken  int

	obsMu     sync.Mutex
	observers []func(State)
}

func NewController(l *conversation.Log, b Backend, mic media.Microphone, player media.Player, options ...Option) *Controller {
	c := &Controller{
		log:      l,
		backend:  b,
		mic:      mic,
		player:   player,
		settings: DefaultSettings(),
		sleep:    sleepContext,
	}
	for _, o := range options {
		o(c)
	}
	if len(c.settings.Encodings) == 0 {
		c.settings.Encodings = DefaultEncodings()
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Controller) Log() *conversation.Log {
	return c.log
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn to be called after every transition.
func (c *Controller) OnStateChange(fn func(State)) {
	if fn == nil {
		return
	}
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Controller) emit(s State) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	for _, fn := range c.observers {
		fn(s)
	}
}

// setStateLocked must be called with mu held; the caller emits afterwards.
func (c *Controller) setStateLocked(s State) bool {
	if c.state == s {
		return false
	}
	log.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("session state")
	c.state = s
	return true
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	changed := c.setStateLocked(to)
	c.mu.Unlock()
	if changed {
		c.emit(to)
	}
}

// transitionFrom moves to `to` only if the controller is still in `from`.
func (c *Controller) transitionFrom(from State, to State) bool {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return false
	}
	changed := c.setStateLocked(to)
	c.mu.Unlock()
	if changed {
		c.emit(to)
	}
	return true
}

// beginTurn claims the controller for a new turn, stopping playback if a
// reply is still being played.
func (c *Controller) beginTurn(to State, rec *Recording) error {
	c.mu.Lock()
	if c.state.Busy() {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.playCancel != nil {
		c.playCancel()
		c.playCancel = nil
	}
	c.rec = rec
	changed := c.setStateLocked(to)
	c.mu.Unlock()
	if changed {
		c.emit(to)
	}
	return nil
}

// Toggle is the microphone button: start when idle, stop when recording.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.State() == StateRecording {
		return c.StopRecording(ctx)
	}
	return c.StartRecording(ctx)
}

// StartRecording acquires the microphone and starts chunked capture.
func (c *Controller) StartRecording(ctx context.Context) error {
	rec := newRecording(conversation.NewPlaceholderID("listening"))
	if err := c.beginTurn(StateRecording, rec); err != nil {
		return err
	}
	c.log.Append(TextListening, conversation.RolePlaceholder, rec.PlaceholderID)

	stream, err := c.mic.Open(ctx, c.settings.Constraints)
	if err != nil {
		return c.failRecording(rec, KindMicrophoneUnavailable, TextMicrophoneUnavailable, err)
	}
	encoding := NegotiateEncoding(c.settings.Encodings, c.mic.Supports)
	rec.attach(stream, encoding)

	if !c.ownsRecording(rec) {
		// Aborted while the microphone was being acquired.
		_ = rec.release()
		return ErrNotRecording
	}

	err = stream.Start(media.RecorderOptions{
		MimeType:        encoding,
		BitsPerSecond:   c.settings.BitsPerSecond,
		SegmentInterval: c.settings.SegmentInterval,
		OnSegment:       rec.addSegment,
		OnError: func(err error) {
			c.abortRecording(rec, KindCaptureFailed, TextCaptureFailed, err)
		},
	})
	if err != nil {
		return c.failRecording(rec, KindMicrophoneUnavailable, TextMicrophoneUnavailable, err)
	}
	rec.markStarted()

	log.Info().
		Str("placeholder_id", rec.PlaceholderID).
		Str("encoding", encoding).
		Msg("recording started")
	return nil
}

func (c *Controller) ownsRecording(rec *Recording) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec == rec && c.state == StateRecording
}

// detach removes rec from the controller and returns to idle. It returns
// false if rec is no longer the current recording.
func (c *Controller) detach(rec *Recording) bool {
	c.mu.Lock()
	if c.rec != rec || c.state != StateRecording {
		c.mu.Unlock()
		return false
	}
	c.rec = nil
	changed := c.setStateLocked(StateIdle)
	c.mu.Unlock()
	if changed {
		c.emit(StateIdle)
	}
	return true
}

func (c *Controller) failRecording(rec *Recording, kind Kind, text string, cause error) error {
	if err := rec.release(); err != nil {
		log.Warn().Err(err).Msg("failed to release microphone")
	}
	if !c.detach(rec) {
		// Already aborted; the placeholder has been resolved.
		return ErrNotRecording
	}
	c.log.Resolve(rec.PlaceholderID, text, conversation.RoleBot)
	log.Warn().Err(cause).Str("kind", string(kind)).Msg("recording failed")
	return &Error{Kind: kind, Err: cause}
}

// abortRecording releases the microphone without uploading anything.
func (c *Controller) abortRecording(rec *Recording, kind Kind, text string, cause error) {
	if !c.detach(rec) {
		return
	}
	if err := rec.release(); err != nil {
		log.Warn().Err(err).Msg("failed to release microphone")
	}
	c.log.Resolve(rec.PlaceholderID, text, conversation.RoleBot)
	if cause != nil {
		log.Warn().Err(cause).Str("kind", string(kind)).Msg("recording aborted")
	} else {
		log.Info().Str("placeholder_id", rec.PlaceholderID).Msg("recording cancelled")
	}
}

// Abort cancels the current recording without uploading it.
func (c *Controller) Abort() error {
	c.mu.Lock()
	rec := c.rec
	recording := c.state == StateRecording
	c.mu.Unlock()
	if !recording || rec == nil {
		return ErrNotRecording
	}
	c.abortRecording(rec, "", TextRecordingCancelled, nil)
	return nil
}

// takeRecording moves a started recording out of the controller.
func (c *Controller) takeRecording() (*Recording, error) {
	c.mu.Lock()
	if c.state != StateRecording || c.rec == nil {
		c.mu.Unlock()
		return nil, ErrNotRecording
	}
	rec := c.rec
	if !rec.isStarted() {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.rec = nil
	changed := c.setStateLocked(StateUploading)
	c.mu.Unlock()
	if changed {
		c.emit(StateUploading)
	}
	return rec, nil
}

// StopRecording finishes capture and runs the rest of the voice turn:
// upload, transcript, reply and playback. It returns once the controller is
// idle again (or a new turn has taken over playback).
func (c *Controller) StopRecording(ctx context.Context) error {
	rec, err := c.takeRecording()
	if err != nil {
		return err
	}

	mimeType, stopErr := rec.stream.Stop(ctx)
	if err := rec.release(); err != nil {
		log.Warn().Err(err).Msg("failed to release microphone")
	}
	if stopErr != nil {
		c.log.Resolve(rec.PlaceholderID, TextCaptureFailed, conversation.RoleBot)
		c.transition(StateIdle)
		log.Warn().Err(stopErr).Msg("failed to finalize recording")
		return &Error{Kind: KindCaptureFailed, Err: stopErr}
	}

	segments := rec.SegmentCount()
	payload := rec.payload(mimeType)
	log.Info().
		Int("segments", segments).
		Int("bytes", len(payload.Data)).
		Str("mime_type", payload.MimeType).
		Msg("recording stopped")

	if len(payload.Data) == 0 {
		c.log.Resolve(rec.PlaceholderID, TextEmptyCapture, conversation.RoleBot)
		c.transition(StateIdle)
		return &Error{Kind: KindEmptyCapture, Err: errors.New("no audio data captured")}
	}

	c.log.Resolve(rec.PlaceholderID, TextThinking, conversation.RolePlaceholder)
	c.transition(StateAwaitingResponse)

	resp, err := c.backend.VoiceBot(ctx, payload)
	if err != nil {
		kind, text := classifyRequestError(err, voiceBotTexts)
		c.log.Resolve(rec.PlaceholderID, text, conversation.RoleBot)
		c.transition(StateIdle)
		log.Error().Err(err).Str("kind", string(kind)).Msg("voicebot request failed")
		return &Error{Kind: kind, Err: err}
	}
	if resp.Error != "" {
		log.Warn().Str("error", resp.Error).Msg("voicebot reported an error")
	}

	transcript := resp.Transcript
	if transcript == "" {
		transcript = TextUnrecognizedSpeech
	}
	reply := resp.AgentResponse
	if reply == "" {
		reply = TextNoResponse
	}

	c.log.Resolve(rec.PlaceholderID, transcript, conversation.RoleUser)
	c.sleep(ctx, c.settings.ReplyDelay)
	c.log.Append(reply, conversation.RoleBot, "")

	var playErr error
	if resp.AudioBase64 != "" {
		playErr = c.playReply(ctx, StateAwaitingResponse, resp.AudioBase64)
	}
	c.transitionFrom(StateAwaitingResponse, StateIdle)
	return playErr
}

// forceIdle cancels playback, detaches any recording and returns to idle.
// The detached recording is returned for the caller to release. With
// refuseInFlight set it returns ErrBusy instead while a request is pending.
func (c *Controller) forceIdle(refuseInFlight bool) (*Recording, error) {
	c.mu.Lock()
	if refuseInFlight && (c.state == StateUploading || c.state == StateAwaitingResponse) {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	rec := c.rec
	c.rec = nil
	if c.playCancel != nil {
		c.playCancel()
		c.playCancel = nil
	}
	changed := c.setStateLocked(StateIdle)
	c.mu.Unlock()
	if changed {
		c.emit(StateIdle)
	}
	return rec, nil
}

// Reset clears the conversation log. A recording in progress is dropped
// and playback is stopped, without writing to the log. It returns ErrBusy
// while a request is in flight.
func (c *Controller) Reset() error {
	rec, err := c.forceIdle(true)
	if err != nil {
		return err
	}
	if rec != nil {
		if err := rec.release(); err != nil {
			log.Warn().Err(err).Msg("failed to release microphone")
		}
	}
	c.log.Reset()
	log.Info().Msg("conversation reset")
	return nil
}

// Close releases the microphone and stops playback without writing to the log.
func (c *Controller) Close() error {
	rec, _ := c.forceIdle(false)
	if rec != nil {
		return rec.release()
	}
	return nil
}
