package session

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicebot/pkg/conversation"
)

// ReplyMimeType is the container the backend uses for synthesized speech.
const ReplyMimeType = "audio/mpeg"

// DecodeAudio decodes base64 audio, tolerating whitespace and missing padding.
func DecodeAudio(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, errors.New("empty audio payload")
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 audio")
	}
	return b, nil
}

// playReply runs the playback sub-protocol for a reply produced while the
// controller was in `from`. Each failure appends exactly one bot message.
// If a new turn starts meanwhile, playback is canceled and nothing is
// reported.
func (c *Controller) playReply(ctx context.Context, from State, audioBase64 string) error {
	data, err := DecodeAudio(audioBase64)
	if err != nil {
		c.log.Append(TextPlaybackDecode, conversation.RoleBot, "")
		log.Warn().Err(err).Msg("audio processing failed")
		return &Error{Kind: KindPlaybackDecodeFailed, Err: err}
	}

	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return nil
	}
	playCtx, cancel := context.WithCancel(ctx)
	c.playToken++
	token := c.playToken
	c.playCancel = cancel
	c.setStateLocked(StatePlaying)
	c.mu.Unlock()
	c.emit(StatePlaying)

	defer func() {
		cancel()
		c.mu.Lock()
		finished := c.playToken == token && c.state == StatePlaying
		if finished {
			c.playCancel = nil
			c.setStateLocked(StateIdle)
		}
		c.mu.Unlock()
		if finished {
			c.emit(StateIdle)
		}
	}()

	if c.player == nil {
		err := errors.New("no audio player configured")
		c.log.Append(TextPlaybackRejected, conversation.RoleBot, "")
		return &Error{Kind: KindPlaybackRejected, Err: err}
	}

	clip, err := c.player.Load(playCtx, data, ReplyMimeType)
	if err != nil {
		if playCtx.Err() != nil {
			return nil
		}
		c.log.Append(TextPlaybackLoad, conversation.RoleBot, "")
		log.Warn().Err(err).Msg("audio loading failed")
		return &Error{Kind: KindPlaybackLoadFailed, Err: err}
	}
	defer func() {
		if err := clip.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close audio clip")
		}
	}()

	log.Debug().Int("bytes", len(data)).Msg("playing reply audio")
	if err := clip.Play(playCtx); err != nil {
		if playCtx.Err() != nil {
			log.Debug().Msg("playback interrupted")
			return nil
		}
		c.log.Append(TextPlaybackRejected, conversation.RoleBot, "")
		log.Warn().Err(err).Msg("audio playback failed")
		return &Error{Kind: KindPlaybackRejected, Err: err}
	}
	return nil
}
