package session

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicebot/pkg/backend"
	"github.com/go-go-golems/voicebot/pkg/conversation"
)

// SubmitText runs a typed turn: the prompt goes to the completion endpoint,
// the "Thinking..." placeholder is resolved with the answer, and the answer
// is then spoken through the synthesis endpoint. Blank prompts are ignored.
func (c *Controller) SubmitText(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}
	if err := c.beginTurn(StateAwaitingResponse, nil); err != nil {
		return err
	}

	c.log.Append(prompt, conversation.RoleUser, "")
	placeholderID := conversation.NewPlaceholderID("thinking")
	c.log.Append(TextThinking, conversation.RolePlaceholder, placeholderID)

	resp, err := c.backend.Complete(ctx, prompt)
	if err == nil && resp.Error != "" {
		err = &backend.APIError{Endpoint: backend.EndpointComplete, Message: resp.Error}
	}
	if err != nil {
		kind, text := classifyRequestError(err, assistantTexts)
		c.log.Resolve(placeholderID, text, conversation.RoleBot)
		c.transition(StateIdle)
		log.Error().Err(err).Str("kind", string(kind)).Msg("completion request failed")
		return &Error{Kind: kind, Err: err}
	}

	answer := resp.Response
	if answer == "" {
		answer = TextNoResponse
	}
	c.log.Resolve(placeholderID, answer, conversation.RoleBot)

	var speakErr error
	if c.settings.SpeakTypedReplies && resp.Response != "" {
		speakErr = c.speak(ctx, resp.Response)
	}
	c.transitionFrom(StateAwaitingResponse, StateIdle)
	return speakErr
}

func (c *Controller) speak(ctx context.Context, text string) error {
	sr, err := c.backend.Synthesize(ctx, text)
	if err == nil && sr.Error != "" {
		err = &backend.APIError{Endpoint: backend.EndpointSynthesize, Message: sr.Error}
	}
	if err != nil {
		c.log.Append(TextSynthesisFailed, conversation.RoleBot, "")
		log.Warn().Err(err).Msg("speech synthesis failed")
		return &Error{Kind: KindSynthesisFailed, Err: err}
	}
	if sr.AudioBase64 == "" {
		log.Debug().Msg("speech synthesis returned no audio")
		return nil
	}
	return c.playReply(ctx, StateAwaitingResponse, sr.AudioBase64)
}
