package backend

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// Pipeline answers voice turns with three calls (/stt, /llm, /tts) instead
// of /voicebot and returns the same response shape. Typed turns go straight
// to the client.
type Pipeline struct {
	client *Client
}

func NewPipeline(client *Client) *Pipeline {
	return &Pipeline{client: client}
}

func (p *Pipeline) VoiceBot(ctx context.Context, payload AudioPayload) (*VoiceBotResponse, error) {
	tr, err := p.client.Transcribe(ctx, payload)
	if err != nil {
		return nil, err
	}
	if tr.Error != "" {
		return nil, &APIError{Endpoint: EndpointTranscribe, Message: tr.Error}
	}
	out := &VoiceBotResponse{Transcript: tr.Text}
	if strings.TrimSpace(tr.Text) == "" {
		return out, nil
	}

	cr, err := p.client.Complete(ctx, tr.Text)
	if err != nil {
		return nil, err
	}
	if cr.Error != "" {
		return nil, &APIError{Endpoint: EndpointComplete, Message: cr.Error}
	}
	out.AgentResponse = cr.Response
	if strings.TrimSpace(cr.Response) == "" {
		return out, nil
	}

	// A reply without audio is still a reply.
	sr, err := p.client.Synthesize(ctx, cr.Response)
	if err != nil {
		log.Warn().Err(err).Msg("speech synthesis failed, returning text only")
		return out, nil
	}
	if sr.Error != "" {
		log.Warn().Str("error", sr.Error).Msg("speech synthesis returned an error, returning text only")
		return out, nil
	}
	out.AudioBase64 = sr.AudioBase64
	out.OutputAudioPath = sr.OutputAudioPath
	return out, nil
}

func (p *Pipeline) Complete(ctx context.Context, prompt string) (*CompletionResponse, error) {
	return p.client.Complete(ctx, prompt)
}

func (p *Pipeline) Synthesize(ctx context.Context, text string) (*SpeechResponse, error) {
	return p.client.Synthesize(ctx, text)
}
