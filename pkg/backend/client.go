package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8000"

	EndpointVoiceBot   = "/voicebot"
	EndpointTranscribe = "/stt"
	EndpointComplete   = "/llm"
	EndpointSynthesize = "/tts"

	maxErrorBody = 512
)

// Client talks to the speech/LLM backend. It enforces no timeout of its own
// unless WithTimeout is given.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

// WithTimeout sets a per-request timeout. Zero keeps the transport default.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		if d <= 0 {
			return
		}
		c := *client.httpClient
		c.Timeout = d
		client.httpClient = &c
	}
}

func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid backend url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("invalid backend url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("invalid backend url %q: missing host", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpointURL(endpoint string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + endpoint
	return u.String()
}

// VoiceBot uploads a full utterance and returns transcript, reply and audio.
func (c *Client) VoiceBot(ctx context.Context, payload AudioPayload) (*VoiceBotResponse, error) {
	var resp VoiceBotResponse
	if err := c.postMultipart(ctx, EndpointVoiceBot, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transcribe uploads audio to the speech-to-text endpoint.
func (c *Client) Transcribe(ctx context.Context, payload AudioPayload) (*TranscriptionResponse, error) {
	var resp TranscriptionResponse
	if err := c.postMultipart(ctx, EndpointTranscribe, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Complete sends a typed prompt to the text-completion endpoint.
func (c *Client) Complete(ctx context.Context, prompt string) (*CompletionResponse, error) {
	var resp CompletionResponse
	if err := c.postJSON(ctx, EndpointComplete, CompletionRequest{Prompt: prompt}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Synthesize asks the text-to-speech endpoint for base64 audio.
func (c *Client) Synthesize(ctx context.Context, text string) (*SpeechResponse, error) {
	var resp SpeechResponse
	if err := c.postJSON(ctx, EndpointSynthesize, SpeechRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) postMultipart(ctx context.Context, endpoint string, payload AudioPayload, out interface{}) error {
	filename := payload.Filename
	if filename == "" {
		filename = "audio.webm"
	}
	mimeType := payload.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+escapeQuotes(filename)+`"`)
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return errors.Wrap(err, "failed to create multipart part")
	}
	if _, err := part.Write(payload.Data); err != nil {
		return errors.Wrap(err, "failed to write multipart part")
	}
	if err := mw.Close(); err != nil {
		return errors.Wrap(err, "failed to close multipart writer")
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("filename", filename).
		Str("mime_type", mimeType).
		Int("bytes", len(payload.Data)).
		Msg("uploading audio")

	return c.do(ctx, endpoint, mw.FormDataContentType(), &body, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in interface{}, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request body")
	}
	return c.do(ctx, endpoint, "application/json", bytes.NewReader(b), out)
}

func (c *Client) do(ctx context.Context, endpoint string, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(endpoint), body)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: errors.Wrap(err, "failed to read response body")}
	}

	log.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Int("bytes", len(respBody)).
		Dur("elapsed", time.Since(start)).
		Msg("backend response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncate(string(respBody), maxErrorBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &DecodeError{Endpoint: endpoint, Err: err}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
