package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/voicebot/pkg/backend"
	"github.com/go-go-golems/voicebot/pkg/media"
)

type fakeStream struct {
	mu       sync.Mutex
	segments [][]byte
	mime     string
	startErr error
	stopErr  error
	opts     media.RecorderOptions
	started  int
	stopped  int
	closed   int
}

func (s *fakeStream) Start(opts media.RecorderOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.opts = opts
	s.started++
	return nil
}

// Stop flushes every configured segment before returning, like a recorder
// delivering its last data event before the stop event.
func (s *fakeStream) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	segs := s.segments
	onSegment := s.opts.OnSegment
	s.stopped++
	stopErr := s.stopErr
	mime := s.mime
	s.mu.Unlock()
	if stopErr != nil {
		return "", stopErr
	}
	for _, seg := range segs {
		onSegment(seg)
	}
	return mime, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	onError := s.opts.OnError
	s.mu.Unlock()
	onError(err)
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeMic struct {
	supported   map[string]bool
	openErr     error
	stream      *fakeStream
	opened      int
	constraints media.Constraints
}

func (m *fakeMic) Supports(mimeType string) bool {
	return m.supported[mimeType]
}

func (m *fakeMic) Open(ctx context.Context, c media.Constraints) (media.InputStream, error) {
	m.opened++
	m.constraints = c
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.stream, nil
}

type fakeBackend struct {
	mu         sync.Mutex
	calls      []string
	payloads   []backend.AudioPayload
	synthTexts []string

	voice    func(p backend.AudioPayload) (*backend.VoiceBotResponse, error)
	complete func(prompt string) (*backend.CompletionResponse, error)
	synth    func(text string) (*backend.SpeechResponse, error)
}

func (b *fakeBackend) VoiceBot(ctx context.Context, p backend.AudioPayload) (*backend.VoiceBotResponse, error) {
	b.mu.Lock()
	b.calls = append(b.calls, backend.EndpointVoiceBot)
	b.payloads = append(b.payloads, p)
	b.mu.Unlock()
	if b.voice == nil {
		return &backend.VoiceBotResponse{}, nil
	}
	return b.voice(p)
}

func (b *fakeBackend) Complete(ctx context.Context, prompt string) (*backend.CompletionResponse, error) {
	b.mu.Lock()
	b.calls = append(b.calls, backend.EndpointComplete)
	b.mu.Unlock()
	if b.complete == nil {
		return &backend.CompletionResponse{}, nil
	}
	return b.complete(prompt)
}

func (b *fakeBackend) Synthesize(ctx context.Context, text string) (*backend.SpeechResponse, error) {
	b.mu.Lock()
	b.calls = append(b.calls, backend.EndpointSynthesize)
	b.synthTexts = append(b.synthTexts, text)
	b.mu.Unlock()
	if b.synth == nil {
		return &backend.SpeechResponse{}, nil
	}
	return b.synth(text)
}

func (b *fakeBackend) callList() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}

type fakeClip struct {
	player *fakePlayer
	data   []byte
}

func (c *fakeClip) Play(ctx context.Context) error {
	p := c.player
	p.mu.Lock()
	p.played = append(p.played, c.data)
	playErr := p.playErr
	block := p.block
	p.mu.Unlock()
	if block != nil {
		close(block)
		<-ctx.Done()
		return ctx.Err()
	}
	return playErr
}

func (c *fakeClip) Close() error { return nil }

type fakePlayer struct {
	mu      sync.Mutex
	loadErr error
	playErr error
	// block, when set, is closed once playback starts and Play waits for
	// cancellation.
	block  chan struct{}
	played [][]byte
}

func (p *fakePlayer) Load(ctx context.Context, data []byte, mimeType string) (media.Clip, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return &fakeClip{player: p, data: data}, nil
}

func (p *fakePlayer) playedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

var errDenied = errors.New("permission denied")
