package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// FileMicrophone replays a recorded file as if it were captured live. It
// backs `voicebot record --file`.
type FileMicrophone struct {
	Path string
	// ChunkSize is the segment size in bytes; 0 means 4 KiB.
	ChunkSize int
}

// MimeTypeForPath guesses an audio mime type from a file extension.
func MimeTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		return "audio/webm"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".mp4", ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	}
	return ""
}

// Supports accepts the platform default and the file's own container.
func (m *FileMicrophone) Supports(mimeType string) bool {
	if mimeType == "" {
		return true
	}
	own := MimeTypeForPath(m.Path)
	return own != "" && strings.HasPrefix(strings.ToLower(mimeType), own)
}

func (m *FileMicrophone) Open(ctx context.Context, c Constraints) (InputStream, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open audio file %s", m.Path)
	}
	size := m.ChunkSize
	if size <= 0 {
		size = 4096
	}
	return &fileStream{data: data, chunkSize: size, mimeType: MimeTypeForPath(m.Path)}, nil
}

type fileStream struct {
	data      []byte
	chunkSize int
	mimeType  string

	mu      sync.Mutex
	opts    RecorderOptions
	started bool
	closed  bool
}

func (s *fileStream) Start(opts RecorderOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("input stream closed")
	}
	s.opts = opts
	s.started = true
	return nil
}

func (s *fileStream) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return "", errors.New("capture not started")
	}
	data := s.data
	s.data = nil
	onSegment := s.opts.OnSegment
	s.mu.Unlock()

	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n := s.chunkSize
		if n > len(data) {
			n = len(data)
		}
		if onSegment != nil {
			onSegment(data[:n])
		}
		data = data[n:]
	}
	return s.mimeType, nil
}

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}
