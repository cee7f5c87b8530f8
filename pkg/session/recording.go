package session

import (
	"bytes"
	"sync"

	"github.com/go-go-golems/voicebot/pkg/backend"
	"github.com/go-go-golems/voicebot/pkg/media"
)

// Recording is the state of one capture. It is created when a turn starts
// and consumed by Stop or Abort; nothing about it outlives the turn.
type Recording struct {
	PlaceholderID string

	mu       sync.Mutex
	stream   media.InputStream
	encoding string
	started  bool
	segments [][]byte
}

func newRecording(placeholderID string) *Recording {
	return &Recording{PlaceholderID: placeholderID}
}

func (r *Recording) attach(stream media.InputStream, encoding string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream = stream
	r.encoding = encoding
}

func (r *Recording) markStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
}

func (r *Recording) isStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Recording) addSegment(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments = append(r.segments, cp)
}

// SegmentCount returns the number of buffered segments.
func (r *Recording) SegmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.segments)
}

// release closes the stream, if any. Safe to call more than once.
func (r *Recording) release() error {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Close()
}

// payload joins the buffered segments and clears the buffer.
func (r *Recording) payload(effectiveMimeType string) backend.AudioPayload {
	r.mu.Lock()
	defer r.mu.Unlock()

	mimeType := effectiveMimeType
	if mimeType == "" {
		mimeType = r.encoding
	}
	if mimeType == "" {
		mimeType = fallbackMimeType
	}
	data := bytes.Join(r.segments, nil)
	r.segments = nil
	return backend.AudioPayload{
		Data:     data,
		MimeType: mimeType,
		Filename: FilenameForMimeType(mimeType),
	}
}
