package media

import (
	"context"
	"time"
)

// Constraints describes the microphone input the caller wants.
type Constraints struct {
	SampleRate       int  `json:"sample_rate" yaml:"sample-rate" mapstructure:"sample-rate"`
	Channels         int  `json:"channels" yaml:"channels" mapstructure:"channels"`
	EchoCancellation bool `json:"echo_cancellation" yaml:"echo-cancellation" mapstructure:"echo-cancellation"`
	NoiseSuppression bool `json:"noise_suppression" yaml:"noise-suppression" mapstructure:"noise-suppression"`
}

// DefaultConstraints is 16 kHz mono with echo cancellation and noise suppression.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// RecorderOptions configures chunked capture on an open input stream.
//
// OnSegment receives every non-empty chunk in capture order. OnError is
// called at most once if capture fails after Start returned.
type RecorderOptions struct {
	MimeType        string
	BitsPerSecond   int
	SegmentInterval time.Duration
	OnSegment       func(segment []byte)
	OnError         func(err error)
}

// Microphone hands out input streams.
type Microphone interface {
	// Supports reports whether the given container/codec can be recorded.
	// The empty string means "let the platform choose" and is always supported.
	Supports(mimeType string) bool
	Open(ctx context.Context, c Constraints) (InputStream, error)
}

// InputStream is an acquired microphone.
type InputStream interface {
	Start(opts RecorderOptions) error
	// Stop ends capture and returns once every segment has been delivered.
	// It returns the effective mime type, or "" if unknown.
	Stop(ctx context.Context) (string, error)
	// Close releases the underlying hardware. It is safe to call more than
	// once and after Stop.
	Close() error
}

// Player turns raw audio into something playable.
type Player interface {
	Load(ctx context.Context, data []byte, mimeType string) (Clip, error)
}

// Clip is a loaded audio resource.
type Clip interface {
	// Play blocks until playback finishes or ctx is canceled.
	Play(ctx context.Context) error
	Close() error
}
