package media

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMicrophoneDeliversChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.wav")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	mic := &FileMicrophone{Path: path, ChunkSize: 4}
	assert.True(t, mic.Supports(""))
	assert.True(t, mic.Supports("audio/wav"))
	assert.False(t, mic.Supports("audio/webm;codecs=opus"))

	stream, err := mic.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)

	var segments [][]byte
	require.NoError(t, stream.Start(RecorderOptions{
		OnSegment: func(b []byte) { segments = append(segments, append([]byte{}, b...)) },
	}))
	mimeType, err := stream.Stop(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.Equal(t, "audio/wav", mimeType)
	assert.Equal(t, [][]byte{[]byte("0123"), []byte("4567"), []byte("89")}, segments)
}

func TestFileMicrophoneMissingFile(t *testing.T) {
	mic := &FileMicrophone{Path: filepath.Join(t.TempDir(), "missing.webm")}
	_, err := mic.Open(context.Background(), DefaultConstraints())
	assert.Error(t, err)
}

func TestFileStreamStopBeforeStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.webm")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	stream, err := (&FileMicrophone{Path: path}).Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	_, err = stream.Stop(context.Background())
	assert.Error(t, err)
}

func TestSegmenterWithoutInterval(t *testing.T) {
	var got [][]byte
	s := newSegmenter(bytes.NewReader([]byte("abcdef")), 0, func(b []byte) { got = append(got, b) })
	s.run()
	require.NoError(t, s.err)
	assert.Equal(t, []byte("abcdef"), bytes.Join(got, nil))
}

func TestSegmenterWithIntervalKeepsOrder(t *testing.T) {
	pr, pw := io.Pipe()
	var mu sync.Mutex
	var got [][]byte
	s := newSegmenter(pr, 5*time.Millisecond, func(b []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, b)
	})
	go s.run()

	for _, part := range []string{"one-", "two-", "three"} {
		_, err := pw.Write([]byte(part))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, pw.Close())
	<-s.done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "one-two-three", string(bytes.Join(got, nil)))
	for _, seg := range got {
		assert.NotEmpty(t, seg)
	}
}

func TestSegmenterReportsReadError(t *testing.T) {
	pr, pw := io.Pipe()
	s := newSegmenter(pr, 0, nil)
	go s.run()
	_ = pw.CloseWithError(errors.New("device gone"))
	<-s.done
	assert.EqualError(t, s.err, "device gone")
}

func TestOutputFormatFor(t *testing.T) {
	f, ok := outputFormatFor("audio/webm;codecs=opus")
	require.True(t, ok)
	assert.Equal(t, "audio/webm;codecs=opus", f.mimeType)
	assert.Contains(t, f.args, "libopus")

	f, ok = outputFormatFor("")
	require.True(t, ok)
	assert.Equal(t, "audio/wav", f.mimeType)

	f, ok = outputFormatFor("audio/mp4")
	require.True(t, ok)
	assert.Contains(t, f.args, "frag_keyframe+empty_moov")

	_, ok = outputFormatFor("audio/flac")
	assert.False(t, ok)
}

func TestCommandStreamArgs(t *testing.T) {
	s := &commandStream{
		inputFormat: "pulse",
		inputDevice: "default",
		constraints: DefaultConstraints(),
	}
	f, _ := outputFormatFor("audio/webm")
	args := s.args(RecorderOptions{BitsPerSecond: 128000}, f)
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "pulse", "-i", "default",
		"-ac", "1", "-ar", "16000",
		"-af", "afftdn,highpass=f=80",
		"-c:a", "libopus", "-f", "webm",
		"-b:a", "128000",
		"pipe:1",
	}, args)
}

func TestCommandMicrophoneMissingProgram(t *testing.T) {
	mic := NewCommandMicrophone("ffmpeg", "", "")
	mic.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	_, err := mic.Open(context.Background(), DefaultConstraints())
	assert.Error(t, err)
}

func TestCommandPlayerMissingProgram(t *testing.T) {
	p := NewCommandPlayer("ffplay")
	p.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	_, err := p.Load(context.Background(), []byte("x"), "audio/mpeg")
	assert.Error(t, err)
}

func TestCommandPlayerClipLifecycle(t *testing.T) {
	p := NewCommandPlayer("true")
	p.Args = []string{}
	p.lookPath = func(name string) (string, error) { return "/bin/true", nil }
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("/bin/true not available")
	}

	clip, err := p.Load(context.Background(), []byte("mp3"), "audio/mpeg")
	require.NoError(t, err)
	cc := clip.(*commandClip)
	assert.Equal(t, ".mp3", filepath.Ext(cc.file))
	data, err := os.ReadFile(cc.file)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), data)

	require.NoError(t, clip.Play(context.Background()))
	require.NoError(t, clip.Close())
	_, err = os.Stat(cc.file)
	assert.True(t, os.IsNotExist(err))
}
