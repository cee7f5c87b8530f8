package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript writes an executable sh script and returns its path.
func writeScript(t *testing.T, name string, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("sh scripts are not available on windows")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

type captured struct {
	mu       sync.Mutex
	segments [][]byte
	errs     chan error
}

func newCaptured() *captured {
	return &captured{errs: make(chan error, 1)}
}

func (c *captured) options() RecorderOptions {
	return RecorderOptions{
		MimeType: "audio/webm",
		OnSegment: func(b []byte) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.segments = append(c.segments, append([]byte{}, b...))
		},
		OnError: func(err error) { c.errs <- err },
	}
}

func (c *captured) data() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.segments, nil)
}

func openCapture(t *testing.T, script string) *commandStream {
	t.Helper()
	mic := NewCommandMicrophone(script, "pulse", "default")
	mic.StartupTimeout = 5 * time.Second
	stream, err := mic.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	return stream.(*commandStream)
}

func waitExited(t *testing.T, s *commandStream) {
	t.Helper()
	select {
	case <-s.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("capture program still running")
	}
}

func TestCommandStreamDeniedDeviceFailsStart(t *testing.T) {
	script := writeScript(t, "capture", "echo 'Permission denied' >&2\nexit 1")
	s := openCapture(t, script)
	c := newCaptured()

	err := s.Start(c.options())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Permission denied")
	assert.Contains(t, err.Error(), "capture device unavailable")
	require.NoError(t, s.Close())

	select {
	case err := <-c.errs:
		t.Fatalf("unexpected OnError after a failed start: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCommandStreamStopDeliversAudio(t *testing.T) {
	script := writeScript(t, "capture", "trap 'exit 0' INT\nprintf 'abc'\nwhile :; do sleep 0.05; done")
	s := openCapture(t, script)
	c := newCaptured()

	require.NoError(t, s.Start(c.options()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mimeType, err := s.Stop(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, "audio/webm;codecs=opus", mimeType)
	assert.Equal(t, []byte("abc"), c.data())
	assert.Empty(t, c.errs)
}

func TestCommandStreamSilentDeviceStartsAfterWindow(t *testing.T) {
	script := writeScript(t, "capture", "trap 'exit 0' INT\nwhile :; do sleep 0.05; done")
	s := openCapture(t, script)
	s.startup = 50 * time.Millisecond
	c := newCaptured()

	require.NoError(t, s.Start(c.options()))
	mimeType, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "audio/webm;codecs=opus", mimeType)
	assert.Empty(t, c.data())
}

func TestCommandStreamReportsUnexpectedExit(t *testing.T) {
	script := writeScript(t, "capture", "printf 'abc'\nsleep 0.3\necho 'device unplugged' >&2\nexit 3")
	s := openCapture(t, script)
	c := newCaptured()

	require.NoError(t, s.Start(c.options()))
	select {
	case err := <-c.errs:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "capture program failed")
		assert.Contains(t, err.Error(), "device unplugged")
	case <-time.After(5 * time.Second):
		t.Fatal("OnError was not called")
	}
	require.NoError(t, s.Close())
}

func TestCommandStreamCloseKillsCapture(t *testing.T) {
	script := writeScript(t, "capture", "trap '' INT\nprintf 'abc'\nwhile :; do sleep 0.05; done")
	s := openCapture(t, script)
	c := newCaptured()

	require.NoError(t, s.Start(c.options()))
	require.NoError(t, s.Close())
	waitExited(t, s)
	require.NoError(t, s.Close())
	assert.Empty(t, c.errs)
}

func TestCommandStreamStopKillsOnContextDone(t *testing.T) {
	script := writeScript(t, "capture", "trap '' INT\nprintf 'abc'\nwhile :; do sleep 0.05; done")
	s := openCapture(t, script)
	c := newCaptured()

	require.NoError(t, s.Start(c.options()))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := s.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	waitExited(t, s)
	require.NoError(t, s.Close())
	assert.Empty(t, c.errs)
}

func TestCommandStreamStartTwice(t *testing.T) {
	script := writeScript(t, "capture", "trap 'exit 0' INT\nprintf 'abc'\nwhile :; do sleep 0.05; done")
	s := openCapture(t, script)
	c := newCaptured()

	require.NoError(t, s.Start(c.options()))
	assert.Error(t, s.Start(c.options()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Start(c.options()))
}

func TestCommandPlayerRejectsUndecodableAudio(t *testing.T) {
	inspector := writeScript(t, "inspect", "echo 'Invalid data found when processing input' >&2\nexit 1")
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	p := NewCommandPlayer("true")
	p.Inspector = inspector
	p.lookPath = func(name string) (string, error) {
		if name == inspector {
			return inspector, nil
		}
		return "/bin/true", nil
	}

	_, err := p.Load(context.Background(), []byte("not audio at all"), "audio/mpeg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found when processing input")

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCommandPlayerSkipsMissingInspector(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("/bin/true not available")
	}
	p := NewCommandPlayer("true")
	p.Args = []string{}
	p.lookPath = func(name string) (string, error) {
		if name == "ffprobe" {
			return "", os.ErrNotExist
		}
		return "/bin/true", nil
	}

	clip, err := p.Load(context.Background(), []byte("mp3"), "audio/mpeg")
	require.NoError(t, err)
	require.NoError(t, clip.Play(context.Background()))
	require.NoError(t, clip.Close())
}
