package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CommandMicrophone captures audio by running an ffmpeg-compatible program
// that writes the encoded stream to stdout.
type CommandMicrophone struct {
	// Program defaults to "ffmpeg".
	Program string
	// InputFormat and InputDevice select the capture backend, e.g.
	// "pulse" and "default". Empty values pick a per-OS default.
	InputFormat string
	InputDevice string
	// StartupTimeout bounds how long Start waits for the first audio bytes.
	// A program that exits inside this window failed to open the device.
	StartupTimeout time.Duration

	lookPath func(string) (string, error)
}

const defaultStartupTimeout = 2 * time.Second

func NewCommandMicrophone(program, inputFormat, inputDevice string) *CommandMicrophone {
	return &CommandMicrophone{
		Program:        program,
		InputFormat:    inputFormat,
		InputDevice:    inputDevice,
		StartupTimeout: defaultStartupTimeout,
		lookPath:       exec.LookPath,
	}
}

func (m *CommandMicrophone) program() string {
	if m.Program == "" {
		return "ffmpeg"
	}
	return m.Program
}

func (m *CommandMicrophone) input() (string, string) {
	format, device := m.InputFormat, m.InputDevice
	if format == "" {
		switch runtime.GOOS {
		case "darwin":
			format = "avfoundation"
		case "windows":
			format = "dshow"
		default:
			format = "pulse"
		}
	}
	if device == "" {
		switch format {
		case "avfoundation":
			device = ":0"
		case "dshow":
			device = "audio=default"
		default:
			device = "default"
		}
	}
	return format, device
}

// Supports reports the containers the capture program can stream to a pipe.
func (m *CommandMicrophone) Supports(mimeType string) bool {
	_, ok := outputFormatFor(mimeType)
	return ok
}

func (m *CommandMicrophone) Open(ctx context.Context, c Constraints) (InputStream, error) {
	lookPath := m.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(m.program())
	if err != nil {
		return nil, errors.Wrapf(err, "capture program %q not available", m.program())
	}
	format, device := m.input()
	startup := m.StartupTimeout
	if startup <= 0 {
		startup = defaultStartupTimeout
	}
	return &commandStream{
		path:        path,
		inputFormat: format,
		inputDevice: device,
		constraints: c,
		startup:     startup,
	}, nil
}

type outputFormat struct {
	mimeType string
	args     []string
}

func outputFormatFor(mimeType string) (outputFormat, bool) {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case m == "", strings.HasPrefix(m, "audio/wav"), strings.HasPrefix(m, "audio/x-wav"):
		return outputFormat{mimeType: "audio/wav", args: []string{"-c:a", "pcm_s16le", "-f", "wav"}}, true
	case strings.HasPrefix(m, "audio/webm"):
		return outputFormat{mimeType: "audio/webm;codecs=opus", args: []string{"-c:a", "libopus", "-f", "webm"}}, true
	case strings.HasPrefix(m, "audio/ogg"):
		return outputFormat{mimeType: "audio/ogg;codecs=opus", args: []string{"-c:a", "libopus", "-f", "ogg"}}, true
	case strings.HasPrefix(m, "audio/mp4"):
		return outputFormat{
			mimeType: "audio/mp4",
			args:     []string{"-c:a", "aac", "-f", "mp4", "-movflags", "frag_keyframe+empty_moov"},
		}, true
	}
	return outputFormat{}, false
}

type commandStream struct {
	path        string
	inputFormat string
	inputDevice string
	constraints Constraints
	startup     time.Duration

	mu       sync.Mutex
	cmd      *exec.Cmd
	seg      *segmenter
	format   outputFormat
	started  bool
	finished bool
	stopping bool
	closed   bool
	exited   chan struct{}
	waitErr  error
}

// lockedBuffer collects stderr while the program runs.
type lockedBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.TrimSpace(l.b.String())
}

// firstRead closes ready on the first read that returns data.
type firstRead struct {
	r     io.Reader
	once  sync.Once
	ready chan struct{}
}

func (f *firstRead) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if n > 0 {
		f.once.Do(func() { close(f.ready) })
	}
	return n, err
}

func withStderr(msg string, stderr *lockedBuffer) string {
	if out := stderr.String(); out != "" {
		return msg + ": " + out
	}
	return msg
}

func (s *commandStream) args(opts RecorderOptions, format outputFormat) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", s.inputFormat, "-i", s.inputDevice,
	}
	if s.constraints.Channels > 0 {
		args = append(args, "-ac", fmt.Sprint(s.constraints.Channels))
	}
	if s.constraints.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprint(s.constraints.SampleRate))
	}
	var filters []string
	if s.constraints.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if s.constraints.EchoCancellation {
		// ffmpeg has no echo canceller; a high-pass keeps speaker rumble out.
		filters = append(filters, "highpass=f=80")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}
	args = append(args, format.args...)
	if opts.BitsPerSecond > 0 && format.mimeType != "audio/wav" {
		args = append(args, "-b:a", fmt.Sprint(opts.BitsPerSecond))
	}
	return append(args, "pipe:1")
}

// Start runs the capture program and waits until it delivers audio, exits,
// or the startup window passes. An exit inside the window is returned as an
// error; OnError only reports failures after Start returned nil.
func (s *commandStream) Start(opts RecorderOptions) error {
	format, ok := outputFormatFor(opts.MimeType)
	if !ok {
		return errors.Errorf("unsupported capture format %q", opts.MimeType)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("input stream closed")
	}
	if s.cmd != nil {
		s.mu.Unlock()
		return errors.New("capture already started")
	}

	cmd := exec.Command(s.path, s.args(opts, format)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "failed to open capture pipe")
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "failed to start capture program")
	}
	log.Debug().Str("program", s.path).Strs("args", cmd.Args[1:]).Msg("capture started")

	first := &firstRead{r: stdout, ready: make(chan struct{})}
	exited := make(chan struct{})
	s.cmd = cmd
	s.format = format
	s.exited = exited
	s.seg = newSegmenter(first, opts.SegmentInterval, opts.OnSegment)
	s.mu.Unlock()

	go s.seg.run()
	go func() {
		<-s.seg.done
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.finished = true
		unexpected := s.started && !s.stopping && !s.closed
		s.mu.Unlock()
		close(exited)
		if unexpected && opts.OnError != nil {
			if err == nil {
				err = errors.New("capture program exited")
			}
			opts.OnError(errors.Wrap(err, withStderr("capture program failed", stderr)))
		}
	}()

	timer := time.NewTimer(s.startup)
	defer timer.Stop()
	select {
	case <-first.ready:
	case <-exited:
	case <-timer.C:
		log.Debug().Dur("startup", s.startup).Msg("no capture data yet, assuming the device is open")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		err := s.waitErr
		if err == nil {
			err = errors.New("capture program exited")
		}
		return errors.Wrap(err, withStderr("capture device unavailable", stderr))
	}
	s.started = true
	return nil
}

// Stop interrupts the capture program so it can finalize the container,
// and waits until all output has been delivered.
func (s *commandStream) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	cmd := s.cmd
	if cmd == nil {
		s.mu.Unlock()
		return "", errors.New("capture not started")
	}
	s.stopping = true
	exited := s.exited
	mimeType := s.format.mimeType
	s.mu.Unlock()

	if err := interrupt(cmd.Process); err != nil {
		log.Debug().Err(err).Msg("failed to interrupt capture program")
	}

	select {
	case <-exited:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exited
		return "", ctx.Err()
	}

	if s.seg.err != nil {
		return "", errors.Wrap(s.seg.err, "failed to read captured audio")
	}
	return mimeType, nil
}

func (s *commandStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cmd := s.cmd
	exited := s.exited
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	default:
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "failed to stop capture program")
	}
	<-exited
	return nil
}

func interrupt(p *os.Process) error {
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	return p.Signal(os.Interrupt)
}
