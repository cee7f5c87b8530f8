package media

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CommandPlayer plays clips with an external program such as ffplay.
type CommandPlayer struct {
	// Program defaults to "ffplay".
	Program string
	// Args go before the file path. Nil means ffplay's headless flags.
	Args []string
	// Inspector is run as `<Inspector> -v error -i <file>` before a clip is
	// handed out; a non-zero exit means the audio cannot be decoded. It
	// defaults to "ffprobe" and is skipped when not installed.
	Inspector string

	lookPath func(string) (string, error)
}

func NewCommandPlayer(program string, args ...string) *CommandPlayer {
	return &CommandPlayer{Program: program, Args: args, Inspector: "ffprobe", lookPath: exec.LookPath}
}

func (p *CommandPlayer) inspector() string {
	if p.Inspector == "" {
		return "ffprobe"
	}
	return p.Inspector
}

func (p *CommandPlayer) program() string {
	if p.Program == "" {
		return "ffplay"
	}
	return p.Program
}

func (p *CommandPlayer) args() []string {
	if p.Args != nil {
		return p.Args
	}
	return []string{"-nodisp", "-autoexit", "-loglevel", "error"}
}

func extensionFor(mimeType string) string {
	m := strings.ToLower(mimeType)
	switch {
	case strings.Contains(m, "mpeg"), strings.Contains(m, "mp3"):
		return ".mp3"
	case strings.Contains(m, "wav"):
		return ".wav"
	case strings.Contains(m, "ogg"):
		return ".ogg"
	case strings.Contains(m, "mp4"):
		return ".m4a"
	case strings.Contains(m, "webm"):
		return ".webm"
	}
	return ".bin"
}

// Load writes the clip to a temporary file the player program can open
// and rejects audio the inspector cannot decode.
func (p *CommandPlayer) Load(ctx context.Context, data []byte, mimeType string) (Clip, error) {
	if len(data) == 0 {
		return nil, errors.New("empty audio clip")
	}
	lookPath := p.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(p.program())
	if err != nil {
		return nil, errors.Wrapf(err, "playback program %q not available", p.program())
	}

	f, err := os.CreateTemp("", "voicebot-reply-*"+extensionFor(mimeType))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create clip file")
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, errors.Wrap(err, "failed to write clip file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, errors.Wrap(err, "failed to write clip file")
	}
	if err := p.inspect(ctx, lookPath, f.Name()); err != nil {
		_ = os.Remove(f.Name())
		return nil, err
	}
	return &commandClip{program: path, args: p.args(), file: f.Name()}, nil
}

func (p *CommandPlayer) inspect(ctx context.Context, lookPath func(string) (string, error), file string) error {
	path, err := lookPath(p.inspector())
	if err != nil {
		log.Debug().Str("program", p.inspector()).Msg("audio inspector not available, skipping check")
		return nil
	}
	out, err := exec.CommandContext(ctx, path, "-v", "error", "-i", file).CombinedOutput()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		msg := "audio clip cannot be decoded"
		if o := strings.TrimSpace(string(out)); o != "" {
			msg += ": " + o
		}
		return errors.Wrap(err, msg)
	}
	return nil
}

type commandClip struct {
	program string
	args    []string
	file    string
}

func (c *commandClip) Play(ctx context.Context) error {
	args := append(append([]string{}, c.args...), c.file)
	cmd := exec.CommandContext(ctx, c.program, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Debug().Str("output", strings.TrimSpace(string(out))).Msg("playback program failed")
		return errors.Wrap(err, "playback program failed")
	}
	return nil
}

func (c *commandClip) Close() error {
	if err := os.Remove(c.file); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove clip file")
	}
	return nil
}
