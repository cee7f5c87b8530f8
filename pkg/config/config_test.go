package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voicebot/pkg/backend"
	"github.com/go-go-golems/voicebot/pkg/session"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	s, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, backend.DefaultBaseURL, s.Backend.URL)
	require.Equal(t, PipelineVoiceBot, s.Backend.Pipeline)
	require.Zero(t, s.Backend.RequestTimeout)
	require.Equal(t, session.DefaultEncodings(), s.Audio.Encodings)
	require.Equal(t, 300*time.Millisecond, s.Chat.ReplyDelay)
	require.True(t, s.Store.Enabled)
	require.Equal(t, 2*time.Second, s.Audio.CaptureStartup)
	require.Equal(t, "ffprobe", s.Audio.InspectProgram)

	ss := s.SessionSettings()
	require.Equal(t, session.DefaultSettings(), ss)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  url: http://voice.internal:9000
  pipeline: split
  request-timeout: 30s
audio:
  segment-interval: 250ms
  capture-startup: 500ms
  inspect-program: /opt/ffmpeg/bin/ffprobe
  constraints:
    sample-rate: 48000
chat:
  speak-typed-replies: false
`), 0o644))
	t.Setenv("VOICEBOT_CHAT_REPLY_DELAY", "1s")

	v := viper.New()
	require.NoError(t, InitViper(v, path))
	s, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, "http://voice.internal:9000", s.Backend.URL)
	require.Equal(t, PipelineSplit, s.Backend.Pipeline)
	require.Equal(t, 30*time.Second, s.Backend.RequestTimeout)
	require.Equal(t, 250*time.Millisecond, s.Audio.SegmentInterval)
	require.Equal(t, 500*time.Millisecond, s.Audio.CaptureStartup)
	require.Equal(t, "/opt/ffmpeg/bin/ffprobe", s.Audio.InspectProgram)
	require.Equal(t, 48000, s.Audio.Constraints.SampleRate)
	require.Equal(t, 1, s.Audio.Constraints.Channels)
	require.False(t, s.Chat.SpeakTypedReplies)
	require.Equal(t, time.Second, s.Chat.ReplyDelay)

	b, client, err := s.NewBackend()
	require.NoError(t, err)
	require.IsType(t, &backend.Pipeline{}, b)
	require.Equal(t, "http://voice.internal:9000", client.BaseURL())
}

func TestLoadRejectsUnknownPipeline(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("backend.pipeline", "magic")
	_, err := Load(v)
	require.Error(t, err)
}

func TestNoStoreDisablesPersistence(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("no-store", true)
	v.Set("store.path", "")
	s, err := Load(v)
	require.NoError(t, err)
	require.False(t, s.Store.Enabled)
}
