package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "voicebot.log")
	require.NoError(t, InitLogger(Settings{Level: "debug", Format: "json", File: path}))
	t.Cleanup(func() {
		_ = Close()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
	log.Debug().Str("placeholder_id", "listening-1").Msg("recording started")
	require.NoError(t, Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"placeholder_id":"listening-1"`)
	require.Contains(t, string(b), `"message":"recording started"`)
}

func TestInitLoggerRejectsBadSettings(t *testing.T) {
	require.Error(t, InitLogger(Settings{Level: "loud"}))
	require.Error(t, InitLogger(Settings{Format: "xml"}))
}
