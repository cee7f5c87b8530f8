package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Settings struct {
	Level      string `mapstructure:"log-level"`
	Format     string `mapstructure:"log-format"`
	File       string `mapstructure:"log-file"`
	WithCaller bool   `mapstructure:"with-caller"`
}

// AddFlags registers the logging flags on cmd and binds them to viper.
func AddFlags(cmd *cobra.Command, v *viper.Viper) error {
	fs := cmd.PersistentFlags()
	fs.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	fs.String("log-format", "console", "Log format (console, json)")
	fs.String("log-file", "", "Write logs to this file instead of stderr")
	fs.Bool("with-caller", false, "Log caller information")
	for _, name := range []string{"log-level", "log-format", "log-file", "with-caller"} {
		if err := v.BindPFlag(name, fs.Lookup(name)); err != nil {
			return errors.Wrapf(err, "failed to bind flag %s", name)
		}
	}
	return nil
}

// SettingsFromViper reads the logging settings bound by AddFlags.
func SettingsFromViper(v *viper.Viper) Settings {
	return Settings{
		Level:      v.GetString("log-level"),
		Format:     v.GetString("log-format"),
		File:       v.GetString("log-file"),
		WithCaller: v.GetBool("with-caller"),
	}
}

var current io.Closer

// InitLogger configures the global zerolog logger. It can be called again
// once flags are parsed; the previous log file is closed.
func InitLogger(s Settings) error {
	level := zerolog.InfoLevel
	if s.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s.Level))
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", s.Level)
		}
		level = l
	}

	var out io.Writer = os.Stderr
	var closer io.Closer
	if s.File != "" {
		if err := os.MkdirAll(filepath.Dir(s.File), 0o755); err != nil {
			return errors.Wrap(err, "failed to create log directory")
		}
		lj := &lumberjack.Logger{
			Filename:   s.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		out, closer = lj, lj
	}

	switch strings.ToLower(s.Format) {
	case "", "console", "text":
		out = zerolog.ConsoleWriter{Out: out, NoColor: s.File != "", TimeFormat: time.RFC3339}
	case "json":
	default:
		return errors.Errorf("invalid log format %q", s.Format)
	}

	ctx := zerolog.New(out).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	zerolog.SetGlobalLevel(level)

	if current != nil {
		_ = current.Close()
	}
	current = closer
	return nil
}

// Close flushes and closes the log file, if any.
func Close() error {
	if current == nil {
		return nil
	}
	err := current.Close()
	current = nil
	return err
}
