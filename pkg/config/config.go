package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/voicebot/pkg/backend"
	"github.com/go-go-golems/voicebot/pkg/events"
	"github.com/go-go-golems/voicebot/pkg/media"
	"github.com/go-go-golems/voicebot/pkg/session"
)

const (
	AppName = "voicebot"

	PipelineVoiceBot = "voicebot"
	PipelineSplit    = "split"

	DefaultWelcome = "I am your receptionist. I can help you with anything related to the hotel. Place your queries and I will assist you."
)

type BackendSettings struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Pipeline string `mapstructure:"pipeline" yaml:"pipeline"`
	// RequestTimeout of zero leaves requests unbounded.
	RequestTimeout time.Duration `mapstructure:"request-timeout" yaml:"request-timeout"`
}

type AudioSettings struct {
	CaptureProgram  string            `mapstructure:"capture-program" yaml:"capture-program"`
	InputFormat     string            `mapstructure:"input-format" yaml:"input-format"`
	InputDevice     string            `mapstructure:"input-device" yaml:"input-device"`
	CaptureStartup  time.Duration     `mapstructure:"capture-startup" yaml:"capture-startup"`
	PlayerProgram   string            `mapstructure:"player-program" yaml:"player-program"`
	PlayerArgs      []string          `mapstructure:"player-args" yaml:"player-args"`
	// InspectProgram checks reply audio before playback; skipped when missing.
	InspectProgram  string            `mapstructure:"inspect-program" yaml:"inspect-program"`
	Encodings       []string          `mapstructure:"encodings" yaml:"encodings"`
	BitsPerSecond   int               `mapstructure:"bits-per-second" yaml:"bits-per-second"`
	SegmentInterval time.Duration     `mapstructure:"segment-interval" yaml:"segment-interval"`
	Constraints     media.Constraints `mapstructure:"constraints" yaml:"constraints"`
}

type ChatSettings struct {
	Welcome           string        `mapstructure:"welcome" yaml:"welcome"`
	ReplyDelay        time.Duration `mapstructure:"reply-delay" yaml:"reply-delay"`
	SpeakTypedReplies bool          `mapstructure:"speak-typed-replies" yaml:"speak-typed-replies"`
}

type StoreSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// MirrorSettings enables the read-only websocket view of a chat.
type MirrorSettings struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Settings is the whole application configuration.
type Settings struct {
	Backend BackendSettings      `mapstructure:"backend" yaml:"backend"`
	Audio   AudioSettings        `mapstructure:"audio" yaml:"audio"`
	Chat    ChatSettings         `mapstructure:"chat" yaml:"chat"`
	Store   StoreSettings        `mapstructure:"store" yaml:"store"`
	Redis   events.RedisSettings `mapstructure:"redis" yaml:"redis"`
	Mirror  MirrorSettings       `mapstructure:"mirror" yaml:"mirror"`
}

// ConfigDir is ~/.voicebot, or "." if the home directory is unknown.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "."+AppName)
}

func DefaultSettings() Settings {
	sd := session.DefaultSettings()
	return Settings{
		Backend: BackendSettings{
			URL:      backend.DefaultBaseURL,
			Pipeline: PipelineVoiceBot,
		},
		Audio: AudioSettings{
			CaptureProgram:  "ffmpeg",
			CaptureStartup:  2 * time.Second,
			PlayerProgram:   "ffplay",
			PlayerArgs:      []string{"-nodisp", "-autoexit", "-loglevel", "error"},
			InspectProgram:  "ffprobe",
			Encodings:       sd.Encodings,
			BitsPerSecond:   sd.BitsPerSecond,
			SegmentInterval: sd.SegmentInterval,
			Constraints:     sd.Constraints,
		},
		Chat: ChatSettings{
			Welcome:           DefaultWelcome,
			ReplyDelay:        sd.ReplyDelay,
			SpeakTypedReplies: sd.SpeakTypedReplies,
		},
		Store: StoreSettings{
			Enabled: true,
			Path:    filepath.Join(ConfigDir(), "transcripts.db"),
		},
		Redis: events.DefaultRedisSettings(),
	}
}

// SetDefaults registers every key so that env variables and Unmarshal see it.
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.pipeline", d.Backend.Pipeline)
	v.SetDefault("backend.request-timeout", d.Backend.RequestTimeout)

	v.SetDefault("audio.capture-program", d.Audio.CaptureProgram)
	v.SetDefault("audio.input-format", d.Audio.InputFormat)
	v.SetDefault("audio.input-device", d.Audio.InputDevice)
	v.SetDefault("audio.capture-startup", d.Audio.CaptureStartup)
	v.SetDefault("audio.player-program", d.Audio.PlayerProgram)
	v.SetDefault("audio.player-args", d.Audio.PlayerArgs)
	v.SetDefault("audio.inspect-program", d.Audio.InspectProgram)
	v.SetDefault("audio.encodings", d.Audio.Encodings)
	v.SetDefault("audio.bits-per-second", d.Audio.BitsPerSecond)
	v.SetDefault("audio.segment-interval", d.Audio.SegmentInterval)
	v.SetDefault("audio.constraints.sample-rate", d.Audio.Constraints.SampleRate)
	v.SetDefault("audio.constraints.channels", d.Audio.Constraints.Channels)
	v.SetDefault("audio.constraints.echo-cancellation", d.Audio.Constraints.EchoCancellation)
	v.SetDefault("audio.constraints.noise-suppression", d.Audio.Constraints.NoiseSuppression)

	v.SetDefault("chat.welcome", d.Chat.Welcome)
	v.SetDefault("chat.reply-delay", d.Chat.ReplyDelay)
	v.SetDefault("chat.speak-typed-replies", d.Chat.SpeakTypedReplies)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.group", d.Redis.Group)
	v.SetDefault("redis.consumer", d.Redis.Consumer)

	v.SetDefault("mirror.addr", d.Mirror.Addr)
}

// AddFlags registers the flags shared by all commands and binds them.
func AddFlags(cmd *cobra.Command, v *viper.Viper) error {
	fs := cmd.PersistentFlags()
	fs.String("config", "", "Config file (default $HOME/.voicebot/config.yaml)")
	fs.String("backend-url", backend.DefaultBaseURL, "Base URL of the VoiceBot backend")
	fs.String("pipeline", PipelineVoiceBot, "Voice pipeline: voicebot or split (stt, llm, tts)")
	fs.Duration("request-timeout", 0, "Timeout for backend requests (0 disables)")
	fs.String("store-path", "", "Transcript database path")
	fs.Bool("no-store", false, "Do not persist transcripts")
	fs.Bool("redis-enabled", false, "Publish chat events to Redis Streams")
	fs.String("redis-addr", "localhost:6379", "Redis address host:port")
	fs.String("mirror-addr", "", "Serve a live websocket view of the chat on this address")

	bindings := map[string]string{
		"backend.url":             "backend-url",
		"backend.pipeline":        "pipeline",
		"backend.request-timeout": "request-timeout",
		"store.path":              "store-path",
		"redis.enabled":           "redis-enabled",
		"redis.addr":              "redis-addr",
		"mirror.addr":             "mirror-addr",
		"no-store":                "no-store",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return errors.Wrapf(err, "failed to bind flag %s", flag)
		}
	}
	return nil
}

// InitViper loads .env, the config file and VOICEBOT_* env variables into v.
// A missing config file is not an error.
func InitViper(v *viper.Viper, configFile string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	SetDefaults(v)
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	log.Debug().Str("file", v.ConfigFileUsed()).Msg("loaded config")
	return nil
}

// Load decodes v into Settings and validates the result.
func Load(v *viper.Viper) (*Settings, error) {
	s := DefaultSettings()
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if v.GetBool("no-store") {
		s.Store.Enabled = false
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	switch s.Backend.Pipeline {
	case PipelineVoiceBot, PipelineSplit:
	default:
		return errors.Errorf("unknown pipeline %q (want %s or %s)", s.Backend.Pipeline, PipelineVoiceBot, PipelineSplit)
	}
	if s.Backend.RequestTimeout < 0 {
		return errors.New("request-timeout must not be negative")
	}
	if s.Audio.SegmentInterval < 0 || s.Chat.ReplyDelay < 0 {
		return errors.New("durations must not be negative")
	}
	if s.Audio.Constraints.Channels < 0 || s.Audio.Constraints.SampleRate < 0 {
		return errors.New("audio constraints must not be negative")
	}
	if s.Store.Enabled && strings.TrimSpace(s.Store.Path) == "" {
		return errors.New("store.path is required when the store is enabled")
	}
	return nil
}

// SessionSettings maps the configuration onto the controller settings.
func (s *Settings) SessionSettings() session.Settings {
	return session.Settings{
		Constraints:       s.Audio.Constraints,
		Encodings:         s.Audio.Encodings,
		BitsPerSecond:     s.Audio.BitsPerSecond,
		SegmentInterval:   s.Audio.SegmentInterval,
		ReplyDelay:        s.Chat.ReplyDelay,
		SpeakTypedReplies: s.Chat.SpeakTypedReplies,
	}
}

// NewBackend builds the client for the configured pipeline.
func (s *Settings) NewBackend() (session.Backend, *backend.Client, error) {
	client, err := backend.NewClient(s.Backend.URL, backend.WithTimeout(s.Backend.RequestTimeout))
	if err != nil {
		return nil, nil, err
	}
	if s.Backend.Pipeline == PipelineSplit {
		return backend.NewPipeline(client), client, nil
	}
	return client, client, nil
}
