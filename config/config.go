// Package config reads the bot's settings from viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"node.town/honk/catalog"
	"node.town/honk/match"
)

const (
	Vosk   = "vosk"
	Wit    = "witai"
	Google = "google"
	Gemini = "gemini"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	DiscordToken string `mapstructure:"discord_token"`

	SpeechMethod      string            `mapstructure:"speech_method"`
	WitToken          string            `mapstructure:"wit_token"`
	WitSpacing        time.Duration     `mapstructure:"wit_spacing"`
	GoogleCredentials string            `mapstructure:"google_credentials"`
	GeminiAPIKey      string            `mapstructure:"gemini_api_key"`
	GeminiModel       string            `mapstructure:"gemini_model"`
	VoskModels        map[string]string `mapstructure:"vosk_models"`
	VoskMaxAge        time.Duration     `mapstructure:"vosk_max_age"`
	VoskMaxUses       int               `mapstructure:"vosk_max_uses"`
	DefaultLanguage   string            `mapstructure:"default_language"`

	RecognitionTimeout time.Duration `mapstructure:"recognition_timeout"`
	MinTurn            time.Duration `mapstructure:"min_turn"`
	MaxTurn            time.Duration `mapstructure:"max_turn"`
	TurnSilence        time.Duration `mapstructure:"turn_silence"`

	Matcher         string `mapstructure:"matcher"`
	FuzzyDistance   int    `mapstructure:"fuzzy_distance"`
	EchoTranscripts bool   `mapstructure:"echo_transcripts"`
	CommandPrefix   string `mapstructure:"command_prefix"`

	DatabaseDriver string `mapstructure:"database_driver"`
	DatabaseURL    string `mapstructure:"database_url"`
	SoundsDir      string `mapstructure:"sounds_dir"`
	DebugDir       string `mapstructure:"debug_dir"`
	FFmpeg         string `mapstructure:"ffmpeg"`

	HTTPPort int    `mapstructure:"http_port"`
	LogLevel string `mapstructure:"log_level"`
}

// SetDefaults registers every key. Secrets default to empty so that they
// can still come from the environment when unmarshaling.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("discord_token", "")
	v.SetDefault("wit_token", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("speech_method", Vosk)
	v.SetDefault("wit_spacing", "1s")
	v.SetDefault("google_credentials", "gspeech_key.json")
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("vosk_models", map[string]string{
		"en": "vosk_models/en",
		"ru": "vosk_models/ru",
	})
	v.SetDefault("vosk_max_age", "30s")
	v.SetDefault("vosk_max_uses", 0)
	v.SetDefault("default_language", "en")
	v.SetDefault("recognition_timeout", "30s")
	v.SetDefault("min_turn", "1s")
	v.SetDefault("max_turn", "19s")
	v.SetDefault("turn_silence", "300ms")
	v.SetDefault("matcher", "substring")
	v.SetDefault("fuzzy_distance", 1)
	v.SetDefault("echo_transcripts", true)
	v.SetDefault("command_prefix", "!")
	v.SetDefault("database_driver", string(catalog.SQLite))
	v.SetDefault("database_url", "honk.db")
	v.SetDefault("sounds_dir", "sounds")
	v.SetDefault("debug_dir", "debug")
	v.SetDefault("ffmpeg", "ffmpeg")
	v.SetDefault("http_port", 4444)
	v.SetDefault("log_level", "info")
}

// Load unmarshals v, with defaults filled in, into a Config. It does not
// validate; commands that need the bot's credentials call Validate.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks what running the bot needs. Files are looked up on fs.
func (c *Config) Validate(fs afero.Fs) error {
	if c.DiscordToken == "" {
		return fmt.Errorf("%w: discord_token is not set", ErrInvalid)
	}

	switch c.SpeechMethod {
	case Vosk:
		if len(c.VoskModels) == 0 {
			return fmt.Errorf("%w: vosk_models is empty", ErrInvalid)
		}
		if _, ok := c.VoskModels[c.DefaultLanguage]; !ok {
			return fmt.Errorf("%w: no vosk model for default language %q", ErrInvalid, c.DefaultLanguage)
		}
	case Wit:
		if c.WitToken == "" {
			return fmt.Errorf("%w: wit_token is required for witai", ErrInvalid)
		}
	case Google:
		ok, err := afero.Exists(fs, c.GoogleCredentials)
		if err != nil {
			return fmt.Errorf("failed to check google credentials: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: google credentials %s not found", ErrInvalid, c.GoogleCredentials)
		}
	case Gemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: gemini_api_key is required for gemini", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: invalid or missing speech_method %q", ErrInvalid, c.SpeechMethod)
	}

	if _, ok := match.New(c.Matcher, c.FuzzyDistance); !ok {
		return fmt.Errorf("%w: unknown matcher %q", ErrInvalid, c.Matcher)
	}
	switch catalog.Dialect(c.DatabaseDriver) {
	case catalog.SQLite, catalog.Postgres:
	default:
		return fmt.Errorf("%w: unknown database_driver %q", ErrInvalid, c.DatabaseDriver)
	}
	if c.MaxTurn > 0 && c.MinTurn > c.MaxTurn {
		return fmt.Errorf("%w: min_turn %v exceeds max_turn %v", ErrInvalid, c.MinTurn, c.MaxTurn)
	}
	if c.CommandPrefix == "" {
		return fmt.Errorf("%w: command_prefix is empty", ErrInvalid)
	}
	return nil
}
