package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SpeechMethod != Vosk {
		t.Errorf("speech_method = %q", cfg.SpeechMethod)
	}
	if cfg.MinTurn != time.Second || cfg.MaxTurn != 19*time.Second {
		t.Errorf("turn bounds = %v..%v", cfg.MinTurn, cfg.MaxTurn)
	}
	if cfg.WitSpacing != time.Second || cfg.VoskMaxAge != 30*time.Second {
		t.Errorf("wit_spacing = %v, vosk_max_age = %v", cfg.WitSpacing, cfg.VoskMaxAge)
	}
	if cfg.VoskModels["en"] != "vosk_models/en" {
		t.Errorf("vosk_models = %v", cfg.VoskModels)
	}
	if !cfg.EchoTranscripts || cfg.CommandPrefix != "!" {
		t.Errorf("echo = %v, prefix = %q", cfg.EchoTranscripts, cfg.CommandPrefix)
	}
}

func TestLoadConfigFile(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	err := v.ReadConfig(strings.NewReader(`
discord_token: abc
speech_method: witai
wit_token: xyz
wit_spacing: 1500ms
matcher: fuzzy
fuzzy_distance: 2
`))
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WitSpacing != 1500*time.Millisecond || cfg.FuzzyDistance != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if err := cfg.Validate(afero.NewMemMapFs()); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "key.json", []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		edit  func(*Config)
		valid bool
	}{
		{"vosk defaults", func(c *Config) {}, true},
		{"no token", func(c *Config) { c.DiscordToken = "" }, false},
		{"unknown method", func(c *Config) { c.SpeechMethod = "whisper" }, false},
		{"wit without token", func(c *Config) { c.SpeechMethod = Wit }, false},
		{"wit", func(c *Config) { c.SpeechMethod = Wit; c.WitToken = "t" }, true},
		{"google without key file", func(c *Config) { c.SpeechMethod = Google }, false},
		{"google", func(c *Config) { c.SpeechMethod = Google; c.GoogleCredentials = "key.json" }, true},
		{"gemini without key", func(c *Config) { c.SpeechMethod = Gemini }, false},
		{"gemini", func(c *Config) { c.SpeechMethod = Gemini; c.GeminiAPIKey = "k" }, true},
		{"vosk without default model", func(c *Config) { c.DefaultLanguage = "fr" }, false},
		{"unknown matcher", func(c *Config) { c.Matcher = "regex" }, false},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }, false},
		{"postgres", func(c *Config) { c.DatabaseDriver = "pgx" }, true},
		{"inverted bounds", func(c *Config) { c.MinTurn = 20 * time.Second }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(viper.New())
			if err != nil {
				t.Fatal(err)
			}
			cfg.DiscordToken = "token"
			tt.edit(cfg)

			err = cfg.Validate(fs)
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalid) {
				t.Errorf("got %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("WIT_TOKEN", "wit-from-env")

	v := viper.New()
	v.AutomaticEnv()
	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DiscordToken != "from-env" || cfg.WitToken != "wit-from-env" {
		t.Errorf("secrets = %q, %q", cfg.DiscordToken, cfg.WitToken)
	}
}
