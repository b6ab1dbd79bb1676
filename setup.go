package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/honk/config"
)

const configFile = "config.yaml"

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write config.yaml interactively",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSetup(configFile); err != nil {
			log.Fatal("setup failed", "error", err)
		}
	},
}

type setupAnswers struct {
	DiscordToken      string
	SpeechMethod      string
	WitToken          string
	GoogleCredentials string
	GeminiAPIKey      string
	Language          string
	Matcher           string
	DatabaseDriver    string
	DatabaseURL       string
}

func runSetup(path string) error {
	log.Info("Starting honk setup...")

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	config.SetDefaults(v)

	a := setupAnswers{
		DiscordToken:      v.GetString("discord_token"),
		SpeechMethod:      v.GetString("speech_method"),
		WitToken:          v.GetString("wit_token"),
		GoogleCredentials: v.GetString("google_credentials"),
		GeminiAPIKey:      v.GetString("gemini_api_key"),
		Language:          v.GetString("default_language"),
		Matcher:           v.GetString("matcher"),
		DatabaseDriver:    v.GetString("database_driver"),
		DatabaseURL:       v.GetString("database_url"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your Discord Bot Token").
				EchoMode(huh.EchoModePassword).
				Value(&a.DiscordToken),
			huh.NewSelect[string]().
				Title("Speech recognition").
				Options(
					huh.NewOption("Vosk (local models)", config.Vosk),
					huh.NewOption("wit.ai", config.Wit),
					huh.NewOption("Google Cloud Speech", config.Google),
					huh.NewOption("Gemini", config.Gemini),
				).
				Value(&a.SpeechMethod),
			huh.NewInput().
				Title("Default language").
				Value(&a.Language),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your wit.ai server token").
				EchoMode(huh.EchoModePassword).
				Value(&a.WitToken),
		).WithHideFunc(func() bool { return a.SpeechMethod != config.Wit }),
		huh.NewGroup(
			huh.NewInput().
				Title("Path to the Google service account key").
				Value(&a.GoogleCredentials),
		).WithHideFunc(func() bool { return a.SpeechMethod != config.Google }),
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your Gemini API Key").
				EchoMode(huh.EchoModePassword).
				Value(&a.GeminiAPIKey),
		).WithHideFunc(func() bool { return a.SpeechMethod != config.Gemini }),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Phrase matching").
				Options(
					huh.NewOption("Exact substring", "substring"),
					huh.NewOption("Fuzzy (tolerates small misrecognitions)", "fuzzy"),
				).
				Value(&a.Matcher),
			huh.NewSelect[string]().
				Title("Catalog database").
				Options(
					huh.NewOption("SQLite", "sqlite3"),
					huh.NewOption("Postgres", "pgx"),
				).
				Value(&a.DatabaseDriver),
			huh.NewInput().
				Title("Database URL or file").
				Value(&a.DatabaseURL),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("error during setup: %w", err)
	}

	applySetup(v, a)

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(afero.NewOsFs()); err != nil {
		log.Warn("configuration is incomplete", "error", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info("Setup completed successfully!", "file", path)
	return nil
}

func applySetup(v *viper.Viper, a setupAnswers) {
	v.Set("discord_token", a.DiscordToken)
	v.Set("speech_method", a.SpeechMethod)
	v.Set("default_language", a.Language)
	v.Set("matcher", a.Matcher)
	v.Set("database_driver", a.DatabaseDriver)
	v.Set("database_url", a.DatabaseURL)

	switch a.SpeechMethod {
	case config.Wit:
		v.Set("wit_token", a.WitToken)
	case config.Google:
		v.Set("google_credentials", a.GoogleCredentials)
	case config.Gemini:
		v.Set("gemini_api_key", a.GeminiAPIKey)
	}
}
