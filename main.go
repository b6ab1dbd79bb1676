package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"node.town/honk/audio"
	"node.town/honk/catalog"
	"node.town/honk/config"
	"node.town/honk/discord"
	"node.town/honk/events"
	"node.town/honk/match"
	"node.town/honk/sound"
	"node.town/honk/stt"
	"node.town/honk/voice"
	"node.town/honk/web"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(discordCmd)
	rootCmd.AddCommand(setupCmd)
	addSoundCommands(rootCmd)

	rootCmd.PersistentFlags().String("discord-token", "", "Discord bot token")
	rootCmd.PersistentFlags().String("speech-method", "", "Speech recognition backend (vosk, witai, google, gemini)")
	rootCmd.PersistentFlags().String("wit-token", "", "wit.ai server token")
	rootCmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key")
	rootCmd.PersistentFlags().String("database-url", "", "Catalog database URL")
	rootCmd.PersistentFlags().Int("http-port", 4444, "HTTP server port")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	viper.BindPFlag("discord_token", rootCmd.PersistentFlags().Lookup("discord-token"))
	viper.BindPFlag("speech_method", rootCmd.PersistentFlags().Lookup("speech-method"))
	viper.BindPFlag("wit_token", rootCmd.PersistentFlags().Lookup("wit-token"))
	viper.BindPFlag("gemini_api_key", rootCmd.PersistentFlags().Lookup("gemini-api-key"))
	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("http_port", rootCmd.PersistentFlags().Lookup("http-port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		fmt.Printf("Error reading config file: %s\n", err)
	}

	logger = log.New(os.Stdout)
}

var rootCmd = &cobra.Command{
	Use:   "honk",
	Short: "honk is a voice-triggered Discord soundboard",
	Long: `honk listens to a Discord voice channel, recognizes what people say
and plays a sound whenever someone says one of its trigger phrases.`,
}

var discordCmd = &cobra.Command{
	Use:   "discord",
	Short: "Start the Discord bot and the status server",
	Run:   runDiscord,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up the loggers at its level.
func loadConfig() (*config.Config, loggers) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logs := createLoggers(log.InfoLevel)
		logs.main.Fatal("load configuration", "error", err)
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logs := createLoggers(level)
	if err != nil {
		logs.main.Warn("unknown log level, using info", "level", cfg.LogLevel)
	}
	return cfg, logs
}

func runDiscord(cmd *cobra.Command, args []string) {
	cfg, logs := loadConfig()
	fs := afero.NewOsFs()

	if err := cfg.Validate(fs); err != nil {
		logs.main.Fatal("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recognizer, err := newRecognizer(ctx, cfg, logs.hear)
	if err != nil {
		logs.main.Fatal("create speech recognizer", "method", cfg.SpeechMethod, "error", err)
	}
	defer recognizer.Close()

	board, closeBoard, err := openBoard(ctx, cfg, fs, logs)
	if err != nil {
		logs.main.Fatal("open soundboard", "error", err)
	}
	defer closeBoard()

	hub := events.NewHub()
	defer hub.Close()

	matcher, err := newMatcher(cfg)
	if err != nil {
		logs.main.Fatal("create matcher", "error", err)
	}
	dispatcher := voice.NewDispatcher(board.Catalog(), matcher, hub, cfg.EchoTranscripts, logs.play)
	pipeline := voice.NewPipeline(recognizer, dispatcher, voice.PipelineOptions{
		Timeout:  cfg.RecognitionTimeout,
		DebugFs:  fs,
		DebugDir: cfg.DebugDir,
	}, logs.hear)

	session, err := discord.Dial(cfg.DiscordToken)
	if err != nil {
		logs.main.Fatal("create discord session", "error", err)
	}

	connector := discord.NewConnector(
		session,
		board.Library(),
		discord.ConnectorOptions{TurnSilence: cfg.TurnSilence},
		logs.hear,
		logs.play,
	)
	registry := voice.NewRegistry(connector, pipeline, hub, voice.RegistryOptions{
		Language: cfg.DefaultLanguage,
	}, logs.main)
	connector.Listen(registry)

	bot := discord.NewBot(session, registry, board, recognizer, connector, discord.BotOptions{
		Prefix:   cfg.CommandPrefix,
		Language: cfg.DefaultLanguage,
	}, logs.chat)
	if err := bot.Open(); err != nil {
		logs.main.Fatal("start discord bot", "error", err)
	}

	server := web.New(board.Catalog(), board.Library(), registry, hub, logs.http)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, cfg.HTTPPort)
	})
	if local, ok := recognizer.(*stt.Local); ok {
		g.Go(func() error {
			return local.Run(gctx)
		})
	}

	logs.main.Info("running", "speech", recognizer.Name(), "matcher", cfg.Matcher, "http", cfg.HTTPPort)
	if err := g.Wait(); err != nil {
		logs.main.Error("stopped", "error", err)
	}

	// stop taking commands before the sessions go away
	if err := bot.Close(); err != nil {
		logs.main.Warn("close discord session", "error", err)
	}
	registry.Close()
	logs.main.Info("bye")
}

func newMatcher(cfg *config.Config) (match.Matcher, error) {
	matcher, ok := match.New(cfg.Matcher, cfg.FuzzyDistance)
	if !ok {
		return nil, fmt.Errorf("%w: unknown matcher %q", config.ErrInvalid, cfg.Matcher)
	}
	return matcher, nil
}

func newRecognizer(ctx context.Context, cfg *config.Config, logger *log.Logger) (stt.Recognizer, error) {
	bounds := stt.Bounds{Min: cfg.MinTurn, Max: cfg.MaxTurn}

	switch cfg.SpeechMethod {
	case config.Vosk:
		return stt.NewVosk(cfg.VoskModels, float64(audio.SampleRate), stt.LocalOptions{
			MaxAge:  cfg.VoskMaxAge,
			MaxUses: cfg.VoskMaxUses,
		}, logger)
	case config.Wit:
		return stt.NewWit(cfg.WitToken, cfg.WitSpacing, bounds, logger), nil
	case config.Google:
		return stt.NewGoogle(ctx, bounds, logger, option.WithCredentialsFile(cfg.GoogleCredentials))
	case config.Gemini:
		return stt.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, bounds, logger)
	}
	return nil, fmt.Errorf("%w: unknown speech method %q", config.ErrInvalid, cfg.SpeechMethod)
}

// openBoard opens the catalog database and the sound directory.
func openBoard(ctx context.Context, cfg *config.Config, fs afero.Fs, logs loggers) (*sound.Board, func(), error) {
	store, err := catalog.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, logs.data)
	if err != nil {
		return nil, nil, err
	}
	lib, err := sound.NewLibrary(fs, cfg.SoundsDir, cfg.FFmpeg, logs.data)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		if err := store.Close(); err != nil {
			logs.data.Warn("close database", "error", err)
		}
	}
	return sound.NewBoard(store, lib, logs.data), closer, nil
}

type loggers struct {
	main, chat, hear, data, play, http *log.Logger
}

func createLoggers(level log.Level) loggers {
	if logger == nil {
		logger = log.New(os.Stdout)
	}

	logger.SetLevel(level)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	return loggers{
		main: logger.With().WithPrefix("main"),
		chat: logger.With().WithPrefix("chat"),
		hear: logger.With().WithPrefix("hear"),
		data: logger.With().WithPrefix("data"),
		play: logger.With().WithPrefix("play"),
		http: logger.With().WithPrefix("http"),
	}
}
