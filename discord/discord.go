// Package discord connects the voice pipeline and the soundboard to
// Discord: voice rooms, chat commands and transcript echoes.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"node.town/honk/catalog"
	"node.town/honk/sound"
	"node.town/honk/stt"
	"node.town/honk/voice"
)

// messageLimit is the longest message Discord accepts.
const messageLimit = 2000

type Discord interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelVoiceJoin(
		gID, cID string,
		mute, deaf bool,
	) (voice *dis.VoiceConnection, err error)
	ChannelMessageSend(
		channelID string,
		content string,
		options ...dis.RequestOption,
	) (*dis.Message, error)
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *dis.MessageReference,
		options ...dis.RequestOption,
	) (*dis.Message, error)
	User(
		userID string,
		options ...dis.RequestOption,
	) (*dis.User, error)
	MyUserID() (userID string, err error)
	UserVoiceChannel(guildID, userID string) (channelID string, err error)
}

// Session is a discordgo session with the lookups the bot needs from the
// gateway state.
type Session struct {
	*dis.Session
}

func Dial(token string) (*Session, error) {
	dg, err := dis.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = dis.IntentsGuilds |
		dis.IntentsGuildMessages |
		dis.IntentsGuildVoiceStates |
		dis.IntentsMessageContent
	return &Session{Session: dg}, nil
}

func (s *Session) MyUserID() (string, error) {
	if s.State == nil || s.State.User == nil {
		return "", errors.New("session is not ready")
	}
	return s.State.User.ID, nil
}

func (s *Session) UserVoiceChannel(guildID, userID string) (string, error) {
	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil {
		return "", err
	}
	return vs.ChannelID, nil
}

// Registry is the part of voice.Registry the bot drives.
type Registry interface {
	Join(ctx context.Context, key string, opts voice.JoinOptions) (*voice.Session, error)
	Leave(key string) error
	Get(key string) (*voice.Session, bool)
	Disconnected(key string)
}

type Users interface {
	Username(userID string) string
}

type BotOptions struct {
	Prefix     string
	Language   string
	HTTPClient *http.Client
	// JoinTimeout bounds how long a join command waits on the gateway.
	JoinTimeout time.Duration
}

type Bot struct {
	conn       Discord
	registry   Registry
	board      *sound.Board
	recognizer stt.Recognizer
	users      Users
	opts       BotOptions
	log        *log.Logger

	commands map[string]command
}

func NewBot(
	conn Discord,
	registry Registry,
	board *sound.Board,
	recognizer stt.Recognizer,
	users Users,
	opts BotOptions,
	logger *log.Logger,
) *Bot {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: time.Minute}
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 20 * time.Second
	}

	bot := &Bot{
		conn:       conn,
		registry:   registry,
		board:      board,
		recognizer: recognizer,
		users:      users,
		opts:       opts,
		log:        logger,
	}
	bot.registerCommands()
	return bot
}

// Open registers the event handlers and connects to the gateway.
func (bot *Bot) Open() error {
	bot.conn.AddHandler(bot.handleReady)
	bot.conn.AddHandler(bot.handleGuildCreate)
	bot.conn.AddHandler(bot.handleVoiceStateUpdate)
	bot.conn.AddHandler(bot.handleMessageCreate)

	if err := bot.conn.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	return nil
}

func (bot *Bot) Close() error {
	return bot.conn.Close()
}

func (bot *Bot) handleReady(_ *dis.Session, event *dis.Ready) {
	bot.log.Info("bot started", "username", event.User.Username)
}

func (bot *Bot) handleGuildCreate(_ *dis.Session, event *dis.GuildCreate) {
	bot.log.Info("joined guild", "guild", event.Guild.Name, "id", event.Guild.ID)
}

// handleVoiceStateUpdate notices the bot being dropped from a voice room
// without having asked to leave.
func (bot *Bot) handleVoiceStateUpdate(_ *dis.Session, v *dis.VoiceStateUpdate) {
	bot.voiceStateChanged(v.VoiceState)
}

func (bot *Bot) voiceStateChanged(v *dis.VoiceState) {
	me, err := bot.conn.MyUserID()
	if err != nil {
		bot.log.Error("failed to get bot's user ID", "error", err)
		return
	}
	if v.UserID != me || v.ChannelID != "" {
		return
	}
	// a pending join sees the session gone and gives up
	if _, ok := bot.registry.Get(v.GuildID); ok {
		bot.registry.Disconnected(v.GuildID)
	}
}

func (bot *Bot) handleMessageCreate(_ *dis.Session, m *dis.MessageCreate) {
	ctx := context.Background()
	bot.handleMessage(ctx, m.Message)
}

func (bot *Bot) handleMessage(ctx context.Context, m *dis.Message) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	// private messages have no guild
	if m.GuildID == "" {
		return
	}

	name, args, ok := parseCommand(bot.opts.Prefix, m.Content)
	if !ok {
		return
	}
	cmd, exists := bot.commands[name]
	if !exists {
		return
	}

	bot.log.Debug("command", "name", name, "args", args, "guild", m.GuildID, "user", m.Author.Username)
	if err := cmd.run(ctx, m, args); err != nil {
		bot.log.Error("command execution failed", "command", name, "error", err)
		bot.reply(m, "Error: something went wrong, try again or contact the developers if this keeps happening.")
	}
}

func (bot *Bot) reply(m *dis.Message, content string) {
	_, err := bot.conn.ChannelMessageSendReply(m.ChannelID, content, m.Reference())
	if err != nil {
		bot.log.Error("failed to send reply", "error", err)
	}
}

func (bot *Bot) send(channelID, content string) {
	for _, chunk := range splitMessage(content, messageLimit) {
		if _, err := bot.conn.ChannelMessageSend(channelID, chunk); err != nil {
			bot.log.Error("failed to send message", "error", err)
			return
		}
	}
}

// splitMessage cuts content into pieces of at most limit characters,
// preferring line breaks.
func splitMessage(content string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(content) > limit {
		end := runeOffset(content, limit)
		cut := strings.LastIndexByte(content[:end], '\n')
		if cut <= 0 {
			cut = end
		}
		chunks = append(chunks, content[:cut])
		content = strings.TrimPrefix(content[cut:], "\n")
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

// runeOffset returns the byte length of the first n runes of s.
func runeOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}

// textReporter echoes transcripts into the text channel a session was
// started from.
type textReporter struct {
	conn      Discord
	channelID string
	users     Users
}

func (r *textReporter) Report(_ context.Context, speaker, text string) error {
	name := speaker
	if r.users != nil {
		name = r.users.Username(speaker)
	}
	content := name + ": " + text
	content = content[:runeOffset(content, messageLimit)]
	if _, err := r.conn.ChannelMessageSend(r.channelID, content); err != nil {
		return fmt.Errorf("failed to send transcript: %w", err)
	}
	return nil
}

var errVoiceChannel = errors.New("not in a voice channel")

// join attaches to the author's voice channel and reports the outcome.
// It returns the guild's active session, or nil.
func (bot *Bot) join(ctx context.Context, m *dis.Message, quiet bool) *voice.Session {
	channelID, err := bot.conn.UserVoiceChannel(m.GuildID, m.Author.ID)
	if err != nil || channelID == "" {
		bot.reply(m, "Error: please join a voice channel first.")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, bot.opts.JoinTimeout)
	defer cancel()

	s, err := bot.registry.Join(ctx, m.GuildID, voice.JoinOptions{
		Channel:  channelID,
		Language: bot.opts.Language,
		Reporter: &textReporter{conn: bot.conn, channelID: m.ChannelID, users: bot.users},
	})
	switch {
	case errors.Is(err, voice.ErrAlreadyConnected):
		if !quiet {
			bot.reply(m, "Already connected")
		}
		s, ok := bot.registry.Get(m.GuildID)
		if !ok || s.State() != voice.Active {
			return nil
		}
		return s
	case err != nil:
		bot.log.Error("failed to join voice channel", "guild", m.GuildID, "channel", channelID, "error", err)
		bot.reply(m, "Error: unable to join your voice channel.")
		return nil
	}
	if !quiet {
		bot.reply(m, "connected!")
	}
	return s
}

func soundError(err error) (string, bool) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return "Couldn't find a file with that name", true
	case errors.Is(err, catalog.ErrExists):
		return "Error: a sound with that name already exists.", true
	case errors.Is(err, catalog.ErrInvalidName):
		return "Error: sound names are single words without slashes.", true
	case errors.Is(err, catalog.ErrPrimaryPseudonym):
		return "Error: a sound's own name is always one of its pseudonyms.", true
	}
	return "", false
}
