package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"slices"
	"strings"

	dis "github.com/bwmarrin/discordgo"

	"node.town/honk/catalog"
	"node.town/honk/stt"
	"node.town/honk/voice"
)

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, m *dis.Message, args []string) error
}

func (bot *Bot) registerCommands() {
	bot.commands = map[string]command{
		"join":      {"join", "join your voice channel", bot.handleJoin},
		"leave":     {"leave", "leave the voice channel", bot.handleLeave},
		"help":      {"help", "show this list", bot.handleHelp},
		"debug":     {"debug", "toggle transcript echo and audio dumps", bot.handleDebug},
		"hello":     {"hello", "say hello", bot.handleHello},
		"here":      {"here", "check that the bot is alive", bot.handleHere},
		"lang":      {"lang <code>", "set the recognition language", bot.handleLang},
		"sounds":    {"sounds", "list sounds", bot.handleSounds},
		"play":      {"play <name|number>", "play a sound", bot.handlePlay},
		"upload":    {"upload", "add the attached audio files as sounds", bot.handleUpload},
		"rename":    {"rename <old> <new>", "rename a sound", bot.handleRename},
		"addpseudo": {"addpseudo <name> <phrase>...", "add trigger phrases", bot.handleAddPseudonyms},
		"delpseudo": {"delpseudo <name> <phrase>", "remove a trigger phrase", bot.handleRemovePseudonym},
		"delete":    {"delete <name>", "delete a sound", bot.handleDelete},
	}
}

// parseCommand splits a prefixed message into a lowercased command name and
// its arguments. Double quotes group words into one argument.
func parseCommand(prefix, content string) (string, []string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := splitArgs(content[len(prefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func splitArgs(s string) []string {
	var (
		args    []string
		current strings.Builder
		quoted  bool
		started bool
	)
	flush := func() {
		if started {
			args = append(args, current.String())
		}
		current.Reset()
		started = false
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case !quoted && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			current.WriteRune(r)
			started = true
		}
	}
	flush()
	return args
}

func (bot *Bot) handleJoin(ctx context.Context, m *dis.Message, _ []string) error {
	bot.join(ctx, m, false)
	return nil
}

func (bot *Bot) handleLeave(_ context.Context, m *dis.Message, _ []string) error {
	err := bot.registry.Leave(m.GuildID)
	if errors.Is(err, voice.ErrNotConnected) {
		bot.reply(m, "Cannot leave because not connected.")
		return nil
	}
	if err != nil {
		return err
	}
	bot.reply(m, "Disconnected.")
	return nil
}

func (bot *Bot) handleHelp(_ context.Context, m *dis.Message, _ []string) error {
	names := make([]string, 0, len(bot.commands))
	for name := range bot.commands {
		names = append(names, name)
	}
	slices.Sort(names)

	var sb strings.Builder
	sb.WriteString("**COMMANDS:**\n```\n")
	for _, name := range names {
		cmd := bot.commands[name]
		fmt.Fprintf(&sb, "%s%-30s %s\n", bot.opts.Prefix, cmd.usage, cmd.help)
	}
	sb.WriteString("```")
	bot.reply(m, sb.String())
	return nil
}

func (bot *Bot) handleDebug(_ context.Context, m *dis.Message, _ []string) error {
	s, ok := bot.registry.Get(m.GuildID)
	if !ok {
		bot.reply(m, "Cannot toggle debug because not connected.")
		return nil
	}
	if s.ToggleDebug() {
		bot.reply(m, "Debug mode on.")
	} else {
		bot.reply(m, "Debug mode off.")
	}
	return nil
}

func (bot *Bot) handleHello(_ context.Context, m *dis.Message, _ []string) error {
	bot.reply(m, "hello back =)")
	return nil
}

func (bot *Bot) handleHere(_ context.Context, m *dis.Message, _ []string) error {
	bot.send(m.ChannelID, "I'm here")
	return nil
}

type languageLister interface {
	Languages() []string
}

func (bot *Bot) handleLang(ctx context.Context, m *dis.Message, args []string) error {
	if len(args) != 1 {
		bot.reply(m, "Usage: "+bot.opts.Prefix+"lang <code>")
		return nil
	}
	language := strings.ToLower(args[0])

	if setter, ok := bot.recognizer.(stt.LanguageSetter); ok {
		if err := setter.SetLanguage(ctx, language); err != nil {
			bot.reply(m, "Error: "+err.Error())
			return nil
		}
		if s, ok := bot.registry.Get(m.GuildID); ok {
			s.SetLanguage(language)
		}
		bot.reply(m, "success!")
		return nil
	}

	if lister, ok := bot.recognizer.(languageLister); ok {
		if !slices.Contains(lister.Languages(), language) {
			bot.reply(m, fmt.Sprintf(
				"Error: no model for %q, available: %s",
				language, strings.Join(lister.Languages(), ", "),
			))
			return nil
		}
	}

	s, ok := bot.registry.Get(m.GuildID)
	if !ok {
		bot.reply(m, "Cannot set the language because not connected.")
		return nil
	}
	s.SetLanguage(language)
	bot.reply(m, "Language set to "+language+".")
	return nil
}

func (bot *Bot) handleSounds(ctx context.Context, m *dis.Message, _ []string) error {
	entries, err := bot.board.Catalog().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sounds: %w", err)
	}
	if len(entries) == 0 {
		bot.send(m.ChannelID, "No sounds yet.")
		return nil
	}

	var sb strings.Builder
	for i, entry := range entries {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, entry.Name)
	}
	bot.send(m.ChannelID, sb.String())
	return nil
}

func (bot *Bot) handlePlay(ctx context.Context, m *dis.Message, args []string) error {
	if len(args) != 1 {
		bot.reply(m, "Usage: "+bot.opts.Prefix+"play <name|number>")
		return nil
	}

	entry, err := bot.board.Catalog().Lookup(ctx, args[0])
	if msg, ok := soundError(err); ok {
		bot.reply(m, msg)
		return nil
	}
	if err != nil {
		return err
	}

	s, ok := bot.registry.Get(m.GuildID)
	if !ok || s.State() != voice.Active {
		if s = bot.join(ctx, m, true); s == nil {
			return nil
		}
	}
	sink := s.Sink()
	if sink == nil {
		return nil
	}
	if err := sink.Play(ctx, entry.Name); err != nil {
		bot.log.Warn("play", "sound", entry.Name, "error", err)
		bot.reply(m, "Error: could not play "+entry.Name+".")
	}
	return nil
}

var audioExtensions = []string{".mp3", ".ogg", ".opus", ".wav", ".flac", ".m4a", ".webm"}

func (bot *Bot) handleUpload(ctx context.Context, m *dis.Message, _ []string) error {
	if len(m.Attachments) == 0 {
		bot.reply(m, "Attach one or more audio files to upload.")
		return nil
	}

	var added, replaced, failed []string
	for _, a := range m.Attachments {
		ext := strings.ToLower(path.Ext(a.Filename))
		if !slices.Contains(audioExtensions, ext) {
			continue
		}
		name := strings.TrimSuffix(a.Filename, path.Ext(a.Filename))

		created, err := bot.upload(ctx, name, a.URL)
		switch {
		case err != nil:
			bot.log.Error("upload failed", "file", a.Filename, "error", err)
			failed = append(failed, name)
		case created:
			added = append(added, name)
		default:
			replaced = append(replaced, name)
		}
	}

	var lines []string
	if len(added) > 0 {
		lines = append(lines, "Added: "+strings.Join(added, ", "))
	}
	if len(replaced) > 0 {
		lines = append(lines, "Replaced: "+strings.Join(replaced, ", "))
	}
	if len(failed) > 0 {
		lines = append(lines, "Failed: "+strings.Join(failed, ", "))
	}
	if len(lines) == 0 {
		lines = append(lines, "No audio files found in the attachments.")
	}
	bot.reply(m, strings.Join(lines, "\n"))
	return nil
}

func (bot *Bot) upload(ctx context.Context, name, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := bot.opts.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("failed to download attachment: %s", resp.Status)
	}
	return bot.board.Import(ctx, name, io.LimitReader(resp.Body, 32<<20))
}

func (bot *Bot) handleRename(ctx context.Context, m *dis.Message, args []string) error {
	if len(args) != 2 {
		bot.reply(m, "Usage: "+bot.opts.Prefix+"rename <old> <new>")
		return nil
	}
	err := bot.board.Rename(ctx, args[0], args[1])
	if msg, ok := soundError(err); ok {
		bot.reply(m, msg)
		return nil
	}
	if err != nil {
		return err
	}
	bot.reply(m, fmt.Sprintf("Renamed %s to %s.", args[0], args[1]))
	return nil
}

func (bot *Bot) handleAddPseudonyms(ctx context.Context, m *dis.Message, args []string) error {
	if len(args) < 2 {
		bot.reply(m, "Usage: "+bot.opts.Prefix+"addpseudo <name> <phrase>...")
		return nil
	}
	name := args[0]
	var added []string
	for _, phrase := range args[1:] {
		err := bot.board.Catalog().AddPseudonym(ctx, name, phrase)
		if errors.Is(err, catalog.ErrExists) {
			continue
		}
		if msg, ok := soundError(err); ok {
			bot.reply(m, msg)
			return nil
		}
		if err != nil {
			return err
		}
		added = append(added, phrase)
	}
	if len(added) == 0 {
		bot.reply(m, "Nothing new to add.")
		return nil
	}
	bot.reply(m, fmt.Sprintf("Added to %s: %s", name, strings.Join(added, ", ")))
	return nil
}

func (bot *Bot) handleRemovePseudonym(ctx context.Context, m *dis.Message, args []string) error {
	if len(args) < 2 {
		bot.reply(m, "Usage: "+bot.opts.Prefix+"delpseudo <name> <phrase>")
		return nil
	}
	name, phrase := args[0], strings.Join(args[1:], " ")
	if _, err := bot.board.Catalog().Get(ctx, name); err != nil {
		if msg, ok := soundError(err); ok {
			bot.reply(m, msg)
			return nil
		}
		return err
	}
	err := bot.board.Catalog().RemovePseudonym(ctx, name, phrase)
	if errors.Is(err, catalog.ErrNotFound) {
		bot.reply(m, fmt.Sprintf("%s has no pseudonym %q.", name, phrase))
		return nil
	}
	if msg, ok := soundError(err); ok {
		bot.reply(m, msg)
		return nil
	}
	if err != nil {
		return err
	}
	bot.reply(m, fmt.Sprintf("Removed %q from %s.", phrase, name))
	return nil
}

func (bot *Bot) handleDelete(ctx context.Context, m *dis.Message, args []string) error {
	if len(args) != 1 {
		bot.reply(m, "Usage: "+bot.opts.Prefix+"delete <name>")
		return nil
	}
	err := bot.board.Delete(ctx, args[0])
	if msg, ok := soundError(err); ok {
		bot.reply(m, msg)
		return nil
	}
	if err != nil {
		return err
	}
	bot.reply(m, "Deleted "+args[0]+".")
	return nil
}
