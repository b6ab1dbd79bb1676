package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"

	"node.town/honk/audio"
	"node.town/honk/sound"
	"node.town/honk/voice"
)

var (
	ErrPlaybackBusy = errors.New("playback queue full")
	ErrCallClosed   = errors.New("voice call closed")
)

// Listener receives decoded audio and turn boundaries per speaker.
type Listener interface {
	Frame(session, speaker string, pcm []byte)
	TurnStart(session, speaker string)
	TurnEnd(session, speaker string)
}

type ClipLoader interface {
	Load(name string) (*sound.Clip, error)
}

type ConnectorOptions struct {
	// TurnSilence ends a turn when a speaker sends nothing for this long.
	TurnSilence time.Duration
	PlayQueue   int
}

// Connector joins Discord voice channels on behalf of voice.Registry.
type Connector struct {
	conn  Discord
	clips ClipLoader
	opts  ConnectorOptions
	hear  *log.Logger
	play  *log.Logger

	mu       sync.RWMutex
	listener Listener
	users    map[string]*discordgo.User
}

var _ voice.Connector = (*Connector)(nil)

func NewConnector(
	conn Discord,
	clips ClipLoader,
	opts ConnectorOptions,
	hear, play *log.Logger,
) *Connector {
	if opts.TurnSilence <= 0 {
		opts.TurnSilence = 300 * time.Millisecond
	}
	if opts.PlayQueue <= 0 {
		opts.PlayQueue = 8
	}
	return &Connector{
		conn:  conn,
		clips: clips,
		opts:  opts,
		hear:  hear,
		play:  play,
		users: make(map[string]*discordgo.User),
	}
}

// Listen sets where received audio goes. It must be called before the
// first Connect.
func (c *Connector) Listen(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

func (c *Connector) Connect(ctx context.Context, guildID, channelID string) (voice.Sink, error) {
	c.mu.RLock()
	listener := c.listener
	c.mu.RUnlock()
	if listener == nil {
		return nil, errors.New("connector has no listener")
	}

	vc, err := c.conn.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}
	if err := ctx.Err(); err != nil {
		vc.Disconnect()
		return nil, err
	}

	c.hear.Info("joined", "guild", guildID, "channel", channelID)

	call := newVoiceCall(c, vc, guildID, channelID, listener)
	call.start()
	return call, nil
}

// Username resolves a user ID through the cache the receive path fills.
func (c *Connector) Username(userID string) string {
	if u := c.user(userID); u != nil {
		return u.Username
	}
	return userID
}

func (c *Connector) user(userID string) *discordgo.User {
	c.mu.RLock()
	u, ok := c.users[userID]
	c.mu.RUnlock()
	if ok {
		return u
	}

	u, err := c.conn.User(userID)
	if err != nil {
		c.hear.Error("failed to get user", "userID", userID, "error", err)
		return nil
	}
	c.mu.Lock()
	c.users[userID] = u
	c.mu.Unlock()
	return u
}

type speaker struct {
	userID  string
	ignored bool
	decoder *audio.Decoder
	talking bool
	timer   *time.Timer
}

// voiceCall is one joined voice channel. It is the session's sink.
type voiceCall struct {
	c         *Connector
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string
	listener  Listener

	ctx     context.Context
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	inbound chan *discordgo.Packet
	queue   chan string
	once    sync.Once

	mu       sync.Mutex
	speakers map[uint32]*speaker
}

func newVoiceCall(
	c *Connector,
	vc *discordgo.VoiceConnection,
	guildID, channelID string,
	listener Listener,
) *voiceCall {
	ctx, cancel := context.WithCancel(context.Background())
	return &voiceCall{
		c:         c,
		vc:        vc,
		guildID:   guildID,
		channelID: channelID,
		listener:  listener,
		ctx:       ctx,
		cancel:    cancel,
		// 3 second audio buffer
		inbound:  make(chan *discordgo.Packet, 3*1000/20),
		queue:    make(chan string, c.opts.PlayQueue),
		speakers: make(map[uint32]*speaker),
	}
}

func (call *voiceCall) start() {
	call.vc.AddHandler(call.handleVoiceSpeakingUpdate)

	// Discord starts relaying incoming audio only after we send something.
	select {
	case call.vc.OpusSend <- audio.Silence:
	default:
	}

	call.wg.Go(call.acceptInboundAudioPackets)
	call.wg.Go(call.processInboundAudioPackets)
	call.wg.Go(call.playLoop)
}

func (call *voiceCall) Close() error {
	var err error
	call.once.Do(func() {
		call.cancel()

		call.mu.Lock()
		for _, sp := range call.speakers {
			if sp.timer != nil {
				sp.timer.Stop()
			}
		}
		call.mu.Unlock()

		if derr := call.vc.Disconnect(); derr != nil {
			err = fmt.Errorf("failed to disconnect: %w", derr)
		}
		call.wg.Wait()
		call.c.hear.Info("left", "guild", call.guildID, "channel", call.channelID)
	})
	return err
}

func (call *voiceCall) acceptInboundAudioPackets() {
	for {
		select {
		case <-call.ctx.Done():
			return
		case packet, ok := <-call.vc.OpusRecv:
			if !ok {
				return
			}
			select {
			case call.inbound <- packet:
			default:
				call.c.hear.Warn(
					"voice packet channel full, dropping packet",
					"channelID", call.channelID,
				)
			}
		}
	}
}

func (call *voiceCall) processInboundAudioPackets() {
	for {
		select {
		case <-call.ctx.Done():
			return
		case packet := <-call.inbound:
			if err := call.processInboundAudioPacket(packet); err != nil {
				call.c.hear.Error(
					"failed to process voice packet",
					"error", err,
					"guildID", call.guildID,
					"ssrc", packet.SSRC,
				)
			}
		}
	}
}

func (call *voiceCall) processInboundAudioPacket(packet *discordgo.Packet) error {
	call.mu.Lock()
	defer call.mu.Unlock()

	sp, ok := call.speakers[packet.SSRC]
	if !ok {
		// audio can arrive before the speaking update that names its sender
		return nil
	}
	if sp.ignored {
		return nil
	}

	if audio.IsSilence(packet.Opus) {
		call.endTurn(sp)
		return nil
	}

	pcm, err := sp.decoder.Decode(packet.Opus)
	if err != nil {
		return fmt.Errorf("failed to decode opus: %w", err)
	}

	if !sp.talking {
		sp.talking = true
		call.listener.TurnStart(call.guildID, sp.userID)
	}
	call.listener.Frame(call.guildID, sp.userID, pcm)

	if sp.timer == nil {
		sp.timer = time.AfterFunc(call.c.opts.TurnSilence, func() { call.silenceElapsed(sp) })
	} else {
		sp.timer.Reset(call.c.opts.TurnSilence)
	}
	return nil
}

func (call *voiceCall) silenceElapsed(sp *speaker) {
	call.mu.Lock()
	defer call.mu.Unlock()
	if call.ctx.Err() != nil {
		return
	}
	call.endTurn(sp)
}

// endTurn must be called with call.mu held.
func (call *voiceCall) endTurn(sp *speaker) {
	if !sp.talking {
		return
	}
	sp.talking = false
	if sp.timer != nil {
		sp.timer.Stop()
	}
	call.listener.TurnEnd(call.guildID, sp.userID)
}

func (call *voiceCall) handleVoiceSpeakingUpdate(
	_ *discordgo.VoiceConnection,
	v *discordgo.VoiceSpeakingUpdate,
) {
	if call.ctx.Err() != nil {
		return
	}
	call.c.hear.Debug(
		"state",
		"speaking", v.Speaking,
		"userID", v.UserID,
		"ssrc", v.SSRC,
	)

	ssrc := uint32(v.SSRC)
	call.mu.Lock()
	sp, known := call.speakers[ssrc]
	call.mu.Unlock()

	if !known {
		var err error
		sp, err = call.newSpeaker(v.UserID)
		if err != nil {
			call.c.hear.Error("failed to set up speaker", "userID", v.UserID, "error", err)
			return
		}
		call.mu.Lock()
		if existing, ok := call.speakers[ssrc]; ok {
			sp = existing
		} else {
			call.speakers[ssrc] = sp
		}
		call.mu.Unlock()
	}

	if !v.Speaking {
		call.mu.Lock()
		call.endTurn(sp)
		call.mu.Unlock()
	}
}

func (call *voiceCall) newSpeaker(userID string) (*speaker, error) {
	sp := &speaker{userID: userID}
	if u := call.c.user(userID); u != nil && u.Bot {
		sp.ignored = true
		return sp, nil
	}
	dec, err := audio.NewDecoder()
	if err != nil {
		return nil, err
	}
	sp.decoder = dec
	return sp, nil
}

func (call *voiceCall) Play(_ context.Context, name string) error {
	if call.ctx.Err() != nil {
		return ErrCallClosed
	}
	select {
	case call.queue <- name:
		return nil
	default:
		return ErrPlaybackBusy
	}
}

func (call *voiceCall) playLoop() {
	for {
		select {
		case <-call.ctx.Done():
			return
		case name := <-call.queue:
			if err := call.playClip(name); err != nil && !errors.Is(err, context.Canceled) {
				call.c.play.Error("failed to play", "sound", name, "guild", call.guildID, "error", err)
			}
		}
	}
}

func (call *voiceCall) playClip(name string) error {
	clip, err := call.c.clips.Load(name)
	if err != nil {
		return err
	}
	call.c.play.Info("playing", "sound", name, "guild", call.guildID, "packets", len(clip.Packets))

	if err := call.vc.Speaking(true); err != nil {
		return fmt.Errorf("failed to set speaking state: %w", err)
	}
	defer func() {
		if err := call.vc.Speaking(false); err != nil {
			call.c.play.Warn("set speaking state", "error", err)
		}
	}()

	for _, packet := range clip.Packets {
		select {
		case <-call.ctx.Done():
			return call.ctx.Err()
		case call.vc.OpusSend <- packet:
		}
	}
	return nil
}
