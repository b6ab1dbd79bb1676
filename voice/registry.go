package voice

import (
	"context"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"

	"node.town/honk/audio"
	"node.town/honk/events"
	"node.town/honk/stt"
)

// Processor handles one finished turn. Bounds decides which turns are
// worth handing over.
type Processor interface {
	Bounds() stt.Bounds
	Process(ctx context.Context, s *Session, t Turn)
}

type RegistryOptions struct {
	Format   audio.Format
	LaneSize int
	Language string
}

// Registry owns every session. Sessions are keyed by voice room.
type Registry struct {
	connector Connector
	processor Processor
	events    events.Publisher
	opts      RegistryOptions
	log       *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       conc.WaitGroup
}

func NewRegistry(
	connector Connector,
	processor Processor,
	publisher events.Publisher,
	opts RegistryOptions,
	logger *log.Logger,
) *Registry {
	if opts.Format.SampleRate == 0 {
		opts.Format = audio.Voice
	}
	if opts.LaneSize <= 0 {
		opts.LaneSize = 4
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	return &Registry{
		connector: connector,
		processor: processor,
		events:    publisher,
		opts:      opts,
		log:       logger,
		sessions:  make(map[string]*Session),
	}
}

// Join attaches to a room. The session is visible as Joining while the
// transport connects and is removed again if that fails.
func (r *Registry) Join(ctx context.Context, key string, opts JoinOptions) (*Session, error) {
	language := opts.Language
	if language == "" {
		language = r.opts.Language
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		key:      key,
		channel:  opts.Channel,
		reporter: opts.Reporter,
		log:      r.log,
		ctx:      sctx,
		cancel:   cancel,
		state:    Joining,
		language: language,
		debug:    opts.Debug,
		lanes:    make(map[string]chan Turn),
		laneSize: r.opts.LaneSize,
		spawn:    r.wg.Go,
		process:  r.processor.Process,
	}
	s.asm = NewAssembler(key, r.opts.Format, r.processor.Bounds(), s.enqueue, r.log)

	r.mu.Lock()
	if _, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		cancel()
		return nil, ErrAlreadyConnected
	}
	r.sessions[key] = s
	r.mu.Unlock()

	sink, err := r.connector.Connect(ctx, key, opts.Channel)

	r.mu.Lock()
	if err != nil {
		if r.sessions[key] == s {
			delete(r.sessions, key)
		}
		r.mu.Unlock()
		s.mu.Lock()
		s.state = Absent
		s.mu.Unlock()
		cancel()
		return nil, &AttachError{Session: key, Err: err}
	}
	if r.sessions[key] != s {
		r.mu.Unlock()
		sink.Close()
		return nil, &AttachError{Session: key, Err: ErrLeftWhileJoining}
	}
	s.mu.Lock()
	s.sink = sink
	s.state = Active
	s.mu.Unlock()
	r.mu.Unlock()

	r.log.Info("joined", "session", key, "channel", opts.Channel, "language", language)
	r.publish(events.Event{Kind: events.KindJoin, Session: key})
	return s, nil
}

// Leave detaches from a room on request.
func (r *Registry) Leave(key string) error {
	s := r.remove(key)
	if s == nil {
		return ErrNotConnected
	}
	r.teardown(s)
	r.log.Info("left", "session", key)
	return nil
}

// Disconnected tears down a session the transport lost on its own.
func (r *Registry) Disconnected(key string) {
	s := r.remove(key)
	if s == nil {
		return
	}
	r.teardown(s)
	r.log.Warn("disconnected", "session", key)
}

func (r *Registry) remove(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil
	}
	delete(r.sessions, key)
	return s
}

func (r *Registry) teardown(s *Session) {
	s.mu.Lock()
	sink := s.sink
	s.sink = nil
	s.state = Absent
	s.mu.Unlock()

	s.asm.Drop()
	s.cancel()

	if sink != nil {
		if err := sink.Close(); err != nil {
			r.log.Warn("close sink", "session", s.key, "error", err)
		}
	}
	r.publish(events.Event{Kind: events.KindLeave, Session: s.key})
}

func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

func (r *Registry) active(key string) *Session {
	s, ok := r.Get(key)
	if !ok || s.State() != Active {
		return nil
	}
	return s
}

func (r *Registry) Frame(key, speaker string, pcm []byte) {
	if s := r.active(key); s != nil {
		s.asm.OnFrame(speaker, pcm)
	}
}

func (r *Registry) TurnStart(key, speaker string) {
	if s := r.active(key); s != nil {
		s.asm.OnTurnStart(speaker)
	}
}

func (r *Registry) TurnEnd(key, speaker string) {
	if s := r.active(key); s != nil {
		s.asm.OnTurnEnd(speaker)
	}
}

func (r *Registry) Sessions() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Close leaves every room and waits for workers to stop.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for key, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.teardown(s)
	}
	r.wg.Wait()
}

func (r *Registry) publish(e events.Event) {
	if r.events != nil {
		r.events.Publish(e)
	}
}
