package voice

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

type JoinOptions struct {
	Channel  string
	Language string
	Debug    bool
	Reporter Reporter
}

// Session is the bot's presence in one voice room.
type Session struct {
	key      string
	channel  string
	reporter Reporter
	asm      *Assembler
	log      *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	state    State
	sink     Sink
	language string
	debug    bool

	lanesMu  sync.Mutex
	lanes    map[string]chan Turn
	laneSize int
	spawn    func(func())
	process  func(context.Context, *Session, Turn)
}

func (s *Session) Key() string     { return s.key }
func (s *Session) Channel() string { return s.channel }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Sink returns nil unless the session is active.
func (s *Session) Sink() Sink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Active {
		return nil
	}
	return s.sink
}

func (s *Session) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

func (s *Session) SetLanguage(language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = language
}

func (s *Session) Debug() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debug
}

// ToggleDebug flips the debug flag and returns the new value.
func (s *Session) ToggleDebug() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = !s.debug
	return s.debug
}

func (s *Session) Reporter() Reporter { return s.reporter }

func (s *Session) Context() context.Context { return s.ctx }

// enqueue hands a finished turn to the speaker's lane. A full lane drops
// the turn rather than holding up capture.
func (s *Session) enqueue(t Turn) {
	s.lanesMu.Lock()
	defer s.lanesMu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	lane, ok := s.lanes[t.Speaker]
	if !ok {
		lane = make(chan Turn, s.laneSize)
		s.lanes[t.Speaker] = lane
		s.spawn(func() { s.work(lane) })
	}

	select {
	case lane <- t:
	default:
		s.log.Warn(
			"turn queue full, dropping turn",
			"session", s.key,
			"speaker", t.Speaker,
			"seq", t.Seq,
		)
	}
}

func (s *Session) work(lane <-chan Turn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-lane:
			if s.ctx.Err() != nil {
				return
			}
			s.process(s.ctx, s, t)
		}
	}
}

// Info is a point-in-time view of a session.
type Info struct {
	Key      string `json:"key"`
	Channel  string `json:"channel"`
	State    string `json:"state"`
	Language string `json:"language"`
	Debug    bool   `json:"debug"`
	Speaking int    `json:"speaking"`
}

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		Key:      s.key,
		Channel:  s.channel,
		State:    s.state.String(),
		Language: s.language,
		Debug:    s.debug,
		Speaking: s.asm.Speakers(),
	}
}
