package voice

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"node.town/honk/catalog"
	"node.town/honk/stt"
)

var quiet = log.New(io.Discard)

type fakeSink struct {
	mu     sync.Mutex
	played []string
	closed bool
	err    error
}

func (s *fakeSink) Play(ctx context.Context, sound string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.played = append(s.played, sound)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) plays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.played...)
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeConnector struct {
	mu    sync.Mutex
	err   error
	gate  chan struct{}
	sinks map[string]*fakeSink
}

func (c *fakeConnector) Connect(ctx context.Context, session, channel string) (Sink, error) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.sinks == nil {
		c.sinks = make(map[string]*fakeSink)
	}
	s := &fakeSink{}
	c.sinks[session] = s
	return s, nil
}

func (c *fakeConnector) sink(session string) *fakeSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sinks[session]
}

type fakeProcessor struct {
	bounds stt.Bounds
	turns  chan Turn
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{turns: make(chan Turn, 16)}
}

func (p *fakeProcessor) Bounds() stt.Bounds { return p.bounds }

func (p *fakeProcessor) Process(ctx context.Context, s *Session, t Turn) {
	p.turns <- t
}

type fakeRecognizer struct {
	mu      sync.Mutex
	text    string
	err     error
	bounds  stt.Bounds
	gate    chan struct{}
	calls   int
	waiting atomic.Int32
}

func (r *fakeRecognizer) Name() string       { return "fake" }
func (r *fakeRecognizer) Bounds() stt.Bounds { return r.bounds }
func (r *fakeRecognizer) Close() error       { return nil }

func (r *fakeRecognizer) Transcribe(ctx context.Context, language string, mono []byte) (string, error) {
	if r.gate != nil {
		r.waiting.Add(1)
		select {
		case <-r.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.text, r.err
}

func (r *fakeRecognizer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeLister struct {
	entries []catalog.SoundEntry
	err     error
}

func (l fakeLister) List(ctx context.Context) ([]catalog.SoundEntry, error) {
	return l.entries, l.err
}

type fakeReporter struct {
	mu    sync.Mutex
	lines []string
}

func (r *fakeReporter) Report(ctx context.Context, speaker, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, speaker+": "+text)
	return nil
}

func (r *fakeReporter) reported() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

var errBoom = errors.New("boom")

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
