package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrClosed = errors.New("recognizer closed")

// Engine is one loaded streaming recognizer. It is not safe for
// concurrent use.
type Engine interface {
	Recognize(mono []byte) (string, error)
	Free()
}

type EngineFactory func(language string) (Engine, error)

type generation struct {
	engine  Engine
	born    time.Time
	uses    int
	refs    int
	retired bool

	// feed and result of one turn must not interleave with another's
	serial sync.Mutex
}

// Handle owns the engine for one language and swaps it for a fresh one
// when it gets too old or too used. A retired engine is freed once the
// last call holding it returns.
type Handle struct {
	language string
	factory  EngineFactory
	maxAge   time.Duration
	maxUses  int
	now      func() time.Time

	mu     sync.Mutex
	cur    *generation
	closed bool
}

func NewHandle(language string, factory EngineFactory, maxAge time.Duration, maxUses int) *Handle {
	return &Handle{
		language: language,
		factory:  factory,
		maxAge:   maxAge,
		maxUses:  maxUses,
		now:      time.Now,
	}
}

func (h *Handle) acquire() (*generation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if h.cur == nil {
		engine, err := h.factory(h.language)
		if err != nil {
			return nil, fmt.Errorf("create %s recognizer: %w", h.language, err)
		}
		h.cur = &generation{engine: engine, born: h.now()}
	}
	g := h.cur
	g.refs++
	g.uses++
	return g, nil
}

func (h *Handle) release(g *generation) {
	h.mu.Lock()
	g.refs--
	free := g.retired && g.refs == 0
	h.mu.Unlock()

	if free {
		g.engine.Free()
	}
}

func (h *Handle) Recognize(ctx context.Context, mono []byte) (string, error) {
	g, err := h.acquire()
	if err != nil {
		return "", err
	}
	defer h.release(g)

	g.serial.Lock()
	defer g.serial.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.engine.Recognize(mono)
}

// Expired reports whether the current engine is due for rotation. A handle
// that has not loaded an engine yet is never expired.
func (h *Handle) Expired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cur == nil || h.closed {
		return false
	}
	if h.maxAge > 0 && h.now().Sub(h.cur.born) >= h.maxAge {
		return true
	}
	return h.maxUses > 0 && h.cur.uses >= h.maxUses
}

// Rotate installs a fresh engine. The new engine is built before the old
// one is retired, so callers never wait on model loading.
func (h *Handle) Rotate() error {
	engine, err := h.factory(h.language)
	if err != nil {
		return fmt.Errorf("create %s recognizer: %w", h.language, err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		engine.Free()
		return ErrClosed
	}
	old := h.cur
	h.cur = &generation{engine: engine, born: h.now()}
	free := h.retire(old)
	h.mu.Unlock()

	if free {
		old.engine.Free()
	}
	return nil
}

// retire must be called with h.mu held.
func (h *Handle) retire(g *generation) bool {
	if g == nil {
		return false
	}
	g.retired = true
	return g.refs == 0
}

func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	old := h.cur
	h.cur = nil
	free := h.retire(old)
	h.mu.Unlock()

	if free {
		old.engine.Free()
	}
}

// Stats reports the current engine's age and use count.
func (h *Handle) Stats() (time.Duration, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == nil {
		return 0, 0
	}
	return h.now().Sub(h.cur.born), h.cur.uses
}
