package stt

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

type fakeEngine struct {
	id      int
	freed   atomic.Bool
	inside  atomic.Int32
	overlap atomic.Bool
	block   chan struct{}
}

func (e *fakeEngine) Recognize(mono []byte) (string, error) {
	if e.freed.Load() {
		return "", errors.New("use after free")
	}
	if e.inside.Add(1) > 1 {
		e.overlap.Store(true)
	}
	defer e.inside.Add(-1)
	if e.block != nil {
		<-e.block
	}
	if e.freed.Load() {
		return "", errors.New("freed while in use")
	}
	return string(mono), nil
}

func (e *fakeEngine) Free() { e.freed.Store(true) }

type fakeFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
	block   chan struct{}
	err     error
}

func (f *fakeFactory) create(string) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e := &fakeEngine{id: len(f.engines), block: f.block}
	f.engines = append(f.engines, e)
	return e, nil
}

func (f *fakeFactory) engine(i int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[i]
}

func TestHandleRecognize(t *testing.T) {
	f := &fakeFactory{}
	h := NewHandle("en", f.create, 0, 0)

	text, err := h.Recognize(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello" {
		t.Errorf("Recognize() = %q, want hello", text)
	}
	if _, uses := h.Stats(); uses != 1 {
		t.Errorf("uses = %d, want 1", uses)
	}
}

func TestHandleExpiry(t *testing.T) {
	f := &fakeFactory{}
	h := NewHandle("en", f.create, 30*time.Second, 3)
	now := time.Now()
	h.now = func() time.Time { return now }

	if h.Expired() {
		t.Error("a handle with no engine should not be expired")
	}

	h.Recognize(context.Background(), []byte("a"))
	if h.Expired() {
		t.Error("fresh handle should not be expired")
	}

	now = now.Add(30 * time.Second)
	if !h.Expired() {
		t.Error("handle should expire by age")
	}

	if err := h.Rotate(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		h.Recognize(context.Background(), []byte("a"))
	}
	if !h.Expired() {
		t.Error("handle should expire by uses")
	}
}

func TestHandleRotateWaitsForInFlight(t *testing.T) {
	block := make(chan struct{})
	f := &fakeFactory{block: block}
	h := NewHandle("en", f.create, 0, 0)

	done := make(chan error, 1)
	go func() {
		_, err := h.Recognize(context.Background(), []byte("slow"))
		done <- err
	}()

	// wait for the call to be inside the engine
	for {
		f.mu.Lock()
		n := len(f.engines)
		f.mu.Unlock()
		if n == 1 && f.engine(0).inside.Load() == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	f.mu.Lock()
	f.block = nil
	f.mu.Unlock()
	if err := h.Rotate(); err != nil {
		t.Fatal(err)
	}
	old := f.engine(0)
	if old.freed.Load() {
		t.Fatal("engine freed while a call was using it")
	}

	// new calls go to the fresh engine without waiting for the old one
	text, err := h.Recognize(context.Background(), []byte("fast"))
	if err != nil || text != "fast" {
		t.Fatalf("Recognize() on new engine = %q, %v", text, err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("in-flight call failed: %v", err)
	}
	if !old.freed.Load() {
		t.Error("retired engine should be freed after its last call")
	}
	if f.engine(1).freed.Load() {
		t.Error("current engine should not be freed")
	}
}

func TestHandleSerializesCalls(t *testing.T) {
	f := &fakeFactory{}
	h := NewHandle("en", f.create, 0, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Recognize(context.Background(), []byte("x"))
		}()
	}
	wg.Wait()

	if f.engine(0).overlap.Load() {
		t.Error("engine used by two calls at once")
	}
}

func TestHandleClose(t *testing.T) {
	f := &fakeFactory{}
	h := NewHandle("en", f.create, 0, 0)
	h.Recognize(context.Background(), []byte("x"))

	h.Close()
	if !f.engine(0).freed.Load() {
		t.Error("Close() should free an idle engine")
	}
	if _, err := h.Recognize(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Recognize() after Close() error = %v, want ErrClosed", err)
	}
	if err := h.Rotate(); !errors.Is(err, ErrClosed) {
		t.Errorf("Rotate() after Close() error = %v, want ErrClosed", err)
	}
}

func TestHandleFactoryError(t *testing.T) {
	f := &fakeFactory{err: errors.New("no model")}
	h := NewHandle("en", f.create, 0, 0)
	if _, err := h.Recognize(context.Background(), nil); err == nil {
		t.Error("expected factory error")
	}
}

func TestLocal(t *testing.T) {
	f := &fakeFactory{}
	released := false
	l := NewLocal("fake", []string{"ru", "en"}, f.create, LocalOptions{MaxUses: 1}, func() { released = true }, log.New(io.Discard))

	if got := l.Languages(); len(got) != 2 || got[0] != "en" || got[1] != "ru" {
		t.Errorf("Languages() = %v", got)
	}
	if _, err := l.Transcribe(context.Background(), "de", nil); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("Transcribe(de) error = %v, want ErrUnsupportedLanguage", err)
	}

	if _, err := l.Transcribe(context.Background(), "en", []byte("a")); err != nil {
		t.Fatal(err)
	}
	l.Tick()
	if !f.engine(0).freed.Load() {
		t.Error("Tick() should rotate and free the used engine")
	}
	if len(f.engines) != 2 {
		t.Errorf("%d engines created, want 2", len(f.engines))
	}

	l.Close()
	if !released || !f.engine(1).freed.Load() {
		t.Error("Close() should free engines and release models")
	}
}
