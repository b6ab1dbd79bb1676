package stt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

type LocalOptions struct {
	MaxAge  time.Duration
	MaxUses int
	// Tick is how often handles are checked for rotation.
	Tick time.Duration
}

// Local runs an in-process streaming recognizer with one handle per
// language.
type Local struct {
	name    string
	handles map[string]*Handle
	tick    time.Duration
	release func()
	log     *log.Logger
}

func NewLocal(
	name string,
	languages []string,
	factory EngineFactory,
	opts LocalOptions,
	release func(),
	logger *log.Logger,
) *Local {
	handles := make(map[string]*Handle, len(languages))
	for _, lang := range languages {
		handles[lang] = NewHandle(lang, factory, opts.MaxAge, opts.MaxUses)
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Local{
		name:    name,
		handles: handles,
		tick:    tick,
		release: release,
		log:     logger,
	}
}

func (l *Local) Name() string { return l.name }

// Bounds is unlimited; a local engine takes turns of any length.
func (l *Local) Bounds() Bounds { return Bounds{} }

func (l *Local) Languages() []string {
	langs := make([]string, 0, len(l.handles))
	for lang := range l.handles {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

func (l *Local) Transcribe(ctx context.Context, language string, mono []byte) (string, error) {
	h, ok := l.handles[language]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return h.Recognize(ctx, mono)
}

// Run rotates expired handles until ctx is done.
func (l *Local) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Tick()
		}
	}
}

func (l *Local) Tick() {
	for lang, h := range l.handles {
		if !h.Expired() {
			continue
		}
		age, uses := h.Stats()
		if err := h.Rotate(); err != nil {
			l.log.Error("rotate recognizer", "language", lang, "error", err)
			continue
		}
		l.log.Debug("rotated recognizer", "language", lang, "age", age, "uses", uses)
	}
}

func (l *Local) Close() error {
	for _, h := range l.handles {
		h.Close()
	}
	if l.release != nil {
		l.release()
	}
	return nil
}
