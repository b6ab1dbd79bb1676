package voice

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/panics"
	"github.com/spf13/afero"

	"node.town/honk/audio"
	"node.town/honk/etc"
	"node.town/honk/stt"
)

type PipelineOptions struct {
	Format audio.Format
	// Timeout bounds one recognition call. It keeps running after the
	// session ends, so this is also how long a leave can leave it behind.
	Timeout  time.Duration
	DebugFs  afero.Fs
	DebugDir string
}

// Pipeline takes a finished turn to mono, recognizes it and dispatches
// the transcript.
type Pipeline struct {
	recognizer stt.Recognizer
	dispatcher *Dispatcher
	opts       PipelineOptions
	log        *log.Logger
}

var _ Processor = (*Pipeline)(nil)

func NewPipeline(
	recognizer stt.Recognizer,
	dispatcher *Dispatcher,
	opts PipelineOptions,
	logger *log.Logger,
) *Pipeline {
	if opts.Format.SampleRate == 0 {
		opts.Format = audio.Voice
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Pipeline{
		recognizer: recognizer,
		dispatcher: dispatcher,
		opts:       opts,
		log:        logger,
	}
}

func (p *Pipeline) Bounds() stt.Bounds {
	return p.recognizer.Bounds()
}

func (p *Pipeline) Process(ctx context.Context, s *Session, t Turn) {
	var pc panics.Catcher
	pc.Try(func() { p.process(ctx, s, t) })
	if r := pc.Recovered(); r != nil {
		p.log.Error(
			"turn processing panicked",
			"session", t.Session,
			"speaker", t.Speaker,
			"error", r.AsError(),
		)
	}
}

func (p *Pipeline) process(ctx context.Context, s *Session, t Turn) {
	mono, err := audio.ToMono(t.PCM, p.opts.Format.Channels)
	if err != nil {
		p.log.Error("convert turn", "session", t.Session, "speaker", t.Speaker, "error", err)
		return
	}

	if s.Debug() {
		p.dump(t, mono)
	}

	// a leave must not abort a call the service is already working on
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.Timeout)
	text, ok := stt.Submit(rctx, p.recognizer, s.Language(), mono, p.log)
	cancel()
	if !ok {
		return
	}

	if ctx.Err() != nil {
		p.log.Debug("session gone, dropping transcript", "session", t.Session, "text", text)
		return
	}

	p.dispatcher.Dispatch(ctx, s, t.Speaker, text)
}

func (p *Pipeline) dump(t Turn, mono []byte) {
	if p.opts.DebugFs == nil || p.opts.DebugDir == "" {
		return
	}
	if err := p.opts.DebugFs.MkdirAll(p.opts.DebugDir, 0o755); err != nil {
		p.log.Warn("create debug directory", "error", err)
		return
	}

	name := filepath.Join(
		p.opts.DebugDir,
		fmt.Sprintf("%s_%s_%d_%s.wav", t.Session, t.Speaker, t.Seq, etc.NewFreshID()),
	)
	f, err := p.opts.DebugFs.Create(name)
	if err != nil {
		p.log.Warn("create debug dump", "error", err)
		return
	}
	defer f.Close()

	if err := audio.WriteWAV(f, mono, p.opts.Format.SampleRate); err != nil {
		p.log.Warn("write debug dump", "file", name, "error", err)
		return
	}
	p.log.Debug("dumped turn", "file", name, "duration", t.Duration)
}
