package voice

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"node.town/honk/catalog"
	"node.town/honk/events"
	"node.town/honk/match"
)

type Lister interface {
	List(ctx context.Context) ([]catalog.SoundEntry, error)
}

type Dispatcher struct {
	catalog Lister
	matcher match.Matcher
	events  events.Publisher
	echo    bool
	log     *log.Logger
}

// NewDispatcher plays matched sounds. With echo set every transcript is
// reported back to the room; otherwise only sessions in debug mode are.
func NewDispatcher(
	catalog Lister,
	matcher match.Matcher,
	publisher events.Publisher,
	echo bool,
	logger *log.Logger,
) *Dispatcher {
	if matcher == nil {
		matcher = match.Substring{}
	}
	return &Dispatcher{
		catalog: catalog,
		matcher: matcher,
		events:  publisher,
		echo:    echo,
		log:     logger,
	}
}

// Dispatch plays every sound the transcript triggers and returns their
// names.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, speaker, transcript string) []string {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil
	}

	d.publish(events.Event{
		Kind:    events.KindTranscript,
		Session: s.Key(),
		Speaker: speaker,
		Text:    transcript,
	})

	if r := s.Reporter(); r != nil && (d.echo || s.Debug()) {
		if err := r.Report(ctx, speaker, transcript); err != nil {
			d.log.Warn("report transcript", "session", s.Key(), "error", err)
		}
	}

	entries, err := d.catalog.List(ctx)
	if err != nil {
		d.log.Error("list sounds", "error", err)
		return nil
	}

	names := match.Triggered(d.matcher, transcript, entries)
	var played []string
	for _, name := range names {
		sink := s.Sink()
		if sink == nil {
			d.log.Debug("session gone, not playing", "session", s.Key(), "sound", name)
			break
		}
		if err := sink.Play(ctx, name); err != nil {
			d.log.Error("play", "session", s.Key(), "sound", name, "error", err)
			continue
		}
		d.log.Info("triggered", "session", s.Key(), "speaker", speaker, "sound", name)
		d.publish(events.Event{
			Kind:    events.KindTrigger,
			Session: s.Key(),
			Speaker: speaker,
			Text:    transcript,
			Sound:   name,
		})
		played = append(played, name)
	}
	return played
}

func (d *Dispatcher) publish(e events.Event) {
	if d.events != nil {
		d.events.Publish(e)
	}
}
