package voice

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"node.town/honk/audio"
	"node.town/honk/stt"
)

// Turn is everything one speaker said between speaking start and end.
type Turn struct {
	Session  string
	Speaker  string
	Seq      uint64
	Started  time.Time
	PCM      []byte
	Duration time.Duration
}

type openTurn struct {
	started time.Time
	chunks  [][]byte
	size    int
}

// Assembler buffers frames per speaker until the turn ends. emit is called
// with the assembler locked and must not block.
type Assembler struct {
	session string
	format  audio.Format
	bounds  stt.Bounds
	emit    func(Turn)
	log     *log.Logger
	now     func() time.Time

	mu   sync.Mutex
	open map[string]*openTurn
	seq  map[string]uint64
}

func NewAssembler(
	session string,
	format audio.Format,
	bounds stt.Bounds,
	emit func(Turn),
	logger *log.Logger,
) *Assembler {
	return &Assembler{
		session: session,
		format:  format,
		bounds:  bounds,
		emit:    emit,
		log:     logger,
		now:     time.Now,
		open:    make(map[string]*openTurn),
		seq:     make(map[string]uint64),
	}
}

func (a *Assembler) OnFrame(speaker string, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.open[speaker]
	if !ok {
		t = &openTurn{started: a.now()}
		a.open[speaker] = t
	}
	t.chunks = append(t.chunks, buf)
	t.size += len(buf)
}

// OnTurnStart flushes a turn the transport never ended.
func (a *Assembler) OnTurnStart(speaker string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.open[speaker]; ok {
		a.log.Debug("flushing unfinished turn", "session", a.session, "speaker", speaker)
		a.finish(speaker)
	}
}

func (a *Assembler) OnTurnEnd(speaker string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finish(speaker)
}

// finish must be called with a.mu held.
func (a *Assembler) finish(speaker string) {
	t, ok := a.open[speaker]
	if !ok {
		return
	}
	delete(a.open, speaker)

	duration := a.format.Duration(t.size)
	if !a.bounds.Allows(duration) {
		a.log.Debug(
			"discarding turn",
			"session", a.session,
			"speaker", speaker,
			"duration", duration,
		)
		return
	}

	pcm := make([]byte, 0, t.size)
	for _, c := range t.chunks {
		pcm = append(pcm, c...)
	}

	a.seq[speaker]++
	a.emit(Turn{
		Session:  a.session,
		Speaker:  speaker,
		Seq:      a.seq[speaker],
		Started:  t.started,
		PCM:      pcm,
		Duration: duration,
	})
}

// Drop forgets every open turn.
func (a *Assembler) Drop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.open)
}

func (a *Assembler) Speakers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}
