package voice

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/afero"

	"node.town/honk/catalog"
	"node.town/honk/events"
	"node.town/honk/match"
)

var testEntries = []catalog.SoundEntry{
	{Name: "bruh", Pseudonyms: []string{"bruh", "moment"}},
	{Name: "sad", Pseudonyms: []string{"sad", "sad violin"}},
	{Name: "quiet", Pseudonyms: []string{"nothing here"}},
}

type pipelineFixture struct {
	registry *Registry
	conn     *fakeConnector
	rec      *fakeRecognizer
	reporter *fakeReporter
	hub      *events.Hub
	pipeline *Pipeline
	session  *Session
}

func newPipelineFixture(t *testing.T, rec *fakeRecognizer, lister Lister, opts PipelineOptions) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		conn:     &fakeConnector{},
		rec:      rec,
		reporter: &fakeReporter{},
		hub:      events.NewHub(),
	}
	dispatcher := NewDispatcher(lister, match.Substring{}, f.hub, true, quiet)
	f.pipeline = NewPipeline(rec, dispatcher, opts, quiet)
	f.registry = NewRegistry(f.conn, newFakeProcessor(), f.hub, RegistryOptions{}, quiet)
	t.Cleanup(f.registry.Close)

	s, err := f.registry.Join(context.Background(), "guild", JoinOptions{Reporter: f.reporter})
	if err != nil {
		t.Fatal(err)
	}
	f.session = s
	return f
}

func (f *pipelineFixture) turn() Turn {
	return Turn{Session: "guild", Speaker: "alice", Seq: 1, PCM: frame(1), Duration: 20 * time.Millisecond}
}

func TestPipelineTriggersEachSoundOnce(t *testing.T) {
	f := newPipelineFixture(t, &fakeRecognizer{text: "what a bruh moment, so sad"}, fakeLister{entries: testEntries}, PipelineOptions{})
	sub, cancel := f.hub.Subscribe(8)
	defer cancel()

	f.pipeline.Process(f.session.Context(), f.session, f.turn())

	if got, want := f.conn.sink("guild").plays(), []string{"bruh", "sad"}; !reflect.DeepEqual(got, want) {
		t.Errorf("played %v, want %v", got, want)
	}
	if got := f.reporter.reported(); len(got) != 1 || got[0] != "alice: what a bruh moment, so sad" {
		t.Errorf("reported %v", got)
	}

	var kinds []string
	for len(kinds) < 3 {
		select {
		case e := <-sub:
			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatalf("only got events %v", kinds)
		}
	}
	want := []string{events.KindTranscript, events.KindTrigger, events.KindTrigger}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("events %v, want %v", kinds, want)
	}
}

func TestPipelineEmptyTranscript(t *testing.T) {
	for _, text := range []string{"", "   "} {
		f := newPipelineFixture(t, &fakeRecognizer{text: text}, fakeLister{entries: testEntries}, PipelineOptions{})
		f.pipeline.Process(f.session.Context(), f.session, f.turn())
		if got := f.conn.sink("guild").plays(); len(got) != 0 {
			t.Errorf("%q played %v", text, got)
		}
		if got := f.reporter.reported(); len(got) != 0 {
			t.Errorf("%q reported %v", text, got)
		}
	}
}

func TestPipelineRecognitionError(t *testing.T) {
	f := newPipelineFixture(t, &fakeRecognizer{text: "bruh", err: errBoom}, fakeLister{entries: testEntries}, PipelineOptions{})
	f.pipeline.Process(f.session.Context(), f.session, f.turn())
	if got := f.conn.sink("guild").plays(); len(got) != 0 {
		t.Errorf("failed recognition played %v", got)
	}
}

func TestPipelineDiscardsResultAfterLeave(t *testing.T) {
	rec := &fakeRecognizer{text: "bruh", gate: make(chan struct{})}
	f := newPipelineFixture(t, rec, fakeLister{entries: testEntries}, PipelineOptions{})
	sink := f.conn.sink("guild")

	done := make(chan struct{})
	go func() {
		f.pipeline.Process(f.session.Context(), f.session, f.turn())
		close(done)
	}()

	if !waitFor(func() bool { return rec.waiting.Load() == 1 }) {
		t.Fatal("recognizer never called")
	}
	if err := f.registry.Leave("guild"); err != nil {
		t.Fatal(err)
	}
	close(rec.gate)
	<-done

	rec.mu.Lock()
	calls := rec.calls
	rec.mu.Unlock()
	if calls != 1 {
		t.Errorf("in-flight recognition was aborted by leave")
	}
	if got := sink.plays(); len(got) != 0 {
		t.Errorf("played %v after leave", got)
	}
	if got := f.reporter.reported(); len(got) != 0 {
		t.Errorf("reported %v after leave", got)
	}
}

func TestPipelineDebugDump(t *testing.T) {
	fs := afero.NewMemMapFs()
	f := newPipelineFixture(t, &fakeRecognizer{text: "hello"}, fakeLister{entries: testEntries}, PipelineOptions{DebugFs: fs, DebugDir: "debug"})

	f.pipeline.Process(f.session.Context(), f.session, f.turn())
	if files, _ := afero.ReadDir(fs, "debug"); len(files) != 0 {
		t.Fatalf("dumped %d files with debug off", len(files))
	}

	f.session.ToggleDebug()
	f.pipeline.Process(f.session.Context(), f.session, f.turn())
	files, err := afero.ReadDir(fs, "debug")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("dumped %d files, want 1", len(files))
	}
	if files[0].Size() <= 44 {
		t.Errorf("dump holds no audio")
	}
}

type panicLister struct{}

func (panicLister) List(ctx context.Context) ([]catalog.SoundEntry, error) {
	panic("catalog exploded")
}

func TestPipelineRecoversPanics(t *testing.T) {
	f := newPipelineFixture(t, &fakeRecognizer{text: "bruh"}, panicLister{}, PipelineOptions{})
	f.pipeline.Process(f.session.Context(), f.session, f.turn())
	if got := f.conn.sink("guild").plays(); len(got) != 0 {
		t.Errorf("played %v", got)
	}
}

func TestDispatcherEchoOnlyInDebug(t *testing.T) {
	f := newPipelineFixture(t, &fakeRecognizer{}, fakeLister{entries: testEntries}, PipelineOptions{})
	d := NewDispatcher(fakeLister{entries: testEntries}, nil, nil, false, quiet)

	d.Dispatch(context.Background(), f.session, "alice", "sad")
	if got := f.reporter.reported(); len(got) != 0 {
		t.Errorf("reported %v with echo off", got)
	}

	f.session.ToggleDebug()
	played := d.Dispatch(context.Background(), f.session, "alice", "sad")
	if got := f.reporter.reported(); len(got) != 1 {
		t.Errorf("reported %v in debug", got)
	}
	if !reflect.DeepEqual(played, []string{"sad"}) {
		t.Errorf("played %v", played)
	}
}

func TestDispatcherSinkErrors(t *testing.T) {
	f := newPipelineFixture(t, &fakeRecognizer{}, fakeLister{entries: testEntries}, PipelineOptions{})
	sink := f.conn.sink("guild")
	sink.mu.Lock()
	sink.err = errBoom
	sink.mu.Unlock()

	d := NewDispatcher(fakeLister{entries: testEntries}, nil, nil, false, quiet)
	if played := d.Dispatch(context.Background(), f.session, "alice", "bruh sad"); len(played) != 0 {
		t.Errorf("played %v through a failing sink", played)
	}
}
