package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mep-live/mep/internal/catalog"
	"github.com/mep-live/mep/internal/engine"
	"github.com/mep-live/mep/internal/midiport"
	"github.com/mep-live/mep/internal/script"
	"github.com/mep-live/mep/internal/session"
	"github.com/mep-live/mep/internal/status"
	"github.com/mep-live/mep/internal/term"
	"github.com/mep-live/mep/internal/watch"
)

type fakeRuntime struct {
	mu    sync.Mutex
	loads []string
	progs []*fakeProgram
}

func (f *fakeRuntime) Load(name string, source []byte) (session.Program, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, name)
	p := &fakeProgram{}
	f.progs = append(f.progs, p)
	return p, nil
}

func (f *fakeRuntime) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

type fakeProgram struct {
	mu      sync.Mutex
	invoked [][]byte
	closed  bool
}

func (p *fakeProgram) Invoke(m []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invoked = append(p.invoked, append([]byte(nil), m...))
	return nil
}

func (p *fakeProgram) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

type fixture struct {
	d          *Dispatcher
	rt         *fakeRuntime
	sess       *session.Session
	tracker    *status.Tracker
	relay      *midiport.Relay
	input      chan string
	violations chan script.Violation
	watchEvs   chan watch.Event
	portErrs   chan error
	out        *bytes.Buffer
	dir        string
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("ok"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cat, err := catalog.List(dir)
	if err != nil {
		t.Fatal(err)
	}
	sess := session.NewSelecting(dir, cat)
	rt := &fakeRuntime{}
	tracker := status.NewTracker()
	out := &bytes.Buffer{}
	render := term.NewRenderer(out)
	watchEvs := make(chan watch.Event, 8)
	eng := engine.New(sess, rt, watchEvs, render, tracker)
	f := &fixture{
		rt: rt, sess: sess, tracker: tracker, out: out, dir: dir,
		relay:      midiport.NewRelay(8),
		input:      make(chan string, 4),
		violations: make(chan script.Violation, 4),
		watchEvs:   watchEvs,
		portErrs:   make(chan error, 1),
	}
	f.d = New(Options{
		Session:    sess,
		Engine:     eng,
		Relay:      f.relay,
		Renderer:   render,
		Tracker:    tracker,
		Input:      f.input,
		Violations: f.violations,
		Watch:      f.watchEvs,
		PortErrors: f.portErrs,
	})
	return f
}

func (f *fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

// drain steps until every source is quiet, returning the first error.
func (f *fixture) drain(t *testing.T) error {
	t.Helper()
	for {
		worked, err := f.d.step()
		if err != nil {
			return err
		}
		if !worked {
			return nil
		}
	}
}

func (f *fixture) mustDrain(t *testing.T) {
	t.Helper()
	if err := f.drain(t); err != nil {
		t.Fatalf("step: %v", err)
	}
}

func wantExit(t *testing.T, err error, code int) {
	t.Helper()
	var xe *ExitError
	if !errors.As(err, &xe) {
		t.Fatalf("got %v (%T), want *ExitError", err, err)
	}
	if xe.Code != code {
		t.Errorf("exit code = %d, want %d", xe.Code, code)
	}
}

func TestInvalidInputIsAcknowledged(t *testing.T) {
	f := newFixture(t, "a.lua", "b.lua")
	f.input <- "pineapple"
	f.mustDrain(t)

	if f.sess.Program() != nil {
		t.Error("garbage input selected a script")
	}
	if !strings.Contains(f.out.String(), "not a script number") {
		t.Errorf("no acknowledgement in output:\n%s", f.out.String())
	}
}

func TestOutOfRangeSelectionIsRejected(t *testing.T) {
	f := newFixture(t, "a.lua", "b.lua")
	f.input <- "5"
	f.mustDrain(t)

	if f.sess.Program() != nil {
		t.Error("out-of-range input selected a script")
	}
}

func TestSelectionStartsScript(t *testing.T) {
	f := newFixture(t, "a.lua", "b.lua")
	f.input <- "0"
	f.mustDrain(t)

	if f.sess.Program() == nil {
		t.Fatal("no program after selection")
	}
	st := f.tracker.Snapshot()
	if st.Phase != session.Running || st.Script != "a.lua" || st.Index != 0 {
		t.Errorf("tracker = %v %q %d, want running a.lua 0", st.Phase, st.Script, st.Index)
	}
	if !strings.Contains(f.out.String(), "a.lua is live") {
		t.Errorf("no running banner:\n%s", f.out.String())
	}
}

func TestMidiWaitsForSelection(t *testing.T) {
	f := newFixture(t, "a.lua")
	msg := []byte{0x90, 60, 127}
	f.relay.Push(msg)
	f.mustDrain(t)
	if f.rt.loadCount() != 0 {
		t.Fatal("a message was delivered before any selection")
	}

	f.input <- "0"
	f.mustDrain(t)

	got := f.rt.progs[0].invoked
	if len(got) != 1 || string(got[0]) != string(msg) {
		t.Errorf("delivered %v, want the queued message exactly once", got)
	}
	if in := f.tracker.Snapshot().MidiIn; in != 1 {
		t.Errorf("MidiIn = %d, want 1", in)
	}
}

func TestViolationEntersFixProtocol(t *testing.T) {
	f := newFixture(t, "a.lua")
	f.input <- "0"
	f.mustDrain(t)

	// The fix is queued before draining so the recovery wait inside the
	// engine finds it immediately.
	if err := os.WriteFile(f.path("a.lua"), []byte("ok v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	f.violations <- script.Violation{Script: "a.lua", Detail: "midi.send byte 1 is 60.5, want an integer 0-255"}
	f.watchEvs <- watch.Event{Kind: watch.Modified, Path: f.path("a.lua")}
	f.mustDrain(t)

	st := f.tracker.Snapshot()
	if st.Violations != 1 {
		t.Errorf("Violations = %d, want 1", st.Violations)
	}
	if st.Phase != session.Running {
		t.Errorf("Phase = %v, want running after the fix", st.Phase)
	}
	if got := f.rt.loadCount(); got != 2 {
		t.Errorf("loads = %d, want a reload after the fix", got)
	}
	if !strings.Contains(f.out.String(), "byte 1 is 60.5") {
		t.Errorf("violation not rendered:\n%s", f.out.String())
	}
}

func TestSwitchClosesPreviousProgram(t *testing.T) {
	f := newFixture(t, "a.lua", "b.lua")
	f.input <- "0"
	f.mustDrain(t)
	f.input <- "1"
	f.mustDrain(t)

	if len(f.rt.progs) != 2 {
		t.Fatalf("loaded %d programs, want 2", len(f.rt.progs))
	}
	if !f.rt.progs[0].closed {
		t.Error("previous program left open after switch")
	}
	if st := f.tracker.Snapshot(); st.Script != "b.lua" || st.Index != 1 {
		t.Errorf("tracker = %q %d, want b.lua 1", st.Script, st.Index)
	}
}

func TestModifiedActiveReloads(t *testing.T) {
	f := newFixture(t, "a.lua")
	f.input <- "0"
	f.mustDrain(t)

	if err := os.WriteFile(f.path("a.lua"), []byte("ok v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	f.watchEvs <- watch.Event{Kind: watch.Modified, Path: f.path("a.lua")}
	f.mustDrain(t)

	if got := f.rt.loadCount(); got != 2 {
		t.Errorf("loads = %d, want 2 after modify", got)
	}
	if r := f.tracker.Snapshot().Reloads; r != 1 {
		t.Errorf("Reloads = %d, want 1", r)
	}
}

func TestModifiedForeignScriptIsIgnored(t *testing.T) {
	f := newFixture(t, "a.lua", "b.lua")
	f.input <- "0"
	f.mustDrain(t)

	f.watchEvs <- watch.Event{Kind: watch.Modified, Path: f.path("b.lua")}
	f.mustDrain(t)

	if got := f.rt.loadCount(); got != 1 {
		t.Errorf("loads = %d, editing an inactive script must not reload", got)
	}
}

func TestForeignCreateRebuildsCatalog(t *testing.T) {
	f := newFixture(t, "a.lua", "b.lua")
	f.input <- "0"
	f.mustDrain(t)

	if err := os.WriteFile(f.path("c.lua"), []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}
	f.watchEvs <- watch.Event{Kind: watch.Created, Path: f.path("c.lua")}
	f.mustDrain(t)

	if len(f.sess.Catalog) != 3 {
		t.Errorf("catalog has %d entries, want 3", len(f.sess.Catalog))
	}
	if st := f.tracker.Snapshot(); len(st.Catalog) != 3 {
		t.Errorf("tracker catalog has %d entries, want 3", len(st.Catalog))
	}
	if f.sess.ActiveName() != "a.lua" {
		t.Errorf("active = %q, a create must never steal the selection", f.sess.ActiveName())
	}
	if f.rt.loadCount() != 1 {
		t.Errorf("loads = %d, a create must not reload", f.rt.loadCount())
	}
}

func TestActiveRemovedFallsBackToSelection(t *testing.T) {
	f := newFixture(t, "a.lua", "b.lua")
	f.input <- "0"
	f.mustDrain(t)

	if err := os.Remove(f.path("a.lua")); err != nil {
		t.Fatal(err)
	}
	f.watchEvs <- watch.Event{Kind: watch.Removed, Path: f.path("a.lua")}
	f.mustDrain(t)

	if f.sess.Program() != nil {
		t.Error("program survived removal of its script")
	}
	st := f.tracker.Snapshot()
	if st.Phase != session.Selecting {
		t.Errorf("Phase = %v, want selecting", st.Phase)
	}
	if len(f.sess.Catalog) != 1 || f.sess.Catalog[0].Name != "b.lua" {
		t.Errorf("catalog = %v, want just b.lua", f.sess.Catalog.Names())
	}
}

func TestLastScriptRemovedIsFatal(t *testing.T) {
	f := newFixture(t, "a.lua")
	f.input <- "0"
	f.mustDrain(t)

	if err := os.Remove(f.path("a.lua")); err != nil {
		t.Fatal(err)
	}
	f.watchEvs <- watch.Event{Kind: watch.Removed, Path: f.path("a.lua")}
	wantExit(t, f.drain(t), CodeNoScripts)
}

func TestRenamedActiveScriptIsFollowed(t *testing.T) {
	f := newFixture(t, "a.lua", "b.lua")
	f.input <- "0"
	f.mustDrain(t)

	if err := os.Rename(f.path("a.lua"), f.path("c.lua")); err != nil {
		t.Fatal(err)
	}
	f.watchEvs <- watch.Event{Kind: watch.Removed, Path: f.path("a.lua")}
	f.mustDrain(t)

	if got := f.sess.ActiveName(); got != "c.lua" {
		t.Errorf("active = %q, want c.lua", got)
	}
	if f.sess.Program() == nil {
		t.Error("no program after following the rename")
	}
	if st := f.tracker.Snapshot(); st.Script != "c.lua" {
		t.Errorf("tracker script = %q, want c.lua", st.Script)
	}
}

func TestWatchErrorIsFatal(t *testing.T) {
	f := newFixture(t, "a.lua")
	f.watchEvs <- watch.Event{Kind: watch.WatchError, Err: errors.New("inotify dead")}
	wantExit(t, f.drain(t), CodeFatal)
}

func TestClosedStdinIsFatal(t *testing.T) {
	f := newFixture(t, "a.lua")
	close(f.input)
	wantExit(t, f.drain(t), CodeFatal)
}

func TestPortErrorIsFatal(t *testing.T) {
	f := newFixture(t, "a.lua")
	f.portErrs <- errors.New("alsa sequencer gone")
	err := f.drain(t)
	wantExit(t, err, CodeFatal)
	if !strings.Contains(err.Error(), "alsa sequencer gone") {
		t.Errorf("error = %v, want the driver failure in it", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, "a.lua")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestReadLinesDeliversAndCloses(t *testing.T) {
	ch := ReadLines(strings.NewReader("0\n1\n"))
	if got := <-ch; got != "0" {
		t.Errorf("first line = %q, want 0", got)
	}
	if got := <-ch; got != "1" {
		t.Errorf("second line = %q, want 1", got)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("channel still open after EOF")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after EOF")
	}
}
