package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testDebounce = 20 * time.Millisecond

func newTestWatcher(t *testing.T) (string, *Watcher) {
	t.Helper()
	dir := t.TempDir()
	w, err := New(dir, ".lua", testDebounce)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return dir, w
}

// waitEvent receives one event or fails the test after a generous
// timeout (debounce plus scheduling slack).
func waitEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}
	return Event{}
}

func expectQuiet(t *testing.T, w *Watcher, d time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %s %s", ev.Kind, filepath.Base(ev.Path))
	case <-time.After(d):
	}
}

func TestCreateEmitsCreated(t *testing.T) {
	dir, w := newTestWatcher(t)

	path := filepath.Join(dir, "new.lua")
	if err := os.WriteFile(path, []byte("--"), 0644); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, w)
	if ev.Kind != Created {
		t.Errorf("Kind = %s, want created", ev.Kind)
	}
	if ev.Path != path {
		t.Errorf("Path = %q, want %q", ev.Path, path)
	}
}

func TestWriteBurstCoalescesToOneModified(t *testing.T) {
	dir, w := newTestWatcher(t)

	path := filepath.Join(dir, "script.lua")
	if err := os.WriteFile(path, []byte("-- v0"), 0644); err != nil {
		t.Fatal(err)
	}
	// Swallow the Created for the initial write.
	if ev := waitEvent(t, w); ev.Kind != Created {
		t.Fatalf("setup event = %s, want created", ev.Kind)
	}

	// Burst of writes well inside one debounce window.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("-- burst"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	ev := waitEvent(t, w)
	if ev.Kind != Modified || ev.Path != path {
		t.Errorf("got %s %q, want modified %q", ev.Kind, ev.Path, path)
	}
	expectQuiet(t, w, 4*testDebounce)
}

func TestRemoveEmitsRemovedImmediately(t *testing.T) {
	dir, w := newTestWatcher(t)

	path := filepath.Join(dir, "gone.lua")
	if err := os.WriteFile(path, []byte("--"), 0644); err != nil {
		t.Fatal(err)
	}
	if ev := waitEvent(t, w); ev.Kind != Created {
		t.Fatalf("setup event = %s, want created", ev.Kind)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, w)
	if ev.Kind != Removed || ev.Path != path {
		t.Errorf("got %s %q, want removed %q", ev.Kind, ev.Path, path)
	}
}

func TestRemoveCancelsPendingModified(t *testing.T) {
	dir, w := newTestWatcher(t)

	path := filepath.Join(dir, "flash.lua")
	if err := os.WriteFile(path, []byte("--"), 0644); err != nil {
		t.Fatal(err)
	}
	if ev := waitEvent(t, w); ev.Kind != Created {
		t.Fatalf("setup event = %s, want created", ev.Kind)
	}

	// Write then remove inside the same window: only Removed survives.
	if err := os.WriteFile(path, []byte("-- edit"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, w)
	if ev.Kind != Removed {
		t.Errorf("first event = %s, want removed", ev.Kind)
	}
	expectQuiet(t, w, 4*testDebounce)
}

func TestNonScriptEventsAreDropped(t *testing.T) {
	dir, w := newTestWatcher(t)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "script.lua.swp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	expectQuiet(t, w, 4*testDebounce)
}

func TestRenameAwayEmitsRemoved(t *testing.T) {
	dir, w := newTestWatcher(t)

	oldPath := filepath.Join(dir, "old.lua")
	if err := os.WriteFile(oldPath, []byte("--"), 0644); err != nil {
		t.Fatal(err)
	}
	if ev := waitEvent(t, w); ev.Kind != Created {
		t.Fatalf("setup event = %s, want created", ev.Kind)
	}

	newPath := filepath.Join(dir, "new.lua")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}

	// Rename inside the watched dir produces Removed(old) and, after the
	// debounce, Created(new). Order of arrival: removed first (immediate).
	first := waitEvent(t, w)
	if first.Kind != Removed || first.Path != oldPath {
		t.Errorf("first = %s %q, want removed %q", first.Kind, first.Path, oldPath)
	}
	second := waitEvent(t, w)
	if second.Kind != Created || second.Path != newPath {
		t.Errorf("second = %s %q, want created %q", second.Kind, second.Path, newPath)
	}
}

func TestCloseClosesEventsChannel(t *testing.T) {
	_, w := newTestWatcher(t)

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	select {
	case _, ok := <-w.Events():
		if ok {
			t.Error("received event after Close, want channel close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{Modified, "modified"},
		{Removed, "removed"},
		{Created, "created"},
		{WatchError, "watch_error"},
		{EventKind(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("EventKind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}
