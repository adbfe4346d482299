package watch

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a filesystem notification into the small domain
// event set the dispatcher understands.
type EventKind int

const (
	Modified   EventKind = iota // an existing script's content changed
	Removed                     // a script disappeared (delete or rename away)
	Created                     // a new script appeared
	WatchError                  // the watcher itself failed; terminal
)

var kindNames = map[EventKind]string{
	Modified:   "modified",
	Removed:    "removed",
	Created:    "created",
	WatchError: "watch_error",
}

func (k EventKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is one classified notification. Err is set for WatchError only.
type Event struct {
	Kind EventKind
	Path string
	Err  error
}

// dropLogInterval throttles the "events dropped" log line so a full
// channel does not also flood the log.
const dropLogInterval = 10 * time.Second

// Watcher reads raw fsnotify events for a single directory and emits
// classified Events. Notifications for paths without the script
// extension are dropped here. Write bursts to the same path within the
// debounce window coalesce into a single event, since editors emit
// several notifications per save.
//
// Delivery is a non-blocking send with drop counting, except for
// WatchError, which is delivered blocking because losing it would turn
// a fatal condition into a silent hang.
type Watcher struct {
	root     string
	ext      string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	events   chan Event

	mu          sync.Mutex // protects closed, pending, timers and sends on events
	closed      bool
	pending     map[string]EventKind
	timers      map[string]*time.Timer
	dropped     int64
	lastDropLog time.Time
}

// New starts watching root (non-recursive) for entries with the given
// extension. The returned watcher emits on Events until Close.
func New(root, ext string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	w := &Watcher{
		root:     root,
		ext:      ext,
		debounce: debounce,
		fsw:      fsw,
		events:   make(chan Event, 64),
		pending:  make(map[string]EventKind),
		timers:   make(map[string]*time.Timer),
	}
	go w.run()
	return w, nil
}

// Events returns the classified event channel. It is closed when the
// watcher shuts down; consumers treat an unexpected close as fatal.
func (w *Watcher) Events() <-chan Event { return w.events }

// Close stops the underlying watcher. Pending debounce timers are
// discarded.
func (w *Watcher) Close() error { return w.fsw.Close() }

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.shutdown()
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.shutdown()
				return
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Ext(ev.Name) != w.ext {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// A pending Modified/Created for a now-gone path is moot.
		w.cancelPending(ev.Name)
		w.emit(Event{Kind: Removed, Path: ev.Name})
	case ev.Has(fsnotify.Create):
		w.schedule(ev.Name, Created)
	case ev.Has(fsnotify.Write):
		w.schedule(ev.Name, Modified)
	}
	// Chmod-only events are noise on several platforms; content did not
	// change, so nothing is emitted.
}

// schedule registers kind for path and (re)arms its debounce timer. The
// first kind within a window wins: a Create followed by the writes that
// fill the file stays a single Created.
func (w *Watcher) schedule(path string, kind EventKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if _, exists := w.pending[path]; !exists {
		w.pending[path] = kind
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() { w.flush(path) })
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	kind, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	w.mu.Unlock()

	if !ok {
		return
	}
	w.emit(Event{Kind: kind, Path: path})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	delete(w.pending, path)
}

// emit delivers ev without blocking. Overflow drops the event and
// counts it, logging at most once per dropLogInterval.
func (w *Watcher) emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
		w.dropped++
		now := time.Now()
		if w.lastDropLog.IsZero() || now.Sub(w.lastDropLog) >= dropLogInterval {
			log.Printf("Watch events dropped: %d (channel full)", w.dropped)
			w.dropped = 0
			w.lastDropLog = now
		}
	}
}

// emitError delivers a WatchError, blocking until the consumer takes
// it. Only called from the run goroutine, so shutdown cannot race the
// send.
func (w *Watcher) emitError(err error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	w.events <- Event{Kind: WatchError, Err: err}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	close(w.events)
	w.mu.Unlock()
}
