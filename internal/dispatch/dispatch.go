// Package dispatch runs mep's event loop: a single goroutine owns the
// session and serves every input source at a fixed priority, so MIDI,
// script errors, user input, and file events can never race each other.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
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

// DefaultPollInterval paces the loop when every source is quiet.
const DefaultPollInterval = time.Millisecond

// Options wires a dispatcher. All fields are required except Poll.
type Options struct {
	Session    *session.Session
	Engine     *engine.Engine
	Relay      *midiport.Relay
	Renderer   *term.Renderer
	Tracker    *status.Tracker
	Input      <-chan string
	Violations <-chan script.Violation
	Watch      <-chan watch.Event
	PortErrors <-chan error
	Poll       time.Duration
}

// Dispatcher is the loop's state. Apart from construction and Run it
// has no concurrent entry points.
type Dispatcher struct {
	sess       *session.Session
	eng        *engine.Engine
	relay      *midiport.Relay
	render     *term.Renderer
	tracker    *status.Tracker
	input      <-chan string
	violations <-chan script.Violation
	watchEvs   <-chan watch.Event
	portErrs   <-chan error
	poll       time.Duration
}

// New builds the dispatcher.
func New(o Options) *Dispatcher {
	if o.Poll <= 0 {
		o.Poll = DefaultPollInterval
	}
	return &Dispatcher{
		sess:       o.Session,
		eng:        o.Engine,
		relay:      o.Relay,
		render:     o.Renderer,
		tracker:    o.Tracker,
		input:      o.Input,
		violations: o.Violations,
		watchEvs:   o.Watch,
		portErrs:   o.PortErrors,
		poll:       o.Poll,
	}
}

// Run serves the loop until ctx is done or a fatal condition surfaces.
// A clean shutdown returns nil; everything else is an *ExitError
// carrying the process exit code.
func (d *Dispatcher) Run(ctx context.Context) error {
	// The first paint goes below the startup banner instead of wiping
	// it; later repaints own the whole screen.
	d.render.RenderCatalog(d.sess.Catalog, -1)
	d.render.Prompt()
	log.Printf("dispatcher started with %d scripts in %s", len(d.sess.Catalog), d.sess.Root)

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("dispatcher stopped")
			return nil
		case <-ticker.C:
			for {
				worked, err := d.step()
				if err != nil {
					return err
				}
				if !worked {
					break
				}
			}
		}
	}
}

// step handles the single highest-priority item that is ready and
// reports whether it found any. The order is fixed: port failures,
// inbound MIDI, send violations, user input, file events.
func (d *Dispatcher) step() (bool, error) {
	select {
	case err, ok := <-d.portErrs:
		if !ok {
			return true, &ExitError{Code: CodeFatal, Err: errors.New("midi port error channel closed")}
		}
		return true, &ExitError{Code: CodeFatal, Err: fmt.Errorf("midi port failed: %w", err)}
	default:
	}

	// Inbound MIDI waits in the relay until a program is live, so
	// messages played during selection reach the first script instead
	// of vanishing.
	if d.sess.Program() != nil {
		if msg, ok := d.relay.Poll(); ok {
			d.tracker.CountMidiIn()
			if err := d.eng.InvokeListener(msg); err != nil {
				return true, d.engineErr(err)
			}
			return true, d.drainDeferred()
		}
	}

	select {
	case v, ok := <-d.violations:
		if !ok {
			return true, &ExitError{Code: CodeFatal, Err: errors.New("violation channel closed")}
		}
		if d.sess.Program() == nil {
			// A queued violation can outlive its script when the active
			// file is removed mid-run; show it, nothing to recover.
			d.render.ShowViolation(v)
			return true, nil
		}
		if err := d.eng.RecoverViolation(v); err != nil {
			return true, d.engineErr(err)
		}
		return true, d.drainDeferred()
	default:
	}

	select {
	case line, ok := <-d.input:
		if !ok {
			return true, &ExitError{Code: CodeFatal, Err: errors.New("stdin closed")}
		}
		return true, d.handleInput(line)
	default:
	}

	select {
	case ev, ok := <-d.watchEvs:
		if !ok {
			return true, &ExitError{Code: CodeFatal, Err: engine.ErrWatcherClosed}
		}
		return true, d.handleWatch(ev)
	default:
	}

	d.tracker.SetDropped(d.relay.Dropped())
	return false, nil
}

// handleInput turns a line of stdin into a selection or switch. Bad
// input is acknowledged and ignored; it must never kill a live run.
func (d *Dispatcher) handleInput(line string) error {
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || idx < 0 || idx >= len(d.sess.Catalog) {
		d.render.AcknowledgeInvalidInput(line)
		return nil
	}
	if err := d.sess.Select(idx); err != nil {
		// The session is unchanged on a failed read; report and stay.
		d.render.ShowError(d.sess.Catalog[idx].Name, err)
		return nil
	}
	if err := d.eng.Start(); err != nil {
		return d.engineErr(err)
	}
	return d.drainDeferred()
}

// handleWatch applies one debounced file event.
func (d *Dispatcher) handleWatch(ev watch.Event) error {
	switch ev.Kind {
	case watch.WatchError:
		return &ExitError{Code: CodeFatal, Err: fmt.Errorf("script watcher failed: %w", ev.Err)}
	case watch.Modified:
		if ev.Path != d.sess.ActivePath {
			return nil
		}
		if err := d.eng.Reload(); err != nil {
			return d.engineErr(err)
		}
		return d.drainDeferred()
	case watch.Created:
		// Editors that save via rename report a create for the file
		// they just replaced, so a create of the active path is a
		// reload, not a catalog change.
		if ev.Path == d.sess.ActivePath {
			if err := d.eng.Reload(); err != nil {
				return d.engineErr(err)
			}
			return d.drainDeferred()
		}
		return d.rebuildCatalog()
	case watch.Removed:
		if ev.Path == d.sess.ActivePath {
			return d.activeRemoved()
		}
		return d.rebuildCatalog()
	}
	return nil
}

// rebuildCatalog re-lists the folder after a foreign create or remove
// and repaints whatever view is current.
func (d *Dispatcher) rebuildCatalog() error {
	cat, err := catalog.List(d.sess.Root)
	if err != nil {
		return NoScripts(d.sess.Root, err)
	}
	if len(cat) == 0 && d.sess.Program() == nil {
		return NoScripts(d.sess.Root, nil)
	}
	d.sess.SetCatalog(cat)
	d.tracker.SetCatalog(cat)
	if d.sess.Program() != nil {
		d.renderRunning()
	} else {
		d.renderSelection()
	}
	return nil
}

// activeRemoved handles the disappearance of the selected script. A
// rename shows up as a removal with the same content under a new name,
// so before falling back to selection the rebuilt catalog is checked
// for exactly one path the previous catalog did not know.
func (d *Dispatcher) activeRemoved() error {
	prev := d.sess.Catalog.PathSet()
	cat, err := catalog.List(d.sess.Root)
	if err != nil {
		return NoScripts(d.sess.Root, err)
	}
	var unknown []string
	for _, s := range cat {
		if !prev[s.Path] {
			unknown = append(unknown, s.Path)
		}
	}
	d.sess.SetCatalog(cat)
	d.tracker.SetCatalog(cat)
	if len(unknown) == 1 {
		if err := d.sess.SelectPath(unknown[0]); err == nil {
			log.Printf("active script moved, following it to %s", d.sess.ActiveName())
			if err := d.eng.Start(); err != nil {
				return d.engineErr(err)
			}
			return d.drainDeferred()
		}
	}
	if len(cat) == 0 {
		return NoScripts(d.sess.Root, nil)
	}
	d.sess.Deselect()
	d.tracker.SelectionOpen()
	d.renderSelection()
	return nil
}

// engineErr maps an engine failure onto the dispatcher's protocol.
// Removal of the script under repair falls back to the catalog;
// anything else is fatal.
func (d *Dispatcher) engineErr(err error) error {
	if errors.Is(err, engine.ErrActiveScriptRemoved) {
		return d.activeRemoved()
	}
	return &ExitError{Code: CodeFatal, Err: err}
}

// drainDeferred replays the file events the engine absorbed while it
// owned the watch channel. Called after every engine call that may have
// blocked.
func (d *Dispatcher) drainDeferred() error {
	for _, ev := range d.eng.TakeDeferred() {
		if err := d.handleWatch(ev); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) renderSelection() {
	d.render.Clear()
	d.render.RenderCatalog(d.sess.Catalog, -1)
	d.render.Prompt()
}

func (d *Dispatcher) renderRunning() {
	d.render.Clear()
	d.render.RunningBanner(d.sess.ActiveName())
	d.render.RenderCatalog(d.sess.Catalog, d.sess.ActiveIndex)
}
