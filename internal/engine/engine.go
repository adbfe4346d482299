// Package engine drives scripts through their lifecycle: load, hot
// reload, listener dispatch, and the blocking fix protocol that keeps
// mep alive while a script is broken.
package engine

import (
	"errors"
	"fmt"

	"github.com/mep-live/mep/internal/script"
	"github.com/mep-live/mep/internal/session"
	"github.com/mep-live/mep/internal/status"
	"github.com/mep-live/mep/internal/term"
	"github.com/mep-live/mep/internal/watch"
)

// Sentinel results of the fix protocol. Removal of the broken script is
// not fatal by itself; the dispatcher decides whether other scripts
// remain to fall back to. A dead watcher always is.
var (
	ErrActiveScriptRemoved = errors.New("active script removed while broken")
	ErrWatcherClosed       = errors.New("script watcher closed")
)

// deferredCap bounds how many foreign watch events the fix protocol
// will hold for the dispatcher. Each one just triggers a catalog
// rebuild, so dropping the oldest loses nothing once a newer one is
// processed.
const deferredCap = 32

// Runtime loads a named source into a runnable program.
type Runtime interface {
	Load(name string, source []byte) (session.Program, error)
}

// Engine owns the active program and every path that replaces it. All
// methods run on the dispatcher goroutine; the engine blocks that
// goroutine deliberately while a script is broken, which is what makes
// the fix protocol visible instead of silent.
type Engine struct {
	sess    *session.Session
	rt      Runtime
	watch   <-chan watch.Event
	render  *term.Renderer
	tracker *status.Tracker

	deferred       []watch.Event
	lastStructural string
}

// New wires an engine over an already-selected session.
func New(sess *session.Session, rt Runtime, events <-chan watch.Event, render *term.Renderer, tracker *status.Tracker) *Engine {
	return &Engine{sess: sess, rt: rt, watch: events, render: render, tracker: tracker}
}

// Start makes the session's active selection live, riding the fix
// protocol if the script does not load on the first try.
func (e *Engine) Start() error {
	if _, err := e.loadOrFix(); err != nil {
		return err
	}
	e.tracker.ScriptStarted(e.sess.ActiveName(), e.sess.ActiveIndex)
	return nil
}

// Reload rereads the active script from disk and swaps it in. A clean
// swap reports a reload; one that had to go through the fix protocol
// reports a recovery instead.
func (e *Engine) Reload() error {
	name := e.sess.ActiveName()
	recovered := false
	if err := e.sess.Reread(); err != nil {
		recovered = true
		e.tracker.ScriptBroken(name, err.Error())
		e.render.ShowError(name, err)
		if ferr := e.fixAndReload(); ferr != nil {
			return ferr
		}
	} else {
		rec, err := e.loadOrFix()
		if err != nil {
			return err
		}
		recovered = rec
	}
	if recovered {
		e.tracker.ScriptRecovered(e.sess.ActiveName())
	} else {
		e.tracker.ScriptReloaded(name)
	}
	return nil
}

// InvokeListener hands one MIDI message to the active program. A
// runtime failure enters the fix protocol and replays the message
// exactly once per successful fix; a repeat failure on replay re-enters
// the protocol with the same message. A structural failure (no usable
// listener) is reported once and the message dropped, since no amount
// of retrying will conjure a listener.
func (e *Engine) InvokeListener(message []byte) error {
	for {
		p := e.sess.Program()
		if p == nil {
			return nil
		}
		err := p.Invoke(message)
		if err == nil {
			e.lastStructural = ""
			return nil
		}
		var le *script.ListenerError
		if errors.As(err, &le) {
			if e.lastStructural != le.Error() {
				e.lastStructural = le.Error()
				e.tracker.ScriptBroken(e.sess.ActiveName(), le.Detail)
				e.render.ShowError(e.sess.ActiveName(), err)
			}
			return nil
		}
		name := e.sess.ActiveName()
		e.tracker.ScriptBroken(name, err.Error())
		e.render.ShowError(name, err)
		if ferr := e.fixAndReload(); ferr != nil {
			return ferr
		}
		e.tracker.ScriptRecovered(e.sess.ActiveName())
	}
}

// RecoverViolation enters the fix protocol for a rejected midi.send
// payload. The offending bytes are already gone, so unlike a listener
// failure there is nothing to replay after the fix.
func (e *Engine) RecoverViolation(v script.Violation) error {
	e.render.ShowViolation(v)
	e.tracker.ViolationReported(v)
	if err := e.fixAndReload(); err != nil {
		return err
	}
	e.tracker.ScriptRecovered(e.sess.ActiveName())
	return nil
}

// TakeDeferred returns the events the fix protocol absorbed for other
// scripts, oldest first, and clears the buffer. The dispatcher drains
// this after any engine call that may have blocked.
func (e *Engine) TakeDeferred() []watch.Event {
	evs := e.deferred
	e.deferred = nil
	return evs
}

// loadOrFix loads the active source, entering the fix protocol on
// failure. recovered reports whether the protocol ran.
func (e *Engine) loadOrFix() (recovered bool, err error) {
	name := e.sess.ActiveName()
	p, err := e.rt.Load(name, e.sess.ActiveSource)
	if err == nil {
		e.swap(p)
		return false, nil
	}
	e.tracker.ScriptBroken(name, err.Error())
	e.render.ShowError(name, err)
	if err := e.fixAndReload(); err != nil {
		return true, err
	}
	return true, nil
}

// fixAndReload waits for the user to change the broken script, then
// reloads it, repeating until a load succeeds.
func (e *Engine) fixAndReload() error {
	for {
		if err := e.awaitFix(); err != nil {
			return err
		}
		name := e.sess.ActiveName()
		p, err := e.rt.Load(name, e.sess.ActiveSource)
		if err != nil {
			e.tracker.ScriptBroken(name, err.Error())
			e.render.ShowError(name, err)
			continue
		}
		e.swap(p)
		return nil
	}
}

// awaitFix blocks on the watcher until the active script changes on
// disk and its new source is read. Events for other paths are deferred
// for the dispatcher; watcher failure and removal of the active script
// end the protocol.
func (e *Engine) awaitFix() error {
	for {
		ev, ok := <-e.watch
		if !ok {
			return ErrWatcherClosed
		}
		switch {
		case ev.Kind == watch.WatchError:
			return fmt.Errorf("script watcher failed: %w", ev.Err)
		case ev.Path != e.sess.ActivePath:
			e.deferEvent(ev)
		case ev.Kind == watch.Removed:
			return ErrActiveScriptRemoved
		default: // Modified, or Created by an editor that saves via rename
			if err := e.sess.Reread(); err != nil {
				name := e.sess.ActiveName()
				e.tracker.ScriptBroken(name, err.Error())
				e.render.ShowError(name, err)
				continue
			}
			return nil
		}
	}
}

func (e *Engine) deferEvent(ev watch.Event) {
	if len(e.deferred) == deferredCap {
		copy(e.deferred, e.deferred[1:])
		e.deferred = e.deferred[:deferredCap-1]
	}
	e.deferred = append(e.deferred, ev)
}

// swap installs a freshly loaded program and repaints the running view.
// Every successful load lands here, so the screen always reflects what
// is live.
func (e *Engine) swap(p session.Program) {
	e.sess.SwapProgram(p)
	e.lastStructural = ""
	e.render.Clear()
	e.render.RunningBanner(e.sess.ActiveName())
	e.render.RenderCatalog(e.sess.Catalog, e.sess.ActiveIndex)
}
