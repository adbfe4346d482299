package status

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mep-live/mep/internal/catalog"
	"github.com/mep-live/mep/internal/script"
	"github.com/mep-live/mep/internal/session"
)

// Tracker holds the mutable run state behind a lock. The dispatcher and
// engine write, the websocket layer and sampler read; snapshots are
// copies, so readers never see a half-applied update.
type Tracker struct {
	mu    sync.RWMutex
	state State

	onChange func()      // state moved; downstream throttles rebroadcast
	onEvent  func(Event) // a moment to surface immediately
}

// NewTracker returns a tracker for a fresh run with its own run ID.
func NewTracker() *Tracker {
	return &Tracker{state: State{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		PID:       os.Getpid(),
		Phase:     session.Selecting,
		Index:     -1,
	}}
}

// OnChange registers the hook called after any state mutation.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// OnEvent registers the hook called for feed-worthy moments.
func (t *Tracker) OnEvent(fn func(Event)) {
	t.mu.Lock()
	t.onEvent = fn
	t.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.state
	st.Catalog = append([]catalog.ScriptDescriptor(nil), t.state.Catalog...)
	return st
}

// notify runs the hooks outside the lock; a hook may call Snapshot.
func (t *Tracker) notify(ev *Event) {
	t.mu.RLock()
	change, event := t.onChange, t.onEvent
	t.mu.RUnlock()
	if ev != nil && event != nil {
		event(*ev)
	}
	if change != nil {
		change()
	}
}

// SetPorts records the virtual port names.
func (t *Tracker) SetPorts(in, out string) {
	t.mu.Lock()
	t.state.PortIn = in
	t.state.PortOut = out
	t.mu.Unlock()
	t.notify(nil)
}

// SetCatalog records the current script list.
func (t *Tracker) SetCatalog(cat catalog.Catalog) {
	t.mu.Lock()
	t.state.Catalog = append([]catalog.ScriptDescriptor(nil), cat...)
	t.mu.Unlock()
	t.notify(nil)
}

// SelectionOpen returns the tracker to the selecting phase after the
// active script went away.
func (t *Tracker) SelectionOpen() {
	t.mu.Lock()
	t.state.Phase = session.Selecting
	t.state.Script = ""
	t.state.Index = -1
	t.mu.Unlock()
	t.notify(nil)
}

// ScriptStarted marks a script as live after a selection or switch.
func (t *Tracker) ScriptStarted(name string, index int) {
	t.mu.Lock()
	t.state.Phase = session.Running
	t.state.Script = name
	t.state.Index = index
	t.state.LastError = ""
	t.mu.Unlock()
	t.notify(&Event{Time: time.Now(), Kind: EventSwitch, Script: name})
}

// ScriptReloaded marks a clean in-place reload of the active script.
func (t *Tracker) ScriptReloaded(name string) {
	t.mu.Lock()
	t.state.Phase = session.Running
	t.state.LastError = ""
	t.state.Reloads++
	t.mu.Unlock()
	t.notify(&Event{Time: time.Now(), Kind: EventReload, Script: name})
}

// ScriptBroken marks the active script as failed; the engine is now in
// its fix protocol.
func (t *Tracker) ScriptBroken(name, detail string) {
	t.mu.Lock()
	t.state.Phase = session.Broken
	t.state.LastError = detail
	t.mu.Unlock()
	t.notify(&Event{Time: time.Now(), Kind: EventScriptError, Script: name, Detail: detail})
}

// ScriptRecovered marks a successful reload that ended a fix protocol.
func (t *Tracker) ScriptRecovered(name string) {
	t.mu.Lock()
	t.state.Phase = session.Running
	t.state.LastError = ""
	t.state.Reloads++
	t.mu.Unlock()
	t.notify(&Event{Time: time.Now(), Kind: EventRecovered, Script: name})
}

// ViolationReported counts a rejected midi.send payload and marks the
// script broken; the engine is about to hold it in the fix protocol.
func (t *Tracker) ViolationReported(v script.Violation) {
	t.mu.Lock()
	t.state.Phase = session.Broken
	t.state.LastError = v.String()
	t.state.Violations++
	t.mu.Unlock()
	t.notify(&Event{Time: time.Now(), Kind: EventViolation, Script: v.Script, Detail: v.Detail})
}

// CountMidiIn counts one inbound message handed to the script.
func (t *Tracker) CountMidiIn() {
	t.mu.Lock()
	t.state.MidiIn++
	t.mu.Unlock()
	t.notify(nil)
}

// CountMidiOut counts one outbound message sent to the port.
func (t *Tracker) CountMidiOut() {
	t.mu.Lock()
	t.state.MidiOut++
	t.mu.Unlock()
	t.notify(nil)
}

// SetDropped records the relay's eviction total. No-op when unchanged,
// so the dispatcher can call it every loop.
func (t *Tracker) SetDropped(n int64) {
	t.mu.Lock()
	if t.state.Dropped == n {
		t.mu.Unlock()
		return
	}
	t.state.Dropped = n
	t.mu.Unlock()
	t.notify(nil)
}
