// Package demo feeds the monitor a synthetic mep run so the UI can be
// exercised without MIDI hardware or a live mep process.
package demo

import (
	"math"
	"math/rand"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mep-live/mep/internal/catalog"
	"github.com/mep-live/mep/internal/monitorui/client"
	"github.com/mep-live/mep/internal/session"
	"github.com/mep-live/mep/internal/status"
)

const (
	beat        = 500 * time.Millisecond
	cyclePeriod = 40 // ticks per scripted break/recover/switch cycle
)

// Feed produces the same Bubble Tea messages the live client does, on a
// fixed beat. Re-arm Next after every message, like the real read loop.
type Feed struct {
	tick    int
	started bool
	state   status.State
	queue   []tea.Msg
}

func NewFeed() *Feed {
	now := time.Now()
	cat := catalog.Catalog{
		{Index: 0, Path: "/home/demo/.mep/pass.lua", Name: "pass.lua"},
		{Index: 1, Path: "/home/demo/.mep/transpose.lua", Name: "transpose.lua"},
		{Index: 2, Path: "/home/demo/.mep/velocity.lua", Name: "velocity.lua"},
	}

	return &Feed{
		state: status.State{
			RunID:      "demo-run",
			StartedAt:  now,
			PID:        os.Getpid(),
			Phase:      session.Running,
			Script:     "transpose.lua",
			Index:      1,
			Catalog:    cat,
			PortIn:     "mep_in",
			PortOut:    "mep_out",
			CPUPercent: 2.0,
			RSSBytes:   24 << 20,
		},
	}
}

// Next blocks for one beat and returns the next message.
func (f *Feed) Next() tea.Msg {
	if !f.started {
		f.started = true
		return client.ConnectedMsg{}
	}

	for {
		if len(f.queue) > 0 {
			msg := f.queue[0]
			f.queue = f.queue[1:]
			return msg
		}

		time.Sleep(beat)
		f.tick++
		f.advance()
	}
}

// advance plays one tick of traffic plus the scripted moments, queueing
// events before the state that reflects them, the way the live
// broadcaster orders them.
func (f *Feed) advance() {
	f.advanceTraffic()

	switch f.tick % cyclePeriod {
	case 10:
		detail := "midi.send byte 1 is 60.5, want an integer 0-255"
		f.state.Violations++
		f.state.Phase = session.Broken
		f.state.LastError = f.state.Script + ": " + detail
		f.emit(status.EventViolation, detail)
	case 14:
		f.state.Phase = session.Running
		f.state.LastError = ""
		f.state.Reloads++
		f.emit(status.EventRecovered, "")
	case 18:
		f.state.Phase = session.Broken
		f.state.LastError = "run " + f.state.Script + ": " + f.state.Script + ":7: attempt to perform arithmetic on a nil value"
		f.emit(status.EventScriptError, f.state.LastError)
	case 22:
		f.state.Phase = session.Running
		f.state.LastError = ""
		f.state.Reloads++
		f.emit(status.EventRecovered, "")
	case 30:
		f.state.Reloads++
		f.emit(status.EventReload, "")
	case 38:
		f.state.Index = (f.state.Index + 1) % len(f.state.Catalog)
		f.state.Script = f.state.Catalog[f.state.Index].Name
		f.emit(status.EventSwitch, "")
	}

	f.queue = append(f.queue, client.StateMsg{State: f.state})
}

func (f *Feed) advanceTraffic() {
	// Broken scripts still relay nothing, so traffic pauses with them.
	if f.state.Phase != session.Running {
		return
	}

	pace := 0.6 + 0.4*math.Sin(float64(f.tick)/6.0)
	burst := 1.0
	if f.tick%8 < 3 {
		burst = 2.5
	}

	in := int64(30.0*pace*burst) + int64(rand.Intn(8))
	f.state.MidiIn += in
	f.state.MidiOut += in
	if burst > 1 && rand.Intn(4) == 0 {
		f.state.Dropped += int64(rand.Intn(3))
	}

	f.state.CPUPercent = clamp(f.state.CPUPercent+(rand.Float64()-0.5), 0.5, 12.0)
	f.state.RSSBytes += uint64(rand.Intn(64 << 10))
}

func (f *Feed) emit(kind, detail string) {
	f.queue = append(f.queue, client.EventMsg{Event: status.Event{
		Time:   time.Now(),
		Kind:   kind,
		Script: f.state.Script,
		Detail: detail,
	}})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
