// Package status tracks the live state of a mep run for the websocket
// monitor: what script is active, which phase the engine is in, and the
// traffic counters.
package status

import (
	"time"

	"github.com/mep-live/mep/internal/catalog"
	"github.com/mep-live/mep/internal/session"
)

// State is one self-contained snapshot of the run. It marshals to the
// wire format the monitor consumes.
type State struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	PID       int       `json:"pid"`

	Phase   session.Phase              `json:"phase"`
	Script  string                     `json:"script"`
	Index   int                        `json:"index"`
	Catalog []catalog.ScriptDescriptor `json:"catalog"`

	PortIn  string `json:"port_in"`
	PortOut string `json:"port_out"`

	MidiIn     int64 `json:"midi_in"`
	MidiOut    int64 `json:"midi_out"`
	Dropped    int64 `json:"dropped"`
	Violations int64 `json:"violations"`
	Reloads    int64 `json:"reloads"`

	LastError string `json:"last_error,omitempty"`

	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

// Event kinds.
const (
	EventSwitch      = "switch"
	EventReload      = "reload"
	EventScriptError = "script_error"
	EventRecovered   = "recovered"
	EventViolation   = "violation"
)

// Event is a moment worth showing in the monitor's feed, as opposed to
// the rolling state above.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Script string    `json:"script"`
	Detail string    `json:"detail,omitempty"`
}
