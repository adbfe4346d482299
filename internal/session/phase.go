package session

import "encoding/json"

// Phase is the observable state of the session as published on the
// status stream.
type Phase int

const (
	Selecting Phase = iota // no script loaded yet, waiting for the first choice
	Running                // active script compiled and ran, serving MIDI
	Broken                 // last load or invocation failed, waiting for a fix
)

var phaseNames = map[Phase]string{
	Selecting: "selecting",
	Running:   "running",
	Broken:    "broken",
}

var phaseFromName = map[string]Phase{
	"selecting": Selecting,
	"running":   Running,
	"broken":    Broken,
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := phaseFromName[s]; ok {
		*p = v
	}
	return nil
}
