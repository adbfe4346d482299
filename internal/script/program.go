package script

import (
	lua "github.com/yuin/gopher-lua"
)

// Program is a successfully loaded script: its own interpreter state
// with the midi table installed and the top level already run. Not safe
// for concurrent use; the dispatcher is the only caller.
type Program struct {
	name  string
	state *lua.LState
}

// Name returns the script name the program was loaded under.
func (p *Program) Name() string { return p.name }

// Invoke resolves the script's listener and calls it with message as a
// 1-based integer array. Lookup failures come back as *ListenerError,
// call failures as *CallError; the two are handled very differently
// upstream, so the distinction matters.
func (p *Program) Invoke(message []byte) error {
	fn, err := p.listener()
	if err != nil {
		return err
	}
	tbl := p.state.CreateTable(len(message), 0)
	for _, b := range message {
		tbl.Append(lua.LNumber(b))
	}
	err = p.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl)
	if err != nil {
		return &CallError{Script: p.name, Detail: luaDetail(err)}
	}
	return nil
}

// listener resolves midi.listen, with a distinct message for each way a
// script can get it wrong. The lookup repeats on every invoke because
// scripts may assign or clobber the listener at any time.
func (p *Program) listener() (*lua.LFunction, error) {
	v := p.state.GetGlobal("midi")
	if v == lua.LNil {
		return nil, &ListenerError{Script: p.name, Detail: `global "midi" is missing; the host defines it, do not overwrite it`}
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, &ListenerError{Script: p.name, Detail: `"midi" is defined but it is not a table; do not reuse the name`}
	}
	lv := tbl.RawGetString("listen")
	if lv == lua.LNil {
		return nil, &ListenerError{Script: p.name, Detail: `no listener defined; add one with function midi.listen(message) ... end`}
	}
	fn, ok := lv.(*lua.LFunction)
	if !ok {
		return nil, &ListenerError{Script: p.name, Detail: `"midi.listen" is defined but it is not a function`}
	}
	return fn, nil
}

// Close releases the interpreter state. The program is unusable after.
func (p *Program) Close() {
	p.state.Close()
}
