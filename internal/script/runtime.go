// Package script compiles Lua sources and runs them against the host
// midi API. Each load builds a fresh interpreter state, so a broken
// reload never disturbs the program already serving input; callers swap
// programs only after a load succeeds.
package script

import (
	"fmt"
	"log"
	"math"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/mep-live/mep/internal/session"
)

// SendFunc delivers validated raw MIDI bytes to the output transport.
type SendFunc func([]byte) error

// Violation records a midi.send call whose payload failed validation.
// The bytes never reach the transport; the dispatcher drains these and
// surfaces them as script bugs.
type Violation struct {
	Script string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Script, v.Detail)
}

// Runtime loads scripts. It owns the host side of the midi API: every
// state it builds gets a midi table whose send goes through the
// runtime's transport and whose payload validation reports through the
// runtime's violations channel.
type Runtime struct {
	send       SendFunc
	violations chan<- Violation
}

// NewRuntime returns a runtime that forwards well-formed midi.send
// payloads to send and queues malformed ones on violations.
func NewRuntime(send SendFunc, violations chan<- Violation) *Runtime {
	return &Runtime{send: send, violations: violations}
}

// Unit is a compiled script awaiting its top-level run.
type Unit struct {
	name  string
	proto *lua.FunctionProto
}

// Compile parses and compiles source without executing any of it.
func (r *Runtime) Compile(name string, source []byte) (*Unit, error) {
	chunk, err := parse.Parse(strings.NewReader(string(source)), name)
	if err != nil {
		return nil, &CompileError{Script: name, Detail: luaDetail(err)}
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, &CompileError{Script: name, Detail: luaDetail(err)}
	}
	return &Unit{name: name, proto: proto}, nil
}

// Run executes the unit's top level in a fresh state. This is where the
// script does its setup work, typically assigning midi.listen. On
// failure the state is closed and nothing of it survives.
func (r *Runtime) Run(u *Unit) (*Program, error) {
	L := lua.NewState()
	r.registerMIDI(L, u.name)
	L.Push(L.NewFunctionFromProto(u.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, &RunError{Script: u.name, Detail: luaDetail(err)}
	}
	return &Program{name: u.name, state: L}, nil
}

// Load is Compile followed by Run.
func (r *Runtime) Load(name string, source []byte) (session.Program, error) {
	u, err := r.Compile(name, source)
	if err != nil {
		return nil, err
	}
	p, err := r.Run(u)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// registerMIDI installs the host midi table: midi.send plus the slot
// scripts fill with their listener.
func (r *Runtime) registerMIDI(L *lua.LState, name string) {
	midi := L.NewTable()
	L.SetField(midi, "send", L.NewFunction(func(L *lua.LState) int {
		return r.luaSend(L, name)
	}))
	L.SetGlobal("midi", midi)
}

// luaSend validates and forwards one outbound message. A malformed
// payload never reaches the transport: it is recorded as a Violation
// and the call returns normally, so one bad send does not tear down the
// listener. A transport error on a well-formed payload is raised as a
// Lua error and surfaces through the listener call like any other
// script failure.
func (r *Runtime) luaSend(L *lua.LState, name string) int {
	if L.GetTop() != 1 {
		r.report(name, fmt.Sprintf("midi.send got %d arguments, want one table of integers 0-255", L.GetTop()))
		return 0
	}
	val := L.Get(1)
	tbl, ok := val.(*lua.LTable)
	if !ok {
		r.report(name, fmt.Sprintf("midi.send got a %s, want a table of integers 0-255", val.Type()))
		return 0
	}
	n := tbl.Len()
	msg := make([]byte, 0, n)
	for i := 1; i <= n; i++ {
		v := tbl.RawGetInt(i)
		num, ok := v.(lua.LNumber)
		if !ok {
			r.report(name, fmt.Sprintf("midi.send byte %d is a %s, want an integer 0-255", i, v.Type()))
			return 0
		}
		f := float64(num)
		if f != math.Trunc(f) || f < 0 || f > 255 {
			r.report(name, fmt.Sprintf("midi.send byte %d is %v, want an integer 0-255", i, v))
			return 0
		}
		msg = append(msg, byte(f))
	}
	if err := r.send(msg); err != nil {
		L.RaiseError("midi send failed: %v", err)
	}
	return 0
}

// report queues a violation without blocking. The dispatcher is both
// the only caller of Lua code and the consumer of this channel, so a
// blocking send here would deadlock; if a single listener call floods
// the queue the overflow goes to the log instead.
func (r *Runtime) report(script, detail string) {
	v := Violation{Script: script, Detail: detail}
	select {
	case r.violations <- v:
	default:
		log.Printf("violation queue full, dropping: %s", v)
	}
}

// luaDetail flattens a Lua error into a display string. ApiError
// carries the error value plus a stack trace; keep both, trimmed.
func luaDetail(err error) string {
	return strings.TrimSpace(err.Error())
}
