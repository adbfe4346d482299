// Package midiport owns the virtual MIDI endpoints other programs
// connect to, and the bounded relay that carries inbound messages from
// the driver callback to the dispatcher.
package midiport

import (
	"errors"
	"fmt"
	"sync"

	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ErrClosed is returned by Send after the ports have been shut down.
var ErrClosed = errors.New("midi output closed")

// Ports holds one virtual input and one virtual output. DAWs and
// controllers see them as regular device ports under the configured
// names.
type Ports struct {
	drv  *rtmididrv.Driver
	stop func()

	mu  sync.Mutex // Send and Close may race during shutdown
	in  drivers.In
	out drivers.Out
}

// Open brings up the rtmidi driver and creates both virtual ports. Any
// partial failure tears down what was already opened.
func Open(inName, outName string) (*Ports, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midi driver: %w", err)
	}
	in, err := drv.OpenVirtualIn(inName)
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("open virtual input %q: %w", inName, err)
	}
	out, err := drv.OpenVirtualOut(outName)
	if err != nil {
		in.Close()
		drv.Close()
		return nil, fmt.Errorf("open virtual output %q: %w", outName, err)
	}
	return &Ports{drv: drv, in: in, out: out}, nil
}

// Listen starts forwarding inbound messages into relay. The driver
// invokes the callback on its own goroutine; the relay absorbs the
// handoff. Driver-reported failures go to errs, which the dispatcher
// treats as fatal; one buffered slot is enough since the first error
// already brings the program down.
func (p *Ports) Listen(relay *Relay, errs chan<- error) error {
	stop, err := p.in.Listen(func(msg []byte, _ int32) {
		relay.Push(msg)
	}, drivers.ListenConfig{
		SysEx: true,
		OnErr: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	})
	if err != nil {
		return fmt.Errorf("listen on %q: %w", p.in.String(), err)
	}
	p.stop = stop
	return nil
}

// Send writes raw bytes to the virtual output.
func (p *Ports) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return ErrClosed
	}
	return p.out.Send(msg)
}

// InName returns the display name of the virtual input.
func (p *Ports) InName() string { return p.in.String() }

// OutName returns the display name of the virtual output.
func (p *Ports) OutName() string { return p.out.String() }

// Close stops the listener and releases both ports and the driver.
func (p *Ports) Close() {
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		p.out.Close()
		p.out = nil
	}
	if p.in != nil {
		p.in.Close()
		p.in = nil
	}
	p.drv.Close()
}
