// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides a simulated CCB bus: a Port recording every line
// access, a Device modeling a CCB peripheral and a decoder rebuilding
// the transfers from the recorded line accesses.
package sim // import "github.com/go-lpc/ccb/sim"

import (
	"fmt"
	"sync"

	"github.com/go-lpc/ccb"
)

// Op is the kind of a line access.
type Op uint8

const (
	OpConfigure Op = iota
	OpWrite
	OpRead
)

func (op Op) String() string {
	switch op {
	case OpConfigure:
		return "configure"
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

// Event is a recorded line access.
type Event struct {
	Op    Op
	Pin   int
	Mode  ccb.Mode  // valid for OpConfigure
	Level ccb.Level // level written or read
}

func (ev Event) String() string {
	switch ev.Op {
	case OpConfigure:
		return fmt.Sprintf("%v pin=%d mode=%v", ev.Op, ev.Pin, ev.Mode)
	default:
		return fmt.Sprintf("%v pin=%d level=%v", ev.Op, ev.Pin, ev.Level)
	}
}

type pin struct {
	mode  ccb.Mode
	level ccb.Level
}

// Port is an in-memory ccb.Port.
//
// Pins must be configured before being written or read.
// Input pins read high (pulled-up) unless driven by the attached Device.
type Port struct {
	// Fail, when set, is called before each line access.
	// A non-nil returned error is reported by the access,
	// which is then not performed.
	Fail func(ev Event) error

	mu     sync.Mutex
	pins   map[int]*pin
	events []Event
	dev    *Device
}

var _ ccb.Port = (*Port)(nil)

// NewPort returns a new simulated port.
func NewPort() *Port {
	return &Port{pins: make(map[int]*pin)}
}

// Attach connects a simulated peripheral to the port.
func (p *Port) Attach(dev *Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dev = dev
}

// Configure implements ccb.Port.
func (p *Port) Configure(n int, mode ccb.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev := Event{Op: OpConfigure, Pin: n, Mode: mode}
	if err := p.fail(ev); err != nil {
		return err
	}

	switch mode {
	case ccb.Output, ccb.InputPullUp:
	default:
		return fmt.Errorf("sim: invalid mode %v for pin %d", mode, n)
	}

	pp, ok := p.pins[n]
	if !ok {
		pp = &pin{}
		p.pins[n] = pp
	}
	pp.mode = mode
	if mode == ccb.InputPullUp {
		pp.level = ccb.High
	}
	p.events = append(p.events, ev)
	return nil
}

// Write implements ccb.Port.
func (p *Port) Write(n int, v ccb.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev := Event{Op: OpWrite, Pin: n, Level: v}
	if err := p.fail(ev); err != nil {
		return err
	}

	pp, ok := p.pins[n]
	if !ok {
		return fmt.Errorf("sim: pin %d not configured", n)
	}
	if pp.mode != ccb.Output {
		return fmt.Errorf("sim: pin %d is not an output", n)
	}

	old := pp.level
	pp.level = v
	p.events = append(p.events, ev)

	if p.dev != nil && old != v {
		p.dev.edge(p, n, v)
	}
	return nil
}

// Read implements ccb.Port.
func (p *Port) Read(n int) (ccb.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev := Event{Op: OpRead, Pin: n}
	if err := p.fail(ev); err != nil {
		return ccb.Low, err
	}

	pp, ok := p.pins[n]
	if !ok {
		return ccb.Low, fmt.Errorf("sim: pin %d not configured", n)
	}

	v := pp.level
	if pp.mode != ccb.Output && p.dev != nil {
		if lvl, ok := p.dev.drive(n); ok {
			v = lvl
		}
	}
	ev.Level = v
	p.events = append(p.events, ev)
	return v, nil
}

// Level returns the current level of a pin.
func (p *Port) Level(n int) ccb.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pins[n]
	if !ok {
		return ccb.Low
	}
	return pp.level
}

// Mode returns the mode of a pin and whether it was configured.
func (p *Port) Mode(n int) (ccb.Mode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pins[n]
	if !ok {
		return 0, false
	}
	return pp.mode, true
}

// Events returns a copy of the recorded line accesses.
func (p *Port) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	evts := make([]Event, len(p.events))
	copy(evts, p.events)
	return evts
}

// Reset clears the recorded line accesses.
func (p *Port) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = p.events[:0]
}

func (p *Port) fail(ev Event) error {
	if p.Fail == nil {
		return nil
	}
	return p.Fail(ev)
}
