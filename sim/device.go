// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"sync"

	"github.com/go-lpc/ccb"
)

// Frame is a CCB transfer as seen on the lines.
type Frame struct {
	Addr byte          // address byte as sent on the wire (nibbles swapped)
	Dir  ccb.Direction // direction of the data phase
	Data []byte        // payload bytes, in wire order
}

// Address returns the peripheral address of the frame.
func (f Frame) Address() byte { return ccb.SwapNibbles(f.Addr) }

// Device models a CCB peripheral attached to a simulated Port.
//
// The device samples DO on the rising edges of CL. With CE low, the
// sampled bits (LSB first) form the address byte. Once CE is raised,
// addresses present in Regs are answered on DI, MSB first, one bit per
// rising edge of CL; bytes sent to other addresses are captured, LSB
// first, and recorded as Frames when CE is lowered.
type Device struct {
	Lines ccb.Lines

	mu     sync.Mutex
	regs   map[byte][]byte // address -> data served on reads
	frames []Frame

	addr  byte
	nbits int
	shift byte
	valid bool // whether a full address byte was received

	cur  *Frame
	out  []byte
	obit int

	driving bool
	di      ccb.Level
	idle    ccb.Level
	idleSet bool
}

// NewDevice returns a peripheral listening on the provided lines.
func NewDevice(lines ccb.Lines) *Device {
	return &Device{
		Lines: lines,
		regs:  make(map[byte][]byte),
	}
}

// SetReg sets the bytes served, in wire order, when addr is read.
func (dev *Device) SetReg(addr byte, data []byte) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.regs[addr] = append([]byte(nil), data...)
}

// SetDI drives the DI line while the bus is idle.
func (dev *Device) SetDI(v ccb.Level) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.idle = v
	dev.idleSet = true
}

// Frames returns the transfers handled so far by the device.
func (dev *Device) Frames() []Frame {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	out := make([]Frame, len(dev.frames))
	copy(out, dev.frames)
	return out
}

// edge is called by the port, with its lock held, whenever an output
// pin changes level.
func (dev *Device) edge(p *Port, n int, v ccb.Level) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch n {
	case dev.Lines.CE:
		if v == ccb.High {
			dev.enter()
			return
		}
		dev.exit()

	case dev.Lines.CL:
		if v != ccb.High {
			return
		}
		do := ccb.Low
		if pp, ok := p.pins[dev.Lines.DO]; ok {
			do = pp.level
		}
		dev.clock(do)
	}
}

func (dev *Device) enter() {
	dev.shift = 0
	dev.nbits = 0
	if !dev.valid {
		// CE cycled without an address: bus flush.
		dev.cur = nil
		return
	}

	dev.cur = &Frame{Addr: dev.addr, Dir: ccb.Send}
	if data, ok := dev.regs[ccb.SwapNibbles(dev.addr)]; ok {
		dev.cur.Dir = ccb.Receive
		dev.out = data
		dev.obit = 0
		dev.driving = true
		dev.di = ccb.High
	}
}

func (dev *Device) exit() {
	if dev.cur != nil {
		dev.frames = append(dev.frames, *dev.cur)
	}
	dev.cur = nil
	dev.valid = false
	dev.shift = 0
	dev.nbits = 0
	dev.out = nil
	dev.driving = false
}

func (dev *Device) clock(do ccb.Level) {
	switch {
	case dev.cur == nil:
		// address phase.
		if do {
			dev.shift |= 1 << dev.nbits
		}
		dev.nbits++
		if dev.nbits == 8 {
			dev.addr = dev.shift
			dev.valid = true
			dev.shift = 0
			dev.nbits = 0
		}

	case dev.cur.Dir == ccb.Receive:
		i := dev.obit / 8
		dev.di = ccb.High
		if i < len(dev.out) {
			dev.di = ccb.Level((dev.out[i]>>(7-dev.obit%8))&1 == 1)
		}
		dev.obit++
		if dev.obit%8 == 0 && i < len(dev.out) {
			dev.cur.Data = append(dev.cur.Data, dev.out[i])
		}

	default:
		if do {
			dev.shift |= 1 << dev.nbits
		}
		dev.nbits++
		if dev.nbits == 8 {
			dev.cur.Data = append(dev.cur.Data, dev.shift)
			dev.shift = 0
			dev.nbits = 0
		}
	}
}

// drive returns the level the device imposes on pin n, if any.
func (dev *Device) drive(n int) (ccb.Level, bool) {
	if n != dev.Lines.DI {
		return ccb.Low, false
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	switch {
	case dev.driving:
		return dev.di, true
	case dev.idleSet:
		return dev.idle, true
	}
	return ccb.Low, false
}
