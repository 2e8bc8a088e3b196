// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ccb

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

const (
	// DefaultDelay is the base delay of the bus.
	// It is also used to time the CL (clock) line.
	// 100us should be enough even for slow CCB devices.
	DefaultDelay = 100 * time.Microsecond

	// MaxPayload is the maximum number of bytes of a single transfer.
	MaxPayload = 127
)

var (
	// ErrLength is returned when a payload length is outside [0, MaxPayload].
	ErrLength = errors.New("ccb: invalid payload length")

	// ErrBuffer is returned when a payload buffer holds fewer bytes
	// than the requested payload length.
	ErrBuffer = errors.New("ccb: invalid payload buffer")
)

// Direction is the direction of the data phase of a transfer.
type Direction uint8

const (
	Send    Direction = iota // controller to peripheral
	Receive                  // peripheral to controller
)

func (dir Direction) String() string {
	switch dir {
	case Send:
		return "send"
	case Receive:
		return "receive"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(dir))
	}
}

// Bus drives a CCB bus.
//
// A Bus is not safe for concurrent use: only one transfer may run at
// a time on a given bus, and callers sharing a Bus must serialize
// their accesses.
type Bus struct {
	port  Port
	lines Lines

	delay time.Duration
	sleep func(time.Duration)
	msg   *log.Logger

	err error // first error of the current operation
}

// New returns a bus driving the provided lines through port.
// New does not perform any I/O: Init must be called once before any
// transfer.
func New(port Port, lines Lines, opts ...Option) *Bus {
	bus := &Bus{
		port:  port,
		lines: lines,
		delay: DefaultDelay,
		sleep: time.Sleep,
		msg:   log.New(io.Discard, "ccb: ", 0),
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Lines returns the line binding of the bus.
func (bus *Bus) Lines() Lines { return bus.lines }

// Delay returns the base delay of the bus.
func (bus *Bus) Delay() time.Duration { return bus.delay }

// Init sets the pin functions and initial states of the bus lines.
//
// DO, CL and CE are configured as outputs, DI as a pulled-up input.
// DO and CL are driven low (clock rests low) and CE is cycled once
// to flush the bus.
func (bus *Bus) Init() error {
	bus.err = nil

	bus.mode(bus.lines.DO, Output)
	bus.mode(bus.lines.CL, Output)
	bus.mode(bus.lines.CE, Output)
	bus.mode(bus.lines.DI, InputPullUp)

	bus.set(bus.lines.DO, Low)
	bus.set(bus.lines.CL, Low)

	bus.set(bus.lines.CE, High)
	bus.wait()
	bus.set(bus.lines.CE, Low)
	bus.wait()

	if bus.err != nil {
		return fmt.Errorf("ccb: could not initialize bus (%v): %w", bus.lines, bus.err)
	}
	bus.msg.Printf("bus initialized (%v, delay=%v)", bus.lines, bus.delay)
	return nil
}

// Write sends len(data) bytes to the peripheral at addr.
//
// The content of data is sent backwards, from the rightmost to the
// leftmost byte: CCB devices usually read register data from MSB to LSB,
// so the bytes must be laid out in the opposite order of the one shown
// on the device's datasheets.
func (bus *Bus) Write(addr byte, data []byte) error {
	return bus.Transfer(addr, data, len(data), Send)
}

// Read receives len(data) bytes from the peripheral at addr into data.
func (bus *Bus) Read(addr byte, data []byte) error {
	return bus.Transfer(addr, data, len(data), Receive)
}

// Transfer performs a complete CCB transfer of n bytes with the
// peripheral at addr.
//
// The address byte is sent with its nibbles swapped, then the bus enters
// the data phase (CE high) and n bytes are sent from data[n-1] down to
// data[0] (Send), or received into data[0] up to data[n-1] (Receive).
//
// n must be in [0, MaxPayload] and data must hold at least n bytes,
// otherwise ErrLength or ErrBuffer is returned and the lines are left
// untouched.
func (bus *Bus) Transfer(addr byte, data []byte, n int, dir Direction) error {
	switch dir {
	case Send, Receive:
	default:
		panic(fmt.Errorf("ccb: invalid transfer direction %v", dir))
	}

	if n < 0 || n > MaxPayload {
		return fmt.Errorf("ccb: could not %s %d bytes @0x%02x: %w", dir, n, addr, ErrLength)
	}
	if len(data) < n {
		return fmt.Errorf(
			"ccb: could not %s %d bytes @0x%02x (buffer len=%d): %w",
			dir, n, addr, len(data), ErrBuffer,
		)
	}

	bus.err = nil

	// address phase.
	bus.writeByte(SwapNibbles(addr))

	// enter the data transfer mode.
	bus.set(bus.lines.CL, Low)
	bus.set(bus.lines.CE, High)
	bus.wait()

	switch dir {
	case Send:
		for i := n - 1; i >= 0; i-- {
			bus.writeByte(data[i])
		}
		bus.set(bus.lines.DO, Low)
	case Receive:
		for i := 0; i < n; i++ {
			data[i] = bus.readByte()
		}
	}

	bus.set(bus.lines.CE, Low)
	bus.wait()

	if bus.err != nil {
		// best effort: leave the peripheral out of the data phase.
		_ = bus.port.Write(bus.lines.CE, Low)
		return fmt.Errorf("ccb: could not %s %d bytes @0x%02x: %w", dir, n, addr, bus.err)
	}
	return nil
}

// DI returns the current level of the DI line.
//
// Some CCB devices use that line for other functions when the bus is
// idle. DI does not clock the bus.
func (bus *Bus) DI() (Level, error) {
	v, err := bus.port.Read(bus.lines.DI)
	if err != nil {
		return v, fmt.Errorf("ccb: could not read DI (pin=%d): %w", bus.lines.DI, err)
	}
	return v, nil
}

// writeByte sends one byte, LSB first.
func (bus *Bus) writeByte(v byte) {
	for i := 0; i < 8; i++ {
		bus.set(bus.lines.DO, Level((v>>i)&1 == 1))
		bus.set(bus.lines.CL, High)
		bus.wait()
		bus.set(bus.lines.CL, Low)
		bus.wait()
	}
}

// readByte receives one byte, MSB first.
func (bus *Bus) readByte() byte {
	var v byte
	for i := 7; i >= 0; i-- {
		bus.set(bus.lines.CL, High)
		bus.wait()
		if bus.get(bus.lines.DI) {
			v |= 1 << i
		}
		bus.set(bus.lines.CL, Low)
		bus.wait()
	}
	return v
}

func (bus *Bus) mode(pin int, m Mode) {
	if bus.err != nil {
		return
	}
	err := bus.port.Configure(pin, m)
	if err != nil {
		bus.err = fmt.Errorf("could not configure pin %d as %v: %w", pin, m, err)
	}
}

func (bus *Bus) set(pin int, v Level) {
	if bus.err != nil {
		return
	}
	err := bus.port.Write(pin, v)
	if err != nil {
		bus.err = fmt.Errorf("could not set pin %d %v: %w", pin, v, err)
	}
}

func (bus *Bus) get(pin int) Level {
	if bus.err != nil {
		return Low
	}
	v, err := bus.port.Read(pin)
	if err != nil {
		bus.err = fmt.Errorf("could not read pin %d: %w", pin, err)
		return Low
	}
	return v
}

func (bus *Bus) wait() {
	if bus.err != nil {
		return
	}
	bus.sleep(bus.delay)
}

// SwapNibbles exchanges the high and low nibbles of v.
//
// CCB addresses are sent with their nibbles swapped to support
// 4-bit addresses.
func SwapNibbles(v byte) byte {
	return v>>4 | v<<4
}
