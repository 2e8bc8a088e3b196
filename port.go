// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ccb

import "fmt"

// Level is the logic level of a digital line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (lvl Level) String() string {
	if lvl {
		return "high"
	}
	return "low"
}

// Mode is the configuration of a digital line.
type Mode uint8

const (
	Output      Mode = iota // driven output
	InputPullUp             // input with pull-up resistor
)

func (m Mode) String() string {
	switch m {
	case Output:
		return "output"
	case InputPullUp:
		return "input-pull-up"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Port is the platform layer driving the physical lines of a bus.
// Pin identifiers are specific to each Port implementation.
type Port interface {
	// Configure sets the mode of a pin.
	Configure(pin int, mode Mode) error
	// Write drives an output pin to the given level.
	Write(pin int, v Level) error
	// Read samples the current level of a pin.
	Read(pin int) (Level, error)
}

// Lines binds the four CCB line roles to Port pins.
type Lines struct {
	DO int // data out, from the controller to the peripheral
	CL int // clock
	DI int // data in, from the peripheral to the controller
	CE int // chip enable
}

func (ls Lines) String() string {
	return fmt.Sprintf("DO=%d CL=%d DI=%d CE=%d", ls.DO, ls.CL, ls.DI, ls.CE)
}
