// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package periph drives GPIO pins through the periph.io registry.
//
// Pins are the GPIO numbers of the host, looked up by their "GPIO<n>"
// name.
package periph // import "github.com/go-lpc/ccb/port/periph"

import (
	"fmt"

	"github.com/go-lpc/ccb"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	hostInit = func() error {
		_, err := host.Init()
		return err
	}
	byName = gpioreg.ByName
)

// Port is a ccb.Port driving periph.io GPIO pins.
type Port struct {
	pins map[int]gpio.PinIO
}

var _ ccb.Port = (*Port)(nil)

// Open loads the periph.io host drivers.
func Open() (*Port, error) {
	err := hostInit()
	if err != nil {
		return nil, fmt.Errorf("periph: could not initialize host drivers: %w", err)
	}
	return &Port{pins: make(map[int]gpio.PinIO)}, nil
}

// Close releases the pins used by the port.
func (p *Port) Close() error {
	for n, pin := range p.pins {
		err := pin.Halt()
		if err != nil {
			return fmt.Errorf("periph: could not halt %s: %w", pin, err)
		}
		delete(p.pins, n)
	}
	return nil
}

func (p *Port) pin(n int) (gpio.PinIO, error) {
	if pin, ok := p.pins[n]; ok {
		return pin, nil
	}
	name := fmt.Sprintf("GPIO%d", n)
	pin := byName(name)
	if pin == nil {
		return nil, fmt.Errorf("periph: no such pin %s", name)
	}
	p.pins[n] = pin
	return pin, nil
}

// Configure implements ccb.Port.
func (p *Port) Configure(n int, mode ccb.Mode) error {
	pin, err := p.pin(n)
	if err != nil {
		return err
	}

	switch mode {
	case ccb.Output:
		err = pin.Out(gpio.Low)
	case ccb.InputPullUp:
		err = pin.In(gpio.PullUp, gpio.NoEdge)
	default:
		return fmt.Errorf("periph: invalid mode %v for %s", mode, pin)
	}
	if err != nil {
		return fmt.Errorf("periph: could not configure %s as %v: %w", pin, mode, err)
	}
	return nil
}

// Write implements ccb.Port.
func (p *Port) Write(n int, v ccb.Level) error {
	pin, err := p.pin(n)
	if err != nil {
		return err
	}
	err = pin.Out(gpio.Level(v))
	if err != nil {
		return fmt.Errorf("periph: could not set %s %v: %w", pin, v, err)
	}
	return nil
}

// Read implements ccb.Port.
func (p *Port) Read(n int) (ccb.Level, error) {
	pin, err := p.pin(n)
	if err != nil {
		return ccb.Low, err
	}
	return ccb.Level(pin.Read()), nil
}
