// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chardev drives the lines of a Linux GPIO character device
// (/dev/gpiochipN).
//
// Pins are line offsets on the chip. Lines are requested on their
// first Configure and released by Close.
package chardev // import "github.com/go-lpc/ccb/port/chardev"

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-lpc/ccb"
	"github.com/warthog618/go-gpiocdev"
)

// Consumer is the label attached to the lines requested by a Port.
const Consumer = "ccb"

type line interface {
	SetValue(v int) error
	Value() (int, error)
	Reconfigure(opts ...gpiocdev.LineConfigOption) error
	Close() error
}

type chip interface {
	requestLine(offset int, mode ccb.Mode) (line, error)
	Close() error
}

var (
	openChip = openChipImpl
)

type gpioChip struct {
	*gpiocdev.Chip
}

func openChipImpl(name string) (chip, error) {
	c, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, err
	}
	return gpioChip{c}, nil
}

func (c gpioChip) requestLine(offset int, mode ccb.Mode) (line, error) {
	switch mode {
	case ccb.Output:
		return c.RequestLine(offset, gpiocdev.AsOutput(0))
	case ccb.InputPullUp:
		return c.RequestLine(offset, gpiocdev.AsInput, gpiocdev.WithPullUp)
	default:
		return nil, fmt.Errorf("invalid mode %v", mode)
	}
}

func lineConfig(mode ccb.Mode) []gpiocdev.LineConfigOption {
	switch mode {
	case ccb.Output:
		return []gpiocdev.LineConfigOption{gpiocdev.AsOutput(0)}
	case ccb.InputPullUp:
		return []gpiocdev.LineConfigOption{gpiocdev.AsInput, gpiocdev.WithPullUp}
	default:
		panic(fmt.Errorf("chardev: invalid mode %v", mode))
	}
}

// Port is a ccb.Port driving the lines of a GPIO chip.
type Port struct {
	name  string
	chip  chip
	lines map[int]line
	modes map[int]ccb.Mode
}

var _ ccb.Port = (*Port)(nil)

// Open opens the named GPIO chip (e.g. "gpiochip0").
func Open(name string) (*Port, error) {
	c, err := openChip(name)
	if err != nil {
		return nil, fmt.Errorf("chardev: could not open chip %q: %w", name, err)
	}
	return &Port{
		name:  name,
		chip:  c,
		lines: make(map[int]line),
		modes: make(map[int]ccb.Mode),
	}, nil
}

// Close releases all the requested lines and closes the chip.
func (p *Port) Close() error {
	offsets := make([]int, 0, len(p.lines))
	for offset := range p.lines {
		offsets = append(offsets, offset)
	}
	sort.Ints(offsets)

	var errs []error
	for _, offset := range offsets {
		err := p.lines[offset].Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("chardev: could not release line %d: %w", offset, err))
		}
		delete(p.lines, offset)
		delete(p.modes, offset)
	}

	err := p.chip.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("chardev: could not close chip %q: %w", p.name, err))
	}
	return errors.Join(errs...)
}

// Configure implements ccb.Port.
func (p *Port) Configure(pin int, mode ccb.Mode) error {
	switch mode {
	case ccb.Output, ccb.InputPullUp:
	default:
		return fmt.Errorf("chardev: invalid mode %v for line %d", mode, pin)
	}

	l, ok := p.lines[pin]
	if !ok {
		req, err := p.chip.requestLine(pin, mode)
		if err != nil {
			return fmt.Errorf("chardev: could not request line %d as %v: %w", pin, mode, err)
		}
		p.lines[pin] = req
		p.modes[pin] = mode
		return nil
	}

	if p.modes[pin] == mode {
		return nil
	}

	err := l.Reconfigure(lineConfig(mode)...)
	if err != nil {
		return fmt.Errorf("chardev: could not reconfigure line %d as %v: %w", pin, mode, err)
	}
	p.modes[pin] = mode
	return nil
}

// Write implements ccb.Port.
func (p *Port) Write(pin int, v ccb.Level) error {
	l, ok := p.lines[pin]
	if !ok || p.modes[pin] != ccb.Output {
		return fmt.Errorf("chardev: line %d is not an output", pin)
	}

	bit := 0
	if v {
		bit = 1
	}
	err := l.SetValue(bit)
	if err != nil {
		return fmt.Errorf("chardev: could not set line %d %v: %w", pin, v, err)
	}
	return nil
}

// Read implements ccb.Port.
func (p *Port) Read(pin int) (ccb.Level, error) {
	l, ok := p.lines[pin]
	if !ok {
		return ccb.Low, fmt.Errorf("chardev: line %d is not requested", pin)
	}

	v, err := l.Value()
	if err != nil {
		return ccb.Low, fmt.Errorf("chardev: could not read line %d: %w", pin, err)
	}
	return ccb.Level(v != 0), nil
}
