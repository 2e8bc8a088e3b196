// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gpiomem drives the GPIO block of Broadcom BCM283x/BCM2711 SoCs
// (Raspberry Pi) through its memory-mapped registers.
package gpiomem // import "github.com/go-lpc/ccb/port/gpiomem"

import (
	"fmt"
	"io"
	"time"

	"github.com/go-lpc/ccb"
	"github.com/go-lpc/ccb/internal/mmap"
)

// DevMem is the default device exposing the GPIO registers.
const DevMem = "/dev/gpiomem"

const (
	nPins   = 54
	mapSize = 4096

	regFSEL   = 0x00 // function select, 10 pins per register
	regSET    = 0x1c // output set, 32 pins per register
	regCLR    = 0x28 // output clear
	regLEV    = 0x34 // pin level
	regPUD    = 0x94 // BCM283x pull-up/down enable
	regPUDCLK = 0x98 // BCM283x pull-up/down clock
	regPUPPDN = 0xe4 // BCM2711 pull-up/down, 16 pins per register

	fselInput  = 0
	fselOutput = 1

	pudUp = 2
)

// Model selects the pull-up programming scheme of the SoC.
type Model uint8

const (
	BCM283x Model = iota // Raspberry Pi 1 to 3
	BCM2711              // Raspberry Pi 4
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// Port is a ccb.Port driving the SoC GPIO pins, identified by their
// BCM GPIO number.
type Port struct {
	mem   rwer
	model Model
	close func() error
	sleep func(time.Duration)

	err error
}

var _ ccb.Port = (*Port)(nil)

// Option configures a Port.
type Option func(p *Port)

// WithModel selects the SoC model.
func WithModel(m Model) Option {
	return func(p *Port) {
		p.model = m
	}
}

// Open maps the GPIO registers exposed by the named device.
func Open(fname string, opts ...Option) (*Port, error) {
	h, err := mmap.Open(fname, 0, mapSize)
	if err != nil {
		return nil, fmt.Errorf("gpiomem: could not map GPIO registers: %w", err)
	}
	p := newPort(h, opts...)
	p.close = h.Close
	return p, nil
}

func newPort(mem rwer, opts ...Option) *Port {
	p := &Port{
		mem:   mem,
		close: func() error { return nil },
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close unmaps the GPIO registers.
func (p *Port) Close() error {
	return p.close()
}

// Configure implements ccb.Port.
func (p *Port) Configure(pin int, mode ccb.Mode) error {
	if err := checkPin(pin); err != nil {
		return err
	}

	p.err = nil
	var (
		off   = int64(regFSEL + 4*(pin/10))
		shift = uint(3 * (pin % 10))
		v     = p.r32(off)
	)
	v &^= 7 << shift
	switch mode {
	case ccb.Output:
		v |= fselOutput << shift
		p.w32(off, v)
	case ccb.InputPullUp:
		v |= fselInput << shift
		p.w32(off, v)
		p.pullUp(pin)
	default:
		return fmt.Errorf("gpiomem: invalid mode %v for GPIO%d", mode, pin)
	}

	if p.err != nil {
		return fmt.Errorf("gpiomem: could not configure GPIO%d as %v: %w", pin, mode, p.err)
	}
	return nil
}

// Write implements ccb.Port.
func (p *Port) Write(pin int, v ccb.Level) error {
	if err := checkPin(pin); err != nil {
		return err
	}

	p.err = nil
	off := int64(regCLR + 4*(pin/32))
	if v {
		off = int64(regSET + 4*(pin/32))
	}
	p.w32(off, 1<<uint(pin%32))

	if p.err != nil {
		return fmt.Errorf("gpiomem: could not set GPIO%d %v: %w", pin, v, p.err)
	}
	return nil
}

// Read implements ccb.Port.
func (p *Port) Read(pin int) (ccb.Level, error) {
	if err := checkPin(pin); err != nil {
		return ccb.Low, err
	}

	p.err = nil
	v := p.r32(int64(regLEV + 4*(pin/32)))
	if p.err != nil {
		return ccb.Low, fmt.Errorf("gpiomem: could not read GPIO%d: %w", pin, p.err)
	}
	return ccb.Level((v>>uint(pin%32))&1 == 1), nil
}

func (p *Port) pullUp(pin int) {
	switch p.model {
	case BCM2711:
		var (
			off   = int64(regPUPPDN + 4*(pin/16))
			shift = uint(2 * (pin % 16))
			v     = p.r32(off)
		)
		v &^= 3 << shift
		v |= 1 << shift
		p.w32(off, v)

	default:
		// the BCM283x sequence needs 150 cycles of setup and hold time.
		clk := int64(regPUDCLK + 4*(pin/32))
		p.w32(regPUD, pudUp)
		p.sleep(time.Microsecond)
		p.w32(clk, 1<<uint(pin%32))
		p.sleep(time.Microsecond)
		p.w32(regPUD, 0)
		p.w32(clk, 0)
	}
}

func (p *Port) r32(off int64) uint32 {
	if p.err != nil {
		return 0
	}
	var v uint32
	v, p.err = mmap.Uint32(p.mem, off)
	return v
}

func (p *Port) w32(off int64, v uint32) {
	if p.err != nil {
		return
	}
	p.err = mmap.PutUint32(p.mem, off, v)
}

func checkPin(pin int) error {
	if pin < 0 || pin >= nPins {
		return fmt.Errorf("gpiomem: invalid GPIO%d", pin)
	}
	return nil
}
