// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mcp23008 drives the GP0-GP7 pins of a Microchip MCP23008
// I2C port expander over SMBus.
package mcp23008 // import "github.com/go-lpc/ccb/port/mcp23008"

import (
	"fmt"

	"github.com/go-daq/smbus"
	"github.com/go-lpc/ccb"
)

// Addr is the I2C address of a MCP23008 with A0-A2 tied low.
const Addr = 0x20

const (
	regIODIR = 0x00 // I/O direction (1: input)
	regGPPU  = 0x06 // pull-up resistors (1: enabled)
	regGPIO  = 0x09 // port value
	regOLAT  = 0x0a // output latch

	nPins = 8
)

type conn interface {
	ReadReg(addr, reg uint8) (uint8, error)
	WriteReg(addr, reg, v uint8) error
	Close() error
}

var (
	smbusOpen = smbusOpenImpl
)

func smbusOpenImpl(bus int, addr uint8) (conn, error) {
	return smbus.Open(bus, addr)
}

// Port is a ccb.Port driving the pins of a MCP23008.
type Port struct {
	conn conn
	addr uint8

	iodir uint8
	gppu  uint8
	olat  uint8
}

var _ ccb.Port = (*Port)(nil)

// Open connects to the MCP23008 at addr on the numbered I2C bus
// (/dev/i2c-<bus>).
func Open(bus int, addr uint8) (*Port, error) {
	c, err := smbusOpen(bus, addr)
	if err != nil {
		return nil, fmt.Errorf("mcp23008: could not open i2c-%d (addr=0x%x): %w", bus, addr, err)
	}

	p := &Port{conn: c, addr: addr}
	err = p.init()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp23008: could not initialize device (i2c-%d, addr=0x%x): %w", bus, addr, err)
	}
	return p, nil
}

func (p *Port) init() error {
	var err error

	p.iodir, err = p.conn.ReadReg(p.addr, regIODIR)
	if err != nil {
		return fmt.Errorf("could not read IODIR: %w", err)
	}

	p.gppu, err = p.conn.ReadReg(p.addr, regGPPU)
	if err != nil {
		return fmt.Errorf("could not read GPPU: %w", err)
	}

	p.olat, err = p.conn.ReadReg(p.addr, regOLAT)
	if err != nil {
		return fmt.Errorf("could not read OLAT: %w", err)
	}

	return nil
}

// Close closes the connection to the device.
func (p *Port) Close() error {
	return p.conn.Close()
}

// Configure implements ccb.Port.
func (p *Port) Configure(pin int, mode ccb.Mode) error {
	if err := checkPin(pin); err != nil {
		return err
	}

	var (
		bit   = uint8(1) << pin
		iodir = p.iodir
		gppu  = p.gppu
	)
	switch mode {
	case ccb.Output:
		iodir &^= bit
	case ccb.InputPullUp:
		iodir |= bit
		gppu |= bit
	default:
		return fmt.Errorf("mcp23008: invalid mode %v for GP%d", mode, pin)
	}

	if gppu != p.gppu {
		err := p.conn.WriteReg(p.addr, regGPPU, gppu)
		if err != nil {
			return fmt.Errorf("mcp23008: could not enable pull-up of GP%d: %w", pin, err)
		}
		p.gppu = gppu
	}

	err := p.conn.WriteReg(p.addr, regIODIR, iodir)
	if err != nil {
		return fmt.Errorf("mcp23008: could not configure GP%d as %v: %w", pin, mode, err)
	}
	p.iodir = iodir
	return nil
}

// Write implements ccb.Port.
func (p *Port) Write(pin int, v ccb.Level) error {
	if err := checkPin(pin); err != nil {
		return err
	}

	olat := p.olat
	if v {
		olat |= 1 << pin
	} else {
		olat &^= 1 << pin
	}

	err := p.conn.WriteReg(p.addr, regOLAT, olat)
	if err != nil {
		return fmt.Errorf("mcp23008: could not set GP%d %v: %w", pin, v, err)
	}
	p.olat = olat
	return nil
}

// Read implements ccb.Port.
func (p *Port) Read(pin int) (ccb.Level, error) {
	if err := checkPin(pin); err != nil {
		return ccb.Low, err
	}

	v, err := p.conn.ReadReg(p.addr, regGPIO)
	if err != nil {
		return ccb.Low, fmt.Errorf("mcp23008: could not read GP%d: %w", pin, err)
	}
	return ccb.Level((v>>pin)&1 == 1), nil
}

func checkPin(pin int) error {
	if pin < 0 || pin >= nPins {
		return fmt.Errorf("mcp23008: invalid pin GP%d", pin)
	}
	return nil
}
