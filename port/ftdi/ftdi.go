// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ftdi drives the 8 data pins (D0-D7) of an FTDI USB chip
// in asynchronous bit-bang mode.
package ftdi // import "github.com/go-lpc/ccb/port/ftdi"

import (
	"fmt"
	"io"

	"github.com/go-lpc/ccb"
	libftdi "github.com/ziutek/ftdi"
)

const (
	// VendorID is the FTDI USB vendor ID.
	VendorID = 0x0403

	FT232R = 0x6001 // FT232R/FT245R product ID
	FT232H = 0x6014 // FT232H product ID

	nPins = 8
)

type ftdiDevice interface {
	Reset() error
	SetBitmode(iomask byte, mode libftdi.Mode) error
	SetBaudrate(br int) error
	SetLatencyTimer(lt int) error
	PurgeBuffers() error
	Pins() (byte, error)

	io.Writer
	io.Closer
}

var (
	ftdiOpen = ftdiOpenImpl
)

func ftdiOpenImpl(vid, pid uint16) (ftdiDevice, error) {
	dev, err := libftdi.OpenFirst(int(vid), int(pid), libftdi.ChannelAny)
	return dev, err
}

// Port is a ccb.Port driving the D0-D7 pins of an FTDI device.
//
// Pins configured as inputs rely on the internal pull-ups of the chip.
type Port struct {
	vid uint16
	pid uint16
	ft  ftdiDevice

	mask byte // direction of the pins (1: output)
	out  byte // output latch
}

var _ ccb.Port = (*Port)(nil)

// Open opens the first FTDI device matching the vendor and product IDs,
// and switches it to bit-bang mode with all pins as inputs.
// The baud rate sets the pace of the bit-bang engine.
func Open(vid, pid uint16, baud int) (*Port, error) {
	ft, err := ftdiOpen(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("ftdi: could not open FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	p := &Port{vid: vid, pid: pid, ft: ft}
	err = p.init(baud)
	if err != nil {
		ft.Close()
		return nil, fmt.Errorf("ftdi: could not initialize FTDI device (vid=0x%x, pid=0x%x): %w", vid, pid, err)
	}

	return p, nil
}

func (p *Port) init(baud int) error {
	var err error

	err = p.ft.Reset()
	if err != nil {
		return fmt.Errorf("could not reset USB: %w", err)
	}

	err = p.ft.SetBitmode(p.mask, libftdi.ModeBitbang)
	if err != nil {
		return fmt.Errorf("could not enable bitbang: %w", err)
	}

	err = p.ft.SetBaudrate(baud)
	if err != nil {
		return fmt.Errorf("could not set baud rate to %d: %w", baud, err)
	}

	err = p.ft.SetLatencyTimer(2)
	if err != nil {
		return fmt.Errorf("could not set latency timer to 2: %w", err)
	}

	err = p.ft.PurgeBuffers()
	if err != nil {
		return fmt.Errorf("could not purge USB buffers: %w", err)
	}

	return nil
}

// Close switches the device back to its default mode and releases it.
func (p *Port) Close() error {
	err := p.ft.SetBitmode(0, libftdi.ModeReset)
	if err != nil {
		_ = p.ft.Close()
		return fmt.Errorf("ftdi: could not reset bit mode: %w", err)
	}
	return p.ft.Close()
}

// Configure implements ccb.Port.
func (p *Port) Configure(pin int, mode ccb.Mode) error {
	if err := checkPin(pin); err != nil {
		return err
	}

	mask := p.mask
	switch mode {
	case ccb.Output:
		mask |= 1 << pin
	case ccb.InputPullUp:
		mask &^= 1 << pin
	default:
		return fmt.Errorf("ftdi: invalid mode %v for D%d", mode, pin)
	}

	err := p.ft.SetBitmode(mask, libftdi.ModeBitbang)
	if err != nil {
		return fmt.Errorf("ftdi: could not configure D%d as %v: %w", pin, mode, err)
	}
	p.mask = mask
	return nil
}

// Write implements ccb.Port.
func (p *Port) Write(pin int, v ccb.Level) error {
	if err := checkPin(pin); err != nil {
		return err
	}

	out := p.out
	switch v {
	case ccb.High:
		out |= 1 << pin
	default:
		out &^= 1 << pin
	}

	n, err := p.ft.Write([]byte{out})
	switch {
	case err != nil:
		return fmt.Errorf("ftdi: could not set D%d %v: %w", pin, v, err)
	case n != 1:
		return fmt.Errorf("ftdi: could not set D%d %v: %w", pin, v, io.ErrShortWrite)
	}
	p.out = out
	return nil
}

// Read implements ccb.Port.
func (p *Port) Read(pin int) (ccb.Level, error) {
	if err := checkPin(pin); err != nil {
		return ccb.Low, err
	}

	v, err := p.ft.Pins()
	if err != nil {
		return ccb.Low, fmt.Errorf("ftdi: could not read D%d: %w", pin, err)
	}
	return ccb.Level((v>>pin)&1 == 1), nil
}

func checkPin(pin int) error {
	if pin < 0 || pin >= nPins {
		return fmt.Errorf("ftdi: invalid pin D%d", pin)
	}
	return nil
}
