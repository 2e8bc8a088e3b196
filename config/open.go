// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"

	"github.com/go-lpc/ccb"
	"github.com/go-lpc/ccb/port/chardev"
	"github.com/go-lpc/ccb/port/ftdi"
	"github.com/go-lpc/ccb/port/gpiomem"
	"github.com/go-lpc/ccb/port/mcp23008"
	"github.com/go-lpc/ccb/port/periph"
	"github.com/go-lpc/ccb/sim"
)

// Bus is a CCB bus opened from a bus description.
type Bus struct {
	*ccb.Bus

	// Port is the port driving the bus lines.
	Port ccb.Port
	// Device is the simulated peripheral of a "sim" bus, nil otherwise.
	Device *sim.Device

	close func() error
}

// Close releases the port of the bus.
func (bus *Bus) Close() error {
	if bus.close == nil {
		return nil
	}
	err := bus.close()
	bus.close = nil
	if err != nil {
		return fmt.Errorf("config: could not close %T port: %w", bus.Port, err)
	}
	return nil
}

var openPort = openPortImpl

// Open opens the port described by cfg and returns the bus driven by
// that port. The returned bus still needs to be initialized.
func Open(cfg Config, opts ...ccb.Option) (*Bus, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("config: invalid bus description: %w", err)
	}

	bus, err := openPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: could not open %s port: %w", cfg.Backend, err)
	}

	opts = append([]ccb.Option{ccb.WithDelay(cfg.Delay)}, opts...)
	bus.Bus = ccb.New(bus.Port, cfg.Lines, opts...)
	return bus, nil
}

func openPortImpl(cfg Config) (*Bus, error) {
	switch cfg.Backend {
	case "sim":
		dev := sim.NewDevice(cfg.Lines)
		for addr, data := range cfg.Sim.Regs {
			dev.SetReg(addr, data)
		}
		port := sim.NewPort()
		port.Attach(dev)
		return &Bus{Port: port, Device: dev}, nil

	case "ftdi":
		port, err := ftdi.Open(cfg.FTDI.VendorID, cfg.FTDI.ProductID, cfg.FTDI.Baud)
		if err != nil {
			return nil, err
		}
		return &Bus{Port: port, close: port.Close}, nil

	case "mcp23008":
		port, err := mcp23008.Open(cfg.MCP23008.Bus, cfg.MCP23008.Addr)
		if err != nil {
			return nil, err
		}
		return &Bus{Port: port, close: port.Close}, nil

	case "gpiomem":
		port, err := gpiomem.Open(cfg.GPIOMem.Device, gpiomem.WithModel(cfg.GPIOMem.Model))
		if err != nil {
			return nil, err
		}
		return &Bus{Port: port, close: port.Close}, nil

	case "chardev":
		port, err := chardev.Open(cfg.Chardev.Chip)
		if err != nil {
			return nil, err
		}
		return &Bus{Port: port, close: port.Close}, nil

	case "periph":
		port, err := periph.Open()
		if err != nil {
			return nil, err
		}
		return &Bus{Port: port, close: port.Close}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
