// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads CCB bus descriptions from TOML files and opens
// the described buses.
//
// A bus description selects a backend, binds the CCB lines to the
// backend's pins and holds the backend specific settings:
//
//	backend = "ftdi"
//	delay   = "100us"
//
//	[pins]
//	do = 0
//	cl = 1
//	di = 2
//	ce = 3
//
//	[ftdi]
//	vid  = 0x0403
//	pid  = 0x6001
//	baud = 9600
package config // import "github.com/go-lpc/ccb/config"

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-lpc/ccb"
	"github.com/go-lpc/ccb/port/ftdi"
	"github.com/go-lpc/ccb/port/gpiomem"
	"github.com/go-lpc/ccb/port/mcp23008"
)

// Backends lists the supported backend names.
var Backends = []string{"chardev", "ftdi", "gpiomem", "mcp23008", "periph", "sim"}

// Config describes a CCB bus.
type Config struct {
	Backend string
	Delay   time.Duration
	Lines   ccb.Lines

	FTDI     FTDI
	MCP23008 MCP23008
	GPIOMem  GPIOMem
	Chardev  Chardev
	Sim      Sim
}

// FTDI holds the settings of a FTDI bitbang port.
type FTDI struct {
	VendorID  uint16
	ProductID uint16
	Baud      int
}

// MCP23008 holds the settings of a MCP23008 port.
type MCP23008 struct {
	Bus  int
	Addr uint8
}

// GPIOMem holds the settings of a BCM283x GPIO memory port.
type GPIOMem struct {
	Device string
	Model  gpiomem.Model
}

// Chardev holds the settings of a GPIO character device port.
type Chardev struct {
	Chip string
}

// Sim holds the registers served by a simulated peripheral.
type Sim struct {
	Regs map[byte][]byte
}

// Default returns the default bus description: a simulated bus.
func Default() Config {
	return Config{
		Backend: "sim",
		Delay:   ccb.DefaultDelay,
		Lines:   ccb.Lines{DO: 0, CL: 1, DI: 2, CE: 3},
		FTDI: FTDI{
			VendorID:  ftdi.VendorID,
			ProductID: ftdi.FT232R,
			Baud:      9600,
		},
		MCP23008: MCP23008{
			Bus:  1,
			Addr: mcp23008.Addr,
		},
		GPIOMem: GPIOMem{
			Device: gpiomem.DevMem,
			Model:  gpiomem.BCM283x,
		},
		Chardev: Chardev{
			Chip: "gpiochip0",
		},
		Sim: Sim{
			Regs: make(map[byte][]byte),
		},
	}
}

type fileConfig struct {
	Backend string `toml:"backend"`
	Delay   string `toml:"delay"`

	Pins struct {
		DO int `toml:"do"`
		CL int `toml:"cl"`
		DI int `toml:"di"`
		CE int `toml:"ce"`
	} `toml:"pins"`

	FTDI struct {
		VendorID  uint16 `toml:"vid"`
		ProductID uint16 `toml:"pid"`
		Baud      int    `toml:"baud"`
	} `toml:"ftdi"`

	MCP23008 struct {
		Bus  int   `toml:"bus"`
		Addr uint8 `toml:"addr"`
	} `toml:"mcp23008"`

	GPIOMem struct {
		Device string `toml:"device"`
		Model  string `toml:"model"`
	} `toml:"gpiomem"`

	Chardev struct {
		Chip string `toml:"chip"`
	} `toml:"chardev"`

	Sim struct {
		Regs []struct {
			Addr uint8   `toml:"addr"`
			Data []uint8 `toml:"data"`
		} `toml:"regs"`
	} `toml:"sim"`
}

// Load reads the bus description stored in the named TOML file.
// Settings missing from the file keep their Default value.
func Load(fname string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(fname, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not decode %q: %w", fname, err)
	}

	cfg, err := fromFile(meta, raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid bus description %q: %w", fname, err)
	}
	return cfg, nil
}

// Decode reads a bus description from a TOML document.
func Decode(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not decode bus description: %w", err)
	}

	cfg, err := fromFile(meta, raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid bus description: %w", err)
	}
	return cfg, nil
}

func fromFile(meta toml.MetaData, raw fileConfig) (Config, error) {
	cfg := Default()

	if undec := meta.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("unknown keys %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("backend") {
		cfg.Backend = strings.TrimSpace(raw.Backend)
	}

	if meta.IsDefined("delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Delay))
		if err != nil {
			return cfg, fmt.Errorf("could not parse delay: %w", err)
		}
		cfg.Delay = d
	}

	if meta.IsDefined("pins", "do") {
		cfg.Lines.DO = raw.Pins.DO
	}
	if meta.IsDefined("pins", "cl") {
		cfg.Lines.CL = raw.Pins.CL
	}
	if meta.IsDefined("pins", "di") {
		cfg.Lines.DI = raw.Pins.DI
	}
	if meta.IsDefined("pins", "ce") {
		cfg.Lines.CE = raw.Pins.CE
	}

	if meta.IsDefined("ftdi", "vid") {
		cfg.FTDI.VendorID = raw.FTDI.VendorID
	}
	if meta.IsDefined("ftdi", "pid") {
		cfg.FTDI.ProductID = raw.FTDI.ProductID
	}
	if meta.IsDefined("ftdi", "baud") {
		cfg.FTDI.Baud = raw.FTDI.Baud
	}

	if meta.IsDefined("mcp23008", "bus") {
		cfg.MCP23008.Bus = raw.MCP23008.Bus
	}
	if meta.IsDefined("mcp23008", "addr") {
		cfg.MCP23008.Addr = raw.MCP23008.Addr
	}

	if meta.IsDefined("gpiomem", "device") {
		cfg.GPIOMem.Device = strings.TrimSpace(raw.GPIOMem.Device)
	}
	if meta.IsDefined("gpiomem", "model") {
		m, err := parseModel(raw.GPIOMem.Model)
		if err != nil {
			return cfg, err
		}
		cfg.GPIOMem.Model = m
	}

	if meta.IsDefined("chardev", "chip") {
		cfg.Chardev.Chip = strings.TrimSpace(raw.Chardev.Chip)
	}

	for _, reg := range raw.Sim.Regs {
		cfg.Sim.Regs[reg.Addr] = reg.Data
	}

	err := cfg.Validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseModel(name string) (gpiomem.Model, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bcm283x", "bcm2835", "bcm2836", "bcm2837":
		return gpiomem.BCM283x, nil
	case "bcm2711":
		return gpiomem.BCM2711, nil
	default:
		return 0, fmt.Errorf("unknown gpiomem model %q", name)
	}
}

// Validate checks the consistency of the bus description.
func (cfg Config) Validate() error {
	i := sort.SearchStrings(Backends, cfg.Backend)
	if i >= len(Backends) || Backends[i] != cfg.Backend {
		return fmt.Errorf("unknown backend %q (want one of %s)", cfg.Backend, strings.Join(Backends, ", "))
	}

	if cfg.Delay < 0 {
		return fmt.Errorf("invalid negative delay %v", cfg.Delay)
	}

	pins := map[int]string{}
	for _, line := range []struct {
		name string
		pin  int
	}{
		{"DO", cfg.Lines.DO},
		{"CL", cfg.Lines.CL},
		{"DI", cfg.Lines.DI},
		{"CE", cfg.Lines.CE},
	} {
		if line.pin < 0 {
			return fmt.Errorf("invalid pin %d for line %s", line.pin, line.name)
		}
		if prev, dup := pins[line.pin]; dup {
			return fmt.Errorf("lines %s and %s share pin %d", prev, line.name, line.pin)
		}
		pins[line.pin] = line.name
	}

	for addr, data := range cfg.Sim.Regs {
		if len(data) > ccb.MaxPayload {
			return fmt.Errorf("sim register 0x%02x holds too many bytes (%d)", addr, len(data))
		}
	}

	return nil
}
