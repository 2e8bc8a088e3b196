// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/ccb"
	"github.com/go-lpc/ccb/port/ftdi"
	"github.com/go-lpc/ccb/port/gpiomem"
	"github.com/go-lpc/ccb/sim"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err != nil {
		t.Fatalf("invalid default config: %+v", err)
	}
	if got, want := cfg.Backend, "sim"; got != want {
		t.Fatalf("invalid backend: got=%q, want=%q", got, want)
	}
	if got, want := cfg.Delay, ccb.DefaultDelay; got != want {
		t.Fatalf("invalid delay: got=%v, want=%v", got, want)
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("testdata/ftdi.toml")
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}

	want := Default()
	want.Backend = "ftdi"
	want.Delay = 250 * time.Microsecond
	want.Lines = ccb.Lines{DO: 0, CL: 1, DI: 2, CE: 4}
	want.FTDI = FTDI{
		VendorID:  ftdi.VendorID,
		ProductID: ftdi.FT232H,
		Baud:      115200,
	}

	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", cfg, want)
	}

	_, err = Load("testdata/not-there.toml")
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestDecode(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
		want func(cfg *Config)
		err  string
	}{
		{
			name: "empty",
			doc:  "",
			want: func(cfg *Config) {},
		},
		{
			name: "gpiomem",
			doc: `backend = "gpiomem"
[pins]
do = 17
cl = 27
di = 22
ce = 23
[gpiomem]
device = "/dev/mem"
model = "BCM2711"
`,
			want: func(cfg *Config) {
				cfg.Backend = "gpiomem"
				cfg.Lines = ccb.Lines{DO: 17, CL: 27, DI: 22, CE: 23}
				cfg.GPIOMem = GPIOMem{Device: "/dev/mem", Model: gpiomem.BCM2711}
			},
		},
		{
			name: "mcp23008",
			doc: `backend = "mcp23008"
[mcp23008]
bus = 0
addr = 0x21
`,
			want: func(cfg *Config) {
				cfg.Backend = "mcp23008"
				cfg.MCP23008 = MCP23008{Bus: 0, Addr: 0x21}
			},
		},
		{
			name: "chardev",
			doc: `backend = "chardev"
[chardev]
chip = "gpiochip4"
`,
			want: func(cfg *Config) {
				cfg.Backend = "chardev"
				cfg.Chardev = Chardev{Chip: "gpiochip4"}
			},
		},
		{
			name: "unknown-backend",
			doc:  `backend = "serial"`,
			err:  `config: invalid bus description: unknown backend "serial" (want one of chardev, ftdi, gpiomem, mcp23008, periph, sim)`,
		},
		{
			name: "unknown-key",
			doc:  `baud = 9600`,
			err:  `config: invalid bus description: unknown keys baud`,
		},
		{
			name: "invalid-delay",
			doc:  `delay = "1 week"`,
		},
		{
			name: "negative-delay",
			doc:  `delay = "-1ms"`,
			err:  `config: invalid bus description: invalid negative delay -1ms`,
		},
		{
			name: "shared-pin",
			doc: `[pins]
ce = 0
`,
			err: `config: invalid bus description: lines DO and CE share pin 0`,
		},
		{
			name: "negative-pin",
			doc: `[pins]
di = -2
`,
			err: `config: invalid bus description: invalid pin -2 for line DI`,
		},
		{
			name: "invalid-model",
			doc: `[gpiomem]
model = "bcm2712"
`,
			err: `config: invalid bus description: unknown gpiomem model "bcm2712"`,
		},
		{
			name: "invalid-toml",
			doc:  `backend = `,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Decode(tc.doc)
			switch {
			case tc.want == nil && err == nil:
				t.Fatalf("expected an error")
			case tc.want == nil:
				if tc.err != "" && err.Error() != tc.err {
					t.Fatalf("invalid error:\ngot= %q\nwant=%q", err.Error(), tc.err)
				}
				return
			case err != nil:
				t.Fatalf("could not decode config: %+v", err)
			}

			want := Default()
			tc.want(&want)
			if !reflect.DeepEqual(cfg, want) {
				t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", cfg, want)
			}
		})
	}
}

func TestOpenSim(t *testing.T) {
	cfg, err := Load("testdata/sim.toml")
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}

	bus, err := Open(cfg)
	if err != nil {
		t.Fatalf("could not open bus: %+v", err)
	}
	defer bus.Close()

	if got, want := bus.Lines(), cfg.Lines; got != want {
		t.Fatalf("invalid lines: got=%v, want=%v", got, want)
	}
	if got, want := bus.Delay(), time.Duration(0); got != want {
		t.Fatalf("invalid delay: got=%v, want=%v", got, want)
	}
	if bus.Device == nil {
		t.Fatalf("no simulated device")
	}
	if _, ok := bus.Port.(*sim.Port); !ok {
		t.Fatalf("invalid port type %T", bus.Port)
	}

	err = bus.Init()
	if err != nil {
		t.Fatalf("could not initialize bus: %+v", err)
	}

	buf := make([]byte, 3)
	err = bus.Read(0x83, buf)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if got, want := buf, []byte{0x12, 0x34, 0x56}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid payload: got=%x, want=%x", got, want)
	}

	err = bus.Write(0x05, []byte{0xaa, 0xbb})
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	frames := bus.Device.Frames()
	if got, want := len(frames), 2; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	if got, want := frames[1], (sim.Frame{Addr: 0x50, Dir: ccb.Send, Data: []byte{0xbb, 0xaa}}); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid frame:\ngot= %+v\nwant=%+v", got, want)
	}

	err = bus.Close()
	if err != nil {
		t.Fatalf("could not close bus: %+v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	cfg := Default()
	cfg.Backend = "gpiomem"
	cfg.GPIOMem.Device = filepath.Join(t.TempDir(), "not-there")

	_, err := Open(cfg)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("invalid error: %+v", err)
	}

	cfg = Default()
	cfg.Backend = "usb"
	_, err = Open(cfg)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestClose(t *testing.T) {
	orig := openPort
	defer func() { openPort = orig }()

	nclose := 0
	openPort = func(cfg Config) (*Bus, error) {
		return &Bus{
			Port: sim.NewPort(),
			close: func() error {
				nclose++
				if nclose > 1 {
					return errors.New("already closed")
				}
				return nil
			},
		}, nil
	}

	bus, err := Open(Default(), ccb.WithDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("could not open bus: %+v", err)
	}
	if got, want := bus.Delay(), time.Millisecond; got != want {
		t.Fatalf("invalid delay: got=%v, want=%v", got, want)
	}

	for i := 0; i < 2; i++ {
		err = bus.Close()
		if err != nil {
			t.Fatalf("could not close bus (i=%d): %+v", i, err)
		}
	}
	if nclose != 1 {
		t.Fatalf("port closed %d times", nclose)
	}
}
