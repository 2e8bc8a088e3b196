// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ccb_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/ccb"
	"github.com/go-lpc/ccb/sim"
)

var lines = ccb.Lines{DO: 2, CL: 3, DI: 4, CE: 5}

func newBus(t *testing.T) (*ccb.Bus, *sim.Port, *sim.Device) {
	t.Helper()
	var (
		port = sim.NewPort()
		dev  = sim.NewDevice(lines)
	)
	port.Attach(dev)
	bus := ccb.New(port, lines, ccb.WithSleep(func(time.Duration) {}))
	err := bus.Init()
	if err != nil {
		t.Fatalf("could not initialize bus: %+v", err)
	}
	return bus, port, dev
}

func TestInit(t *testing.T) {
	port := sim.NewPort()
	bus := ccb.New(port, lines, ccb.WithSleep(func(time.Duration) {}))

	if n := len(port.Events()); n != 0 {
		t.Fatalf("ccb.New performed %d line accesses", n)
	}

	err := bus.Init()
	if err != nil {
		t.Fatalf("could not initialize bus: %+v", err)
	}

	want := []sim.Event{
		{Op: sim.OpConfigure, Pin: 2, Mode: ccb.Output},
		{Op: sim.OpConfigure, Pin: 3, Mode: ccb.Output},
		{Op: sim.OpConfigure, Pin: 5, Mode: ccb.Output},
		{Op: sim.OpConfigure, Pin: 4, Mode: ccb.InputPullUp},
		{Op: sim.OpWrite, Pin: 2, Level: ccb.Low},
		{Op: sim.OpWrite, Pin: 3, Level: ccb.Low},
		{Op: sim.OpWrite, Pin: 5, Level: ccb.High},
		{Op: sim.OpWrite, Pin: 5, Level: ccb.Low},
	}
	if got := port.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid init sequence:\ngot= %v\nwant=%v", got, want)
	}

	for _, tc := range []struct {
		pin  int
		mode ccb.Mode
		lvl  ccb.Level
	}{
		{2, ccb.Output, ccb.Low},
		{3, ccb.Output, ccb.Low},
		{4, ccb.InputPullUp, ccb.High},
		{5, ccb.Output, ccb.Low},
	} {
		mode, ok := port.Mode(tc.pin)
		if !ok {
			t.Fatalf("pin %d not configured", tc.pin)
		}
		if mode != tc.mode {
			t.Fatalf("invalid mode for pin %d: got=%v, want=%v", tc.pin, mode, tc.mode)
		}
		if got, want := port.Level(tc.pin), tc.lvl; got != want {
			t.Fatalf("invalid level for pin %d: got=%v, want=%v", tc.pin, got, want)
		}
	}
}

func TestWriteScenario(t *testing.T) {
	bus, port, dev := newBus(t)
	port.Reset()

	err := bus.Write(0x05, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	want := []sim.Frame{{Addr: 0x50, Dir: ccb.Send, Data: []byte{0xBB, 0xAA}}}
	if got := sim.Decode(port.Events(), lines); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid decoded frames:\ngot= %#v\nwant=%#v", got, want)
	}
	if got := dev.Frames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid device frames:\ngot= %#v\nwant=%#v", got, want)
	}
	if got, want := want[0].Address(), byte(0x05); got != want {
		t.Fatalf("invalid address: got=0x%02x, want=0x%02x", got, want)
	}

	// CE must only be high while the payload is clocked.
	var (
		ce     ccb.Level
		cl     ccb.Level
		ceLow  int // rising CL edges with CE low
		ceHigh int // rising CL edges with CE high
	)
	for _, ev := range port.Events() {
		if ev.Op != sim.OpWrite {
			continue
		}
		switch ev.Pin {
		case lines.CE:
			ce = ev.Level
		case lines.CL:
			if !cl && ev.Level {
				if ce {
					ceHigh++
				} else {
					ceLow++
				}
			}
			cl = ev.Level
		}
	}
	if ceLow != 8 {
		t.Fatalf("invalid number of address clocks: got=%d, want=8", ceLow)
	}
	if ceHigh != 16 {
		t.Fatalf("invalid number of payload clocks: got=%d, want=16", ceHigh)
	}
	if got, want := port.Level(lines.DO), ccb.Low; got != want {
		t.Fatalf("DO not returned low: got=%v", got)
	}
	if got, want := port.Level(lines.CE), ccb.Low; got != want {
		t.Fatalf("CE not returned low: got=%v", got)
	}
}

func TestWriteReverseOrder(t *testing.T) {
	bus, port, _ := newBus(t)

	for _, n := range []int{0, 1, 2, 5, 64, ccb.MaxPayload} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			port.Reset()
			data := make([]byte, n)
			want := make([]byte, n)
			for i := range data {
				data[i] = byte(i*7 + 1)
				want[n-1-i] = data[i]
			}

			err := bus.Write(0x42, data)
			if err != nil {
				t.Fatalf("could not write: %+v", err)
			}

			frames := sim.Decode(port.Events(), lines)
			if len(frames) != 1 {
				t.Fatalf("invalid number of frames: got=%d, want=1", len(frames))
			}
			got := frames[0].Data
			if n == 0 && got == nil {
				got = []byte{}
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid payload:\ngot= %v\nwant=%v", got, want)
			}
			if got, want := frames[0].Address(), byte(0x42); got != want {
				t.Fatalf("invalid address: got=0x%02x, want=0x%02x", got, want)
			}
		})
	}
}

func TestReadForwardOrder(t *testing.T) {
	bus, port, dev := newBus(t)

	for _, n := range []int{0, 1, 3, ccb.MaxPayload} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			port.Reset()
			want := make([]byte, n)
			for i := range want {
				want[i] = byte(0xff - i)
			}
			dev.SetReg(0x83, want)

			got := make([]byte, n)
			err := bus.Read(0x83, got)
			if err != nil {
				t.Fatalf("could not read: %+v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid payload:\ngot= %v\nwant=%v", got, want)
			}

			frames := sim.Decode(port.Events(), lines)
			if len(frames) != 1 {
				t.Fatalf("invalid number of frames: got=%d, want=1", len(frames))
			}
			if n == 0 {
				if len(frames[0].Data) != 0 {
					t.Fatalf("invalid payload: %v", frames[0].Data)
				}
				return
			}
			if got, want := frames[0].Dir, ccb.Receive; got != want {
				t.Fatalf("invalid direction: got=%v, want=%v", got, want)
			}
			if !reflect.DeepEqual(frames[0].Data, want) {
				t.Fatalf("invalid decoded payload:\ngot= %v\nwant=%v", frames[0].Data, want)
			}
		})
	}
}

func TestReadUnknownAddress(t *testing.T) {
	bus, _, _ := newBus(t)

	// nobody drives DI: pulled-up line reads all ones.
	got := make([]byte, 2)
	err := bus.Read(0x21, got)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if want := []byte{0xff, 0xff}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid payload: got=%v, want=%v", got, want)
	}
}

func TestZeroLength(t *testing.T) {
	for _, dir := range []ccb.Direction{ccb.Send, ccb.Receive} {
		t.Run(dir.String(), func(t *testing.T) {
			bus, port, _ := newBus(t)
			port.Reset()

			err := bus.Transfer(0x31, nil, 0, dir)
			if err != nil {
				t.Fatalf("could not transfer: %+v", err)
			}

			var (
				clocks int
				ces    []ccb.Level
				reads  int
			)
			for _, ev := range port.Events() {
				switch {
				case ev.Op == sim.OpWrite && ev.Pin == lines.CL && bool(ev.Level):
					clocks++
				case ev.Op == sim.OpWrite && ev.Pin == lines.CE:
					ces = append(ces, ev.Level)
				case ev.Op == sim.OpRead:
					reads++
				}
			}
			if clocks != 8 {
				t.Fatalf("invalid number of clocks: got=%d, want=8", clocks)
			}
			if want := []ccb.Level{ccb.High, ccb.Low}; !reflect.DeepEqual(ces, want) {
				t.Fatalf("invalid CE sequence: got=%v, want=%v", ces, want)
			}
			if reads != 0 {
				t.Fatalf("invalid number of DI samples: got=%d, want=0", reads)
			}
		})
	}
}

func TestDI(t *testing.T) {
	bus, _, dev := newBus(t)

	v, err := bus.DI()
	if err != nil {
		t.Fatalf("could not read DI: %+v", err)
	}
	if v != ccb.High {
		t.Fatalf("invalid idle DI: got=%v, want=%v", v, ccb.High)
	}

	dev.SetDI(ccb.Low)
	v, err = bus.DI()
	if err != nil {
		t.Fatalf("could not read DI: %+v", err)
	}
	if v != ccb.Low {
		t.Fatalf("invalid driven DI: got=%v, want=%v", v, ccb.Low)
	}
}

func TestPortFailure(t *testing.T) {
	bus, port, _ := newBus(t)

	var (
		errBoom = errors.New("boom")
		n       = 0
	)
	port.Fail = func(ev sim.Event) error {
		if ev.Op != sim.OpWrite {
			return nil
		}
		n++
		if n == 20 {
			return errBoom
		}
		return nil
	}

	err := bus.Write(0x42, []byte{1, 2, 3})
	if !errors.Is(err, errBoom) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, errBoom)
	}
	if got, want := port.Level(lines.CE), ccb.Low; got != want {
		t.Fatalf("CE left %v after failure", got)
	}

	port.Fail = nil
	err = bus.Write(0x42, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("error not cleared by new transfer: %+v", err)
	}
}
