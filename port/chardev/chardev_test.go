// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chardev

import (
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/go-lpc/ccb"
	"github.com/warthog618/go-gpiocdev"
)

type fakeLine struct {
	v      int
	vals   []int
	cfgs   [][]gpiocdev.LineConfigOption
	closed bool
	err    error
}

func (l *fakeLine) SetValue(v int) error {
	if l.err != nil {
		return l.err
	}
	l.v = v
	l.vals = append(l.vals, v)
	return nil
}

func (l *fakeLine) Value() (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	return l.v, nil
}

func (l *fakeLine) Reconfigure(opts ...gpiocdev.LineConfigOption) error {
	if l.err != nil {
		return l.err
	}
	l.cfgs = append(l.cfgs, opts)
	return nil
}

func (l *fakeLine) Close() error {
	l.closed = true
	return l.err
}

type fakeChip struct {
	lines  map[int]*fakeLine
	reqs   map[int]ccb.Mode
	closed bool
	err    error // error returned by requestLine
}

func newFakeChip() *fakeChip {
	return &fakeChip{
		lines: make(map[int]*fakeLine),
		reqs:  make(map[int]ccb.Mode),
	}
}

func (c *fakeChip) requestLine(offset int, mode ccb.Mode) (line, error) {
	if c.err != nil {
		return nil, c.err
	}
	l := &fakeLine{}
	if mode == ccb.InputPullUp {
		l.v = 1
	}
	c.lines[offset] = l
	c.reqs[offset] = mode
	return l, nil
}

func (c *fakeChip) Close() error {
	c.closed = true
	return nil
}

func withFake(t *testing.T, c *fakeChip) {
	t.Helper()
	openChip = func(name string) (chip, error) {
		if name != "gpiochip0" {
			return nil, errors.New("no such chip")
		}
		return c, nil
	}
	t.Cleanup(func() { openChip = openChipImpl })
}

func TestOpen(t *testing.T) {
	c := newFakeChip()
	withFake(t, c)

	_, err := Open("gpiochip42")
	if got, want := err.Error(), `chardev: could not open chip "gpiochip42": no such chip`; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}

	p, err := Open("gpiochip0")
	if err != nil {
		t.Fatalf("could not open chip: %+v", err)
	}

	for _, pin := range []int{17, 27} {
		err = p.Configure(pin, ccb.Output)
		if err != nil {
			t.Fatalf("could not configure line %d: %+v", pin, err)
		}
	}

	c.lines[27].err = io.EOF
	err = p.Close()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid close error: %+v", err)
	}
	if got, want := err.Error(), "chardev: could not release line 27: EOF"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
	for _, pin := range []int{17, 27} {
		if !c.lines[pin].closed {
			t.Fatalf("line %d not released", pin)
		}
	}
	if !c.closed {
		t.Fatalf("chip not closed")
	}
}

func TestPort(t *testing.T) {
	c := newFakeChip()
	withFake(t, c)

	p, err := Open("gpiochip0")
	if err != nil {
		t.Fatalf("could not open chip: %+v", err)
	}
	defer p.Close()

	err = p.Configure(5, ccb.Output)
	if err != nil {
		t.Fatalf("could not configure line: %+v", err)
	}
	err = p.Configure(5, ccb.Output)
	if err != nil {
		t.Fatalf("could not configure line: %+v", err)
	}
	if got := len(c.lines[5].cfgs); got != 0 {
		t.Fatalf("line reconfigured %d times", got)
	}

	err = p.Write(5, ccb.High)
	if err != nil {
		t.Fatalf("could not write line: %+v", err)
	}
	err = p.Write(5, ccb.Low)
	if err != nil {
		t.Fatalf("could not write line: %+v", err)
	}
	if got, want := c.lines[5].vals, []int{1, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid values:\ngot= %v\nwant=%v", got, want)
	}

	err = p.Configure(5, ccb.InputPullUp)
	if err != nil {
		t.Fatalf("could not reconfigure line: %+v", err)
	}
	want := [][]gpiocdev.LineConfigOption{lineConfig(ccb.InputPullUp)}
	if got := c.lines[5].cfgs; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid line config:\ngot= %v\nwant=%v", got, want)
	}

	err = p.Write(5, ccb.High)
	if err == nil {
		t.Fatalf("expected an error writing an input line")
	}

	c.lines[5].v = 1
	v, err := p.Read(5)
	if err != nil {
		t.Fatalf("could not read line: %+v", err)
	}
	if v != ccb.High {
		t.Fatalf("invalid level: got=%v, want=%v", v, ccb.High)
	}
}

func TestBus(t *testing.T) {
	c := newFakeChip()
	withFake(t, c)

	p, err := Open("gpiochip0")
	if err != nil {
		t.Fatalf("could not open chip: %+v", err)
	}
	defer p.Close()

	lines := ccb.Lines{DO: 2, CL: 3, DI: 4, CE: 5}
	bus := ccb.New(p, lines, ccb.WithDelay(0))
	err = bus.Init()
	if err != nil {
		t.Fatalf("could not initialize bus: %+v", err)
	}

	for _, tc := range []struct {
		pin  int
		mode ccb.Mode
	}{
		{lines.DO, ccb.Output},
		{lines.CL, ccb.Output},
		{lines.DI, ccb.InputPullUp},
		{lines.CE, ccb.Output},
	} {
		if got, want := c.reqs[tc.pin], tc.mode; got != want {
			t.Fatalf("invalid mode for line %d: got=%v, want=%v", tc.pin, got, want)
		}
	}

	if got, want := c.lines[lines.CE].vals, []int{1, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid CE values:\ngot= %v\nwant=%v", got, want)
	}

	buf := make([]byte, 2)
	err = bus.Read(0x42, buf)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if got, want := buf, []byte{0xff, 0xff}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid payload: got=%x, want=%x", got, want)
	}
}

func TestErrors(t *testing.T) {
	c := newFakeChip()
	withFake(t, c)

	p, err := Open("gpiochip0")
	if err != nil {
		t.Fatalf("could not open chip: %+v", err)
	}
	defer p.Close()

	err = p.Configure(1, ccb.Mode(42))
	if got, want := err.Error(), "chardev: invalid mode Mode(42) for line 1"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}

	err = p.Write(1, ccb.High)
	if got, want := err.Error(), "chardev: line 1 is not an output"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}

	_, err = p.Read(1)
	if got, want := err.Error(), "chardev: line 1 is not requested"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}

	c.err = io.EOF
	err = p.Configure(1, ccb.Output)
	if got, want := err.Error(), "chardev: could not request line 1 as output: EOF"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
	c.err = nil

	err = p.Configure(1, ccb.Output)
	if err != nil {
		t.Fatalf("could not configure line: %+v", err)
	}

	c.lines[1].err = io.EOF
	for _, tc := range []struct {
		name string
		fct  func() error
		want string
	}{
		{
			name: "reconfigure",
			fct:  func() error { return p.Configure(1, ccb.InputPullUp) },
			want: "chardev: could not reconfigure line 1 as input-pull-up: EOF",
		},
		{
			name: "write",
			fct:  func() error { return p.Write(1, ccb.High) },
			want: "chardev: could not set line 1 high: EOF",
		},
		{
			name: "read",
			fct: func() error {
				_, err := p.Read(1)
				return err
			},
			want: "chardev: could not read line 1: EOF",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fct()
			if !errors.Is(err, io.EOF) {
				t.Fatalf("invalid error: %+v", err)
			}
			if got, want := err.Error(), tc.want; got != want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
			}
		})
	}
	c.lines[1].err = nil
}
