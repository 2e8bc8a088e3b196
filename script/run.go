// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package script

import (
	"fmt"
	"io"
	"time"

	"github.com/go-lpc/ccb"
)

// Bus is the set of bus operations a script may use.
type Bus interface {
	Init() error
	Write(addr byte, data []byte) error
	Read(addr byte, data []byte) error
	DI() (ccb.Level, error)
}

var _ Bus = (*ccb.Bus)(nil)

var sleep = time.Sleep

// Run plays the script on bus.
// Results of reads and DI samples are written to w, one per line, in
// the script syntax.
func (s Script) Run(bus Bus, w io.Writer) error {
	for i, cmd := range s {
		err := cmd.Run(bus, w)
		if err != nil {
			return fmt.Errorf("script: could not run operation #%d (%v): %w", i, cmd, err)
		}
	}
	return nil
}

// Run plays a single operation on bus.
func (cmd Cmd) Run(bus Bus, w io.Writer) error {
	switch cmd.Op {
	case OpInit:
		return bus.Init()

	case OpWrite:
		return bus.Write(cmd.Addr, cmd.Data)

	case OpRead:
		data := make([]byte, cmd.N)
		err := bus.Read(cmd.Addr, data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "r;0x%02x;%s\n", cmd.Addr, hexBytes(data))
		return err

	case OpDI:
		v, err := bus.DI()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "di;%v\n", v)
		return err

	case OpSleep:
		sleep(cmd.Delay)
		return nil

	default:
		return fmt.Errorf("invalid operation %v", cmd.Op)
	}
}
