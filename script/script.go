// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package script reads and plays CCB transfer scripts.
//
// A script is a text file holding one operation per line. Fields are
// separated by ';' and '#' starts a comment:
//
//	init                 # initialize the bus
//	w;0x82;01 02 0a      # write 3 bytes (buffer order) to 0x82
//	r;0x83;4             # read 4 bytes from 0x83
//	di                   # sample the DI line
//	sleep;10ms           # pause
package script // import "github.com/go-lpc/ccb/script"

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/ccb"
)

// Op is a script operation.
type Op uint8

const (
	OpInit Op = iota
	OpWrite
	OpRead
	OpDI
	OpSleep
)

func (op Op) String() string {
	switch op {
	case OpInit:
		return "init"
	case OpWrite:
		return "w"
	case OpRead:
		return "r"
	case OpDI:
		return "di"
	case OpSleep:
		return "sleep"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

// Cmd is a single script operation.
type Cmd struct {
	Op    Op
	Addr  byte          // peripheral address of a transfer
	Data  []byte        // payload of a write
	N     int           // number of bytes of a read
	Delay time.Duration // duration of a sleep
}

func (cmd Cmd) String() string {
	switch cmd.Op {
	case OpWrite:
		return fmt.Sprintf("w;0x%02x;%s", cmd.Addr, hexBytes(cmd.Data))
	case OpRead:
		return fmt.Sprintf("r;0x%02x;%d", cmd.Addr, cmd.N)
	case OpSleep:
		return fmt.Sprintf("sleep;%v", cmd.Delay)
	default:
		return cmd.Op.String()
	}
}

// Script is a sequence of operations.
type Script []Cmd

func (s Script) String() string {
	o := new(strings.Builder)
	for _, cmd := range s {
		o.WriteString(cmd.String())
		o.WriteString("\n")
	}
	return o.String()
}

// ParseFile reads the script stored in the named file.
func ParseFile(fname string) (Script, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("script: could not open script file: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("script: could not parse %q: %w", fname, err)
	}
	return s, nil
}

// Parse reads a script from r.
func Parse(r io.Reader) (Script, error) {
	var (
		sc   = bufio.NewScanner(r)
		line int
		s    Script
	)
	for sc.Scan() {
		line++
		cmd, ok, err := ParseLine(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("script: invalid line %d: %w", line, err)
		}
		if !ok {
			continue
		}
		s = append(s, cmd)
	}

	err := sc.Err()
	if err != nil {
		return nil, fmt.Errorf("script: could not scan script: %w", err)
	}
	return s, nil
}

// ParseLine decodes one line of a script.
// ParseLine returns false for blank and comment lines.
func ParseLine(txt string) (Cmd, bool, error) {
	if i := strings.Index(txt, "#"); i >= 0 {
		txt = txt[:i]
	}
	txt = strings.TrimSpace(txt)
	if txt == "" {
		return Cmd{}, false, nil
	}

	toks := strings.Split(txt, ";")
	for i, tok := range toks {
		toks[i] = strings.TrimSpace(tok)
	}

	var (
		cmd  Cmd
		err  error
		want int
	)
	switch strings.ToLower(toks[0]) {
	case "init":
		cmd.Op = OpInit
		want = 1
	case "di":
		cmd.Op = OpDI
		want = 1
	case "w", "write":
		cmd.Op = OpWrite
		want = 3
	case "r", "read":
		cmd.Op = OpRead
		want = 3
	case "sleep":
		cmd.Op = OpSleep
		want = 2
	default:
		return cmd, false, fmt.Errorf("unknown operation %q", toks[0])
	}
	if len(toks) != want {
		return cmd, false, fmt.Errorf("invalid number of fields for %q (got=%d, want=%d)", txt, len(toks), want)
	}

	switch cmd.Op {
	case OpWrite:
		cmd.Addr, err = parseAddr(toks[1])
		if err != nil {
			return cmd, false, err
		}
		cmd.Data, err = parseBytes(toks[2])
		if err != nil {
			return cmd, false, err
		}

	case OpRead:
		cmd.Addr, err = parseAddr(toks[1])
		if err != nil {
			return cmd, false, err
		}
		n, err := strconv.Atoi(toks[2])
		if err != nil {
			return cmd, false, fmt.Errorf("could not parse read length %q: %w", toks[2], err)
		}
		if n < 0 || n > ccb.MaxPayload {
			return cmd, false, fmt.Errorf("invalid read length %d: %w", n, ccb.ErrLength)
		}
		cmd.N = n

	case OpSleep:
		cmd.Delay, err = time.ParseDuration(toks[1])
		if err != nil {
			return cmd, false, fmt.Errorf("could not parse sleep duration %q: %w", toks[1], err)
		}
		if cmd.Delay < 0 {
			return cmd, false, fmt.Errorf("invalid negative sleep duration %v", cmd.Delay)
		}
	}

	return cmd, true, nil
}

func parseAddr(tok string) (byte, error) {
	v, err := strconv.ParseUint(tok, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("could not parse address %q: %w", tok, err)
	}
	return byte(v), nil
}

func parseBytes(tok string) ([]byte, error) {
	fields := strings.Fields(tok)
	if len(fields) > ccb.MaxPayload {
		return nil, fmt.Errorf("invalid payload length %d: %w", len(fields), ccb.ErrLength)
	}
	data := make([]byte, len(fields))
	for i, field := range fields {
		field = strings.TrimPrefix(strings.ToLower(field), "0x")
		v, err := strconv.ParseUint(field, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("could not parse payload byte %q: %w", fields[i], err)
		}
		data[i] = byte(v)
	}
	return data, nil
}

func hexBytes(data []byte) string {
	o := make([]string, len(data))
	for i, v := range data {
		o[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(o, " ")
}
