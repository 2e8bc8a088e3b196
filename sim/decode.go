// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import "github.com/go-lpc/ccb"

// Decode rebuilds the CCB transfers from a sequence of line accesses.
//
// DO is sampled on each rising edge of CL: LSB first while CE is low
// (address byte), LSB first while CE is high (sent payload). Levels read
// from DI while CE is high are assembled MSB first (received payload).
// CE pulses not preceded by a complete address byte are ignored.
func Decode(evts []Event, lines ccb.Lines) []Frame {
	var (
		frames []Frame
		do, cl ccb.Level
		ce     ccb.Level

		addr  byte
		valid bool
		shift byte
		nbits int

		cur *Frame
		in  []byte
		ibit int
	)

	for _, ev := range evts {
		switch ev.Op {
		case OpWrite:
			switch ev.Pin {
			case lines.DO:
				do = ev.Level
			case lines.CL:
				rising := !cl && ev.Level
				cl = ev.Level
				if !rising {
					continue
				}
				if do {
					shift |= 1 << nbits
				}
				nbits++
				if nbits < 8 {
					continue
				}
				switch {
				case cur == nil:
					addr = shift
					valid = true
				default:
					cur.Data = append(cur.Data, shift)
				}
				shift = 0
				nbits = 0

			case lines.CE:
				switch {
				case !bool(ce) && bool(ev.Level):
					shift = 0
					nbits = 0
					in = nil
					ibit = 0
					if valid {
						cur = &Frame{Addr: addr, Dir: ccb.Send}
					}
				case bool(ce) && !bool(ev.Level):
					if cur != nil {
						if ibit > 0 {
							cur.Dir = ccb.Receive
							cur.Data = in
						}
						frames = append(frames, *cur)
					}
					cur = nil
					valid = false
					shift = 0
					nbits = 0
				}
				ce = ev.Level
			}

		case OpRead:
			if ev.Pin != lines.DI || cur == nil {
				continue
			}
			if ibit%8 == 0 {
				in = append(in, 0)
			}
			if ev.Level {
				in[len(in)-1] |= 1 << (7 - ibit%8)
			}
			ibit++
		}
	}
	return frames
}
