// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ccb implements a bit-banged driver for the Sanyo CCB
// (Computer Control Bus).
//
// CCB is a chip-to-chip communication protocol developed by Sanyo.
// It is similar to Philips' I2C in its purpose, but much simpler.
// A CCB bus is made of four lines:
//   - DO, data out of the controller,
//   - CL, the clock (resting low between transfers),
//   - DI, data into the controller,
//   - CE, chip enable, selecting the address or the data phase.
//
// The lines are driven through a Port, the platform digital I/O layer.
// Implementations of Port for various hardware live under the port
// directory; package sim provides a simulated one.
package ccb // import "github.com/go-lpc/ccb"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of ccb and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/ccb"
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
