// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ccb

import (
	"log"
	"time"
)

// Option configures a Bus.
type Option func(bus *Bus)

// WithDelay sets the base delay of the bus, i.e. half the clock period.
func WithDelay(d time.Duration) Option {
	return func(bus *Bus) {
		if d < 0 {
			d = 0
		}
		bus.delay = d
	}
}

// WithSleep sets the function used to wait between line transitions.
// The function must block for at least the provided duration.
func WithSleep(sleep func(time.Duration)) Option {
	return func(bus *Bus) {
		if sleep == nil {
			sleep = time.Sleep
		}
		bus.sleep = sleep
	}
}

// WithLogger sets the logger used by the bus.
func WithLogger(msg *log.Logger) Option {
	return func(bus *Bus) {
		if msg == nil {
			return
		}
		bus.msg = msg
	}
}
