// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ccb-tdaq starts a TDAQ node driving a CCB peripheral.
//
// Usage: ccb-tdaq [tdaq-options] DEVICE [BUS.toml]
//
// The bus description is read from BUS.toml when provided, or from the
// configuration database otherwise. The "init", "start" and "stop"
// transfer scripts of DEVICE are retrieved from the configuration
// database and played on the /init, /start and /stop commands.
//
// Level changes of the DI line are published on the /di output.
package main // import "github.com/go-lpc/ccb/cmd/ccb-tdaq"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
)

func main() {
	cmd := flags.New()
	if len(cmd.Args) == 0 {
		log.Fatalf("missing device name")
	}

	dev := newNode(cmd.Args[0])
	if len(cmd.Args) > 1 {
		dev.cfg = cmd.Args[1]
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/di", dev.di)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
