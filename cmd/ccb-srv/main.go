// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ccb-srv serves a CCB bus to ccb-ctl clients.
//
// Example:
//
//	$> ccb-srv -cfg ./vfd.toml -addr :8866
//	$> ccb-srv -cfg ./vfd.toml -pmon -pmon-dir /var/log/ccb
package main // import "github.com/go-lpc/ccb/cmd/ccb-srv"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-lpc/ccb"
	"github.com/go-lpc/ccb/config"
	"github.com/go-lpc/ccb/ctl"
	"github.com/sbinet/pmon"
)

func main() {
	log.SetPrefix("ccb-srv: ")
	log.SetFlags(0)

	var (
		cfg   = flag.String("cfg", "", "path to a TOML bus description (default: simulated bus)")
		addr  = flag.String("addr", ":8866", "[ip]:port to listen on")
		doMon = flag.Bool("pmon", false, "enable pmon monitoring of the server process")
		dir   = flag.String("pmon-dir", os.TempDir(), "directory where to store pmon logs")
		freq  = flag.Duration("pmon-freq", 1*time.Second, "pmon frequency")
	)

	flag.Parse()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	err := run(*cfg, *addr, *doMon, *dir, *freq, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(cfg, addr string, doMon bool, dir string, freq time.Duration, stop chan os.Signal) error {
	bcfg := config.Default()
	if cfg != "" {
		var err error
		bcfg, err = config.Load(cfg)
		if err != nil {
			return fmt.Errorf("could not load bus description: %w", err)
		}
	}

	bus, err := config.Open(bcfg, ccb.WithLogger(log.New(os.Stdout, "ccb: ", 0)))
	if err != nil {
		return fmt.Errorf("could not open bus: %w", err)
	}
	defer bus.Close()

	err = bus.Init()
	if err != nil {
		return fmt.Errorf("could not initialize bus: %w", err)
	}

	if doMon {
		err = monitor(dir, freq)
		if err != nil {
			return fmt.Errorf("could not monitor server: %w", err)
		}
	}

	srv, err := ctl.Listen(addr, bus)
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}

	go func() {
		<-stop
		log.Printf("shutting down...")
		_ = srv.Close()
	}()

	log.Printf("serving %s bus (%v) on %q...", bcfg.Backend, bcfg.Lines, srv.Addr())
	err = srv.Serve()
	if err != nil {
		return fmt.Errorf("could not serve bus: %w", err)
	}
	return nil
}

// monitor records the resource usage of the server process until it exits.
func monitor(dir string, freq time.Duration) error {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return fmt.Errorf("could not start monitoring (pid=%d): %w", pid, err)
	}

	fname := filepath.Join(dir, fmt.Sprintf("ccb-srv-%d-pmon.log", pid))
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		log.Printf("run pmon (pid=%d, log=%q)...", pid, fname)
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return nil
}
