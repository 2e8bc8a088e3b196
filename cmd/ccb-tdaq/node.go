// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/ccb"
	"github.com/go-lpc/ccb/conddb"
	"github.com/go-lpc/ccb/config"
	"github.com/go-lpc/ccb/script"
)

const (
	dbName   = "ccb"
	pollFreq = 10 * time.Millisecond
)

// stages are the transfer scripts played on run-control commands.
var stages = []string{"init", "start", "stop"}

type logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type confDB interface {
	BusConfig(ctx context.Context, device string) (config.Config, error)
	Script(ctx context.Context, device, name string) (script.Script, error)
	Close() error
}

var (
	openDB = func(name string) (confDB, error) {
		db, err := conddb.Open(name)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	openBus = func(cfg config.Config) (*config.Bus, error) {
		return config.Open(cfg)
	}
)

type node struct {
	name string // device name
	cfg  string // optional path to a TOML bus description
	freq time.Duration

	mu      sync.Mutex
	bcfg    config.Config
	scripts map[string]script.Script
	bus     *config.Bus

	n    int
	data chan []byte
}

func newNode(name string) *node {
	return &node{
		name: name,
		freq: pollFreq,
		data: make(chan []byte, 1024),
	}
}

func (dev *node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	return dev.configure(ctx.Ctx, ctx.Msg)
}

func (dev *node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	return dev.initialize(ctx.Msg)
}

func (dev *node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	return dev.reset()
}

func (dev *node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return dev.play("start", ctx.Msg)
}

func (dev *node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	dev.mu.Lock()
	n := dev.n
	dev.mu.Unlock()
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	return dev.play("stop", ctx.Msg)
}

func (dev *node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return dev.reset()
}

func (dev *node) di(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

func (dev *node) run(ctx tdaq.Context) error {
	return dev.poll(ctx.Ctx, ctx.Msg)
}

// configure loads the bus description and the transfer scripts of the
// device.
func (dev *node) configure(ctx context.Context, msg logger) error {
	var (
		bcfg config.Config
		err  error
	)

	db, err := openDB(dbName)
	if err != nil {
		if dev.cfg == "" {
			return fmt.Errorf("could not open conditions db: %w", err)
		}
		msg.Errorf("could not open conditions db: %+v", err)
	}
	if db != nil {
		defer db.Close()
	}

	switch dev.cfg {
	case "":
		bcfg, err = db.BusConfig(ctx, dev.name)
	default:
		bcfg, err = config.Load(dev.cfg)
	}
	if err != nil {
		return fmt.Errorf("could not load bus description of %q: %w", dev.name, err)
	}

	scripts := make(map[string]script.Script, len(stages))
	for _, stage := range stages {
		if db == nil {
			break
		}
		s, err := db.Script(ctx, dev.name, stage)
		switch {
		case err == nil:
			scripts[stage] = s
			msg.Infof("loaded %q script (%d operations)", stage, len(s))
		case errors.Is(err, conddb.ErrNotFound):
			msg.Debugf("no %q script for %q", stage, dev.name)
		default:
			return fmt.Errorf("could not load %q script of %q: %w", stage, dev.name, err)
		}
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.bcfg = bcfg
	dev.scripts = scripts
	msg.Infof("configured %q (backend=%s, lines=%+v)", dev.name, bcfg.Backend, bcfg.Lines)
	return nil
}

// initialize opens the bus, puts its lines in the idle state and plays
// the init script.
func (dev *node) initialize(msg logger) error {
	dev.mu.Lock()
	if dev.bus != nil {
		_ = dev.bus.Close()
		dev.bus = nil
	}

	bus, err := openBus(dev.bcfg)
	if err != nil {
		dev.mu.Unlock()
		return fmt.Errorf("could not open bus of %q: %w", dev.name, err)
	}

	err = bus.Init()
	if err != nil {
		_ = bus.Close()
		dev.mu.Unlock()
		return fmt.Errorf("could not initialize bus of %q: %w", dev.name, err)
	}
	dev.bus = bus
	dev.n = 0
	dev.mu.Unlock()

	return dev.play("init", msg)
}

// play runs the named transfer script, if any.
func (dev *node) play(stage string, msg logger) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	s, ok := dev.scripts[stage]
	if !ok {
		return nil
	}
	if dev.bus == nil {
		return fmt.Errorf("could not play %q script: bus not initialized", stage)
	}

	out := new(bytes.Buffer)
	err := s.Run(dev.bus, out)
	logLines(msg, stage, out)
	if err != nil {
		return fmt.Errorf("could not play %q script: %w", stage, err)
	}
	return nil
}

func (dev *node) reset() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.bus == nil {
		return nil
	}
	err := dev.bus.Close()
	dev.bus = nil
	if err != nil {
		return fmt.Errorf("could not close bus of %q: %w", dev.name, err)
	}
	return nil
}

// poll samples the DI line and publishes its level changes until ctx is
// done.
func (dev *node) poll(ctx context.Context, msg logger) error {
	if dev.freq <= 0 {
		return fmt.Errorf("invalid DI polling interval %v", dev.freq)
	}

	tick := time.NewTicker(dev.freq)
	defer tick.Stop()

	var (
		first = true
		last  ccb.Level
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			dev.mu.Lock()
			if dev.bus == nil {
				dev.mu.Unlock()
				continue
			}
			lvl, err := dev.bus.DI()
			dev.mu.Unlock()
			if err != nil {
				msg.Errorf("could not read DI line: %+v", err)
				return fmt.Errorf("could not read DI line: %w", err)
			}
			if !first && lvl == last {
				continue
			}
			first = false
			last = lvl

			select {
			case dev.data <- encodeLevel(lvl, time.Now()):
				dev.mu.Lock()
				dev.n++
				dev.mu.Unlock()
			default:
				msg.Errorf("dropped DI level change (level=%v)", lvl)
			}
		}
	}
}

func encodeLevel(lvl ccb.Level, t time.Time) []byte {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	v := uint8(0)
	if lvl {
		v = 1
	}
	enc.WriteU8(v)
	enc.WriteU64(uint64(t.UnixNano()))
	return buf.Bytes()
}

func decodeLevel(p []byte) (ccb.Level, time.Time, error) {
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	v := dec.ReadU8()
	ns := dec.ReadU64()
	if err := dec.Err(); err != nil {
		return ccb.Low, time.Time{}, fmt.Errorf("could not decode DI level: %w", err)
	}
	return ccb.Level(v == 1), time.Unix(0, int64(ns)), nil
}

func logLines(msg logger, stage string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		msg.Infof("%s: %s", stage, sc.Text())
	}
}
