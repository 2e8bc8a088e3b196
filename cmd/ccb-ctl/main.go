// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ccb-ctl drives a CCB bus, either directly or through a ccb-srv
// server.
//
// Usage: ccb-ctl [options] <command> [args...]
//
// Commands:
//
//	init                  initialize the bus
//	write ADDR HEX...     write bytes (buffer order) to the peripheral at ADDR
//	read  ADDR N          read N bytes from the peripheral at ADDR
//	di                    sample the DI line
//	run   FILE            play a transfer script
//	shell                 start an interactive shell
//
// Example:
//
//	$> ccb-ctl -cfg ./vfd.toml write 0x67 00 00 5c
//	$> ccb-ctl -addr rpi-01:8866 read 0x83 2
//	$> ccb-ctl -addr rpi-01:8866 shell
//	ccb> r;0x83;2
//	r;0x83;ca fe
package main // import "github.com/go-lpc/ccb/cmd/ccb-ctl"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/ccb/config"
	"github.com/go-lpc/ccb/ctl"
	"github.com/go-lpc/ccb/script"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("ccb-ctl: ")
	log.SetFlags(0)

	var (
		cfg  = flag.String("cfg", "", "path to a TOML bus description (default: simulated bus)")
		addr = flag.String("addr", "", "[ip]:port of a ccb-srv server to connect to")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ccb-ctl [options] <command> [args...]

Commands:
  init                  initialize the bus
  write ADDR HEX...     write bytes (buffer order) to the peripheral at ADDR
  read  ADDR N          read N bytes from the peripheral at ADDR
  di                    sample the DI line
  run   FILE            play a transfer script
  shell                 start an interactive shell

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing command")
	}

	bus, err := open(*cfg, *addr)
	if err != nil {
		log.Fatalf("could not open bus: %+v", err)
	}
	defer bus.Close()

	switch flag.Arg(0) {
	case "shell":
		err = shell(bus, os.Stdout)
	default:
		err = run(bus, flag.Args(), os.Stdout)
	}
	if err != nil {
		_ = bus.Close()
		log.Fatalf("%+v", err)
	}
}

type bus interface {
	script.Bus
	io.Closer
}

func open(cfg, addr string) (bus, error) {
	if addr != "" {
		return ctl.Dial(addr)
	}

	bcfg := config.Default()
	if cfg != "" {
		var err error
		bcfg, err = config.Load(cfg)
		if err != nil {
			return nil, err
		}
	}

	b, err := config.Open(bcfg)
	if err != nil {
		return nil, err
	}

	// a local port starts unconfigured.
	err = b.Init()
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func run(bus script.Bus, args []string, w io.Writer) error {
	if args[0] == "run" {
		if len(args) != 2 {
			return fmt.Errorf("invalid number of arguments for %q (got=%d, want=1)", args[0], len(args)-1)
		}
		s, err := script.ParseFile(args[1])
		if err != nil {
			return err
		}
		err = s.Run(bus, w)
		if err != nil {
			return fmt.Errorf("could not run %q: %w", filepath.Base(args[1]), err)
		}
		return nil
	}

	cmd, err := parseArgs(args)
	if err != nil {
		return err
	}
	return script.Script{cmd}.Run(bus, w)
}

// parseArgs converts command line arguments into a script operation.
func parseArgs(args []string) (script.Cmd, error) {
	var line string
	switch name := args[0]; name {
	case "init", "di":
		if len(args) != 1 {
			return script.Cmd{}, fmt.Errorf("invalid number of arguments for %q (got=%d, want=0)", name, len(args)-1)
		}
		line = name
	case "write":
		if len(args) < 2 {
			return script.Cmd{}, fmt.Errorf("missing address for %q", name)
		}
		line = "w;" + args[1] + ";" + strings.Join(args[2:], " ")
	case "read":
		if len(args) != 3 {
			return script.Cmd{}, fmt.Errorf("invalid number of arguments for %q (got=%d, want=2)", name, len(args)-1)
		}
		line = "r;" + args[1] + ";" + args[2]
	default:
		return script.Cmd{}, fmt.Errorf("unknown command %q", name)
	}

	cmd, _, err := script.ParseLine(line)
	if err != nil {
		return cmd, fmt.Errorf("invalid %q command: %w", args[0], err)
	}
	return cmd, nil
}

type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func shell(bus script.Bus, w io.Writer) error {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	return repl(term, bus, w)
}

// repl reads script lines from the prompt and plays them on bus until
// the input is exhausted or "quit" is entered.
func repl(term prompter, bus script.Bus, w io.Writer) error {
	for {
		line, err := term.Prompt("ccb> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		}
		term.AppendHistory(line)

		cmd, ok, err := script.ParseLine(line)
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			continue
		}
		if !ok {
			continue
		}

		err = cmd.Run(bus, w)
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			continue
		}
	}
}
