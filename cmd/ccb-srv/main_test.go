// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/go-lpc/ccb/ctl"
)

func TestRun(t *testing.T) {
	tmp := t.TempDir()
	cfg := filepath.Join(tmp, "bus.toml")
	err := os.WriteFile(cfg, []byte(`backend = "sim"
delay = "0s"

[[sim.regs]]
addr = 0x83
data = [0x01, 0x02]
`), 0644)
	if err != nil {
		t.Fatalf("could not create bus description: %+v", err)
	}

	port, err := getTCPPort()
	if err != nil {
		t.Fatalf("could not get TCP port: %+v", err)
	}
	addr := "localhost:" + port

	var (
		stop  = make(chan os.Signal, 1)
		errch = make(chan error, 1)
	)
	go func() {
		errch <- run(cfg, addr, false, tmp, time.Second, stop)
	}()

	var cli *ctl.Client
	for i := 0; i < 50; i++ {
		cli, err = ctl.Dial(addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("could not dial server: %+v", err)
	}

	buf := make([]byte, 2)
	err = cli.Read(0x83, buf)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if got, want := buf, []byte{0x01, 0x02}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid payload: got=%x, want=%x", got, want)
	}

	err = cli.Close()
	if err != nil {
		t.Fatalf("could not close client: %+v", err)
	}

	stop <- os.Interrupt
	select {
	case err := <-errch:
		if err != nil {
			t.Fatalf("could not run server: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestRunFail(t *testing.T) {
	stop := make(chan os.Signal, 1)

	err := run(filepath.Join(t.TempDir(), "not-there.toml"), ":0", false, "", time.Second, stop)
	if err == nil {
		t.Fatalf("expected an error")
	}

	err = run("", ":invalid", false, "", time.Second, stop)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func getTCPPort() (string, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return "", err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return "", err
	}
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port), nil
}
