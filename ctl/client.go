// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/go-lpc/ccb"
	"github.com/go-lpc/ccb/script"
)

// Client drives a remote CCB bus.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

var _ script.Bus = (*Client)(nil)

// Dial connects to the server at the provided TCP address.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ctl: could not dial %q: %w", addr, err)
	}
	return &Client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// Close ends the session and closes the connection.
func (c *Client) Close() error {
	_, err := c.send("quit", nil)
	if cerr := c.conn.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("ctl: could not close connection: %w", cerr)
	}
	return err
}

// Init initializes the remote bus.
func (c *Client) Init() error {
	_, err := c.send("init", nil)
	return err
}

// Write sends data to the peripheral at addr.
func (c *Client) Write(addr byte, data []byte) error {
	_, err := c.send("write", writeArgs{Addr: addr, Data: data})
	return err
}

// Read receives len(data) bytes from the peripheral at addr.
func (c *Client) Read(addr byte, data []byte) error {
	rep, err := c.send("read", readArgs{Addr: addr, N: len(data)})
	if err != nil {
		return err
	}
	if len(rep.Data) != len(data) {
		return fmt.Errorf("ctl: invalid read reply length (got=%d, want=%d)", len(rep.Data), len(data))
	}
	copy(data, rep.Data)
	return nil
}

// DI returns the level of the remote DI line.
func (c *Client) DI() (ccb.Level, error) {
	rep, err := c.send("di", nil)
	if err != nil {
		return ccb.Low, err
	}
	return ccb.Level(rep.Level), nil
}

// Run plays a script on the remote bus and copies its output to w.
func (c *Client) Run(s script.Script, w io.Writer) error {
	rep, err := c.send("run", runArgs{Script: s.String()})
	if rep.Out != "" {
		_, werr := io.WriteString(w, rep.Out)
		if werr != nil && err == nil {
			err = fmt.Errorf("ctl: could not write script output: %w", werr)
		}
	}
	return err
}

func (c *Client) send(name string, args interface{}) (reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := request{Name: name}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return reply{}, fmt.Errorf("ctl: could not encode %q arguments: %w", name, err)
		}
		msg := json.RawMessage(raw)
		req.Args = &msg
	}

	err := c.enc.Encode(req)
	if err != nil {
		return reply{}, fmt.Errorf("ctl: could not send %q request: %w", name, err)
	}

	var rep reply
	err = c.dec.Decode(&rep)
	if err != nil {
		return rep, fmt.Errorf("ctl: could not read %q reply: %w", name, err)
	}
	if rep.Msg != ok {
		return rep, fmt.Errorf("ctl: %q request failed: %s", name, rep.Msg)
	}
	return rep, nil
}
