// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/go-lpc/ccb"
	"github.com/go-lpc/ccb/script"
)

// Server serves a CCB bus to remote clients.
type Server struct {
	ctl net.Listener
	msg *log.Logger

	mu  sync.Mutex // serializes bus accesses
	bus script.Bus
}

// Option configures a Server.
type Option func(srv *Server)

// WithLogger sets the logger of the server.
func WithLogger(msg *log.Logger) Option {
	return func(srv *Server) {
		if msg == nil {
			return
		}
		srv.msg = msg
	}
}

// Serve serves bus on the provided TCP address.
func Serve(addr string, bus script.Bus, opts ...Option) error {
	srv, err := Listen(addr, bus, opts...)
	if err != nil {
		return fmt.Errorf("ctl: could not create server: %w", err)
	}
	return srv.Serve()
}

// Listen creates a server listening on the provided TCP address.
func Listen(addr string, bus script.Bus, opts ...Option) (*Server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ctl: could not listen on %q: %w", addr, err)
	}

	srv := &Server{
		ctl: ctl,
		msg: log.New(os.Stdout, "ccb-ctl: ", 0),
		bus: bus,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv, nil
}

// Addr returns the address the server listens on.
func (srv *Server) Addr() net.Addr {
	return srv.ctl.Addr()
}

// Serve accepts and serves connections until the server is closed.
func (srv *Server) Serve() error {
	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("ctl: could not accept connection: %w", err)
		}

		go srv.handle(conn)
	}
}

// Close stops the server from accepting new connections.
// Connections already established are served until their clients quit.
func (srv *Server) Close() error {
	return srv.ctl.Close()
}

func (srv *Server) handle(conn net.Conn) {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	var (
		dec = json.NewDecoder(conn)
		enc = json.NewEncoder(conn)
	)

	for {
		var req request
		err := dec.Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			srv.reply(enc, reply{}, err)
			return
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		name := strings.ToLower(req.Name)
		if name == "quit" {
			srv.reply(enc, reply{}, nil)
			return
		}

		rep, err := srv.process(name, req.Args)
		if err != nil {
			srv.msg.Printf("could not process %q request: %+v", req.Name, err)
		}
		srv.reply(enc, rep, err)
	}
}

func (srv *Server) process(name string, raw *json.RawMessage) (reply, error) {
	var rep reply

	switch name {
	case "init":
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return rep, srv.bus.Init()

	case "write":
		var args writeArgs
		err := decode(name, raw, &args)
		if err != nil {
			return rep, err
		}
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return rep, srv.bus.Write(args.Addr, args.Data)

	case "read":
		var args readArgs
		err := decode(name, raw, &args)
		if err != nil {
			return rep, err
		}
		if args.N < 0 || args.N > ccb.MaxPayload {
			return rep, fmt.Errorf("invalid read length %d: %w", args.N, ccb.ErrLength)
		}
		rep.Data = make([]byte, args.N)
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return rep, srv.bus.Read(args.Addr, rep.Data)

	case "di":
		srv.mu.Lock()
		defer srv.mu.Unlock()
		v, err := srv.bus.DI()
		rep.Level = bool(v)
		return rep, err

	case "run":
		var args runArgs
		err := decode(name, raw, &args)
		if err != nil {
			return rep, err
		}
		s, err := script.Parse(strings.NewReader(args.Script))
		if err != nil {
			return rep, err
		}
		out := new(strings.Builder)
		srv.mu.Lock()
		defer srv.mu.Unlock()
		err = s.Run(srv.bus, out)
		rep.Out = out.String()
		return rep, err

	default:
		return rep, fmt.Errorf("unknown command %q", name)
	}
}

func decode(name string, raw *json.RawMessage, ptr interface{}) error {
	if raw == nil {
		return fmt.Errorf("missing %q arguments", name)
	}
	err := json.Unmarshal(*raw, ptr)
	if err != nil {
		return fmt.Errorf("could not decode %q payload: %w", name, err)
	}
	return nil
}

func (srv *Server) reply(enc *json.Encoder, rep reply, err error) {
	rep.Msg = ok
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}

	err = enc.Encode(rep)
	if err != nil {
		srv.msg.Printf("could not send reply: %+v", err)
	}
}
