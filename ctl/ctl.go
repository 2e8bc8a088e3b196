// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ctl exposes a CCB bus over the network.
//
// Requests and replies are JSON values exchanged over a TCP connection:
//
//	{"name": "init"}
//	{"name": "write", "args": {"addr": 130, "data": "AQIK"}}
//	{"name": "read",  "args": {"addr": 131, "n": 4}}
//	{"name": "di"}
//	{"name": "run",   "args": {"script": "init\nr;0x83;4\n"}}
//	{"name": "quit"}
//
// Every request is answered with a reply whose "msg" field is "ok" on
// success, or holds the error message.
package ctl // import "github.com/go-lpc/ccb/ctl"

import (
	"encoding/json"
)

type request struct {
	Name string           `json:"name"`
	Args *json.RawMessage `json:"args,omitempty"`
}

type writeArgs struct {
	Addr byte   `json:"addr"`
	Data []byte `json:"data"`
}

type readArgs struct {
	Addr byte `json:"addr"`
	N    int  `json:"n"`
}

type runArgs struct {
	Script string `json:"script"`
}

type reply struct {
	Msg   string `json:"msg"`
	Data  []byte `json:"data,omitempty"`
	Level bool   `json:"level,omitempty"`
	Out   string `json:"out,omitempty"`
}

const ok = "ok"
