// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb provides an in-memory "fakedb" SQL driver serving
// canned rows.
package fakedb // import "github.com/go-lpc/ccb/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

// Name is the name under which the driver is registered.
const Name = "fakedb"

// Query is a query received by the driver.
type Query struct {
	SQL  string
	Args []driver.Value
}

var state struct {
	run sync.Mutex // serializes Run calls

	mu      sync.Mutex
	rows    Rows
	err     error
	queries []Query
}

// Run runs f while every query returns a copy of rows.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	return run(ctx, rows, nil, f)
}

// Fail runs f while every query fails with err.
func Fail(ctx context.Context, err error, f func(ctx context.Context) error) error {
	return run(ctx, Rows{}, err, f)
}

func run(ctx context.Context, rows Rows, err error, f func(ctx context.Context) error) error {
	state.run.Lock()
	defer state.run.Unlock()

	state.mu.Lock()
	state.rows = rows
	state.err = err
	state.queries = nil
	state.mu.Unlock()

	return f(ctx)
}

// Queries returns the queries received during the current Run.
func Queries() []Query {
	state.mu.Lock()
	defer state.mu.Unlock()
	return append([]Query(nil), state.queries...)
}

func init() {
	sql.Register(Name, &Driver{})
}

// Driver is the fakedb SQL driver.
type Driver struct{}

func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{query: query}, nil
}

func (c *Conn) Close() error {
	return nil
}

func (c *Conn) Begin() (driver.Tx, error) {
	return nil, errors.New("fakedb: transactions not supported")
}

type Stmt struct {
	query string
}

func (stmt *Stmt) Close() error {
	return nil
}

// NumInput returns -1: placeholders are not checked.
func (stmt *Stmt) NumInput() int {
	return -1
}

func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.queries = append(state.queries, Query{SQL: stmt.query, Args: args})
	if state.err != nil {
		return nil, state.err
	}
	return driver.RowsAffected(1), nil
}

func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.queries = append(state.queries, Query{SQL: stmt.query, Args: args})
	if state.err != nil {
		return nil, state.err
	}
	rows := state.rows
	return &rows, nil
}

// Rows holds the column names and values served by a query.
type Rows struct {
	Names  []string
	Values [][]driver.Value
}

func (rows *Rows) Columns() []string {
	return rows.Names
}

func (rows *Rows) Close() error {
	return nil
}

func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
