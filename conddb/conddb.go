// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb retrieves bus descriptions and transfer scripts from
// the configuration database.
//
// The database holds two tables:
//   - devices(name, config, datetime): TOML bus descriptions, by device,
//   - scripts(identifier, device, name, body, datetime): transfer scripts.
package conddb // import "github.com/go-lpc/ccb/conddb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/go-lpc/ccb/config"
	"github.com/go-lpc/ccb/script"
)

const (
	host = "localhost"

	timeout = 5 * time.Second
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// ErrNotFound is returned when no row matches a query.
var ErrNotFound = errors.New("conddb: not found")

// DB exposes convenience methods to retrieve configuration data from
// the database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// BusConfig returns the latest bus description of a device.
func (db *DB) BusConfig(ctx context.Context, device string) (config.Config, error) {
	var doc string
	err := db.queryOne(
		ctx, "bus config", &doc,
		"SELECT config FROM devices WHERE name=? ORDER BY datetime DESC LIMIT 1",
		device,
	)
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Decode(doc)
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not decode bus config of %q: %w", device, err)
	}
	return cfg, nil
}

// LastScript returns the most recent transfer script of a device.
func (db *DB) LastScript(ctx context.Context, device string) (script.Script, error) {
	var body string
	err := db.queryOne(
		ctx, "last script", &body,
		"SELECT body FROM scripts WHERE device=? ORDER BY datetime DESC LIMIT 1",
		device,
	)
	if err != nil {
		return nil, err
	}
	return parse(device, "", body)
}

// Script returns the most recent version of the named transfer script
// of a device.
func (db *DB) Script(ctx context.Context, device, name string) (script.Script, error) {
	var body string
	err := db.queryOne(
		ctx, "script "+name, &body,
		"SELECT body FROM scripts WHERE device=? AND name=? ORDER BY datetime DESC LIMIT 1",
		device, name,
	)
	if err != nil {
		return nil, err
	}
	return parse(device, name, body)
}

// ScriptNames returns the sorted names of the transfer scripts of a device.
func (db *DB) ScriptNames(ctx context.Context, device string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT DISTINCT name FROM scripts WHERE device=? ORDER BY name",
		device,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query script names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return names, fmt.Errorf("conddb: could not get script name: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return names, fmt.Errorf("conddb: could not scan db for script names: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return names, fmt.Errorf("conddb: context error while retrieving script names: %w", err)
	}

	return names, nil
}

func (db *DB) queryOne(ctx context.Context, what string, dst *string, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("conddb: could not query %s: %w", what, err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		err = rows.Scan(dst)
		if err != nil {
			return fmt.Errorf("conddb: could not get %s value: %w", what, err)
		}
		found = true
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("conddb: could not scan db for %s: %w", what, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("conddb: context error while retrieving %s: %w", what, err)
	}

	if !found {
		return fmt.Errorf("conddb: could not find %s (args=%v): %w", what, args, ErrNotFound)
	}

	return nil
}

func parse(device, name, body string) (script.Script, error) {
	s, err := script.Parse(strings.NewReader(body))
	if err != nil {
		if name == "" {
			return nil, fmt.Errorf("conddb: could not parse last script of %q: %w", device, err)
		}
		return nil, fmt.Errorf("conddb: could not parse script %q of %q: %w", name, device, err)
	}
	return s, nil
}
