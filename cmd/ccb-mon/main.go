// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ccb-mon monitors the DI line of a CCB bus and sends mail
// alerts when the line stays stuck at the same level.
//
// Some CCB peripherals use the DI line as a status line while the bus
// is idle (e.g. a "data ready" flag): a line that does not toggle for a
// long time usually means the peripheral is hung.
//
// Mail alerts are configured from the environment:
//
//	MAIL_USERNAME, MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT, MAIL_TGTS
package main // import "github.com/go-lpc/ccb/cmd/ccb-mon"

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/ccb"
	"github.com/go-lpc/ccb/config"
	"github.com/go-lpc/ccb/ctl"
	"golang.org/x/sync/errgroup"
	mail "gopkg.in/gomail.v2"
)

func main() {
	log.SetPrefix("ccb-mon: ")
	log.SetFlags(0)

	var (
		cfg   = flag.String("cfg", "", "path to a TOML bus description (default: simulated bus)")
		addr  = flag.String("addr", "", "[ip]:port of a ccb-srv server to monitor")
		freq  = flag.Duration("freq", 1*time.Second, "probing interval")
		stuck = flag.Duration("stuck", 1*time.Minute, "duration after which a steady DI line is reported")
	)

	flag.Parse()

	if *freq <= 0 {
		flag.Usage()
		log.Fatalf("invalid -freq=%v: probing interval must be > 0", *freq)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err := run(ctx, *cfg, *addr, *freq, *stuck)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type diReader interface {
	DI() (ccb.Level, error)
}

func run(ctx context.Context, cfg, addr string, freq, stuck time.Duration) error {
	if freq <= 0 {
		return fmt.Errorf("invalid probing interval %v (must be > 0)", freq)
	}

	var bus diReader
	switch {
	case addr != "":
		cli, err := ctl.Dial(addr)
		if err != nil {
			return fmt.Errorf("could not connect to server: %w", err)
		}
		defer cli.Close()
		bus = cli

	default:
		bcfg := config.Default()
		if cfg != "" {
			var err error
			bcfg, err = config.Load(cfg)
			if err != nil {
				return fmt.Errorf("could not load bus description: %w", err)
			}
		}
		b, err := config.Open(bcfg)
		if err != nil {
			return fmt.Errorf("could not open bus: %w", err)
		}
		defer b.Close()

		err = b.Init()
		if err != nil {
			return fmt.Errorf("could not initialize bus: %w", err)
		}
		bus = b
	}

	mon := newMonitor(bus, freq, stuck)
	log.Printf("monitoring DI line (freq=%v, stuck=%v)...", freq, stuck)
	return mon.run(ctx)
}

type sample struct {
	lvl ccb.Level
	t   time.Time
}

type monitor struct {
	bus   diReader
	freq  time.Duration
	stuck time.Duration

	now   func() time.Time
	alert func(lvl ccb.Level, since time.Duration) error

	alerts int // number of alerts sent for the current level
}

const maxAlerts = 5

func newMonitor(bus diReader, freq, stuck time.Duration) *monitor {
	return &monitor{
		bus:   bus,
		freq:  freq,
		stuck: stuck,
		now:   time.Now,
		alert: alertMail,
	}
}

func (mon *monitor) run(ctx context.Context) error {
	var (
		grp, gctx = errgroup.WithContext(ctx)
		samples   = make(chan sample)
	)

	grp.Go(func() error {
		defer close(samples)
		return mon.poll(gctx, samples)
	})
	grp.Go(func() error {
		mon.watch(samples)
		return nil
	})

	err := grp.Wait()
	switch {
	case err == nil, ctx.Err() != nil:
		return nil
	default:
		return fmt.Errorf("could not monitor DI line: %w", err)
	}
}

// poll samples the DI line every mon.freq until ctx is done.
func (mon *monitor) poll(ctx context.Context, samples chan<- sample) error {
	if mon.freq <= 0 {
		return fmt.Errorf("invalid probing interval %v", mon.freq)
	}
	tick := time.NewTicker(mon.freq)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			lvl, err := mon.bus.DI()
			if err != nil {
				return err
			}
			select {
			case samples <- sample{lvl: lvl, t: mon.now()}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// watch raises an alert whenever the DI line kept the same level for
// longer than mon.stuck.
func (mon *monitor) watch(samples <-chan sample) {
	var (
		first = true
		last  sample
	)
	for s := range samples {
		if first || s.lvl != last.lvl {
			if !first && mon.alerts > 0 {
				log.Printf("DI line back to life (level=%v)", s.lvl)
			}
			first = false
			last = s
			mon.alerts = 0
			continue
		}

		since := s.t.Sub(last.t)
		if since < mon.stuck {
			continue
		}

		log.Printf("DI line stuck %v for %v", s.lvl, since)
		mon.alerts++
		if mon.alerts <= maxAlerts {
			err := mon.alert(s.lvl, since)
			if err != nil {
				log.Printf("could not send alert: %+v", err)
			}
		}
		// re-arm the timer.
		last.t = s.t
	}
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = targets(os.Getenv("MAIL_TGTS"))
)

func alertMail(lvl ccb.Level, since time.Duration) error {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 {
		return fmt.Errorf("could not send mail alert: missing credentials")
	}

	msg := alertMessage(lvl, since)
	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		return fmt.Errorf("could not send mail alert: %w", err)
	}
	return nil
}

func alertMessage(lvl ccb.Level, since time.Duration) *mail.Message {
	host, _ := os.Hostname()

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[ccb-mon] DI line alert on %s", host))
	msg.SetBody("text/plain", fmt.Sprintf("host:  %s\nlevel: %v\nsince: %v",
		host, lvl, since,
	))
	return msg
}

func targets(s string) []string {
	var tgts []string
	for _, tgt := range strings.Split(s, ",") {
		tgt = strings.TrimSpace(tgt)
		if tgt == "" {
			continue
		}
		tgts = append(tgts, tgt)
	}
	return tgts
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
