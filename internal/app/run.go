package app

import (
	"bufio"
	"context"
	"io"

	"github.com/1ureka/rhythmlink/internal/bridge"
	"github.com/1ureka/rhythmlink/internal/config"
	"github.com/1ureka/rhythmlink/internal/session"
	"github.com/1ureka/rhythmlink/internal/util"
)

// run builds the session for cfg, lets begin establish the role and then
// serves console input until the session ends.
func run(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer, begin func(*session.Session) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := newWatcher()
	events := w.events()

	var br *bridge.Server
	if cfg.BridgeAddr != "" {
		br = bridge.New()
		events = br.Hook(events)
	}

	s := session.New(
		session.WithEvents(events),
		session.WithHeartbeat(cfg.HeartbeatInterval, cfg.HeartbeatTimeout),
		session.WithDialTimeout(cfg.DialTimeout),
		session.WithWriteTimeout(cfg.WriteTimeout),
	)
	defer s.Shutdown("closed")

	if br != nil {
		if err := br.Start(cfg.BridgeAddr, s); err != nil {
			return err
		}
		defer br.Close()
	}

	if err := begin(s); err != nil {
		return err
	}

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}

	console := NewConsole(s, cfg.Name, cfg.LeadTime, out)
	lines := readLines(ctx, in)

	for {
		select {
		case <-ctx.Done():
			s.Leave("player quit")
			return nil

		case reason := <-w.ended:
			util.LogInfo("session ended: %s", reason)
			return nil

		case line, ok := <-lines:
			if !ok {
				// No more input; keep the session until it ends on its own.
				lines = nil
				continue
			}
			quit, err := console.Execute(line)
			if err != nil {
				util.LogWarning("%v", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// readLines feeds in line by line until it ends or ctx is cancelled. A
// reader blocked in Read is left behind; stdin cannot be interrupted.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
