package session

import (
	"context"
	"time"

	"github.com/1ureka/rhythmlink/internal/protocol"
	"github.com/1ureka/rhythmlink/internal/util"
)

// pingText marks a keep-alive System message.
const pingText = "ping"

// heartbeat is the liveness loop of one connection.
type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the loop and waits for it to return.
func (h *heartbeat) stop() {
	h.cancel()
	<-h.done
}

// startHeartbeat must be called with s.mu held.
func (s *Session) startHeartbeat(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	hb := &heartbeat{cancel: cancel, done: make(chan struct{})}
	s.hb = hb
	s.lastRecv = time.Now()

	go func() {
		defer close(hb.done)
		s.runHeartbeat(ctx, gen)
	}()
}

// runHeartbeat pings the peer every interval and forces a disconnect once
// nothing has been received for longer than the timeout. A failed ping is
// not an error by itself: the silence it causes is what ends the
// connection.
func (s *Session) runHeartbeat(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.opts.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		silent := time.Since(s.lastRecv)
		s.mu.Unlock()

		if silent > s.opts.heartbeatTimeout {
			util.LogWarning("no traffic for %s, dropping connection", silent.Round(time.Millisecond))
			go s.teardown(gen, ReasonTimeout)
			return
		}

		if err := s.send(protocol.NewSystem(pingText)); err != nil {
			util.LogDebug("keep-alive failed: %v", err)
		}
	}
}
