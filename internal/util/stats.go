package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic counter for protocol connections.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // cumulative count of connections since process start
	ClosedConns atomic.Int64 // cumulative count of closed connections since process start
	MsgsSent    atomic.Int64 // messages written
	MsgsRecv    atomic.Int64 // messages decoded
	BytesSent   atomic.Int64 // bytes written, newlines included
	BytesRecv   atomic.Int64 // bytes read, newlines included
	Malformed   atomic.Int64 // lines dropped because they failed to decode
}

func (s *stats) AddConn()    { s.TotalConns.Add(1) }
func (s *stats) RemoveConn() { s.ClosedConns.Add(1) }
func (s *stats) AddMalformed() {
	s.Malformed.Add(1)
}

func (s *stats) AddSent(n int) {
	s.MsgsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.MsgsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval. Quiet periods are not reported. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.sub(prev), cur.opened-cur.closed, interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	msgsSent, msgsRecv, bytesSent, bytesRecv, malformed int64
	opened, closed                                      int64
}

func takeSnapshot() snapshot {
	return snapshot{
		msgsSent:  Stats.MsgsSent.Load(),
		msgsRecv:  Stats.MsgsRecv.Load(),
		bytesSent: Stats.BytesSent.Load(),
		bytesRecv: Stats.BytesRecv.Load(),
		malformed: Stats.Malformed.Load(),
		opened:    Stats.TotalConns.Load(),
		closed:    Stats.ClosedConns.Load(),
	}
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		msgsSent:  s.msgsSent - o.msgsSent,
		msgsRecv:  s.msgsRecv - o.msgsRecv,
		bytesSent: s.bytesSent - o.bytesSent,
		bytesRecv: s.bytesRecv - o.bytesRecv,
		malformed: s.malformed - o.malformed,
		opened:    s.opened - o.opened,
		closed:    s.closed - o.closed,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporting period. open is the number of
// connections alive at the end of it.
func formatStats(d snapshot, open int64, interval time.Duration) string {
	secs := interval.Seconds()
	return fmt.Sprintf("In: %s/s %3d msg | Out: %s/s %3d msg | Dropped: %d | Conns: %d (+%d/-%d)",
		formatBytes(float64(d.bytesRecv)/secs),
		d.msgsRecv,
		formatBytes(float64(d.bytesSent)/secs),
		d.msgsSent,
		d.malformed,
		open, d.opened, d.closed,
	)
}
