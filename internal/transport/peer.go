package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultPort is the port a host listens on unless told otherwise.
const DefaultPort = 5050

// Listen binds a TCP listener on all interfaces. Port 0 picks a free port.
func Listen(port int) (net.Listener, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Err: err}
	}
	return listener, nil
}

// Dial opens a TCP connection to host:port with Nagle disabled, since the
// protocol sends many small latency-sensitive lines.
func Dial(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return raw, nil
}
