// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
	"net"
)

// ConnID computes a 4-byte hash from a TCP connection's 4-tuple
// (local IP, local port, remote IP, remote port). It only tags log lines so
// that the host's occupant and a rejected late connector can be told apart.
func ConnID(conn net.Conn) uint32 {
	h := fnv.New32a()
	if addr := conn.LocalAddr(); addr != nil {
		h.Write([]byte(addr.String()))
	}
	if addr := conn.RemoteAddr(); addr != nil {
		h.Write([]byte(addr.String()))
	}
	return h.Sum32()
}
