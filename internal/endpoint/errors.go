// Package endpoint implements the two ends of a room: the Host, which admits
// exactly one joiner, and the Joiner, which connects to a host.
package endpoint

import (
	"errors"
	"fmt"
)

// Slots are fixed for the lifetime of a room.
const (
	HostSlot  = 1
	GuestSlot = 2
)

// ReasonOccupied is sent to a connection that arrives while the host
// already has an occupant.
const ReasonOccupied = "already occupied"

// ErrNotConnected is returned by Send when there is no peer to send to.
var ErrNotConnected = errors.New("no peer connected")

// RejectedError ends a joiner's connection after the host refused it.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("join rejected: %s", e.Reason)
}

// AbortError ends a connection after the peer announced it is leaving.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("peer left: %s", e.Reason)
}
