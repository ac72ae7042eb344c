package session

import (
	"errors"

	"github.com/1ureka/rhythmlink/internal/endpoint"
)

var (
	// ErrNotConnected is returned by a send that has no peer to reach.
	ErrNotConnected = endpoint.ErrNotConnected
	// ErrInvalidSlot is returned for a slot other than 1 or 2.
	ErrInvalidSlot = errors.New("slot must be 1 or 2")
)

// Disconnect reasons raised by the session itself. Reasons coming from the
// endpoints ("peer left: ...", "rejected: ...", "connection closed by peer")
// are passed through unchanged.
const (
	ReasonTimeout  = "connection timed out"
	ReasonReplaced = "session replaced"
)

func validSlot(slot int) error {
	if slot != endpoint.HostSlot && slot != endpoint.GuestSlot {
		return ErrInvalidSlot
	}
	return nil
}
