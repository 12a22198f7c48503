package network

import (
	"errors"
	"fmt"
)

// Error variables for the sharing subsystem
var (
	// ErrPeerUnavailable is returned when a share target is unknown, expired or not running the app
	ErrPeerUnavailable = errors.New("peer not available")
	// ErrMalformedMessage is returned for datagrams that fail strict decoding
	ErrMalformedMessage = errors.New("malformed message")
	// ErrBadSignature is returned for presence announcements whose signature does not verify
	ErrBadSignature = errors.New("invalid presence signature")
	// ErrNotRunning is returned when the service is used before Start or after Stop
	ErrNotRunning = errors.New("sharing service is not running")
	// ErrStaleShare is reported for shares timestamped outside the replay window
	ErrStaleShare = errors.New("share is too old")
	// ErrDuplicateShare is returned for a share id that was already delivered
	ErrDuplicateShare = errors.New("share already received")
)

// NetworkError wraps a socket or probe failure. Discovery logs these and carries on.
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("network %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("network %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
