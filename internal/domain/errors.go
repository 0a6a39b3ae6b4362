package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaAcquisition means the local track set could not be obtained.
	ErrMediaAcquisition = errors.New("media acquisition failed")
	// ErrTransport means the signaling transport gave up reconnecting.
	ErrTransport = errors.New("signaling transport failed")
	// ErrSignalingProtocol means a peer sent a description or candidate that could not be applied.
	ErrSignalingProtocol = errors.New("signaling protocol error")
	// ErrLinkFailure means a peer link failed after its retry.
	ErrLinkFailure = errors.New("peer link failed")

	ErrNotConnected  = errors.New("signaling not connected")
	ErrAlreadyJoined = errors.New("session already joined")
	ErrSessionClosed = errors.New("session closed")
	ErrNoTrack       = errors.New("no local track")
	ErrUnknownPeer   = errors.New("unknown peer")
)

// Error carries the failed operation and, when relevant, the remote peer.
type Error struct {
	Op   string
	Peer string
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the operation that failed.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// NewPeerError wraps err with the operation and the remote connection id.
func NewPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

// Kind wraps cause under one of the sentinel errors so both match errors.Is.
func Kind(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
