package domain

import "fmt"

// SessionState is the lifecycle state of a call session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAcquiringMedia
	StateConnecting
	StateConnected
	StateFailed
	StateLeft
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateLeft:
		return "left"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateFailed || s == StateLeft
}

// Role is which side of a pairwise link sends the offer.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// ConnectionState mirrors the peer connection state of one link.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionChecking
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionChecking:
		return "checking"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// MediaKind is audio or video.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Valid reports whether k names a known media kind.
func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// Participant is a remote member of the room, keyed by its transport connection id.
type Participant struct {
	ConnID       string
	UserID       string
	DisplayName  string
	AudioEnabled bool
	VideoEnabled bool
	Connection   ConnectionState
	Linked       bool
	Unreachable  bool
}
