package domain

import "context"

// ICEServerFetcher retrieves STUN/TURN configuration from the relay.
type ICEServerFetcher interface {
	FetchICEServers(ctx context.Context) ([]ICEServer, error)
}

// Signaler manages the signaling connection to the rendezvous service.
type Signaler interface {
	Connect(ctx context.Context) error
	SendJoinRoom(msg JoinRoom) error
	SendOffer(msg OfferOut) error
	SendAnswer(msg AnswerOut) error
	SendICECandidate(msg CandidateOut) error
	SendToggleMedia(msg ToggleMedia) error
	SendLeaveRoom(msg LeaveRoom) error
	Close()
}

// Handler receives signaling events.
// Implementations must not block: events are delivered from the transport's read loop.
type Handler interface {
	OnRoomJoined(msg RoomJoined)
	OnUserJoined(msg PeerInfo)
	OnUserLeft(msg UserLeft)
	OnOffer(msg OfferIn)
	OnAnswer(msg AnswerIn)
	OnICECandidate(msg CandidateIn)
	OnUserMediaToggle(msg UserMediaToggle)
	// OnReconnected fires after the transport re-established a dropped
	// connection. The server sees a new connection id.
	OnReconnected()
	// OnTransportFailure fires once the reconnect budget is exhausted.
	OnTransportFailure(err error)
}

// PeerConnection is one direct connection to a remote participant.
type PeerConnection interface {
	AddTrack(track LocalTrack) error
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (SessionDescription, error)
	// CreateAnswer creates an answer and sets it as the local description.
	CreateAnswer() (SessionDescription, error)
	SetRemoteDescription(sd SessionDescription) error
	AddICECandidate(c ICECandidate) error
	OnICECandidate(fn func(c ICECandidate))
	OnTrack(fn func(t RemoteTrack))
	OnConnectionStateChange(fn func(s ConnectionState))
	Close() error
}

// PeerConnectionFactory creates peer connections sharing one configuration.
type PeerConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// MediaSource acquires the local track set.
type MediaSource interface {
	Acquire(ctx context.Context) (*LocalMedia, error)
}

// LocalTrack is an outbound media track owned by the local media source.
type LocalTrack interface {
	ID() string
	Kind() MediaKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// RemoteTrack is an inbound media track surfaced by a peer connection.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() MediaKind
}
