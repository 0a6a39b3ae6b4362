package domain

// Signaling event names.
const (
	EventJoinRoom        = "join-room"
	EventRoomJoined      = "room-joined"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventOffer           = "offer"
	EventAnswer          = "answer"
	EventICECandidate    = "ice-candidate"
	EventToggleMedia     = "toggle-media"
	EventUserMediaToggle = "user-media-toggle"
	EventLeaveRoom       = "leave-room"
)

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Session description types.
const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// ICECandidate is a trickled network candidate.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment"`
}

// JoinRoom asks the relay to add this connection to a room.
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

// PeerInfo describes one participant as announced by the relay.
type PeerInfo struct {
	SocketID string `json:"socketId"`
	UserName string `json:"userName"`
	UserID   string `json:"userId"`
}

// RoomJoined acknowledges a join with the local user id and everyone already present.
type RoomJoined struct {
	UserID       string     `json:"userId"`
	Participants []PeerInfo `json:"participants"`
}

// UserLeft announces a departed participant.
type UserLeft struct {
	SocketID string `json:"socketId"`
}

// OfferOut is an offer addressed to a remote connection.
type OfferOut struct {
	TargetSocketID string             `json:"targetSocketId"`
	Offer          SessionDescription `json:"offer"`
	SenderID       string             `json:"senderId"`
}

// OfferIn is an offer relayed from a remote connection.
type OfferIn struct {
	Offer          SessionDescription `json:"offer"`
	SenderSocketID string             `json:"senderSocketId"`
	SenderID       string             `json:"senderId"`
}

// AnswerOut is an answer addressed to a remote connection.
type AnswerOut struct {
	TargetSocketID string             `json:"targetSocketId"`
	Answer         SessionDescription `json:"answer"`
	SenderID       string             `json:"senderId"`
}

// AnswerIn is an answer relayed from a remote connection.
type AnswerIn struct {
	Answer         SessionDescription `json:"answer"`
	SenderSocketID string             `json:"senderSocketId"`
}

// CandidateOut is a local candidate addressed to a remote connection.
type CandidateOut struct {
	TargetSocketID string       `json:"targetSocketId"`
	Candidate      ICECandidate `json:"candidate"`
	SenderID       string       `json:"senderId"`
}

// CandidateIn is a candidate relayed from a remote connection.
type CandidateIn struct {
	Candidate      ICECandidate `json:"candidate"`
	SenderSocketID string       `json:"senderSocketId"`
}

// ToggleMedia announces a local mic or camera change to the room.
type ToggleMedia struct {
	RoomID    string    `json:"roomId"`
	MediaType MediaKind `json:"mediaType"`
	Enabled   bool      `json:"enabled"`
}

// UserMediaToggle is a remote participant's mic or camera change.
type UserMediaToggle struct {
	SocketID  string    `json:"socketId"`
	MediaType MediaKind `json:"mediaType"`
	Enabled   bool      `json:"enabled"`
}

// LeaveRoom tells the relay this connection is leaving.
type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

// EventError is sent by the relay when it cannot act on a message.
const EventError = "error"

// ErrorMsg explains why the relay rejected a message.
type ErrorMsg struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
