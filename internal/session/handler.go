package session

import "meshcall/native/internal/domain"

// maxDeferred bounds the offers and candidates held until room-joined.
const maxDeferred = 256

// The domain.Handler methods run on the transport's read goroutine; each one
// only hands the event to the loop.

func (s *Session) OnRoomJoined(msg domain.RoomJoined) {
	s.loop.post(func() { s.roomJoined(msg) })
}

func (s *Session) OnUserJoined(msg domain.PeerInfo) {
	s.loop.post(func() { s.userJoined(msg) })
}

func (s *Session) OnUserLeft(msg domain.UserLeft) {
	s.loop.post(func() { s.userLeft(msg) })
}

func (s *Session) OnOffer(msg domain.OfferIn) {
	s.loop.post(func() { s.offer(msg) })
}

func (s *Session) OnAnswer(msg domain.AnswerIn) {
	s.loop.post(func() { s.answer(msg) })
}

func (s *Session) OnICECandidate(msg domain.CandidateIn) {
	s.loop.post(func() { s.candidate(msg) })
}

func (s *Session) OnUserMediaToggle(msg domain.UserMediaToggle) {
	s.loop.post(func() { s.mediaToggle(msg) })
}

func (s *Session) OnReconnected() {
	s.loop.post(s.reconnected)
}

func (s *Session) OnTransportFailure(err error) {
	s.loop.post(func() { s.fail(transportError("signaling", err)) })
}

func (s *Session) roomJoined(msg domain.RoomJoined) {
	if s.state != domain.StateConnecting {
		s.log.Debug().Str("state", s.state.String()).Msg("room-joined ignored")
		return
	}
	s.localID = msg.UserID
	s.links.SetLocalID(msg.UserID)
	s.registry.InsertSnapshot(msg.Participants)
	s.setState(domain.StateConnected)
	s.log.Info().Str("user_id", msg.UserID).Int("participants", len(msg.Participants)).Msg("room joined")

	// Offers that overtook room-joined are answered first, so their senders
	// get a responder link instead of a second offer.
	deferred := s.deferred
	s.deferred = nil
	if len(deferred) > 0 {
		s.log.Debug().Int("events", len(deferred)).Msg("replaying signaling received before room-joined")
	}
	for _, fn := range deferred {
		fn()
	}

	// The newcomer initiates toward everyone already present.
	for _, p := range msg.Participants {
		if !s.registry.Has(p.SocketID) {
			continue
		}
		if err := s.links.Initiate(p.SocketID); err != nil {
			s.log.Error().Err(err).Str("peer", p.SocketID).Msg("initiate link")
		}
	}
	s.notify()
}

func (s *Session) userJoined(p domain.PeerInfo) {
	if s.state != domain.StateConnecting && s.state != domain.StateConnected {
		return
	}
	s.registry.Insert(p)
	s.log.Info().Str("peer", p.SocketID).Str("user", p.UserName).Msg("participant joined")
	s.notify()
}

func (s *Session) userLeft(msg domain.UserLeft) {
	s.removeParticipant(msg.SocketID)
}

// removeParticipant drops the link, stream and registry entry in one step.
func (s *Session) removeParticipant(connID string) {
	s.links.Teardown(connID)
	s.streams.Remove(connID)
	if s.registry.Remove(connID) {
		s.log.Info().Str("peer", connID).Msg("participant left")
	}
	s.notify()
}

func (s *Session) offer(msg domain.OfferIn) {
	if s.state == domain.StateConnecting {
		s.deferUntilJoined("offer", msg.SenderSocketID, func() { s.offer(msg) })
		return
	}
	if s.state != domain.StateConnected {
		return
	}
	if msg.SenderSocketID == "" {
		s.log.Warn().Err(domain.ErrSignalingProtocol).Msg("offer without sender dropped")
		return
	}
	if !s.registry.Has(msg.SenderSocketID) {
		// The relay announced the offer before user-joined; the name follows.
		s.registry.Insert(domain.PeerInfo{SocketID: msg.SenderSocketID, UserID: msg.SenderID})
	}
	s.links.HandleOffer(msg.SenderSocketID, msg.SenderID, msg.Offer)
	s.notify()
}

func (s *Session) answer(msg domain.AnswerIn) {
	if s.state != domain.StateConnected {
		return
	}
	s.links.HandleAnswer(msg.SenderSocketID, msg.Answer)
}

func (s *Session) candidate(msg domain.CandidateIn) {
	if s.state == domain.StateConnecting {
		s.deferUntilJoined("candidate", msg.SenderSocketID, func() { s.candidate(msg) })
		return
	}
	if s.state != domain.StateConnected {
		return
	}
	s.links.HandleCandidate(msg.SenderSocketID, msg.Candidate)
}

// deferUntilJoined holds an event that arrived before room-joined. The relay
// may deliver a concurrent newcomer's offer ahead of our own room-joined.
func (s *Session) deferUntilJoined(event, connID string, fn func()) {
	if len(s.deferred) >= maxDeferred {
		s.log.Warn().Str("event", event).Str("peer", connID).Msg("too many events before room-joined, dropping")
		return
	}
	s.log.Debug().Str("event", event).Str("peer", connID).Msg("holding until room-joined")
	s.deferred = append(s.deferred, fn)
}

func (s *Session) mediaToggle(msg domain.UserMediaToggle) {
	if !msg.MediaType.Valid() {
		s.log.Warn().Str("peer", msg.SocketID).Str("kind", string(msg.MediaType)).Msg("unknown media type")
		return
	}
	if !s.registry.SetMedia(msg.SocketID, msg.MediaType, msg.Enabled) {
		s.log.Debug().Str("peer", msg.SocketID).Msg("toggle for unknown participant")
		return
	}
	s.notify()
}

// reconnected rebuilds the call after the transport came back with a new
// connection id: every peer still holds links to the old one.
func (s *Session) reconnected() {
	if s.state != domain.StateConnecting && s.state != domain.StateConnected {
		return
	}
	s.log.Warn().Msg("transport reconnected, rejoining room")
	s.links.TeardownAll()
	s.registry.Clear()
	s.streams.Clear()
	s.deferred = nil
	s.localID = ""
	s.links.SetLocalID("")
	s.joined = false
	s.setState(domain.StateConnecting)

	if err := s.sendJoin(); err != nil {
		s.fail(transportError("rejoin room", err))
		return
	}
	s.notify()
}

// linkEvents receives peer link outcomes on the loop.
type linkEvents struct {
	s *Session
}

func (e linkEvents) OnRemoteTrack(connID string, t domain.RemoteTrack) {
	s := e.s
	if !s.registry.Has(connID) {
		s.log.Warn().Err(domain.ErrUnknownPeer).Str("peer", connID).Msg("track for unknown participant dropped")
		return
	}
	if s.streams.Add(connID, t) {
		s.log.Info().Str("peer", connID).Str("stream", t.StreamID()).Msg("remote stream")
	}
	s.notify()
}

func (e linkEvents) OnLinkState(connID string, st domain.ConnectionState) {
	e.s.registry.SetConnection(connID, st)
	e.s.notify()
}

func (e linkEvents) OnLinkClosed(connID string) {
	e.s.streams.Remove(connID)
	e.s.registry.ClearLink(connID)
	e.s.notify()
}

func (e linkEvents) OnUnreachable(connID string) {
	s := e.s
	s.streams.Remove(connID)
	s.registry.MarkUnreachable(connID)
	if p, ok := s.registry.Get(connID); ok {
		err := domain.NewPeerError("link", connID, domain.ErrLinkFailure)
		s.log.Warn().Err(err).Str("user", p.DisplayName).Msg("participant unreachable")
	}
	s.notify()
}

var _ domain.Handler = (*Session)(nil)

