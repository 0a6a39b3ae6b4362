package session

import "meshcall/native/internal/domain"

// ParticipantView is a remote participant as presented to the UI.
type ParticipantView struct {
	domain.Participant
	HasStream bool
	HasAudio  bool
	HasVideo  bool
}

// Name returns the display name, falling back to the user id.
func (p ParticipantView) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.UserID != "" {
		return p.UserID
	}
	return p.ConnID
}

// View is an immutable snapshot of the session.
type View struct {
	State        domain.SessionState
	RoomID       string
	UserName     string
	LocalID      string
	AudioEnabled bool
	VideoEnabled bool
	Participants []ParticipantView
	Links        int
	Err          error
}

// Snapshot returns the latest view. It is safe to call from any goroutine,
// including after the session ended.
func (s *Session) Snapshot() View {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	return s.view
}

// Subscribe returns a channel that receives a signal whenever the view
// changes. Signals coalesce; read Snapshot after each one.
func (s *Session) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.viewMu.Lock()
	s.subs = append(s.subs, ch)
	s.viewMu.Unlock()
	return ch
}

// notify rebuilds the view on the loop and wakes subscribers.
func (s *Session) notify() {
	v := View{
		State:        s.state,
		RoomID:       s.opts.RoomID,
		UserName:     s.opts.UserName,
		LocalID:      s.localID,
		AudioEnabled: s.local.Enabled(domain.MediaAudio),
		VideoEnabled: s.local.Enabled(domain.MediaVideo),
		Links:        s.links.Len(),
		Err:          s.fatal,
	}
	for _, p := range s.registry.List() {
		pv := ParticipantView{Participant: p}
		if st, ok := s.streams.Get(p.ConnID); ok {
			pv.HasStream = true
			pv.HasAudio = st.Has(domain.MediaAudio)
			pv.HasVideo = st.Has(domain.MediaVideo)
		}
		v.Participants = append(v.Participants, pv)
	}

	s.viewMu.Lock()
	s.view = v
	subs := s.subs
	s.viewMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
