// Package peerlink drives one peer connection per remote participant through
// offer/answer, trickle candidates, failure retry and teardown.
//
// Every Manager method must be called from the session event loop. Peer
// connection calls that may block run on their own goroutine and re-enter the
// loop through the post function; results for a link that was torn down in
// the meantime are discarded.
package peerlink

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
)

const (
	// maxRetries is how many fresh attempts a failed link gets before the
	// participant is marked unreachable.
	maxRetries = 1
	// maxEarlyCandidates bounds the buffer kept for a participant with no link.
	maxEarlyCandidates = 128
)

// Listener receives link outcomes on the event loop.
type Listener interface {
	OnRemoteTrack(connID string, track domain.RemoteTrack)
	OnLinkState(connID string, state domain.ConnectionState)
	OnLinkClosed(connID string)
	OnUnreachable(connID string)
}

// Options tunes failure detection.
type Options struct {
	// DisconnectGrace is how long a link may stay disconnected before it is
	// treated as failed.
	DisconnectGrace time.Duration
	// RetryTimeout is how long a responder waits for a fresh offer after its
	// link failed, and how long an initiator waits for the answer to its offer.
	RetryTimeout time.Duration
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		DisconnectGrace: 5 * time.Second,
		RetryTimeout:    15 * time.Second,
	}
}

// Link is the connection state machine for one remote participant.
type Link struct {
	connID string
	role   domain.Role
	state  domain.ConnectionState
	pc     domain.PeerConnection
	log    zerolog.Logger

	pending   []domain.ICECandidate
	remoteSDP string
	remoteSet bool
	offered   bool
	closed    bool
	grace     *time.Timer
	answerDue *time.Timer
}

// LinkInfo is a read-only view of a link.
type LinkInfo struct {
	ConnID    string
	Role      domain.Role
	State     domain.ConnectionState
	Pending   int
	RemoteSet bool
}

// Manager owns every link of the session.
type Manager struct {
	log      zerolog.Logger
	factory  domain.PeerConnectionFactory
	post     func(func()) bool
	listener Listener
	opts     Options

	signal  domain.Signaler
	localID string
	media   *domain.LocalMedia

	links    map[string]*Link
	early    map[string][]domain.ICECandidate
	attempts map[string]int
	awaiting map[string]*time.Timer
}

// New creates a Manager. post must enqueue fn on the event loop without
// blocking and report false once the loop has stopped.
func New(factory domain.PeerConnectionFactory, post func(func()) bool, listener Listener, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		log:      logger.With().Str("module", "peerlink").Logger(),
		factory:  factory,
		post:     post,
		listener: listener,
		opts:     opts,
		links:    make(map[string]*Link),
		early:    make(map[string][]domain.ICECandidate),
		attempts: make(map[string]int),
		awaiting: make(map[string]*time.Timer),
	}
}

// SetSignaler sets the transport used for offers, answers and candidates.
func (m *Manager) SetSignaler(s domain.Signaler) {
	m.signal = s
}

// SetLocalID sets the user id stamped on outbound messages.
func (m *Manager) SetLocalID(id string) {
	m.localID = id
}

// SetMedia sets the track set attached to links created from now on.
func (m *Manager) SetMedia(media *domain.LocalMedia) {
	m.media = media
}

// CreateLink returns the participant's link, creating it with role if absent.
// The role of an existing link is never changed.
func (m *Manager) CreateLink(connID string, role domain.Role) (*Link, error) {
	if l, ok := m.links[connID]; ok {
		return l, nil
	}

	pc, err := m.factory.NewPeerConnection()
	if err != nil {
		return nil, domain.NewPeerError("create link", connID, err)
	}

	l := &Link{
		connID: connID,
		role:   role,
		state:  domain.ConnectionNew,
		pc:     pc,
		log:    m.log.With().Str("peer", connID).Str("role", role.String()).Logger(),
	}

	for _, t := range m.media.Tracks() {
		if !t.Enabled() {
			continue
		}
		if err := pc.AddTrack(t); err != nil {
			_ = pc.Close()
			return nil, domain.NewPeerError("attach track", connID, err)
		}
	}

	pc.OnICECandidate(func(c domain.ICECandidate) {
		m.post(func() { m.sendCandidate(l, c) })
	})
	pc.OnTrack(func(t domain.RemoteTrack) {
		m.post(func() {
			if m.current(l) {
				m.listener.OnRemoteTrack(connID, t)
			}
		})
	})
	pc.OnConnectionStateChange(func(s domain.ConnectionState) {
		m.post(func() { m.onState(l, s) })
	})

	if buffered, ok := m.early[connID]; ok {
		l.pending = append(l.pending, buffered...)
		delete(m.early, connID)
		l.log.Debug().Int("candidates", len(buffered)).Msg("adopted early candidates")
	}
	if t, ok := m.awaiting[connID]; ok {
		t.Stop()
		delete(m.awaiting, connID)
	}

	m.links[connID] = l
	l.log.Debug().Msg("link created")
	return l, nil
}

// Initiate creates an initiator link and sends its offer. It does nothing
// when a link already exists in either role.
func (m *Manager) Initiate(connID string) error {
	l, err := m.CreateLink(connID, domain.RoleInitiator)
	if err != nil {
		return err
	}
	if l.role != domain.RoleInitiator || l.offered {
		return nil
	}
	l.offered = true

	l.log.Debug().Msg("creating offer")
	go func() {
		sd, err := l.pc.CreateOffer()
		m.post(func() { m.offerCreated(l, sd, err) })
	}()
	return nil
}

func (m *Manager) offerCreated(l *Link, sd domain.SessionDescription, err error) {
	if !m.current(l) {
		l.log.Debug().Msg("discarding offer for stale link")
		return
	}
	if err != nil {
		m.protocolFailure(l, "create offer", err)
		return
	}
	m.awaitAnswer(l)
	msg := domain.OfferOut{TargetSocketID: l.connID, Offer: sd, SenderID: m.localID}
	if err := m.signal.SendOffer(msg); err != nil {
		l.log.Warn().Err(err).Msg("send offer")
		return
	}
	l.log.Info().Msg("offer sent")
}

// awaitAnswer fails the link when no answer arrives within RetryTimeout.
// A connection without a remote description never reports a state change,
// so nothing else would notice a lost offer or answer.
func (m *Manager) awaitAnswer(l *Link) {
	if m.opts.RetryTimeout <= 0 {
		return
	}
	l.answerDue = time.AfterFunc(m.opts.RetryTimeout, func() {
		m.post(func() {
			if !m.current(l) || l.remoteSDP != "" {
				return
			}
			l.log.Warn().Dur("timeout", m.opts.RetryTimeout).Msg("no answer to offer")
			m.linkFailed(l)
		})
	})
}

// HandleOffer answers an offer from connID, creating a responder link.
// senderID is the remote user id and only breaks ties when both sides offered.
func (m *Manager) HandleOffer(connID, senderID string, sd domain.SessionDescription) {
	if sd.Type != domain.SDPTypeOffer || sd.SDP == "" {
		m.rejectDescription(connID, "apply offer", fmt.Errorf("malformed offer (type %q)", sd.Type))
		return
	}

	if l, ok := m.links[connID]; ok {
		if l.remoteSDP == sd.SDP {
			l.log.Debug().Msg("duplicate offer ignored")
			return
		}
		if l.role == domain.RoleInitiator {
			if !m.yieldOnGlare(senderID) {
				l.log.Warn().Str("sender", senderID).Msg("glare: keeping own offer")
				return
			}
			l.log.Warn().Str("sender", senderID).Msg("glare: yielding to remote offer")
		} else {
			l.log.Info().Msg("fresh offer replaces link")
		}
		m.closeLink(l)
	}

	l, err := m.CreateLink(connID, domain.RoleResponder)
	if err != nil {
		m.log.Error().Err(err).Str("peer", connID).Msg("create responder link")
		return
	}
	l.remoteSDP = sd.SDP

	go func() {
		err := l.pc.SetRemoteDescription(sd)
		m.post(func() { m.offerApplied(l, err) })
	}()
}

// yieldOnGlare decides which side drops its own offer when both offered:
// the side whose user id sorts after the sender's answers.
func (m *Manager) yieldOnGlare(senderID string) bool {
	return senderID != "" && m.localID != "" && senderID < m.localID
}

func (m *Manager) offerApplied(l *Link, err error) {
	if !m.current(l) {
		return
	}
	if err != nil {
		m.protocolFailure(l, "apply offer", err)
		return
	}
	if !m.remoteApplied(l) {
		return
	}

	go func() {
		sd, err := l.pc.CreateAnswer()
		m.post(func() { m.answerCreated(l, sd, err) })
	}()
}

func (m *Manager) answerCreated(l *Link, sd domain.SessionDescription, err error) {
	if !m.current(l) {
		l.log.Debug().Msg("discarding answer for stale link")
		return
	}
	if err != nil {
		m.protocolFailure(l, "create answer", err)
		return
	}
	msg := domain.AnswerOut{TargetSocketID: l.connID, Answer: sd, SenderID: m.localID}
	if err := m.signal.SendAnswer(msg); err != nil {
		l.log.Warn().Err(err).Msg("send answer")
		return
	}
	l.log.Info().Msg("answer sent")
}

// HandleAnswer applies the answer to an initiator link.
func (m *Manager) HandleAnswer(connID string, sd domain.SessionDescription) {
	l, ok := m.links[connID]
	if !ok {
		m.log.Warn().Err(domain.ErrUnknownPeer).Str("peer", connID).Msg("answer without link ignored")
		return
	}
	if sd.Type != domain.SDPTypeAnswer || sd.SDP == "" {
		m.protocolFailure(l, "apply answer", fmt.Errorf("malformed answer (type %q)", sd.Type))
		return
	}
	if l.role != domain.RoleInitiator || !l.offered {
		m.protocolFailure(l, "apply answer", errors.New("answer without a pending offer"))
		return
	}
	if l.remoteSDP != "" {
		if l.remoteSDP == sd.SDP {
			l.log.Debug().Msg("duplicate answer ignored")
		} else {
			l.log.Warn().Msg("conflicting answer ignored")
		}
		return
	}
	l.remoteSDP = sd.SDP
	m.stopAnswerDeadline(l)

	go func() {
		err := l.pc.SetRemoteDescription(sd)
		m.post(func() {
			if !m.current(l) {
				return
			}
			if err != nil {
				m.protocolFailure(l, "apply answer", err)
				return
			}
			m.remoteApplied(l)
		})
	}()
}

// remoteApplied flushes queued candidates in arrival order. It reports false
// if a candidate was rejected and the link torn down.
func (m *Manager) remoteApplied(l *Link) bool {
	l.remoteSet = true
	queued := l.pending
	l.pending = nil
	if len(queued) > 0 {
		l.log.Debug().Int("candidates", len(queued)).Msg("flushing queued candidates")
	}
	for _, c := range queued {
		if err := m.applyCandidate(l, c); err != nil {
			return false
		}
	}
	return true
}

// HandleCandidate applies a remote candidate, or queues it until the link's
// remote description is set. Candidates for a participant without a link are
// buffered until one is created.
func (m *Manager) HandleCandidate(connID string, c domain.ICECandidate) {
	if c.Candidate == "" {
		m.log.Debug().Str("peer", connID).Msg("end of candidates")
		return
	}

	l, ok := m.links[connID]
	if !ok {
		if len(m.early[connID]) >= maxEarlyCandidates {
			m.log.Warn().Str("peer", connID).Msg("early candidate buffer full, dropping candidate")
			return
		}
		m.early[connID] = append(m.early[connID], c)
		return
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return
	}
	_ = m.applyCandidate(l, c)
}

func (m *Manager) applyCandidate(l *Link, c domain.ICECandidate) error {
	if err := l.pc.AddICECandidate(c); err != nil {
		m.protocolFailure(l, "add candidate", err)
		return err
	}
	return nil
}

func (m *Manager) sendCandidate(l *Link, c domain.ICECandidate) {
	if !m.current(l) {
		return
	}
	msg := domain.CandidateOut{TargetSocketID: l.connID, Candidate: c, SenderID: m.localID}
	if err := m.signal.SendICECandidate(msg); err != nil {
		l.log.Debug().Err(err).Msg("send candidate")
	}
}

func (m *Manager) onState(l *Link, s domain.ConnectionState) {
	if !m.current(l) {
		return
	}
	if l.state != s {
		l.log.Debug().Str("from", l.state.String()).Str("to", s.String()).Msg("connection state")
	}
	l.state = s
	m.listener.OnLinkState(l.connID, s)

	switch s {
	case domain.ConnectionConnected:
		m.stopGrace(l)
		delete(m.attempts, l.connID)
	case domain.ConnectionDisconnected:
		if l.grace != nil {
			return
		}
		l.grace = time.AfterFunc(m.opts.DisconnectGrace, func() {
			m.post(func() {
				if m.current(l) && l.state == domain.ConnectionDisconnected {
					l.log.Warn().Dur("grace", m.opts.DisconnectGrace).Msg("disconnected past grace period")
					m.linkFailed(l)
				}
			})
		})
	case domain.ConnectionFailed:
		m.linkFailed(l)
	}
}

// linkFailed tears the link down and schedules its single retry. Only the
// initiator re-offers; the responder waits for the fresh offer.
func (m *Manager) linkFailed(l *Link) {
	connID, role := l.connID, l.role
	m.closeLink(l)

	if m.attempts[connID] >= maxRetries {
		delete(m.attempts, connID)
		err := domain.NewPeerError("link", connID, domain.ErrLinkFailure)
		m.log.Warn().Err(err).Str("peer", connID).Msg("participant unreachable")
		m.listener.OnUnreachable(connID)
		return
	}
	m.attempts[connID]++

	if role == domain.RoleInitiator {
		m.log.Info().Str("peer", connID).Msg("retrying link")
		if err := m.Initiate(connID); err != nil {
			m.log.Error().Err(err).Str("peer", connID).Msg("retry link")
			delete(m.attempts, connID)
			m.listener.OnUnreachable(connID)
		}
		return
	}

	m.log.Info().Str("peer", connID).Dur("timeout", m.opts.RetryTimeout).Msg("awaiting fresh offer")
	var t *time.Timer
	t = time.AfterFunc(m.opts.RetryTimeout, func() {
		m.post(func() {
			if m.awaiting[connID] != t {
				return
			}
			delete(m.awaiting, connID)
			delete(m.attempts, connID)
			m.log.Warn().Str("peer", connID).Msg("no fresh offer, participant unreachable")
			m.listener.OnUnreachable(connID)
		})
	})
	m.awaiting[connID] = t
}

// protocolFailure tears down only the affected link, without retry.
func (m *Manager) protocolFailure(l *Link, op string, cause error) {
	err := domain.NewPeerError(op, l.connID, domain.Kind(domain.ErrSignalingProtocol, cause))
	l.log.Error().Err(err).Msg("tearing down link")
	m.closeLink(l)
}

func (m *Manager) rejectDescription(connID, op string, cause error) {
	if l, ok := m.links[connID]; ok {
		m.protocolFailure(l, op, cause)
		return
	}
	err := domain.NewPeerError(op, connID, domain.Kind(domain.ErrSignalingProtocol, cause))
	m.log.Error().Err(err).Msg("description rejected")
}

func (m *Manager) closeLink(l *Link) {
	if l.closed {
		return
	}
	l.closed = true
	if m.links[l.connID] == l {
		delete(m.links, l.connID)
	}
	m.stopGrace(l)
	m.stopAnswerDeadline(l)
	l.pending = nil
	if err := l.pc.Close(); err != nil {
		l.log.Debug().Err(err).Msg("close peer connection")
	}
	l.log.Debug().Msg("link closed")
	m.listener.OnLinkClosed(l.connID)
}

func (m *Manager) stopGrace(l *Link) {
	if l.grace != nil {
		l.grace.Stop()
		l.grace = nil
	}
}

func (m *Manager) stopAnswerDeadline(l *Link) {
	if l.answerDue != nil {
		l.answerDue.Stop()
		l.answerDue = nil
	}
}

func (m *Manager) current(l *Link) bool {
	return !l.closed && m.links[l.connID] == l
}

// Teardown releases the participant's link, queued candidates and retry
// state. It is a no-op for an unknown participant.
func (m *Manager) Teardown(connID string) {
	delete(m.early, connID)
	delete(m.attempts, connID)
	if t, ok := m.awaiting[connID]; ok {
		t.Stop()
		delete(m.awaiting, connID)
	}
	if l, ok := m.links[connID]; ok {
		m.closeLink(l)
	}
}

// TeardownAll releases every link.
func (m *Manager) TeardownAll() {
	for _, l := range m.links {
		m.closeLink(l)
	}
	for _, t := range m.awaiting {
		t.Stop()
	}
	clear(m.awaiting)
	clear(m.attempts)
	clear(m.early)
}

// Info returns a view of the participant's link.
func (m *Manager) Info(connID string) (LinkInfo, bool) {
	l, ok := m.links[connID]
	if !ok {
		return LinkInfo{}, false
	}
	return LinkInfo{
		ConnID:    l.connID,
		Role:      l.role,
		State:     l.state,
		Pending:   len(l.pending),
		RemoteSet: l.remoteSet,
	}, true
}

// Has reports whether the participant has a link.
func (m *Manager) Has(connID string) bool {
	_, ok := m.links[connID]
	return ok
}

// Len returns the number of open links.
func (m *Manager) Len() int {
	return len(m.links)
}

// IDs returns the connection ids with an open link, sorted.
func (m *Manager) IDs() []string {
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
