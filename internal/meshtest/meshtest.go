// Package meshtest provides deterministic fakes for the domain ports.
package meshtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meshcall/native/internal/domain"
)

// WaitFor polls cond until it holds or the deadline passes.
func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Candidate builds a host candidate with the given port.
func Candidate(port int) domain.ICECandidate {
	mid := "0"
	var idx uint16
	return domain.ICECandidate{
		Candidate:     fmt.Sprintf("candidate:1 1 udp 2130706431 192.0.2.1 %d typ host", port),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

// Track is a fake local track.
type Track struct {
	id      string
	kind    domain.MediaKind
	enabled atomic.Bool
	stopped atomic.Int32
}

// NewTrack returns an enabled track.
func NewTrack(kind domain.MediaKind) *Track {
	t := &Track{id: "local-" + string(kind), kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string              { return t.id }
func (t *Track) Kind() domain.MediaKind  { return t.kind }
func (t *Track) Enabled() bool           { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *Track) Stop()                   { t.stopped.Add(1) }
func (t *Track) Stopped() bool           { return t.stopped.Load() > 0 }

// RemoteTrack is a fake inbound track.
type RemoteTrack struct {
	TrackID string
	Stream  string
	Media   domain.MediaKind
}

func (t RemoteTrack) ID() string             { return t.TrackID }
func (t RemoteTrack) StreamID() string       { return t.Stream }
func (t RemoteTrack) Kind() domain.MediaKind { return t.Media }

// MediaSource hands out a fresh fake track set per Acquire.
type MediaSource struct {
	Err  error
	Gate chan struct{}

	mu       sync.Mutex
	acquired []*domain.LocalMedia
}

func (m *MediaSource) Acquire(ctx context.Context) (*domain.LocalMedia, error) {
	if m.Gate != nil {
		<-m.Gate
	}
	if m.Err != nil {
		return nil, m.Err
	}
	lm := &domain.LocalMedia{Audio: NewTrack(domain.MediaAudio), Video: NewTrack(domain.MediaVideo)}
	m.mu.Lock()
	m.acquired = append(m.acquired, lm)
	m.mu.Unlock()
	return lm, nil
}

// Acquired returns every track set handed out so far.
func (m *MediaSource) Acquired() []*domain.LocalMedia {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.LocalMedia(nil), m.acquired...)
}

// Sent is one outbound signaling message.
type Sent struct {
	Event   string
	Payload any
}

// Signaler records outbound messages.
type Signaler struct {
	ConnectErr error
	// OfferErr fails every SendOffer without recording it.
	OfferErr error

	mu     sync.Mutex
	sent   []Sent
	closed int
}

func (s *Signaler) Connect(ctx context.Context) error { return s.ConnectErr }

func (s *Signaler) record(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Sent{Event: event, Payload: payload})
	return nil
}

func (s *Signaler) SendJoinRoom(msg domain.JoinRoom) error {
	return s.record(domain.EventJoinRoom, msg)
}

func (s *Signaler) SendOffer(msg domain.OfferOut) error {
	if s.OfferErr != nil {
		return s.OfferErr
	}
	return s.record(domain.EventOffer, msg)
}

func (s *Signaler) SendAnswer(msg domain.AnswerOut) error {
	return s.record(domain.EventAnswer, msg)
}

func (s *Signaler) SendICECandidate(msg domain.CandidateOut) error {
	return s.record(domain.EventICECandidate, msg)
}

func (s *Signaler) SendToggleMedia(msg domain.ToggleMedia) error {
	return s.record(domain.EventToggleMedia, msg)
}

func (s *Signaler) SendLeaveRoom(msg domain.LeaveRoom) error {
	return s.record(domain.EventLeaveRoom, msg)
}

func (s *Signaler) Close() {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
}

// Closed reports how many times Close was called.
func (s *Signaler) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Sent returns every outbound message of the given event, in order.
func (s *Signaler) Sent(event string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, m := range s.sent {
		if m.Event == event {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Count returns how many messages of the given event were sent.
func (s *Signaler) Count(event string) int {
	return len(s.Sent(event))
}

// All returns every outbound message in order.
func (s *Signaler) All() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// Offers returns the sent offers.
func (s *Signaler) Offers() []domain.OfferOut {
	var out []domain.OfferOut
	for _, p := range s.Sent(domain.EventOffer) {
		out = append(out, p.(domain.OfferOut))
	}
	return out
}

// Answers returns the sent answers.
func (s *Signaler) Answers() []domain.AnswerOut {
	var out []domain.AnswerOut
	for _, p := range s.Sent(domain.EventAnswer) {
		out = append(out, p.(domain.AnswerOut))
	}
	return out
}

// PeerConnection is a scripted peer connection. Gates, when set, block the
// matching call until closed so tests can hold an operation in flight.
type PeerConnection struct {
	Index int

	OfferGate  chan struct{}
	RemoteGate chan struct{}

	OfferErr     error
	AnswerErr    error
	RemoteErr    error
	CandidateErr error

	mu          sync.Mutex
	tracks      []domain.LocalTrack
	remote      []domain.SessionDescription
	candidates  []domain.ICECandidate
	offerCalls  int
	answerCalls int
	closed      bool

	onCandidate func(domain.ICECandidate)
	onTrack     func(domain.RemoteTrack)
	onState     func(domain.ConnectionState)
}

func (p *PeerConnection) AddTrack(track domain.LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *PeerConnection) CreateOffer() (domain.SessionDescription, error) {
	p.mu.Lock()
	p.offerCalls++
	n := p.offerCalls
	gate := p.OfferGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if p.OfferErr != nil {
		return domain.SessionDescription{}, p.OfferErr
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", p.Index, n)}, nil
}

func (p *PeerConnection) CreateAnswer() (domain.SessionDescription, error) {
	p.mu.Lock()
	p.answerCalls++
	n := p.answerCalls
	p.mu.Unlock()
	if p.AnswerErr != nil {
		return domain.SessionDescription{}, p.AnswerErr
	}
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d-%d", p.Index, n)}, nil
}

func (p *PeerConnection) SetRemoteDescription(sd domain.SessionDescription) error {
	if p.RemoteGate != nil {
		<-p.RemoteGate
	}
	if p.RemoteErr != nil {
		return p.RemoteErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, sd)
	return nil
}

func (p *PeerConnection) AddICECandidate(c domain.ICECandidate) error {
	if p.CandidateErr != nil {
		return p.CandidateErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *PeerConnection) OnICECandidate(fn func(domain.ICECandidate)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *PeerConnection) OnTrack(fn func(domain.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *PeerConnection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *PeerConnection) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// EmitCandidate fires the local candidate callback.
func (p *PeerConnection) EmitCandidate(c domain.ICECandidate) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitTrack fires the remote track callback.
func (p *PeerConnection) EmitTrack(t domain.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// EmitState fires the connection state callback.
func (p *PeerConnection) EmitState(s domain.ConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Tracks returns the attached local tracks.
func (p *PeerConnection) Tracks() []domain.LocalTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LocalTrack(nil), p.tracks...)
}

// Remote returns the applied remote descriptions.
func (p *PeerConnection) Remote() []domain.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SessionDescription(nil), p.remote...)
}

// Candidates returns the applied remote candidates in order.
func (p *PeerConnection) Candidates() []domain.ICECandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ICECandidate(nil), p.candidates...)
}

// OfferCalls returns how many times CreateOffer was entered.
func (p *PeerConnection) OfferCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offerCalls
}

// AnswerCalls returns how many times CreateAnswer was entered.
func (p *PeerConnection) AnswerCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answerCalls
}

// Closed reports whether Close was called.
func (p *PeerConnection) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Factory creates fake peer connections and keeps every one it made.
type Factory struct {
	Err error
	// Configure runs on each new connection before it is returned.
	Configure func(pc *PeerConnection)

	mu  sync.Mutex
	pcs []*PeerConnection
}

func (f *Factory) NewPeerConnection() (domain.PeerConnection, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	pc := &PeerConnection{Index: len(f.pcs)}
	f.pcs = append(f.pcs, pc)
	f.mu.Unlock()
	if f.Configure != nil {
		f.Configure(pc)
	}
	return pc, nil
}

// Count returns how many connections were created.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

// Get returns the i-th created connection.
func (f *Factory) Get(i int) *PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pcs[i]
}

// Last returns the most recently created connection.
func (f *Factory) Last() *PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pcs[len(f.pcs)-1]
}

// All returns every created connection.
func (f *Factory) All() []*PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*PeerConnection(nil), f.pcs...)
}
