package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
	"meshcall/native/internal/meshtest"
	"meshcall/native/internal/peerlink"
)

const localUserID = "u-local"

type harness struct {
	t       *testing.T
	sess    *Session
	signal  *meshtest.Signaler
	factory *meshtest.Factory
	media   *meshtest.MediaSource
	runErr  chan error
	cancel  context.CancelFunc
}

type harnessOption func(*harness)

func withMediaGate(gate chan struct{}) harnessOption {
	return func(h *harness) { h.media.Gate = gate }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		signal:  &meshtest.Signaler{},
		factory: &meshtest.Factory{},
		media:   &meshtest.MediaSource{},
		runErr:  make(chan error, 1),
	}
	for _, o := range opts {
		o(h)
	}
	h.sess = New(Options{
		RoomID:   "abc123",
		UserName: "alice",
		Links:    peerlink.Options{DisconnectGrace: time.Second, RetryTimeout: time.Second},
	}, h.media, h.factory, zerolog.Nop())
	h.sess.SetSignaler(h.signal)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.sess.Done()
	})
	meshtest.WaitFor(t, "loop running", h.sess.running.Load)
	return h
}

func (h *harness) join() {
	h.t.Helper()
	if err := h.sess.Join(context.Background()); err != nil {
		h.t.Fatalf("join: %v", err)
	}
}

// connect joins and delivers room-joined with the given participants.
func (h *harness) connect(participants ...domain.PeerInfo) {
	h.t.Helper()
	h.join()
	h.sess.OnRoomJoined(domain.RoomJoined{UserID: localUserID, Participants: participants})
	h.waitState(domain.StateConnected)
}

func (h *harness) waitState(st domain.SessionState) {
	h.t.Helper()
	meshtest.WaitFor(h.t, "state "+st.String(), func() bool { return h.sess.Snapshot().State == st })
}

func (h *harness) participant(connID string) (ParticipantView, bool) {
	for _, p := range h.sess.Snapshot().Participants {
		if p.ConnID == connID {
			return p, true
		}
	}
	return ParticipantView{}, false
}

// sync waits until every event posted before it has run.
func (h *harness) sync() {
	h.t.Helper()
	if !h.sess.loop.call(func() {}) {
		h.t.Fatal("loop stopped")
	}
}

// linkTo finds the connection that produced the first offer sent to connID.
func (h *harness) linkTo(connID string) *meshtest.PeerConnection {
	h.t.Helper()
	for _, o := range h.signal.Offers() {
		if o.TargetSocketID != connID {
			continue
		}
		var idx, n int
		if _, err := fmt.Sscanf(o.Offer.SDP, "offer-%d-%d", &idx, &n); err != nil {
			h.t.Fatalf("parse offer %q: %v", o.Offer.SDP, err)
		}
		return h.factory.Get(idx)
	}
	h.t.Fatalf("no offer sent to %s", connID)
	return nil
}

func peer(n string) domain.PeerInfo {
	return domain.PeerInfo{SocketID: "s-" + n, UserName: n, UserID: "u-" + n}
}

func offerFrom(p domain.PeerInfo, sdp string) domain.OfferIn {
	return domain.OfferIn{
		Offer:          domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: sdp},
		SenderSocketID: p.SocketID,
		SenderID:       p.UserID,
	}
}

func TestJoin_MediaFailureSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.media.Err = errors.New("no camera")

	err := h.sess.Join(context.Background())
	if !errors.Is(err, domain.ErrMediaAcquisition) {
		t.Fatalf("expected ErrMediaAcquisition, got %v", err)
	}
	if sent := h.signal.All(); len(sent) != 0 {
		t.Errorf("expected no signaling, got %+v", sent)
	}
	if st := h.sess.Snapshot().State; st != domain.StateFailed {
		t.Errorf("expected failed, got %s", st)
	}
	if err := <-h.runErr; !errors.Is(err, domain.ErrMediaAcquisition) {
		t.Errorf("expected Run to report the media failure, got %v", err)
	}
}

func TestJoin_SendsJoinRoomAfterMedia(t *testing.T) {
	h := newHarness(t)
	h.join()

	if n := len(h.media.Acquired()); n != 1 {
		t.Fatalf("expected media acquired once, got %d", n)
	}
	sent := h.signal.Sent(domain.EventJoinRoom)
	if len(sent) != 1 {
		t.Fatalf("expected one join-room, got %d", len(sent))
	}
	if msg := sent[0].(domain.JoinRoom); msg.RoomID != "abc123" || msg.UserName != "alice" {
		t.Errorf("unexpected join-room: %+v", msg)
	}
	if st := h.sess.Snapshot().State; st != domain.StateConnecting {
		t.Errorf("expected connecting, got %s", st)
	}

	if err := h.sess.Join(context.Background()); !errors.Is(err, domain.ErrAlreadyJoined) {
		t.Errorf("expected ErrAlreadyJoined on a second join, got %v", err)
	}
}

func TestRoomJoined_InitiatesToEveryone(t *testing.T) {
	h := newHarness(t)
	h.connect(peer("bob"), peer("carol"))

	meshtest.WaitFor(t, "two offers", func() bool { return len(h.signal.Offers()) == 2 })
	targets := map[string]bool{}
	for _, o := range h.signal.Offers() {
		targets[o.TargetSocketID] = true
		if o.SenderID != localUserID {
			t.Errorf("expected sender %s, got %s", localUserID, o.SenderID)
		}
	}
	if !targets["s-bob"] || !targets["s-carol"] {
		t.Errorf("expected offers to bob and carol, got %v", targets)
	}
	for _, pc := range h.factory.All() {
		if n := len(pc.Tracks()); n != 2 {
			t.Errorf("expected both local tracks attached, got %d", n)
		}
	}

	v := h.sess.Snapshot()
	if v.LocalID != localUserID || len(v.Participants) != 2 || v.Participants[0].Name() != "bob" {
		t.Errorf("unexpected view: %+v", v)
	}
}

func TestUserJoined_DoesNotInitiate(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.sess.OnUserJoined(peer("dave"))
	meshtest.WaitFor(t, "dave registered", func() bool {
		_, ok := h.participant("s-dave")
		return ok
	})
	h.sync()

	if n := h.factory.Count(); n != 0 {
		t.Errorf("expected no link toward a later joiner, got %d", n)
	}
	if n := len(h.signal.Offers()); n != 0 {
		t.Errorf("expected no offers, got %d", n)
	}
}

func TestOffer_FromLaterJoinerIsAnswered(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.sess.OnUserJoined(peer("dave"))
	h.sess.OnOffer(offerFrom(peer("dave"), "remote-offer"))

	meshtest.WaitFor(t, "answer", func() bool { return len(h.signal.Answers()) == 1 })
	if a := h.signal.Answers()[0]; a.TargetSocketID != "s-dave" || a.Answer.Type != domain.SDPTypeAnswer {
		t.Errorf("unexpected answer: %+v", a)
	}
	if r := h.factory.Get(0).Remote(); len(r) != 1 || r[0].SDP != "remote-offer" {
		t.Errorf("expected the offer applied, got %+v", r)
	}
}

func TestOffer_FromUnknownSenderRegistersParticipant(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.sess.OnOffer(offerFrom(peer("erin"), "remote-offer"))
	meshtest.WaitFor(t, "answer", func() bool { return len(h.signal.Answers()) == 1 })

	p, ok := h.participant("s-erin")
	if !ok {
		t.Fatal("expected a placeholder participant")
	}
	if p.Name() != "u-erin" {
		t.Errorf("expected the user id as name until user-joined, got %q", p.Name())
	}

	h.sess.OnUserJoined(peer("erin"))
	meshtest.WaitFor(t, "name", func() bool {
		p, _ := h.participant("s-erin")
		return p.Name() == "erin"
	})
}

func TestOffer_BeforeRoomJoinedIsAnsweredAfterIt(t *testing.T) {
	h := newHarness(t)
	h.join()

	bob := peer("bob")
	h.sess.OnOffer(offerFrom(bob, "early"))
	h.sess.OnICECandidate(domain.CandidateIn{Candidate: meshtest.Candidate(50000), SenderSocketID: bob.SocketID})
	h.sync()
	if n := h.factory.Count(); n != 0 {
		t.Fatalf("expected no link before room-joined, got %d", n)
	}

	h.sess.OnRoomJoined(domain.RoomJoined{UserID: localUserID})
	h.sess.OnUserJoined(bob)

	meshtest.WaitFor(t, "answer", func() bool { return len(h.signal.Answers()) == 1 })
	pc := h.factory.Get(0)
	meshtest.WaitFor(t, "candidate applied", func() bool { return len(pc.Candidates()) == 1 })
	if r := pc.Remote(); len(r) != 1 || r[0].SDP != "early" {
		t.Errorf("expected the held offer applied, got %+v", r)
	}
	meshtest.WaitFor(t, "bob named", func() bool {
		p, ok := h.participant(bob.SocketID)
		return ok && p.Name() == "bob"
	})
	if n := len(h.signal.Offers()); n != 0 {
		t.Errorf("expected no offer toward bob, got %d", n)
	}
}

func TestOffer_FromSnapshotMemberBeforeRoomJoined(t *testing.T) {
	h := newHarness(t)
	h.join()

	bob := peer("bob")
	h.sess.OnOffer(offerFrom(bob, "early"))
	h.sess.OnRoomJoined(domain.RoomJoined{UserID: localUserID, Participants: []domain.PeerInfo{bob}})

	meshtest.WaitFor(t, "answer", func() bool { return len(h.signal.Answers()) == 1 })
	h.sync()
	if n := len(h.signal.Offers()); n != 0 {
		t.Errorf("expected the held offer to stand in for ours, got %d offers", n)
	}
	if n := h.factory.Count(); n != 1 {
		t.Errorf("expected one link, got %d", n)
	}
}

func TestReconnected_DropsHeldOffers(t *testing.T) {
	h := newHarness(t)
	h.join()

	h.sess.OnOffer(offerFrom(peer("bob"), "stale"))
	h.sess.OnReconnected()
	meshtest.WaitFor(t, "rejoin", func() bool { return h.signal.Count(domain.EventJoinRoom) == 2 })

	h.sess.OnRoomJoined(domain.RoomJoined{UserID: localUserID})
	h.waitState(domain.StateConnected)
	h.sync()
	if n := h.factory.Count(); n != 0 {
		t.Errorf("expected the offer to the old connection discarded, got %d links", n)
	}
}

func TestUserLeft_RemovesParticipantLinkAndStream(t *testing.T) {
	h := newHarness(t)
	h.connect(peer("bob"))
	meshtest.WaitFor(t, "offer", func() bool { return len(h.signal.Offers()) == 1 })

	pc := h.factory.Get(0)
	pc.EmitTrack(meshtest.RemoteTrack{TrackID: "a", Stream: "bob-stream", Media: domain.MediaAudio})
	meshtest.WaitFor(t, "stream", func() bool {
		p, _ := h.participant("s-bob")
		return p.HasStream && p.HasAudio
	})

	h.sess.OnUserLeft(domain.UserLeft{SocketID: "s-bob"})
	meshtest.WaitFor(t, "bob removed", func() bool { return len(h.sess.Snapshot().Participants) == 0 })

	if v := h.sess.Snapshot(); v.Links != 0 {
		t.Errorf("expected no links, got %d", v.Links)
	}
	if !pc.Closed() {
		t.Error("expected bob's connection closed")
	}
}

func TestUserLeft_DiscardsInFlightOffer(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.factory.Configure = func(pc *meshtest.PeerConnection) { pc.OfferGate = gate }
	h.connect(peer("bob"))

	meshtest.WaitFor(t, "offer in flight", func() bool {
		return h.factory.Count() == 1 && h.factory.Get(0).OfferCalls() == 1
	})
	h.sess.OnUserLeft(domain.UserLeft{SocketID: "s-bob"})
	meshtest.WaitFor(t, "bob removed", func() bool { return len(h.sess.Snapshot().Participants) == 0 })

	close(gate)
	time.Sleep(20 * time.Millisecond)
	h.sync()

	if n := len(h.signal.Offers()); n != 0 {
		t.Errorf("expected the stale offer to be discarded, got %d sent", n)
	}
}

func TestRemoteMediaToggle(t *testing.T) {
	h := newHarness(t)
	h.connect(peer("bob"))

	h.sess.OnUserMediaToggle(domain.UserMediaToggle{SocketID: "s-bob", MediaType: domain.MediaVideo, Enabled: false})
	h.sess.OnUserMediaToggle(domain.UserMediaToggle{SocketID: "s-bob", MediaType: "screen", Enabled: false})
	h.sess.OnUserMediaToggle(domain.UserMediaToggle{SocketID: "s-nobody", MediaType: domain.MediaAudio})
	h.sync()

	p, _ := h.participant("s-bob")
	if p.VideoEnabled || !p.AudioEnabled {
		t.Errorf("expected bob's camera off and mic on, got %+v", p.Participant)
	}
	if len(h.sess.Snapshot().Participants) != 1 {
		t.Error("expected a toggle for an unknown participant to be ignored")
	}
}

func TestToggleMic_Twice(t *testing.T) {
	h := newHarness(t)
	h.connect()

	first, err := h.sess.ToggleMic()
	if err != nil || first {
		t.Fatalf("expected mic off, got %v (%v)", first, err)
	}
	second, err := h.sess.ToggleMic()
	if err != nil || !second {
		t.Fatalf("expected mic on, got %v (%v)", second, err)
	}

	sent := h.signal.Sent(domain.EventToggleMedia)
	if len(sent) != 2 {
		t.Fatalf("expected two toggle-media, got %d", len(sent))
	}
	a, b := sent[0].(domain.ToggleMedia), sent[1].(domain.ToggleMedia)
	if a.Enabled || !b.Enabled || a.MediaType != domain.MediaAudio || a.RoomID != "abc123" {
		t.Errorf("unexpected toggles: %+v %+v", a, b)
	}
	if !h.media.Acquired()[0].Audio.Enabled() {
		t.Error("expected the track enabled again")
	}
	if !h.sess.Snapshot().AudioEnabled {
		t.Error("expected the view to show the mic on")
	}
}

func TestToggle_WithoutTrack(t *testing.T) {
	h := newHarness(t)

	if _, err := h.sess.ToggleCamera(); !errors.Is(err, domain.ErrNoTrack) {
		t.Fatalf("expected ErrNoTrack before media, got %v", err)
	}
	if n := h.signal.Count(domain.EventToggleMedia); n != 0 {
		t.Errorf("expected no toggle-media, got %d", n)
	}
}

func TestLeave_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.connect(peer("bob"))
	meshtest.WaitFor(t, "offer", func() bool { return len(h.signal.Offers()) == 1 })

	h.sess.Leave()
	h.sess.Leave()

	if n := h.signal.Count(domain.EventLeaveRoom); n != 1 {
		t.Errorf("expected one leave-room, got %d", n)
	}
	if st := h.sess.Snapshot().State; st != domain.StateLeft {
		t.Errorf("expected left, got %s", st)
	}
	for _, tr := range h.media.Acquired()[0].Tracks() {
		if !tr.(*meshtest.Track).Stopped() {
			t.Errorf("expected %s stopped", tr.ID())
		}
	}
	if !h.factory.Get(0).Closed() {
		t.Error("expected links closed")
	}
	if h.signal.Closed() == 0 {
		t.Error("expected the transport closed")
	}
	if err := <-h.runErr; err != nil {
		t.Errorf("expected a clean Run, got %v", err)
	}
	if _, err := h.sess.ToggleMic(); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed after leave, got %v", err)
	}
}

func TestLeave_DuringAcquisitionStopsLateTracks(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, withMediaGate(gate))

	joinErr := make(chan error, 1)
	go func() { joinErr <- h.sess.Join(context.Background()) }()
	h.waitState(domain.StateAcquiringMedia)

	h.sess.Leave()
	close(gate)

	if err := <-joinErr; !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	meshtest.WaitFor(t, "late tracks stopped", func() bool {
		acquired := h.media.Acquired()
		if len(acquired) != 1 {
			return false
		}
		for _, tr := range acquired[0].Tracks() {
			if !tr.(*meshtest.Track).Stopped() {
				return false
			}
		}
		return true
	})
	if sent := h.signal.All(); len(sent) != 0 {
		t.Errorf("expected no signaling, got %+v", sent)
	}
}

func TestLinkFailure_IsolatedToOnePeer(t *testing.T) {
	h := newHarness(t)
	h.connect(peer("bob"), peer("carol"), peer("dave"))
	meshtest.WaitFor(t, "three offers", func() bool { return len(h.signal.Offers()) == 3 })

	for _, name := range []string{"bob", "dave"} {
		connID := "s-" + name
		h.sess.OnAnswer(domain.AnswerIn{
			Answer:         domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "answer-" + name},
			SenderSocketID: connID,
		})
		pc := h.linkTo(connID)
		meshtest.WaitFor(t, name+" answer applied", func() bool { return len(pc.Remote()) == 1 })
		pc.EmitState(domain.ConnectionConnected)
		pc.EmitTrack(meshtest.RemoteTrack{TrackID: name + "-a", Stream: name + "-stream", Media: domain.MediaAudio})
		pc.EmitTrack(meshtest.RemoteTrack{TrackID: name + "-v", Stream: name + "-stream", Media: domain.MediaVideo})
	}
	meshtest.WaitFor(t, "streams", func() bool {
		n := 0
		for _, p := range h.sess.Snapshot().Participants {
			if p.HasAudio && p.HasVideo {
				n++
			}
		}
		return n == 2
	})

	carol := h.linkTo("s-carol")
	carol.EmitState(domain.ConnectionFailed)
	meshtest.WaitFor(t, "retry offer", func() bool { return len(h.signal.Offers()) == 4 })
	if last := h.signal.Offers()[3]; last.TargetSocketID != "s-carol" {
		t.Fatalf("expected the retry toward carol, got %s", last.TargetSocketID)
	}

	h.factory.Get(3).EmitState(domain.ConnectionFailed)
	meshtest.WaitFor(t, "carol unreachable", func() bool {
		p, _ := h.participant("s-carol")
		return p.Unreachable
	})
	h.sync()

	for _, name := range []string{"bob", "dave"} {
		p, ok := h.participant("s-" + name)
		if !ok || p.Unreachable || p.Connection != domain.ConnectionConnected {
			t.Errorf("expected %s unaffected, got %+v", name, p.Participant)
		}
		if !p.HasStream || !p.HasAudio || !p.HasVideo {
			t.Errorf("expected %s's stream kept, got %+v", name, p)
		}
	}
	if p, _ := h.participant("s-carol"); p.HasStream {
		t.Error("expected no stream for carol")
	}
	open := 0
	for _, pc := range h.factory.All() {
		if !pc.Closed() {
			open++
		}
	}
	if open != 2 {
		t.Errorf("expected bob's and dave's links open, got %d open", open)
	}
	if st := h.sess.Snapshot().State; st != domain.StateConnected {
		t.Errorf("expected the session to stay connected, got %s", st)
	}
}

func TestTransportFailure_FailsSession(t *testing.T) {
	h := newHarness(t)
	h.connect(peer("bob"))

	h.sess.OnTransportFailure(errors.New("relay gone"))

	err := <-h.runErr
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	v := h.sess.Snapshot()
	if v.State != domain.StateFailed || !errors.Is(v.Err, domain.ErrTransport) {
		t.Errorf("expected a failed view, got %s %v", v.State, v.Err)
	}
	if !h.media.Acquired()[0].Audio.(*meshtest.Track).Stopped() {
		t.Error("expected local tracks stopped")
	}
}

func TestConnectFailure_FailsWithTransportError(t *testing.T) {
	h := newHarness(t)
	h.signal.ConnectErr = errors.New("dial refused")

	if err := h.sess.Join(context.Background()); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if n := h.signal.Count(domain.EventJoinRoom); n != 0 {
		t.Errorf("expected no join-room, got %d", n)
	}
}

func TestReconnected_RejoinsRoom(t *testing.T) {
	h := newHarness(t)
	h.connect(peer("bob"))
	meshtest.WaitFor(t, "offer", func() bool { return len(h.signal.Offers()) == 1 })

	h.sess.OnReconnected()
	meshtest.WaitFor(t, "rejoin", func() bool { return h.signal.Count(domain.EventJoinRoom) == 2 })

	v := h.sess.Snapshot()
	if v.State != domain.StateConnecting || len(v.Participants) != 0 || v.Links != 0 {
		t.Errorf("expected a cleared connecting view, got %+v", v)
	}
	if !h.factory.Get(0).Closed() {
		t.Error("expected the old link closed")
	}

	h.sess.OnRoomJoined(domain.RoomJoined{UserID: "u-local-2", Participants: []domain.PeerInfo{peer("bob")}})
	meshtest.WaitFor(t, "new offer", func() bool { return len(h.signal.Offers()) == 2 })
	if o := h.signal.Offers()[1]; o.SenderID != "u-local-2" {
		t.Errorf("expected the new user id on the offer, got %s", o.SenderID)
	}
}

func TestRun_ContextCancelLeaves(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.cancel()
	if err := <-h.runErr; err != nil {
		t.Fatalf("expected a clean exit, got %v", err)
	}
	if n := h.signal.Count(domain.EventLeaveRoom); n != 1 {
		t.Errorf("expected leave-room on cancel, got %d", n)
	}
}

func TestSubscribe_NotifiesOnChange(t *testing.T) {
	h := newHarness(t)
	updates := h.sess.Subscribe()
	h.join()

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a view notification")
	}
}

func TestLeave_BeforeRunDoesNotBlock(t *testing.T) {
	sig := &meshtest.Signaler{}
	sess := New(Options{RoomID: "abc123", UserName: "alice"}, &meshtest.MediaSource{}, &meshtest.Factory{}, zerolog.Nop())
	sess.SetSignaler(sig)

	if _, err := sess.ToggleMic(); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before Run, got %v", err)
	}
	sess.Leave()

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected a clean Run, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to end after an early leave")
	}
	if st := sess.Snapshot().State; st != domain.StateLeft {
		t.Errorf("expected left, got %s", st)
	}
	if n := sig.Count(domain.EventLeaveRoom); n != 0 {
		t.Errorf("expected no leave-room for a session that never joined, got %d", n)
	}
}

// TestMembershipInterleaving drives random membership and signaling events
// and checks after each one that every link and stream belongs to a
// registered participant.
func TestMembershipInterleaving(t *testing.T) {
	h := newHarness(t)
	h.connect(peer("p0"), peer("p1"))

	rng := rand.New(rand.NewPCG(7, 11))
	const peers = 6
	for step := 0; step < 400; step++ {
		p := peer(fmt.Sprintf("p%d", rng.IntN(peers)))
		switch rng.IntN(7) {
		case 0:
			h.sess.OnUserJoined(p)
		case 1:
			h.sess.OnUserLeft(domain.UserLeft{SocketID: p.SocketID})
		case 2:
			h.sess.OnOffer(offerFrom(p, fmt.Sprintf("offer-%d", step)))
		case 3:
			h.sess.OnICECandidate(domain.CandidateIn{Candidate: meshtest.Candidate(40000 + step), SenderSocketID: p.SocketID})
		case 4:
			h.sess.OnAnswer(domain.AnswerIn{
				Answer:         domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", step)},
				SenderSocketID: p.SocketID,
			})
		case 5:
			if n := h.factory.Count(); n > 0 {
				h.factory.Get(rng.IntN(n)).EmitTrack(meshtest.RemoteTrack{TrackID: fmt.Sprintf("t%d", step), Stream: "s", Media: domain.MediaAudio})
			}
		case 6:
			if n := h.factory.Count(); n > 0 {
				h.factory.Get(rng.IntN(n)).EmitState(domain.ConnectionFailed)
			}
		}
		h.sync()
		h.checkOwnership(step)
	}
}

// checkOwnership reads the session's maps on the loop and fails on any link
// or stream without a participant.
func (h *harness) checkOwnership(step int) {
	h.t.Helper()
	var links, streams []string
	var registered map[string]bool
	if !h.sess.loop.call(func() {
		links = h.sess.links.IDs()
		streams = h.sess.streams.IDs()
		registered = make(map[string]bool)
		for _, p := range h.sess.registry.List() {
			registered[p.ConnID] = true
		}
	}) {
		h.t.Fatal("loop stopped")
	}
	if len(links) > len(registered) {
		h.t.Fatalf("step %d: %d links for %d participants", step, len(links), len(registered))
	}
	for _, id := range links {
		if !registered[id] {
			h.t.Fatalf("step %d: link to unregistered %s", step, id)
		}
	}
	for _, id := range streams {
		if !registered[id] {
			h.t.Fatalf("step %d: stream for unregistered %s", step, id)
		}
	}
}
