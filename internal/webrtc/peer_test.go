package webrtc

import (
	"strings"
	"testing"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
)

type testTrack struct {
	local   *pion.TrackLocalStaticSample
	enabled bool
}

func newTestTrack(t *testing.T) *testTrack {
	t.Helper()
	local, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus}, "audio", "local")
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	return &testTrack{local: local, enabled: true}
}

func (t *testTrack) ID() string                  { return t.local.ID() }
func (t *testTrack) Kind() domain.MediaKind      { return domain.MediaAudio }
func (t *testTrack) Enabled() bool               { return t.enabled }
func (t *testTrack) SetEnabled(v bool)           { t.enabled = v }
func (t *testTrack) Stop()                       {}
func (t *testTrack) TrackLocal() pion.TrackLocal { return t.local }

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		candidate string
		want      bool
	}{
		{"candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host", true},
		{"candidate:2 1 udp 2130706431 ::1 50001 typ host", true},
		{"candidate:3 1 udp 2130706431 192.168.1.10 50002 typ host", false},
		{"candidate:4 1 udp 1694498815 203.0.113.5 50003 typ srflx raddr 0.0.0.0 rport 0", false},
	}
	for _, tt := range tests {
		if got := isLoopback(tt.candidate); got != tt.want {
			t.Errorf("isLoopback(%q) = %v, want %v", tt.candidate, got, tt.want)
		}
	}
}

func TestMapState(t *testing.T) {
	tests := map[pion.PeerConnectionState]domain.ConnectionState{
		pion.PeerConnectionStateNew:          domain.ConnectionNew,
		pion.PeerConnectionStateConnecting:   domain.ConnectionChecking,
		pion.PeerConnectionStateConnected:    domain.ConnectionConnected,
		pion.PeerConnectionStateDisconnected: domain.ConnectionDisconnected,
		pion.PeerConnectionStateFailed:       domain.ConnectionFailed,
		pion.PeerConnectionStateClosed:       domain.ConnectionClosed,
	}
	for in, want := range tests {
		if got := mapState(in); got != want {
			t.Errorf("mapState(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestPeer_OfferAnswerExchange(t *testing.T) {
	f, err := NewFactory(Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	caller, err := f.NewPeerConnection()
	if err != nil {
		t.Fatalf("caller: %v", err)
	}
	defer caller.Close()
	callee, err := f.NewPeerConnection()
	if err != nil {
		t.Fatalf("callee: %v", err)
	}
	defer callee.Close()

	if err := caller.AddTrack(newTestTrack(t)); err != nil {
		t.Fatalf("add track: %v", err)
	}

	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if offer.Type != domain.SDPTypeOffer || !strings.Contains(offer.SDP, "m=audio") {
		t.Fatalf("expected an audio offer, got %q", offer.Type)
	}

	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("callee remote: %v", err)
	}
	answer, err := callee.CreateAnswer()
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatalf("caller remote: %v", err)
	}
}

func TestPeer_RejectsInvalidInput(t *testing.T) {
	f, err := NewFactory(Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	pc, err := f.NewPeerConnection()
	if err != nil {
		t.Fatalf("peer: %v", err)
	}
	defer pc.Close()

	if err := pc.SetRemoteDescription(domain.SessionDescription{Type: "pranswer-ish", SDP: "v=0"}); err == nil {
		t.Error("expected an unknown description type to be rejected")
	}
	if err := pc.SetRemoteDescription(domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "garbage"}); err == nil {
		t.Error("expected malformed SDP to be rejected")
	}
	if err := pc.AddTrack(plainTrack{}); err == nil {
		t.Error("expected a track without a Pion track to be rejected")
	}
}

type plainTrack struct{}

func (plainTrack) ID() string             { return "plain" }
func (plainTrack) Kind() domain.MediaKind { return domain.MediaAudio }
func (plainTrack) Enabled() bool          { return true }
func (plainTrack) SetEnabled(bool)        {}
func (plainTrack) Stop()                  {}
