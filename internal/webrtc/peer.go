package webrtc

import (
	"errors"
	"fmt"
	"strings"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
)

// SampleTrack is a local track backed by a Pion track.
type SampleTrack interface {
	domain.LocalTrack
	TrackLocal() pion.TrackLocal
}

// Peer wraps a Pion PeerConnection.
type Peer struct {
	pc             *pion.PeerConnection
	filterLoopback bool
	log            zerolog.Logger
}

func newPeer(pc *pion.PeerConnection, filterLoopback bool, logger zerolog.Logger) *Peer {
	p := &Peer{pc: pc, filterLoopback: filterLoopback, log: logger}
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Debug().Str("state", state.String()).Msg("ICE connection state")
	})
	return p
}

// AddTrack sends track to the remote side and drains its RTCP.
func (p *Peer) AddTrack(track domain.LocalTrack) error {
	st, ok := track.(SampleTrack)
	if !ok {
		return fmt.Errorf("add track %s: unsupported track type %T", track.ID(), track)
	}
	sender, err := p.pc.AddTrack(st.TrackLocal())
	if err != nil {
		return fmt.Errorf("add track %s: %w", track.ID(), err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: offer.SDP}, nil
}

// CreateAnswer creates an SDP answer and sets it as the local description.
func (p *Peer) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: answer.SDP}, nil
}

func (p *Peer) SetRemoteDescription(sd domain.SessionDescription) error {
	typ := pion.NewSDPType(sd.Type)
	if typ != pion.SDPTypeOffer && typ != pion.SDPTypeAnswer {
		return fmt.Errorf("set remote description: unsupported type %q", sd.Type)
	}
	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: typ, SDP: sd.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *Peer) AddICECandidate(c domain.ICECandidate) error {
	init := pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// OnICECandidate reports local candidates. The end-of-gathering nil is not forwarded.
func (p *Peer) OnICECandidate(fn func(domain.ICECandidate)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.log.Debug().Msg("ICE gathering complete")
			return
		}
		init := c.ToJSON()
		if p.filterLoopback && isLoopback(init.Candidate) {
			p.log.Debug().Msg("filtering loopback ICE candidate")
			return
		}
		fn(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

// OnTrack reports remote tracks and keeps reading them so the interceptors run.
func (p *Peer) OnTrack(fn func(domain.RemoteTrack)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		codec := track.Codec()
		p.log.Debug().
			Str("kind", track.Kind().String()).
			Str("codec", codec.MimeType).
			Msg("remote track")

		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
		fn(remoteTrack{track})
	})
}

func (p *Peer) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.log.Debug().Str("state", state.String()).Msg("peer connection state")
		fn(mapState(state))
	})
}

func (p *Peer) Close() error {
	if err := p.pc.Close(); err != nil && !errors.Is(err, pion.ErrConnectionClosed) {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

type remoteTrack struct {
	t *pion.TrackRemote
}

func (r remoteTrack) ID() string       { return r.t.ID() }
func (r remoteTrack) StreamID() string { return r.t.StreamID() }
func (r remoteTrack) Kind() domain.MediaKind {
	if r.t.Kind() == pion.RTPCodecTypeVideo {
		return domain.MediaVideo
	}
	return domain.MediaAudio
}

func mapState(s pion.PeerConnectionState) domain.ConnectionState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return domain.ConnectionChecking
	case pion.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case pion.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	default:
		return domain.ConnectionNew
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, " 127.0.0.1 ") || strings.Contains(candidate, " ::1 ")
}

var _ domain.PeerConnection = (*Peer)(nil)
