// Package media provides the local audio and video tracks.
package media

import (
	"sync"
	"sync/atomic"

	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"meshcall/native/internal/domain"
)

// Track is a local sample track. Samples written while the track is
// disabled or stopped are dropped, so remote peers receive nothing.
type Track struct {
	local *pion.TrackLocalStaticSample
	kind  domain.MediaKind

	enabled  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func newTrack(kind domain.MediaKind, codec pion.RTPCodecCapability, streamID string) (*Track, error) {
	local, err := pion.NewTrackLocalStaticSample(codec, string(kind), streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{local: local, kind: kind, done: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) ID() string                  { return t.local.ID() }
func (t *Track) Kind() domain.MediaKind      { return t.kind }
func (t *Track) Enabled() bool               { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool)     { t.enabled.Store(enabled) }
func (t *Track) TrackLocal() pion.TrackLocal { return t.local }

// Stop ends the track's writer. Repeated calls do nothing.
func (t *Track) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// Done is closed once the track is stopped.
func (t *Track) Done() <-chan struct{} {
	return t.done
}

func (t *Track) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// WriteSample forwards s to every bound peer connection.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if !t.Enabled() || t.stopped() {
		return nil
	}
	return t.local.WriteSample(s)
}
