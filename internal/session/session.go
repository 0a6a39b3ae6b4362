// Package session coordinates one participant's membership in a mesh call:
// local media, room join, and every signaling event.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
	"meshcall/native/internal/peerlink"
	"meshcall/native/internal/registry"
	"meshcall/native/internal/streams"
)

// Options identifies the room and local participant.
type Options struct {
	RoomID   string
	UserName string
	Links    peerlink.Options
}

// Session is the call coordinator. It implements domain.Handler.
//
// All state is owned by the event loop started with Run; exported methods
// hand their work to that loop.
type Session struct {
	log    zerolog.Logger
	opts   Options
	source domain.MediaSource
	signal domain.Signaler

	loop     *loop
	running  atomic.Bool
	registry *registry.Registry
	streams  *streams.Store
	links    *peerlink.Manager

	state         domain.SessionState
	localID       string
	local         *domain.LocalMedia
	joined        bool
	leaveSent     bool
	cancelAcquire context.CancelFunc
	fatal         error
	// deferred holds offers and candidates received before room-joined.
	deferred      []func()

	viewMu sync.Mutex
	view   View
	subs   []chan struct{}
}

// New creates a Session. Call SetSignaler before Run to complete the
// circular dependency (Session needs Signaler, Signaler needs Handler).
func New(opts Options, source domain.MediaSource, factory domain.PeerConnectionFactory, logger zerolog.Logger) *Session {
	s := &Session{
		log:      logger.With().Str("module", "session").Str("room", opts.RoomID).Logger(),
		opts:     opts,
		source:   source,
		loop:     newLoop(),
		registry: registry.New(logger),
		streams:  streams.New(logger),
	}
	s.links = peerlink.New(factory, s.loop.post, linkEvents{s}, opts.Links, logger)
	s.view = View{State: domain.StateIdle, RoomID: opts.RoomID, UserName: opts.UserName}
	return s
}

// SetSignaler injects the transport.
func (s *Session) SetSignaler(sig domain.Signaler) {
	s.signal = sig
	s.links.SetSignaler(sig)
}

// Run drives the event loop until the session leaves, fails or ctx ends.
// Cancelling ctx leaves the room. The returned error is the cause of a
// failed session.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	s.loop.run(ctx, func() {
		s.log.Info().Msg("context done, leaving")
		s.leave()
	})
	return s.fatal
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.loop.done
}

// Join acquires local media, connects the transport and asks to join the
// room. It returns once join-room was sent; room-joined arrives later.
// No signaling happens if media acquisition fails.
func (s *Session) Join(ctx context.Context) error {
	result := make(chan error, 1)
	if !s.loop.post(func() { s.startJoin(ctx, result) }) {
		return domain.ErrSessionClosed
	}
	select {
	case err := <-result:
		return err
	case <-s.loop.done:
		select {
		case err := <-result:
			return err
		default:
			return domain.ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) startJoin(ctx context.Context, result chan<- error) {
	if s.state != domain.StateIdle {
		result <- domain.ErrAlreadyJoined
		return
	}
	s.setState(domain.StateAcquiringMedia)

	acquireCtx, cancel := context.WithCancel(ctx)
	s.cancelAcquire = cancel
	go func() {
		media, err := s.source.Acquire(acquireCtx)
		if !s.loop.post(func() { s.mediaAcquired(ctx, media, err, result) }) {
			if media != nil {
				media.Stop()
			}
			result <- domain.ErrSessionClosed
		}
	}()
}

func (s *Session) mediaAcquired(ctx context.Context, media *domain.LocalMedia, err error, result chan<- error) {
	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
	if s.state != domain.StateAcquiringMedia {
		if media != nil {
			s.log.Debug().Msg("stopping tracks acquired after leave")
			media.Stop()
		}
		result <- domain.ErrSessionClosed
		return
	}
	if err != nil {
		s.fail(domain.NewError("acquire media", domain.Kind(domain.ErrMediaAcquisition, err)))
		result <- s.fatal
		return
	}

	s.local = media
	s.links.SetMedia(media)
	s.setState(domain.StateConnecting)

	go func() {
		err := s.signal.Connect(ctx)
		if !s.loop.post(func() { s.transportConnected(err, result) }) {
			result <- domain.ErrSessionClosed
		}
	}()
}

func (s *Session) transportConnected(err error, result chan<- error) {
	if s.state != domain.StateConnecting {
		result <- domain.ErrSessionClosed
		return
	}
	if err != nil {
		s.fail(transportError("connect signaling", err))
		result <- s.fatal
		return
	}
	if err := s.sendJoin(); err != nil {
		s.fail(transportError("join room", err))
		result <- s.fatal
		return
	}
	result <- nil
}

func (s *Session) sendJoin() error {
	msg := domain.JoinRoom{RoomID: s.opts.RoomID, UserName: s.opts.UserName}
	if err := s.signal.SendJoinRoom(msg); err != nil {
		return err
	}
	s.joined = true
	s.leaveSent = false
	s.log.Info().Str("user", s.opts.UserName).Msg("join-room sent")
	return nil
}

// ToggleMic flips the local audio track and announces it. It returns the new
// state, or ErrNotConnected before Run.
func (s *Session) ToggleMic() (bool, error) {
	return s.toggle(domain.MediaAudio)
}

// ToggleCamera flips the local video track and announces it. It returns the new state.
func (s *Session) ToggleCamera() (bool, error) {
	return s.toggle(domain.MediaVideo)
}

func (s *Session) toggle(kind domain.MediaKind) (enabled bool, err error) {
	if !s.running.Load() {
		return false, domain.NewError("toggle "+string(kind), domain.ErrNotConnected)
	}
	if !s.loop.call(func() { enabled, err = s.toggleOnLoop(kind) }) {
		return false, domain.ErrSessionClosed
	}
	return enabled, err
}

func (s *Session) toggleOnLoop(kind domain.MediaKind) (bool, error) {
	if s.state.Terminal() {
		return false, domain.ErrSessionClosed
	}
	t := s.local.Track(kind)
	if t == nil {
		return false, domain.NewError("toggle "+string(kind), domain.ErrNoTrack)
	}

	enabled := !t.Enabled()
	t.SetEnabled(enabled)
	s.log.Info().Str("kind", string(kind)).Bool("enabled", enabled).Msg("local media toggled")

	if s.joined {
		msg := domain.ToggleMedia{RoomID: s.opts.RoomID, MediaType: kind, Enabled: enabled}
		if err := s.signal.SendToggleMedia(msg); err != nil {
			s.log.Warn().Err(err).Msg("send toggle-media")
		}
	}
	s.notify()
	return enabled, nil
}

// Leave stops local media, tears down every link, announces leave-room and
// ends the session. Repeated calls do nothing. Before Run, Leave only queues
// the leave and returns; Run then ends at once.
func (s *Session) Leave() {
	if !s.running.Load() {
		s.loop.post(s.leave)
		return
	}
	s.loop.call(s.leave)
}

func (s *Session) leave() {
	if s.state.Terminal() {
		return
	}
	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
	s.release()

	if s.joined && !s.leaveSent {
		if err := s.signal.SendLeaveRoom(domain.LeaveRoom{RoomID: s.opts.RoomID}); err != nil {
			s.log.Warn().Err(err).Msg("send leave-room")
		}
		s.leaveSent = true
	}
	s.closeTransport()

	s.setState(domain.StateLeft)
	s.log.Info().Msg("left room")
	s.loop.stop()
}

func (s *Session) fail(err error) {
	if s.state.Terminal() {
		return
	}
	s.fatal = err
	s.log.Error().Err(err).Msg("session failed")
	s.release()
	s.closeTransport()
	s.setState(domain.StateFailed)
	s.loop.stop()
}

// release stops local tracks and drops every link, participant and stream.
func (s *Session) release() {
	if s.local != nil {
		s.local.Stop()
	}
	s.links.TeardownAll()
	s.registry.Clear()
	s.streams.Clear()
	s.deferred = nil
}

func (s *Session) closeTransport() {
	if s.signal != nil {
		s.signal.Close()
	}
}

func (s *Session) setState(st domain.SessionState) {
	if s.state == st {
		return
	}
	s.log.Info().Str("from", s.state.String()).Str("to", st.String()).Msg("session state")
	s.state = st
	s.notify()
}

func transportError(op string, err error) error {
	if errors.Is(err, domain.ErrTransport) {
		return domain.NewError(op, err)
	}
	return domain.NewError(op, domain.Kind(domain.ErrTransport, err))
}
