// Package streams holds the inbound media of each remote participant.
//
// A Store is owned by the session event loop and is not safe for concurrent use.
package streams

import (
	"sort"

	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
)

// Stream is the single inbound stream handle of one participant.
type Stream struct {
	ConnID   string
	StreamID string
	Tracks   []domain.RemoteTrack
}

// Has reports whether the stream carries a track of the given kind.
func (s Stream) Has(kind domain.MediaKind) bool {
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

// Store maps connection ids to streams.
type Store struct {
	log     zerolog.Logger
	streams map[string]*Stream
}

// New creates an empty store.
func New(logger zerolog.Logger) *Store {
	return &Store{
		log:     logger.With().Str("module", "streams").Logger(),
		streams: make(map[string]*Stream),
	}
}

// Add collapses track into the participant's stream. It reports whether the
// stream was created by this call.
func (s *Store) Add(connID string, track domain.RemoteTrack) bool {
	st, ok := s.streams[connID]
	if !ok {
		st = &Stream{ConnID: connID, StreamID: track.StreamID()}
		s.streams[connID] = st
		s.log.Debug().Str("peer", connID).Str("stream", track.StreamID()).Msg("stream added")
	}
	for _, t := range st.Tracks {
		if t.ID() == track.ID() {
			return !ok
		}
	}
	st.Tracks = append(st.Tracks, track)
	return !ok
}

// Remove drops the participant's stream. It reports whether one was present.
func (s *Store) Remove(connID string) bool {
	if _, ok := s.streams[connID]; !ok {
		return false
	}
	delete(s.streams, connID)
	s.log.Debug().Str("peer", connID).Msg("stream removed")
	return true
}

// Get returns a copy of the participant's stream.
func (s *Store) Get(connID string) (Stream, bool) {
	st, ok := s.streams[connID]
	if !ok {
		return Stream{}, false
	}
	cp := *st
	cp.Tracks = append([]domain.RemoteTrack(nil), st.Tracks...)
	return cp, true
}

// Has reports whether the participant has a stream.
func (s *Store) Has(connID string) bool {
	_, ok := s.streams[connID]
	return ok
}

// Len returns the number of streams.
func (s *Store) Len() int {
	return len(s.streams)
}

// IDs returns the connection ids with a stream, sorted.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear drops every stream.
func (s *Store) Clear() {
	clear(s.streams)
}
