// Package registry tracks the remote participants of a room.
//
// A Registry is owned by the session event loop and is not safe for
// concurrent use.
package registry

import (
	"sort"

	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
)

// Registry maps transport connection ids to participants.
type Registry struct {
	log          zerolog.Logger
	participants map[string]*domain.Participant
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		log:          logger.With().Str("module", "registry").Logger(),
		participants: make(map[string]*domain.Participant),
	}
}

// InsertSnapshot adds every participant of a room-joined snapshot.
func (r *Registry) InsertSnapshot(peers []domain.PeerInfo) {
	for _, p := range peers {
		r.Insert(p)
	}
}

// Insert adds a participant with both media kinds enabled. A repeated insert
// refreshes the name and user id but keeps media flags and link state.
func (r *Registry) Insert(p domain.PeerInfo) {
	if p.SocketID == "" {
		r.log.Warn().Str("user", p.UserName).Msg("participant without connection id ignored")
		return
	}
	if existing, ok := r.participants[p.SocketID]; ok {
		if p.UserName != "" {
			existing.DisplayName = p.UserName
		}
		if p.UserID != "" {
			existing.UserID = p.UserID
		}
		return
	}
	r.participants[p.SocketID] = &domain.Participant{
		ConnID:       p.SocketID,
		UserID:       p.UserID,
		DisplayName:  p.UserName,
		AudioEnabled: true,
		VideoEnabled: true,
	}
	r.log.Debug().Str("peer", p.SocketID).Str("user", p.UserName).Msg("participant added")
}

// SetMedia applies a toggle. It reports false when the participant is unknown.
func (r *Registry) SetMedia(connID string, kind domain.MediaKind, enabled bool) bool {
	p, ok := r.participants[connID]
	if !ok {
		return false
	}
	switch kind {
	case domain.MediaAudio:
		p.AudioEnabled = enabled
	case domain.MediaVideo:
		p.VideoEnabled = enabled
	default:
		return false
	}
	return true
}

// SetConnection records the link state of a participant.
func (r *Registry) SetConnection(connID string, state domain.ConnectionState) {
	if p, ok := r.participants[connID]; ok {
		p.Connection = state
		p.Linked = true
		if state == domain.ConnectionConnected {
			p.Unreachable = false
		}
	}
}

// ClearLink marks the participant as having no link.
func (r *Registry) ClearLink(connID string) {
	if p, ok := r.participants[connID]; ok {
		p.Linked = false
		p.Connection = domain.ConnectionClosed
	}
}

// MarkUnreachable flags a participant whose link failed after its retry.
func (r *Registry) MarkUnreachable(connID string) {
	if p, ok := r.participants[connID]; ok {
		p.Unreachable = true
		p.Linked = false
		p.Connection = domain.ConnectionFailed
	}
}

// Remove deletes a participant. It reports whether one was present.
func (r *Registry) Remove(connID string) bool {
	if _, ok := r.participants[connID]; !ok {
		return false
	}
	delete(r.participants, connID)
	r.log.Debug().Str("peer", connID).Msg("participant removed")
	return true
}

// Get returns a copy of the participant.
func (r *Registry) Get(connID string) (domain.Participant, bool) {
	p, ok := r.participants[connID]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Has reports whether the participant is present.
func (r *Registry) Has(connID string) bool {
	_, ok := r.participants[connID]
	return ok
}

// Len returns the number of participants.
func (r *Registry) Len() int {
	return len(r.participants)
}

// List returns copies of every participant ordered by display name, then connection id.
func (r *Registry) List() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ConnID < out[j].ConnID
	})
	return out
}

// Clear removes every participant.
func (r *Registry) Clear() {
	clear(r.participants)
}
