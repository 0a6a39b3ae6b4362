// Package rendezvous is the relay that introduces room members to each other
// and forwards their offers, answers and candidates.
package rendezvous

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
	"meshcall/native/internal/signal"
)

const (
	sendBuffer = 256
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Hub tracks rooms and routes messages between their members.
type Hub struct {
	log      zerolog.Logger
	presence Presence

	mu    sync.RWMutex
	rooms map[string]map[string]*Peer
}

// NewHub creates a Hub that mirrors membership into presence.
func NewHub(presence Presence, logger zerolog.Logger) *Hub {
	return &Hub{
		log:      logger.With().Str("module", "rendezvous").Logger(),
		presence: presence,
		rooms:    make(map[string]map[string]*Peer),
	}
}

// Peer is one websocket connection to the relay.
type Peer struct {
	ID     string
	UserID string

	conn  *websocket.Conn
	codec signal.Codec
	send  chan []byte
	done  chan struct{}
	once  sync.Once
	log   zerolog.Logger

	// room and name are only touched by the peer's read goroutine and under Hub.mu.
	room string
	name string
}

func (h *Hub) newPeer(conn *websocket.Conn, codec signal.Codec) *Peer {
	id := uuid.NewString()
	return &Peer{
		ID:     id,
		UserID: uuid.NewString(),
		conn:   conn,
		codec:  codec,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		log:    h.log.With().Str("peer", id).Logger(),
	}
}

// Serve runs the peer until its connection ends.
func (h *Hub) Serve(conn *websocket.Conn) {
	p := h.newPeer(conn, signal.CodecForSubprotocol(conn.Subprotocol()))
	p.log.Info().Str("codec", p.codec.Name()).Msg("peer connected")
	go p.writePump()
	h.readPump(p)
}

func (h *Hub) readPump(p *Peer) {
	defer func() {
		h.leave(p)
		p.close()
		p.log.Info().Msg("peer disconnected")
	}()

	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Debug().Err(err).Msg("read")
			}
			return
		}
		frame, err := p.codec.Decode(data)
		if err != nil {
			p.log.Warn().Err(err).Msg("decode frame")
			continue
		}
		h.route(p, frame)
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(p.codec.MessageType(), data); err != nil {
				p.log.Debug().Err(err).Msg("write")
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (p *Peer) close() {
	p.once.Do(func() { close(p.done) })
}

// emit encodes payload with the peer's own codec and queues it.
func (p *Peer) emit(event string, payload any) {
	data, err := p.codec.Encode(event, payload)
	if err != nil {
		p.log.Error().Err(err).Str("event", event).Msg("encode")
		return
	}
	select {
	case p.send <- data:
	case <-p.done:
	default:
		p.log.Warn().Str("event", event).Msg("send buffer full, dropping peer")
		p.close()
	}
}

func (p *Peer) reject(event, reason string) {
	p.emit(domain.EventError, domain.ErrorMsg{Event: event, Message: reason})
}

func (h *Hub) route(p *Peer, f signal.Frame) {
	switch f.Event {
	case domain.EventJoinRoom:
		var msg domain.JoinRoom
		if decode(p, f, &msg) {
			h.join(p, msg)
		}
	case domain.EventLeaveRoom:
		h.leave(p)
	case domain.EventOffer:
		var msg domain.OfferOut
		if decode(p, f, &msg) {
			h.forward(p, f.Event, msg.TargetSocketID, domain.OfferIn{
				Offer:          msg.Offer,
				SenderSocketID: p.ID,
				SenderID:       msg.SenderID,
			})
		}
	case domain.EventAnswer:
		var msg domain.AnswerOut
		if decode(p, f, &msg) {
			h.forward(p, f.Event, msg.TargetSocketID, domain.AnswerIn{Answer: msg.Answer, SenderSocketID: p.ID})
		}
	case domain.EventICECandidate:
		var msg domain.CandidateOut
		if decode(p, f, &msg) {
			h.forward(p, f.Event, msg.TargetSocketID, domain.CandidateIn{Candidate: msg.Candidate, SenderSocketID: p.ID})
		}
	case domain.EventToggleMedia:
		var msg domain.ToggleMedia
		if decode(p, f, &msg) {
			h.broadcast(p, domain.EventUserMediaToggle, domain.UserMediaToggle{
				SocketID:  p.ID,
				MediaType: msg.MediaType,
				Enabled:   msg.Enabled,
			})
		}
	default:
		p.reject(f.Event, "unknown event")
	}
}

func decode(p *Peer, f signal.Frame, v any) bool {
	if err := f.Decode(v); err != nil {
		p.log.Warn().Err(err).Str("event", f.Event).Msg("malformed payload")
		p.reject(f.Event, "malformed payload")
		return false
	}
	return true
}

func (h *Hub) join(p *Peer, msg domain.JoinRoom) {
	if msg.RoomID == "" {
		p.reject(domain.EventJoinRoom, "roomId is required")
		return
	}
	if p.room != "" {
		h.leave(p)
	}

	h.mu.Lock()
	members, ok := h.rooms[msg.RoomID]
	if !ok {
		members = make(map[string]*Peer)
		h.rooms[msg.RoomID] = members
		h.log.Info().Str("room", msg.RoomID).Msg("room created")
	}
	others := make([]domain.PeerInfo, 0, len(members))
	existing := make([]*Peer, 0, len(members))
	for _, m := range members {
		others = append(others, m.info())
		existing = append(existing, m)
	}
	p.room = msg.RoomID
	p.name = msg.UserName
	members[p.ID] = p

	// Queued under the lock: anything forwarded to p, or from p to the
	// others, has to find p in the room first and so comes after these.
	sort.Slice(others, func(i, j int) bool { return others[i].SocketID < others[j].SocketID })
	p.emit(domain.EventRoomJoined, domain.RoomJoined{UserID: p.UserID, Participants: others})
	for _, m := range existing {
		m.emit(domain.EventUserJoined, p.info())
	}
	h.mu.Unlock()

	if err := h.presence.Join(context.Background(), msg.RoomID, p.ID); err != nil {
		p.log.Warn().Err(err).Msg("presence join")
	}
	p.log.Info().Str("room", msg.RoomID).Str("user", msg.UserName).Int("members", len(others)+1).Msg("joined room")
}

func (h *Hub) leave(p *Peer) {
	h.mu.Lock()
	room := p.room
	if room == "" {
		h.mu.Unlock()
		return
	}
	members := h.rooms[room]
	delete(members, p.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
		h.log.Info().Str("room", room).Msg("room removed")
	}
	h.mu.Unlock()

	h.broadcastRoom(room, p.ID, domain.EventUserLeft, domain.UserLeft{SocketID: p.ID})
	p.room = ""

	if err := h.presence.Leave(context.Background(), room, p.ID); err != nil {
		p.log.Warn().Err(err).Msg("presence leave")
	}
	p.log.Info().Str("room", room).Msg("left room")
}

func (p *Peer) info() domain.PeerInfo {
	return domain.PeerInfo{SocketID: p.ID, UserName: p.name, UserID: p.UserID}
}

// forward delivers payload to a member of the sender's room.
func (h *Hub) forward(from *Peer, event, targetID string, payload any) {
	h.mu.RLock()
	target, ok := h.rooms[from.room][targetID]
	h.mu.RUnlock()
	if !ok || from.room == "" {
		from.reject(event, "unknown target "+targetID)
		return
	}
	target.emit(event, payload)
}

func (h *Hub) broadcast(from *Peer, event string, payload any) {
	if from.room == "" {
		from.reject(event, "not in a room")
		return
	}
	h.broadcastRoom(from.room, from.ID, event, payload)
}

func (h *Hub) broadcastRoom(room, exclude, event string, payload any) {
	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.rooms[room]))
	for id, m := range h.rooms[room] {
		if id != exclude {
			targets = append(targets, m)
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.emit(event, payload)
	}
}

// Members returns the room's members sorted by connection id.
func (h *Hub) Members(roomID string) []domain.PeerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.PeerInfo, 0, len(h.rooms[roomID]))
	for _, m := range h.rooms[roomID] {
		out = append(out, m.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SocketID < out[j].SocketID })
	return out
}

// RoomCount reports how many members the presence store holds for the room.
func (h *Hub) RoomCount(ctx context.Context, roomID string) (int, error) {
	return h.presence.Count(ctx, roomID)
}
