// Package websocket relays chat, presence and status frames between the
// participants of a consultation room. Each consultation is one room; a
// connection belongs to at most one room.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/internal/platform/events"
)

// Frame kinds.
const (
	KindUserJoined       = "user_joined"
	KindUserLeft         = "user_left"
	KindParticipantsList = "participants_list"
	KindMessage          = "message"
	KindStatusUpdate     = "status_update"
	KindTyping           = "typing"
	KindPing             = "ping"
	KindPong             = "pong"
	KindError            = "error"
)

var (
	ErrSendBufferFull = errors.New("websocket: send buffer full")
	ErrClientClosed   = errors.New("websocket: client closed")
	ErrNotJoined      = errors.New("websocket: sender is not in a room")
)

// Sender delivers one encoded frame to a connection. Send must not block.
type Sender interface {
	Send(payload []byte) error
}

// closer is implemented by senders that own a transport to shut down.
type closer interface {
	Close()
}

// Participant is the public view of a room member.
type Participant struct {
	ID    uuid.UUID   `json:"id"`
	Name  string      `json:"name"`
	Role  auth.Role   `json:"role"`
	Roles []auth.Role `json:"-"`
}

// ParticipantFromIdentity uses the first role as the displayed role.
func ParticipantFromIdentity(id auth.Identity) Participant {
	p := Participant{ID: id.ID, Name: id.Name, Roles: id.Roles}
	if len(id.Roles) > 0 {
		p.Role = id.Roles[0]
	}
	return p
}

func (p Participant) can(c auth.Capability) bool {
	return auth.AllowedAny(p.Roles, c)
}

// Frame is the JSON envelope for every outbound message.
type Frame struct {
	Type         string        `json:"type"`
	User         *Participant  `json:"user,omitempty"`
	Sender       *Participant  `json:"sender,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	Content      string        `json:"content,omitempty"`
	Status       string        `json:"status,omitempty"`
	UpdatedBy    *Participant  `json:"updated_by,omitempty"`
	IsTyping     *bool         `json:"is_typing,omitempty"`
	Message      string        `json:"message,omitempty"`
	Event        *events.Event `json:"event,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Inbound is a message read from a participant.
type Inbound struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	IsTyping bool   `json:"is_typing"`
}

type member struct {
	room        uuid.UUID
	participant Participant
}

type room struct {
	// sendMu serializes deliveries so every recipient sees the room's frames
	// in call order.
	sendMu  sync.Mutex
	members map[Sender]struct{}
}

// Hub tracks room membership. All methods are safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[uuid.UUID]*room
	members map[Sender]member
	logger  zerolog.Logger
	now     func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:   make(map[uuid.UUID]*room),
		members: make(map[Sender]member),
		logger:  logger.With().Str("component", "realtime").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Join adds s to the room. Existing members get user_joined, then s gets the
// current participants_list. Joining again moves s to the new room.
func (h *Hub) Join(roomID uuid.UUID, s Sender, p Participant) {
	if _, ok := h.memberOf(s); ok {
		h.Leave(s)
	}

	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{members: make(map[Sender]struct{})}
		h.rooms[roomID] = r
	}
	others := make([]Sender, 0, len(r.members))
	for m := range r.members {
		others = append(others, m)
	}
	r.members[s] = struct{}{}
	h.members[s] = member{room: roomID, participant: p}
	list := h.participantsLocked(r)
	h.mu.Unlock()

	h.logger.Debug().
		Str("consultation_id", roomID.String()).
		Str("participant_id", p.ID.String()).
		Int("members", len(others)+1).
		Msg("participant joined")

	joined := h.encode(Frame{Type: KindUserJoined, User: &p})
	roster := h.encode(Frame{Type: KindParticipantsList, Participants: list})

	r.sendMu.Lock()
	failed := h.deliver(roomID, joined, others)
	if err := s.Send(roster); err != nil {
		h.logDrop(roomID, p, err)
		failed = append(failed, s)
	}
	r.sendMu.Unlock()

	h.dropAll(failed)
}

// Leave removes s from its room, deletes the room once empty and tells the
// remaining members. It reports whether s was a member.
func (h *Hub) Leave(s Sender) bool {
	h.mu.Lock()
	m, ok := h.members[s]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.members, s)
	remaining := 0
	if r, ok := h.rooms[m.room]; ok {
		delete(r.members, s)
		remaining = len(r.members)
		if remaining == 0 {
			delete(h.rooms, m.room)
		}
	}
	h.mu.Unlock()

	h.logger.Debug().
		Str("consultation_id", m.room.String()).
		Str("participant_id", m.participant.ID.String()).
		Msg("participant left")

	if remaining > 0 {
		p := m.participant
		h.Broadcast(m.room, Frame{Type: KindUserLeft, User: &p})
	}
	return true
}

// Broadcast delivers f to every member of the room except exclude. Members
// whose delivery fails are removed from the hub.
func (h *Hub) Broadcast(roomID uuid.UUID, f Frame, exclude ...Sender) {
	data := h.encode(f)
	if data == nil {
		return
	}

	h.mu.RLock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]Sender, 0, len(r.members))
	for m := range r.members {
		if !excluded(m, exclude) {
			targets = append(targets, m)
		}
	}
	h.mu.RUnlock()

	r.sendMu.Lock()
	failed := h.deliver(roomID, data, targets)
	r.sendMu.Unlock()

	h.dropAll(failed)
}

// Handle processes one raw inbound message from s.
func (h *Hub) Handle(s Sender, raw []byte) error {
	m, ok := h.memberOf(s)
	if !ok {
		return ErrNotJoined
	}
	from := m.participant

	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return h.reply(s, Frame{Type: KindError, Message: "invalid JSON payload"})
	}

	switch in.Type {
	case KindMessage:
		h.Broadcast(m.room, Frame{Type: KindMessage, Sender: &from, Content: in.Content}, s)
	case KindStatusUpdate:
		if !from.can(auth.CapUpdateStatus) {
			return h.reply(s, Frame{Type: KindError, Message: "role " + string(from.Role) + " may not send status updates"})
		}
		h.Broadcast(m.room, Frame{Type: KindStatusUpdate, Status: in.Status, UpdatedBy: &from})
	case KindTyping:
		typing := in.IsTyping
		h.Broadcast(m.room, Frame{Type: KindTyping, User: &from, IsTyping: &typing}, s)
	case KindPing:
		return h.reply(s, Frame{Type: KindPong})
	default:
		return h.reply(s, Frame{Type: KindError, Message: "unknown message type: " + in.Type})
	}
	return nil
}

// Publish forwards lifecycle events to the consultation's room as
// status_update frames. Rooms nobody has joined are skipped.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	h.Broadcast(ev.ConsultationID, Frame{Type: KindStatusUpdate, Status: ev.Status, Event: &ev})
	return nil
}

// Close empties every room and closes the senders that support it.
func (h *Hub) Close() {
	h.mu.Lock()
	senders := make([]Sender, 0, len(h.members))
	for s := range h.members {
		senders = append(senders, s)
	}
	h.rooms = make(map[uuid.UUID]*room)
	h.members = make(map[Sender]member)
	h.mu.Unlock()

	for _, s := range senders {
		if c, ok := s.(closer); ok {
			c.Close()
		}
	}
	h.logger.Info().Int("connections", len(senders)).Msg("realtime hub closed")
}

// Participants returns the current members of a room.
func (h *Hub) Participants(roomID uuid.UUID) []Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	return h.participantsLocked(r)
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *Hub) memberOf(s Sender) (member, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[s]
	return m, ok
}

func (h *Hub) participantsLocked(r *room) []Participant {
	out := make([]Participant, 0, len(r.members))
	for s := range r.members {
		out = append(out, h.members[s].participant)
	}
	return out
}

// reply sends a frame to s alone, ordered with the rest of its room.
func (h *Hub) reply(s Sender, f Frame) error {
	m, ok := h.memberOf(s)
	if !ok {
		return ErrNotJoined
	}
	h.mu.RLock()
	r := h.rooms[m.room]
	h.mu.RUnlock()
	if r == nil {
		return ErrNotJoined
	}

	r.sendMu.Lock()
	failed := h.deliver(m.room, h.encode(f), []Sender{s})
	r.sendMu.Unlock()
	h.dropAll(failed)
	return nil
}

// deliver must be called with the room's sendMu held.
func (h *Hub) deliver(roomID uuid.UUID, data []byte, targets []Sender) []Sender {
	var failed []Sender
	for _, s := range targets {
		if err := s.Send(data); err != nil {
			m, _ := h.memberOf(s)
			h.logDrop(roomID, m.participant, err)
			failed = append(failed, s)
		}
	}
	return failed
}

func (h *Hub) dropAll(failed []Sender) {
	for _, s := range failed {
		h.Leave(s)
		if c, ok := s.(closer); ok {
			c.Close()
		}
	}
}

func (h *Hub) logDrop(roomID uuid.UUID, p Participant, err error) {
	h.logger.Warn().Err(err).
		Str("consultation_id", roomID.String()).
		Str("participant_id", p.ID.String()).
		Msg("delivery failed, dropping connection")
}

func (h *Hub) encode(f Frame) []byte {
	if f.Timestamp.IsZero() {
		f.Timestamp = h.now()
	}
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error().Err(err).Str("type", f.Type).Msg("failed to marshal frame")
		return nil
	}
	return data
}

func excluded(s Sender, exclude []Sender) bool {
	for _, e := range exclude {
		if e == s {
			return true
		}
	}
	return false
}
