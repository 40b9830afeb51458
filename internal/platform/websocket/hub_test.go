package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/internal/platform/events"
)

// recorder is a Sender that keeps every frame it receives.
type recorder struct {
	mu     sync.Mutex
	frames []Frame
	fail   error
	closed bool
}

func (r *recorder) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Type)
	}
	return out
}

func (r *recorder) last() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}
	}
	return r.frames[len(r.frames)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

func participant(name string, roles ...auth.Role) Participant {
	return ParticipantFromIdentity(auth.Identity{ID: uuid.New(), Name: name, Roles: roles})
}

func equalTypes(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestHub_JoinNotifiesAndSendsRoster(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	room := uuid.New()
	patient, nurse := &recorder{}, &recorder{}

	hub.Join(room, patient, participant("ana", auth.RolePatient))
	if got := patient.types(); !equalTypes(got, KindParticipantsList) {
		t.Fatalf("first joiner frames = %v", got)
	}
	if n := len(patient.last().Participants); n != 1 {
		t.Fatalf("expected roster of 1, got %d", n)
	}

	np := participant("bia", auth.RoleNurse)
	hub.Join(room, nurse, np)

	if got := patient.types(); !equalTypes(got, KindParticipantsList, KindUserJoined) {
		t.Fatalf("existing member frames = %v", got)
	}
	joined := patient.last()
	if joined.User == nil || joined.User.ID != np.ID || joined.User.Role != auth.RoleNurse {
		t.Fatalf("unexpected user_joined payload: %+v", joined.User)
	}
	if got := nurse.types(); !equalTypes(got, KindParticipantsList) {
		t.Fatalf("joiner frames = %v", got)
	}
	if n := len(nurse.last().Participants); n != 2 {
		t.Fatalf("expected roster of 2, got %d", n)
	}
	if hub.RoomCount() != 1 || hub.ConnectionCount() != 2 {
		t.Fatalf("rooms=%d connections=%d", hub.RoomCount(), hub.ConnectionCount())
	}
}

func TestHub_LeaveNotifiesAndDeletesEmptyRoom(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	room := uuid.New()
	a, b := &recorder{}, &recorder{}
	bp := participant("b", auth.RoleDoctor)
	hub.Join(room, a, participant("a", auth.RolePatient))
	hub.Join(room, b, bp)
	a.reset()

	if !hub.Leave(b) {
		t.Fatal("expected b to be a member")
	}
	if f := a.last(); f.Type != KindUserLeft || f.User == nil || f.User.ID != bp.ID {
		t.Fatalf("expected user_left for b, got %+v", f)
	}
	if hub.Leave(b) {
		t.Fatal("second leave should report false")
	}

	hub.Leave(a)
	if hub.RoomCount() != 0 {
		t.Fatalf("expected empty room to be deleted, have %d rooms", hub.RoomCount())
	}
	if hub.Participants(room) != nil {
		t.Fatal("expected no participants")
	}
}

func TestHub_BroadcastExcludesAndIsolatesRooms(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	roomA, roomB := uuid.New(), uuid.New()
	a1, a2, b1 := &recorder{}, &recorder{}, &recorder{}
	hub.Join(roomA, a1, participant("a1", auth.RolePatient))
	hub.Join(roomA, a2, participant("a2", auth.RoleNurse))
	hub.Join(roomB, b1, participant("b1", auth.RolePatient))
	a1.reset()
	a2.reset()
	b1.reset()

	hub.Broadcast(roomA, Frame{Type: KindMessage, Content: "hello"}, a1)

	if len(a1.types()) != 0 {
		t.Fatalf("excluded member received %v", a1.types())
	}
	if f := a2.last(); f.Type != KindMessage || f.Content != "hello" {
		t.Fatalf("unexpected frame %+v", f)
	}
	if len(b1.types()) != 0 {
		t.Fatalf("other room received %v", b1.types())
	}

	hub.Broadcast(uuid.New(), Frame{Type: KindMessage})
}

func TestHub_FailedDeliveryDropsMember(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	room := uuid.New()
	ok, dead := &recorder{}, &recorder{}
	deadP := participant("dead", auth.RoleDoctor)
	hub.Join(room, ok, participant("ok", auth.RolePatient))
	hub.Join(room, dead, deadP)
	ok.reset()

	dead.mu.Lock()
	dead.fail = ErrSendBufferFull
	dead.mu.Unlock()

	hub.Broadcast(room, Frame{Type: KindMessage, Content: "x"})

	if hub.ConnectionCount() != 1 {
		t.Fatalf("expected dead member removed, have %d", hub.ConnectionCount())
	}
	if !dead.closed {
		t.Fatal("expected dropped sender to be closed")
	}
	if got := ok.types(); !equalTypes(got, KindMessage, KindUserLeft) {
		t.Fatalf("survivor frames = %v", got)
	}
	if ok.last().User.ID != deadP.ID {
		t.Fatal("user_left should name the dropped member")
	}
}

func TestHub_JoinWithFailingSender(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	room := uuid.New()
	hub.Join(room, &recorder{fail: errors.New("gone")}, participant("x", auth.RolePatient))
	if hub.ConnectionCount() != 0 || hub.RoomCount() != 0 {
		t.Fatalf("expected failed joiner to be dropped: rooms=%d connections=%d", hub.RoomCount(), hub.ConnectionCount())
	}
}

func TestHub_HandleMessageKinds(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	room := uuid.New()
	patient, nurse := &recorder{}, &recorder{}
	pp := participant("ana", auth.RolePatient)
	hub.Join(room, patient, pp)
	hub.Join(room, nurse, participant("bia", auth.RoleNurse))
	patient.reset()
	nurse.reset()

	tests := []struct {
		name        string
		from        *recorder
		raw         string
		wantSender  []string
		wantOther   []string
		otherTarget *recorder
	}{
		{"chat", patient, `{"type":"message","content":"hi"}`, nil, []string{KindMessage}, nurse},
		{"typing", patient, `{"type":"typing","is_typing":true}`, nil, []string{KindTyping}, nurse},
		{"ping", patient, `{"type":"ping"}`, []string{KindPong}, nil, nurse},
		{"status from nurse", nurse, `{"type":"status_update","status":"in_session"}`, []string{KindStatusUpdate}, []string{KindStatusUpdate}, patient},
		{"status from patient", patient, `{"type":"status_update","status":"completed"}`, []string{KindError}, nil, nurse},
		{"unknown", patient, `{"type":"dance"}`, []string{KindError}, nil, nurse},
		{"malformed", patient, `{not json`, []string{KindError}, nil, nurse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patient.reset()
			nurse.reset()
			if err := hub.Handle(tt.from, []byte(tt.raw)); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if got := tt.from.types(); !equalTypes(got, tt.wantSender...) {
				t.Fatalf("sender frames = %v, want %v", got, tt.wantSender)
			}
			if got := tt.otherTarget.types(); !equalTypes(got, tt.wantOther...) {
				t.Fatalf("other frames = %v, want %v", got, tt.wantOther)
			}
		})
	}

	patient.reset()
	nurse.reset()
	_ = hub.Handle(patient, []byte(`{"type":"message","content":"hello"}`))
	f := nurse.last()
	if f.Sender == nil || f.Sender.ID != pp.ID || f.Sender.Name != "ana" {
		t.Fatalf("chat should carry the sender, got %+v", f.Sender)
	}
	if hub.ConnectionCount() != 2 {
		t.Fatal("errors must not disturb the room")
	}
}

func TestHub_HandleRequiresMembership(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	if err := hub.Handle(&recorder{}, []byte(`{"type":"ping"}`)); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestHub_PublishForwardsLifecycleEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	room := uuid.New()
	r := &recorder{}
	hub.Join(room, r, participant("ana", auth.RolePatient))
	r.reset()

	var pub events.Publisher = hub
	err := pub.Publish(context.Background(), events.Event{
		Type:           events.ConsultationTransferred,
		ConsultationID: room,
		Status:         "awaiting_professional",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	f := r.last()
	if f.Type != KindStatusUpdate || f.Status != "awaiting_professional" {
		t.Fatalf("unexpected frame %+v", f)
	}
	if f.Event == nil || f.Event.Type != events.ConsultationTransferred {
		t.Fatalf("expected event payload, got %+v", f.Event)
	}

	if err := hub.Publish(context.Background(), events.Event{ConsultationID: uuid.New()}); err != nil {
		t.Fatalf("publish to empty room: %v", err)
	}
}

func TestHub_RejoinMovesRooms(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	first, second := uuid.New(), uuid.New()
	r := &recorder{}
	p := participant("ana", auth.RolePatient)
	hub.Join(first, r, p)
	hub.Join(second, r, p)

	if len(hub.Participants(first)) != 0 || len(hub.Participants(second)) != 1 {
		t.Fatal("expected member to move to the second room")
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	clients := []*Client{NewClient(4), NewClient(4)}
	for i, c := range clients {
		hub.Join(uuid.New(), c, participant(fmt.Sprint(i), auth.RolePatient))
	}

	hub.Close()

	if hub.ConnectionCount() != 0 || hub.RoomCount() != 0 {
		t.Fatal("expected hub to be empty after Close")
	}
	for _, c := range clients {
		if !c.Closed() {
			t.Fatal("expected client to be closed")
		}
	}
}

func TestHub_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	room := uuid.New()
	const n = 40

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := &recorder{}
			hub.Join(room, r, participant(fmt.Sprint(i), auth.RoleNurse))
			hub.Broadcast(room, Frame{Type: KindMessage, Content: fmt.Sprint(i)})
			if i%2 == 0 {
				hub.Leave(r)
			}
		}(i)
	}
	wg.Wait()

	if got := hub.ConnectionCount(); got != n/2 {
		t.Fatalf("expected %d connections, got %d", n/2, got)
	}
	if got := len(hub.Participants(room)); got != n/2 {
		t.Fatalf("expected %d participants, got %d", n/2, got)
	}
}

func TestHub_FIFOPerRecipient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	room := uuid.New()
	r := &recorder{}
	hub.Join(room, r, participant("ana", auth.RolePatient))
	r.reset()

	for i := 0; i < 50; i++ {
		hub.Broadcast(room, Frame{Type: KindMessage, Content: fmt.Sprint(i)})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, f := range r.frames {
		if f.Content != fmt.Sprint(i) {
			t.Fatalf("frame %d out of order: %q", i, f.Content)
		}
	}
}

func TestClient_SendBufferFull(t *testing.T) {
	c := NewClient(1)
	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send([]byte("b")); !errors.Is(err, ErrSendBufferFull) {
		t.Fatalf("expected ErrSendBufferFull, got %v", err)
	}
	c.Close()
	c.Close()
	if err := c.Send([]byte("c")); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
	if got := <-c.Outbound(); string(got) != "a" {
		t.Fatalf("expected buffered frame, got %q", got)
	}
	if _, ok := <-c.Outbound(); ok {
		t.Fatal("expected outbound to be closed")
	}
}
