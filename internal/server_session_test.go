package internal

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestSession(t *testing.T, hub *Hub, id string) *Session {
	t.Helper()
	session := NewSession(id, "test", hub, 64)
	t.Cleanup(func() { session.Close() })
	return session
}

func send(t *testing.T, session *Session, frame string) {
	t.Helper()
	session.Handle([]byte(frame))
}

// drain empties the outbound queue without blocking.
func drain(session *Session) []string {
	var frames []string
	for {
		select {
		case frame := <-session.Outbound():
			frames = append(frames, string(frame))
		default:
			return frames
		}
	}
}

func decodeMessage(t *testing.T, frame string) Message {
	t.Helper()
	var message Message
	if err := json.Unmarshal([]byte(frame), &message); err != nil {
		t.Fatalf("decode %q: %v", frame, err)
	}
	return message
}

// checkMembership asserts a session's joined set matches the rooms it sits in.
func checkMembership(t *testing.T, hub *Hub, session *Session) {
	t.Helper()
	joined := make(map[string]bool)
	for _, name := range session.JoinedRooms() {
		joined[name] = true
	}
	for _, stats := range hub.Rooms() {
		room := hub.Lookup(stats.Name)
		if room.HasMember(session) != joined[stats.Name] {
			t.Fatalf("room %q membership=%v but joined=%v", stats.Name, room.HasMember(session), joined[stats.Name])
		}
	}
}

func TestSessionScenarioHistoryIdentifyAndSend(t *testing.T) {
	hub := NewHub(500)
	x := newTestSession(t, hub, "x")

	send(t, x, `{"type":"join","room":"a"}`)
	send(t, x, `{"type":"history","room":"a"}`)
	frames := drain(x)
	if len(frames) != 1 || frames[0] != `{"type":"history","history":[]}` {
		t.Fatalf("unexpected history reply %v", frames)
	}

	send(t, x, `{"type":"message","room":"a","text":"hi"}`)
	if frames := drain(x); len(frames) != 0 {
		t.Fatalf("identity message must not be broadcast, got %v", frames)
	}
	if identity, ok := x.Identity(); !ok || identity != "hi" {
		t.Fatalf("identity = %q/%v, want hi", identity, ok)
	}
	if history := hub.History("a"); len(history) != 0 {
		t.Fatalf("identity message stored in history: %v", history)
	}

	send(t, x, `{"type":"message","room":"a","text":"hello"}`)
	frames = drain(x)
	if len(frames) != 1 {
		t.Fatalf("expected the sender to receive its own message, got %v", frames)
	}
	message := decodeMessage(t, frames[0])
	if message.Type != EventMessage || message.Room != "a" || message.Text != "hello" || message.Author != "hi" {
		t.Fatalf("unexpected message %+v", message)
	}
	if history := hub.History("a"); len(history) != 1 || history[0] != frames[0] {
		t.Fatalf("history %v does not match broadcast %q", history, frames[0])
	}
}

func TestSessionFanOut(t *testing.T) {
	hub := NewHub(500)
	members := []*Session{
		newTestSession(t, hub, "a"),
		newTestSession(t, hub, "b"),
		newTestSession(t, hub, "c"),
	}
	for _, member := range members {
		send(t, member, `{"type":"join","room":"lobby"}`)
	}
	dave := newTestSession(t, hub, "d")
	send(t, dave, `{"type":"message","text":"dave"}`)

	t0 := time.Now().UnixMilli()
	send(t, dave, `{"type":"message","room":"lobby","text":"yo"}`)
	t1 := time.Now().UnixMilli()

	for _, member := range members {
		frames := drain(member)
		if len(frames) != 1 {
			t.Fatalf("session %s got %d frames", member.ID(), len(frames))
		}
		message := decodeMessage(t, frames[0])
		if message.Author != "dave" || message.Text != "yo" || message.Room != "lobby" {
			t.Fatalf("unexpected message %+v", message)
		}
		if message.Time < t0 || message.Time > t1 {
			t.Fatalf("time %d outside [%d, %d]", message.Time, t0, t1)
		}
	}
	if frames := drain(dave); len(frames) != 0 {
		t.Fatalf("non-member sender received %v", frames)
	}
}

func TestSessionSpoofing(t *testing.T) {
	hub := NewHub(500)
	observer := newTestSession(t, hub, "o")
	send(t, observer, `{"type":"join","room":"r"}`)
	sender := newTestSession(t, hub, "s")
	send(t, sender, `{"type":"message","text":"mallory"}`)

	cases := []struct {
		frame  string
		author string
	}{
		{`{"type":"message","room":"r","text":"1","author":"eve","spoof":true}`, "eve"},
		{`{"type":"message","room":"r","text":"2","author":"eve","spoof":false}`, "mallory"},
		{`{"type":"message","room":"r","text":"3","author":"eve","spoof":0}`, "mallory"},
		{`{"type":"message","room":"r","text":"4","author":"eve","spoof":""}`, "mallory"},
		{`{"type":"message","room":"r","text":"5","author":"eve","spoof":null}`, "mallory"},
		{`{"type":"message","room":"r","text":"6","author":"eve","spoof":"yes"}`, "eve"},
		{`{"type":"message","room":"r","text":"7","author":"eve","spoof":1}`, "eve"},
		{`{"type":"message","room":"r","text":"8","spoof":true}`, ""},
		{`{"type":"message","room":"r","text":"9","author":"eve"}`, "mallory"},
	}
	for _, tc := range cases {
		send(t, sender, tc.frame)
		frames := drain(observer)
		if len(frames) != 1 {
			t.Fatalf("%s: expected one frame, got %v", tc.frame, frames)
		}
		if got := decodeMessage(t, frames[0]).Author; got != tc.author {
			t.Fatalf("%s: author = %q, want %q", tc.frame, got, tc.author)
		}
	}
}

func TestSessionEmptyIdentityStillIdentifies(t *testing.T) {
	hub := NewHub(500)
	session := newTestSession(t, hub, "x")
	send(t, session, `{"type":"message"}`)
	if identity, ok := session.Identity(); !ok || identity != "" {
		t.Fatalf("identity = %q/%v, want empty and identified", identity, ok)
	}
	send(t, session, `{"type":"message","room":"r","text":"next"}`)
	if history := hub.History("r"); len(history) != 1 {
		t.Fatalf("second message should be relayed, history %v", history)
	}
}

func TestSessionSendWithoutJoin(t *testing.T) {
	hub := NewHub(500)
	member := newTestSession(t, hub, "m")
	send(t, member, `{"type":"join","room":"r"}`)
	outsider := newTestSession(t, hub, "o")
	send(t, outsider, `{"type":"message","text":"outsider"}`)
	send(t, outsider, `{"type":"message","room":"r","text":"knock"}`)

	if frames := drain(member); len(frames) != 1 {
		t.Fatalf("member should see the outsider's message, got %v", frames)
	}
	if frames := drain(outsider); len(frames) != 0 {
		t.Fatalf("outsider is not a member and should receive nothing, got %v", frames)
	}
}

func TestSessionMessageCreatesRoom(t *testing.T) {
	hub := NewHub(500)
	session := newTestSession(t, hub, "x")
	send(t, session, `{"type":"message","text":"n"}`)
	send(t, session, `{"type":"message","room":"fresh","text":"first"}`)
	if !hub.Exists("fresh") {
		t.Fatalf("message should create the room")
	}
}

func TestSessionJoinPartIdempotent(t *testing.T) {
	hub := NewHub(500)
	session := newTestSession(t, hub, "x")

	send(t, session, `{"type":"join","room":"a"}`)
	send(t, session, `{"type":"join","room":"a"}`)
	if size := hub.Lookup("a").Size(); size != 1 {
		t.Fatalf("double join produced %d members", size)
	}
	send(t, session, `{"type":"part","room":"b"}`)
	if hub.Exists("b") {
		t.Fatalf("part of an unknown room should not create it")
	}
	send(t, session, `{"type":"part","room":"a"}`)
	send(t, session, `{"type":"part","room":"a"}`)
	if size := hub.Lookup("a").Size(); size != 0 {
		t.Fatalf("room still has %d members", size)
	}
	checkMembership(t, hub, session)
}

func TestSessionMalformedFramesAreDropped(t *testing.T) {
	hub := NewHub(500)
	metrics := NewMetrics(hub, nil)
	session := newTestSession(t, hub, "x")
	session.metrics = metrics

	for _, frame := range []string{
		`not json`,
		`[1,2,3]`,
		`{"room":"a"}`,
		`{"type":42}`,
		`{"type":"join","room":7}`,
	} {
		send(t, session, frame)
	}
	send(t, session, `{"type":"join"}`)
	send(t, session, `{"type":"history","room":""}`)
	send(t, session, `{"type":"dance","room":"a"}`)

	if _, ok := session.Identity(); ok {
		t.Fatalf("malformed frames must not set the identity")
	}
	if hub.Count() != 0 {
		t.Fatalf("malformed frames created rooms")
	}
	if got := testutil.ToFloat64(metrics.rejectedFrames.WithLabelValues(rejectMalformed)); got != 5 {
		t.Fatalf("malformed count = %v, want 5", got)
	}
	if got := testutil.ToFloat64(metrics.rejectedFrames.WithLabelValues(rejectRoomRequired)); got != 2 {
		t.Fatalf("room_required count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.rejectedFrames.WithLabelValues(rejectUnknownType)); got != 1 {
		t.Fatalf("unknown_type count = %v, want 1", got)
	}

	send(t, session, `{"type":"message","text":"still-alive"}`)
	if identity, _ := session.Identity(); identity != "still-alive" {
		t.Fatalf("session stopped processing after bad frames")
	}
}

func TestSessionIdentifiedMessageWithoutRoomIsDropped(t *testing.T) {
	hub := NewHub(500)
	session := newTestSession(t, hub, "x")
	send(t, session, `{"type":"message","text":"me"}`)
	send(t, session, `{"type":"message","text":"lost"}`)
	if hub.Count() != 0 {
		t.Fatalf("message without a room created %d rooms", hub.Count())
	}
}

func TestSessionRecoversFromPanic(t *testing.T) {
	hub := NewHub(500)
	session := newTestSession(t, hub, "x")
	session.onIdentify = func(*Session, string) { panic("boom") }

	send(t, session, `{"type":"message","text":"first"}`)
	session.onIdentify = nil
	send(t, session, `{"type":"join","room":"a"}`)
	if !hub.Lookup("a").HasMember(session) {
		t.Fatalf("session stopped working after a recovered panic")
	}
}

func TestSessionCloseLeavesEveryRoom(t *testing.T) {
	hub := NewHub(500)
	session := NewSession("x", "test", hub, 8)
	send(t, session, `{"type":"join","room":"a"}`)
	send(t, session, `{"type":"join","room":"b"}`)
	send(t, session, `{"type":"message","text":"x"}`)
	send(t, session, `{"type":"message","room":"a","text":"kept"}`)

	if !session.Close() {
		t.Fatalf("first close should do the work")
	}
	if session.Close() {
		t.Fatalf("second close should be a no-op")
	}
	for _, name := range []string{"a", "b"} {
		room := hub.Lookup(name)
		if room == nil {
			t.Fatalf("room %q should outlive the session", name)
		}
		if room.HasMember(session) {
			t.Fatalf("room %q still holds the closed session", name)
		}
	}
	if history := hub.History("a"); len(history) != 1 {
		t.Fatalf("history should survive the close, got %v", history)
	}
	if len(session.JoinedRooms()) != 0 {
		t.Fatalf("joined set not cleared")
	}
	if session.Deliver([]byte("late")) {
		t.Fatalf("delivery to a closed session should fail")
	}
	send(t, session, `{"type":"join","room":"c"}`)
	if hub.Exists("c") {
		t.Fatalf("closed session still handled frames")
	}
}

func TestSessionFullQueueDropsForThatSessionOnly(t *testing.T) {
	hub := NewHub(500)
	slow := NewSession("slow", "test", hub, 1)
	defer slow.Close()
	fast := newTestSession(t, hub, "fast")
	send(t, slow, `{"type":"join","room":"r"}`)
	send(t, fast, `{"type":"join","room":"r"}`)
	sender := newTestSession(t, hub, "sender")
	send(t, sender, `{"type":"message","text":"s"}`)

	for i := 0; i < 3; i++ {
		send(t, sender, fmt.Sprintf(`{"type":"message","room":"r","text":"%d"}`, i))
	}
	if got := len(drain(slow)); got != 1 {
		t.Fatalf("slow session queued %d frames, want 1", got)
	}
	if got := len(drain(fast)); got != 3 {
		t.Fatalf("fast session got %d frames, want 3", got)
	}
	if got := len(hub.History("r")); got != 3 {
		t.Fatalf("history has %d entries, want 3", got)
	}
}

func TestSessionMembershipInvariantUnderConcurrency(t *testing.T) {
	hub := NewHub(50)
	rooms := []string{"a", "b", "c"}
	sessions := make([]*Session, 12)
	for i := range sessions {
		sessions[i] = NewSession(fmt.Sprintf("s%d", i), "test", hub, 1024)
	}

	var wg sync.WaitGroup
	for i, session := range sessions {
		wg.Add(1)
		go func(i int, session *Session) {
			defer wg.Done()
			session.Handle([]byte(`{"type":"message","text":"n"}`))
			for step := 0; step < 200; step++ {
				room := rooms[(i+step)%len(rooms)]
				switch step % 4 {
				case 0, 1:
					session.Handle([]byte(`{"type":"join","room":"` + room + `"}`))
				case 2:
					session.Handle([]byte(`{"type":"part","room":"` + room + `"}`))
				default:
					session.Handle([]byte(`{"type":"message","room":"` + room + `","text":"x"}`))
				}
				drain(session)
			}
			if i%3 == 0 {
				session.Close()
			}
		}(i, session)
	}
	wg.Wait()

	for _, session := range sessions {
		checkMembership(t, hub, session)
		session.Close()
	}
	for _, name := range rooms {
		if size := hub.Lookup(name).Size(); size != 0 {
			t.Fatalf("room %q keeps %d members after every session closed", name, size)
		}
		if got := len(hub.History(name)); got > hub.HistorySize() {
			t.Fatalf("room %q history %d exceeds %d", name, got, hub.HistorySize())
		}
	}
}

func TestSessionBroadcastMetrics(t *testing.T) {
	hub := NewHub(500)
	metrics := NewMetrics(hub, nil)
	member := newTestSession(t, hub, "m")
	send(t, member, `{"type":"join","room":"r"}`)
	sender := newTestSession(t, hub, "s")
	sender.metrics = metrics
	send(t, sender, `{"type":"message","text":"s"}`)
	send(t, sender, `{"type":"message","room":"r","text":"one"}`)

	if got := testutil.ToFloat64(metrics.broadcasts); got != 1 {
		t.Fatalf("broadcasts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.delivered); got != 1 {
		t.Fatalf("delivered = %v, want 1", got)
	}
}
