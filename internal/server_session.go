package internal

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// DefaultSendBuffer is the outbound queue length of a session.
const DefaultSendBuffer = 256

// reasons a frame is rejected, used as the metrics label
const (
	rejectMalformed    = "malformed"
	rejectRoomRequired = "room_required"
	rejectUnknownType  = "unknown_type"
	rejectPanic        = "panic"
)

// Session is the protocol state of one connection. The first message event
// names the connection; every later one is relayed to its room.
type Session struct {
	id         string
	remoteAddr string
	hub        *Hub
	metrics    *Metrics
	logFrames  bool
	onIdentify func(session *Session, identity string)

	mutex      sync.Mutex
	identity   string
	identified bool
	joined     map[string]*Room
	closed     bool

	send chan []byte
	done chan struct{}
}

// NewSession builds an unidentified session bound to hub.
func NewSession(id, remoteAddr string, hub *Hub, sendBuffer int) *Session {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Session{
		id:         id,
		remoteAddr: remoteAddr,
		hub:        hub,
		joined:     make(map[string]*Room),
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}
}

// ID returns the session id.
func (session *Session) ID() string {
	return session.id
}

// RemoteAddr returns the peer address the session was accepted from.
func (session *Session) RemoteAddr() string {
	return session.remoteAddr
}

// Identity returns the identity and whether one has been set.
func (session *Session) Identity() (string, bool) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.identity, session.identified
}

// JoinedRooms lists the rooms the session belongs to, sorted.
func (session *Session) JoinedRooms() []string {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	names := make([]string, 0, len(session.joined))
	for name := range session.joined {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Outbound is the queue the write pump drains.
func (session *Session) Outbound() <-chan []byte {
	return session.send
}

// Done is closed once the session has been closed.
func (session *Session) Done() <-chan struct{} {
	return session.done
}

// Deliver queues payload without blocking. It never takes the session lock,
// so rooms may call it while holding their own.
func (session *Session) Deliver(payload []byte) bool {
	select {
	case <-session.done:
		return false
	default:
	}
	select {
	case session.send <- payload:
		return true
	default:
		return false
	}
}

// Handle processes one inbound frame. Bad frames and faults are logged and
// dropped; the connection is never closed from here.
func (session *Session) Handle(frame []byte) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.closed {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			session.metrics.RejectFrame(rejectPanic)
			log.Printf("session %s: recovered while handling frame: %v", session.id, recovered)
		}
	}()

	if session.logFrames {
		log.Printf("session %s: frame %s", session.id, frame)
	}
	event, err := DecodeEvent(frame)
	if err != nil {
		session.metrics.RejectFrame(rejectMalformed)
		log.Printf("session %s: dropping frame: %v", session.id, err)
		return
	}
	if err := session.dispatch(event); err != nil {
		reason := rejectUnknownType
		if errors.Is(err, errRoomRequired) {
			reason = rejectRoomRequired
		}
		session.metrics.RejectFrame(reason)
		log.Printf("session %s: dropping %q event: %v", session.id, event.Type, err)
	}
}

// dispatch runs with the session lock held.
func (session *Session) dispatch(event InboundEvent) error {
	switch event.Type {
	case EventHistory:
		if event.Room == "" {
			return errRoomRequired
		}
		reply, err := EncodeHistory(session.hub.History(event.Room))
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		session.Deliver(reply)
	case EventJoin:
		if event.Room == "" {
			return errRoomRequired
		}
		session.joined[event.Room] = session.hub.Join(event.Room, session)
	case EventPart:
		if event.Room == "" {
			return errRoomRequired
		}
		if room, ok := session.joined[event.Room]; ok {
			room.Leave(session)
			delete(session.joined, event.Room)
		}
	case EventMessage:
		if !session.identified {
			session.identity = event.Text
			session.identified = true
			if session.onIdentify != nil {
				session.onIdentify(session, event.Text)
			}
			return nil
		}
		if event.Room == "" {
			return errRoomRequired
		}
		author := session.identity
		if event.Spoofed() {
			author = event.Author
		}
		payload, err := EncodeMessage(Message{
			Room:   event.Room,
			Time:   time.Now().UnixMilli(),
			Text:   event.Text,
			Author: author,
		})
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		session.metrics.ObserveBroadcast(session.hub.Post(event.Room, payload))
	default:
		return fmt.Errorf("unknown event type")
	}
	return nil
}

// Close leaves every joined room and stops delivery. It reports whether this
// call did the work; later calls are no-ops.
func (session *Session) Close() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.closed {
		return false
	}
	session.closed = true
	for name, room := range session.joined {
		room.Leave(session)
		delete(session.joined, name)
	}
	close(session.done)
	return true
}
