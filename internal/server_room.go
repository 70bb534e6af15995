package internal

import (
	"sync"
	"time"
)

// Member is anything a room can fan a frame out to. Deliver must not block;
// it reports false when the frame was not queued.
type Member interface {
	Deliver(payload []byte) bool
}

// Delivery summarises one broadcast.
type Delivery struct {
	Delivered int
	Dropped   int
}

// RoomStats is a point-in-time view of a room for the HTTP surface.
type RoomStats struct {
	Name         string    `json:"name"`
	Members      int       `json:"members"`
	History      int       `json:"history"`
	LastActivity time.Time `json:"last_activity"`
}

// a room holds its members and scrollback behind one mutex, so joins, parts
// and broadcasts on the same room are totally ordered.
type Room struct {
	name         string
	mutex        sync.Mutex
	members      map[Member]struct{}
	history      *HistoryBuffer
	lastActivity time.Time
	retired      bool
}

func newRoom(name string, historySize int) *Room {
	return &Room{
		name:         name,
		members:      make(map[Member]struct{}),
		history:      NewHistoryBuffer(historySize),
		lastActivity: time.Now(),
	}
}

// Name returns the room name.
func (room *Room) Name() string {
	return room.name
}

// Join adds member if it is not already present. It reports false only when the
// room has been retired by the reaper and the caller must look it up again.
func (room *Room) Join(member Member) bool {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	if room.retired {
		return false
	}
	room.members[member] = struct{}{}
	room.lastActivity = time.Now()
	return true
}

// Leave removes member if present.
func (room *Room) Leave(member Member) {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	if _, ok := room.members[member]; ok {
		delete(room.members, member)
		room.lastActivity = time.Now()
	}
}

// Broadcast stores payload in the scrollback and hands it to every member.
// A member that cannot take the frame is skipped. The second result is false
// when the room was retired before the payload could be stored.
func (room *Room) Broadcast(payload []byte) (Delivery, bool) {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	if room.retired {
		return Delivery{}, false
	}
	room.history.Append(string(payload))
	room.lastActivity = time.Now()

	var delivery Delivery
	for member := range room.members {
		if member.Deliver(payload) {
			delivery.Delivered++
		} else {
			delivery.Dropped++
		}
	}
	return delivery, true
}

// HistorySnapshot returns the scrollback, oldest first.
func (room *Room) HistorySnapshot() ([]string, bool) {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	if room.retired {
		return nil, false
	}
	room.lastActivity = time.Now()
	return room.history.Snapshot(), true
}

// HasMember reports whether member currently belongs to the room.
func (room *Room) HasMember(member Member) bool {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	_, ok := room.members[member]
	return ok
}

// Size returns the current member count.
func (room *Room) Size() int {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	return len(room.members)
}

// Stats returns a snapshot of the room's counters.
func (room *Room) Stats() RoomStats {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	return RoomStats{
		Name:         room.name,
		Members:      len(room.members),
		History:      room.history.Len(),
		LastActivity: room.lastActivity,
	}
}

// retireIfIdle marks an empty room that has seen no activity for ttl as retired.
// Callers hold the hub lock.
func (room *Room) retireIfIdle(now time.Time, ttl time.Duration) bool {
	room.mutex.Lock()
	defer room.mutex.Unlock()
	if len(room.members) > 0 || now.Sub(room.lastActivity) < ttl {
		return false
	}
	room.retired = true
	return true
}
