package internal

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// all active rooms state
type Hub struct {
	mutex       sync.RWMutex
	rooms       map[string]*Room
	historySize int
}

// builds an empty hub whose rooms keep historySize messages each
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Hub{rooms: make(map[string]*Room), historySize: historySize}
}

// HistorySize is the per-room scrollback capacity.
func (hub *Hub) HistorySize() int {
	return hub.historySize
}

// takes a peek into the room map. We use it for the lightweight /exists
func (hub *Hub) Exists(name string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.rooms[name]
	return ok
}

// Lookup retrieves a room by name (may return nil)
func (hub *Hub) Lookup(name string) *Room {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return hub.rooms[name]
}

// GetOrCreate ensures there is a live Room for the given name. Concurrent
// callers with the same name always get the same room.
func (hub *Hub) GetOrCreate(name string) *Room {
	hub.mutex.RLock()
	room, ok := hub.rooms[name]
	hub.mutex.RUnlock()
	if ok {
		return room
	}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, ok := hub.rooms[name]; ok {
		return room
	}
	room = newRoom(name, hub.historySize)
	hub.rooms[name] = room
	return room
}

// Count returns the number of rooms.
func (hub *Hub) Count() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.rooms)
}

// Rooms lists every room sorted by name.
func (hub *Hub) Rooms() []RoomStats {
	hub.mutex.RLock()
	rooms := make([]*Room, 0, len(hub.rooms))
	for _, room := range hub.rooms {
		rooms = append(rooms, room)
	}
	hub.mutex.RUnlock()

	stats := make([]RoomStats, 0, len(rooms))
	for _, room := range rooms {
		stats = append(stats, room.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Join adds member to the named room, creating it on first use.
func (hub *Hub) Join(name string, member Member) *Room {
	for {
		room := hub.GetOrCreate(name)
		if room.Join(member) {
			return room
		}
	}
}

// Post broadcasts payload to the named room, creating it on first use.
func (hub *Hub) Post(name string, payload []byte) Delivery {
	for {
		if delivery, ok := hub.GetOrCreate(name).Broadcast(payload); ok {
			return delivery
		}
	}
}

// History returns the named room's scrollback, creating the room on first use.
func (hub *Hub) History(name string) []string {
	for {
		if history, ok := hub.GetOrCreate(name).HistorySnapshot(); ok {
			return history
		}
	}
}

// ReapIdle drops rooms that have had no members and no traffic for ttl.
// A ttl of zero or less keeps rooms forever.
func (hub *Hub) ReapIdle(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	reaped := 0
	for name, room := range hub.rooms {
		if room.retireIfIdle(now, ttl) {
			delete(hub.rooms, name)
			reaped++
		}
	}
	return reaped
}

// RunReaper calls ReapIdle every interval until ctx is done.
func (hub *Hub) RunReaper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if reaped := hub.ReapIdle(now, ttl); reaped > 0 {
				log.Printf("reaped %d idle rooms", reaped)
			}
		}
	}
}
