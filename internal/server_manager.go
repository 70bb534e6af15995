package internal

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is the transport a session runs over. ReadFrame blocks until a frame
// arrives or the transport fails; Close unblocks it.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	Close() error
	RemoteAddr() string
}

// pinger is implemented by transports that need keepalives.
type pinger interface {
	Ping() error
}

// ConnectionJournal records session lifecycle. storage.Store satisfies it.
type ConnectionJournal interface {
	RecordConnect(ctx context.Context, id, remoteAddr string, at time.Time) error
	RecordIdentity(ctx context.Context, id, identity string) error
	RecordDisconnect(ctx context.Context, id string, at time.Time) error
}

const journalTimeout = 2 * time.Second

// Manager owns the set of live sessions.
type Manager struct {
	hub        *Hub
	journal    ConnectionJournal
	metrics    *Metrics
	presence   *PresenceTracker
	sendBuffer int
	logFrames  bool
	pingPeriod time.Duration

	mutex    sync.Mutex
	sessions map[*Session]Conn
	wg       sync.WaitGroup
}

// ManagerOptions are the optional collaborators of a Manager.
type ManagerOptions struct {
	Journal    ConnectionJournal
	Metrics    *Metrics
	Presence   *PresenceTracker
	SendBuffer int
	LogFrames  bool
	PingPeriod time.Duration
}

func NewManager(hub *Hub, options ManagerOptions) *Manager {
	if options.PingPeriod <= 0 {
		options.PingPeriod = pingPeriod
	}
	return &Manager{
		hub:        hub,
		journal:    options.Journal,
		metrics:    options.Metrics,
		presence:   options.Presence,
		sendBuffer: options.SendBuffer,
		logFrames:  options.LogFrames,
		pingPeriod: options.PingPeriod,
		sessions:   make(map[*Session]Conn),
	}
}

// Accept registers a new session for conn.
func (manager *Manager) Accept(conn Conn) *Session {
	session := NewSession(uuid.NewString(), conn.RemoteAddr(), manager.hub, manager.sendBuffer)
	session.metrics = manager.metrics
	session.logFrames = manager.logFrames
	session.onIdentify = manager.identified

	manager.mutex.Lock()
	manager.sessions[session] = conn
	manager.mutex.Unlock()

	manager.metrics.IncConn()
	manager.record(func(ctx context.Context) error {
		return manager.journal.RecordConnect(ctx, session.id, session.remoteAddr, time.Now())
	})
	log.Printf("session %s connected from %s", session.id, session.remoteAddr)
	return session
}

// Serve runs conn until the transport closes. It returns after the session
// has been cleaned up.
func (manager *Manager) Serve(conn Conn) {
	manager.wg.Add(1)
	defer manager.wg.Done()

	session := manager.Accept(conn)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		manager.writePump(session, conn)
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			break
		}
		session.Handle(frame)
	}
	manager.onClose(session, conn)
	<-writerDone
}

func (manager *Manager) writePump(session *Session, conn Conn) {
	var tick <-chan time.Time
	if _, ok := conn.(pinger); ok {
		ticker := time.NewTicker(manager.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-session.Done():
			return
		case payload := <-session.Outbound():
			if err := conn.WriteFrame(payload); err != nil {
				// unblock the read loop so onClose runs
				_ = conn.Close()
				return
			}
		case <-tick:
			if err := conn.(pinger).Ping(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// onClose runs the close cascade once per session.
func (manager *Manager) onClose(session *Session, conn Conn) {
	if !session.Close() {
		return
	}
	manager.mutex.Lock()
	delete(manager.sessions, session)
	manager.mutex.Unlock()

	if identity, ok := session.Identity(); ok && manager.presence != nil {
		manager.presence.Decrement(identity)
	}
	manager.metrics.DecConn()
	manager.record(func(ctx context.Context) error {
		return manager.journal.RecordDisconnect(ctx, session.id, time.Now())
	})
	_ = conn.Close()
	log.Printf("session %s disconnected", session.id)
}

func (manager *Manager) identified(session *Session, identity string) {
	if manager.presence != nil {
		manager.presence.Increment(identity)
	}
	manager.record(func(ctx context.Context) error {
		return manager.journal.RecordIdentity(ctx, session.id, identity)
	})
}

func (manager *Manager) record(write func(ctx context.Context) error) {
	if manager.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		log.Printf("journal error: %v", err)
	}
}

// Count returns the number of live sessions.
func (manager *Manager) Count() int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return len(manager.sessions)
}

// Shutdown closes every live transport and waits for the connection
// goroutines to finish or ctx to expire.
func (manager *Manager) Shutdown(ctx context.Context) error {
	manager.mutex.Lock()
	conns := make([]Conn, 0, len(manager.sessions))
	for _, conn := range manager.sessions {
		conns = append(conns, conn)
	}
	manager.mutex.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}

	finished := make(chan struct{})
	go func() {
		manager.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
