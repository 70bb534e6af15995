package internal

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"comicchat/internal/storage"
)

const (
	// DefaultUpgradeLimit is how many upgrade attempts one address may make per window.
	DefaultUpgradeLimit  = 30
	defaultUpgradeWindow = time.Minute
	banner               = "comicchat relay\n"
)

// RecentJournal is the read side of the connection journal used by /connections.
type RecentJournal interface {
	ConnectionJournal
	RecentConnections(ctx context.Context, limit int) ([]storage.Connection, error)
}

// ServerOptions tune a Server. Zero values pick the defaults.
type ServerOptions struct {
	HistorySize   int
	SendBuffer    int
	MaxFrameSize  int64
	UpgradeLimit  int
	UpgradeWindow time.Duration
	LogFrames     bool
	Journal       RecentJournal
}

// Server wires the room hub and session manager into HTTP handlers.
type Server struct {
	hub          *Hub
	manager      *Manager
	metrics      *Metrics
	presence     *PresenceTracker
	limiter      *RateLimiter
	journal      RecentJournal
	upgrader     websocket.Upgrader
	maxFrameSize int64
}

func NewServer(options ServerOptions) *Server {
	hub := NewHub(options.HistorySize)
	presence := NewPresenceTracker()
	metrics := NewMetrics(hub, presence)

	managerOptions := ManagerOptions{
		Journal:    options.Journal,
		Metrics:    metrics,
		Presence:   presence,
		SendBuffer: options.SendBuffer,
		LogFrames:  options.LogFrames,
	}
	if options.UpgradeWindow <= 0 {
		options.UpgradeWindow = defaultUpgradeWindow
	}

	return &Server{
		hub:          hub,
		manager:      NewManager(hub, managerOptions),
		metrics:      metrics,
		presence:     presence,
		limiter:      NewRateLimiter(options.UpgradeLimit, options.UpgradeWindow),
		journal:      options.Journal,
		upgrader:     newUpgrader(),
		maxFrameSize: options.MaxFrameSize,
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Manager() *Manager {
	return s.manager
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ServeWS upgrades the request and runs the relay protocol until the peer goes away.
// Plain requests get a short banner so the port doubles as a liveness probe.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(banner))
		return
	}
	if !s.limiter.Allow(clientIP(r)) {
		s.metrics.RejectUpgrade()
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	websocketConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}
	log.Printf("connection from origin %q", r.Header.Get("Origin"))
	s.manager.Serve(newWSConn(websocketConn, s.maxFrameSize))
}

// Routes registers every handler on a fresh mux.
func (s *Server) Routes(wsPath string) *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(pattern string, handler http.HandlerFunc) {
		mux.Handle(pattern, s.metrics.Instrument(pattern, handler))
	}
	// upgraded requests live as long as the session, so they stay out of the latency histogram
	mux.HandleFunc(wsPath, s.ServeWS)
	if wsPath != "/" {
		handle("/", s.HandleBanner)
	}
	handle("/healthz", s.HandleHealth)
	handle("/exists", s.HandleRoomExists)
	handle("/rooms", s.HandleRooms)
	handle("/online", s.HandleOnline)
	handle("/connections", s.HandleConnections)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// RunMaintenance reaps idle rooms (when ttl > 0) and prunes the upgrade
// limiter until ctx is done.
func (s *Server) RunMaintenance(ctx context.Context, roomIdleTTL time.Duration) {
	if roomIdleTTL > 0 {
		go s.hub.RunReaper(ctx, roomIdleTTL, roomIdleTTL/2)
	}
	ticker := time.NewTicker(defaultUpgradeWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Prune()
		}
	}
}

// Shutdown closes every websocket session and waits for them to unwind.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.manager.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
