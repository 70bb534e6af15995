package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	intrnl "comicchat/internal"
	"comicchat/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr   string
	tls    bool
	path   string
	relay  *intrnl.Server
	server *http.Server
	store  *storage.Store
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// URL is the websocket address clients should dial.
func (h *ServerHandle) URL() string {
	scheme := "ws"
	if h.tls {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, h.addr, h.path)
}

// Relay exposes the running relay, mostly for tests.
func (h *ServerHandle) Relay() *intrnl.Server {
	return h.relay
}

// Stop closes every websocket session, then shuts the HTTP server down
// within the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
	}
	h.cancel()
	sessionErr := h.relay.Shutdown(ctx)
	if err := h.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if sessionErr != nil {
		return fmt.Errorf("session shutdown: %w", sessionErr)
	}
	return nil
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the connection journal (unless disabled), wires the relay
// handlers and starts serving in the background. Call Stop/Wait to manage its
// lifecycle; cancelling ctx also stops it.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := cfg.sanitize()
	if err != nil {
		return nil, err
	}

	store, err := openJournal(ctx, cfg)
	if err != nil {
		return nil, err
	}
	options := intrnl.ServerOptions{
		HistorySize:  cfg.HistorySize,
		SendBuffer:   cfg.SendBuffer,
		MaxFrameSize: cfg.MaxFrameSize,
		UpgradeLimit: cfg.UpgradeLimit,
		LogFrames:    cfg.Verbose,
	}
	if store != nil {
		options.Journal = store
	}
	relay := intrnl.NewServer(options)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           relay.Routes(cfg.Path),
		ReadHeaderTimeout: 15 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		tls:    cfg.TLSEnabled(),
		path:   cfg.Path,
		relay:  relay,
		server: httpServer,
		store:  store,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go relay.RunMaintenance(runCtx, cfg.RoomIdleTTL)
	go func() {
		<-runCtx.Done()
		if ctx.Err() == nil {
			// stopped through Stop
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := handle.Stop(shutdownCtx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	go handle.serve(listener, cfg)

	return handle, nil
}

func openJournal(ctx context.Context, cfg ServerConfig) (*storage.Store, error) {
	if !cfg.JournalEnabled() {
		return nil, nil
	}
	if !strings.Contains(cfg.DBPath, ":") {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if closed, err := store.MarkAbandoned(ctx, time.Now()); err != nil {
		log.Printf("journal cleanup error: %v", err)
	} else if closed > 0 {
		log.Printf("closed %d journal rows left open by a previous run", closed)
	}
	return store, nil
}

func (h *ServerHandle) serve(listener net.Listener, cfg ServerConfig) {
	defer close(h.done)
	var err error
	if cfg.TLSEnabled() {
		err = h.server.ServeTLS(listener, cfg.TLSCert, cfg.TLSKey)
	} else {
		err = h.server.Serve(listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.cancel()
	// sessions still unwinding may write their disconnect rows
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	_ = h.relay.Shutdown(shutdownCtx)
	cancel()
	if err := h.store.Close(); err != nil {
		log.Printf("store close error: %v", err)
	}
	h.err = err
}
