package app

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"comicchat/internal/storage"
)

func startTestServer(t *testing.T, cfg ServerConfig) *ServerHandle {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	handle, err := RunServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = handle.Stop(ctx)
		_ = handle.Wait()
	})
	return handle
}

func TestRunServerJournalsSessions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "journal.db")
	handle := startTestServer(t, ServerConfig{DBPath: dbPath, Path: "chat"})
	if !strings.HasPrefix(handle.URL(), "ws://127.0.0.1:") || !strings.HasSuffix(handle.URL(), "/chat") {
		t.Fatalf("unexpected url %q", handle.URL())
	}

	conn, _, err := websocket.DefaultDialer.Dial(handle.URL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	for _, frame := range []string{
		`{"type":"message","text":"quinn"}`,
		`{"type":"join","room":"lobby"}`,
		`{"type":"message","room":"lobby","text":"hello"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(payload), `"author":"quinn"`) {
		t.Fatalf("unexpected frame %s", payload)
	}
	_ = conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handle.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := handle.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	store, err := storage.NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	rows, err := store.RecentConnections(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one journal row, got %+v", rows)
	}
	if rows[0].Identity == nil || *rows[0].Identity != "quinn" || rows[0].DisconnectedAt == nil {
		t.Fatalf("unexpected row %+v", rows[0])
	}
}

func TestRunServerWithoutJournal(t *testing.T) {
	handle := startTestServer(t, ServerConfig{DBPath: JournalDisabled})
	httpURL := "http" + strings.TrimPrefix(handle.URL(), "ws")

	resp, err := http.Get(httpURL + "connections")
	if err != nil {
		t.Fatalf("GET /connections: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without a journal, got %d", resp.StatusCode)
	}

	resp, err = http.Get(httpURL + "healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
}

func TestRunServerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handle, err := RunServer(ctx, ServerConfig{Addr: "127.0.0.1:0", DBPath: JournalDisabled})
	if err != nil {
		t.Fatalf("run server: %v", err)
	}
	cancel()
	done := make(chan error, 1)
	go func() { done <- handle.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop after cancel")
	}
}

func TestRunServerRejectsHalfTLS(t *testing.T) {
	if _, err := RunServer(context.Background(), ServerConfig{Addr: "127.0.0.1:0", DBPath: JournalDisabled, TLSCert: "x.pem"}); err == nil {
		t.Fatalf("expected a config error")
	}
}
