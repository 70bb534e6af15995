package app

import (
	"path/filepath"
	"testing"

	intrnl "comicchat/internal"
)

func TestSanitizeFillsDefaults(t *testing.T) {
	cfg, err := ServerConfig{UpgradeLimit: -1, RoomIdleTTL: -1}.sanitize()
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if cfg.Addr != ":9443" || cfg.Path != "/" {
		t.Fatalf("unexpected addr/path %q %q", cfg.Addr, cfg.Path)
	}
	if cfg.HistorySize != intrnl.DefaultHistorySize || cfg.SendBuffer != intrnl.DefaultSendBuffer {
		t.Fatalf("unexpected sizes %d %d", cfg.HistorySize, cfg.SendBuffer)
	}
	if cfg.MaxFrameSize != intrnl.DefaultMaxFrameSize || cfg.UpgradeLimit != 0 || cfg.RoomIdleTTL != 0 {
		t.Fatalf("unexpected limits %+v", cfg)
	}
}

func TestSanitizeRejectsHalfTLS(t *testing.T) {
	if _, err := (ServerConfig{TLSCert: "cert.pem"}).sanitize(); err == nil {
		t.Fatalf("certificate without key should fail")
	}
	if _, err := (ServerConfig{TLSKey: "key.pem"}).sanitize(); err == nil {
		t.Fatalf("key without certificate should fail")
	}
	cfg, err := ServerConfig{TLSCert: "cert.pem", TLSKey: "key.pem"}.sanitize()
	if err != nil || !cfg.TLSEnabled() {
		t.Fatalf("full key pair should enable tls: %v", err)
	}
}

func TestJournalEnabled(t *testing.T) {
	cases := map[string]bool{
		"":           false,
		"off":        false,
		"OFF":        false,
		"journal.db": true,
	}
	for path, want := range cases {
		if got := (ServerConfig{DBPath: path}).JournalEnabled(); got != want {
			t.Fatalf("JournalEnabled(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestNormalizeWSPath(t *testing.T) {
	cases := map[string]string{
		"":      "/",
		"/":     "/",
		"chat":  "/chat",
		"/chat": "/chat",
	}
	for in, want := range cases {
		if got := NormalizeWSPath(in); got != want {
			t.Fatalf("NormalizeWSPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaultDBPathFromEnv(t *testing.T) {
	t.Setenv("COMICCHAT_DB_PATH", "/tmp/explicit.db")
	if got := DefaultDBPath(); got != "/tmp/explicit.db" {
		t.Fatalf("got %q", got)
	}

	t.Setenv("COMICCHAT_DB_PATH", "")
	dir := t.TempDir()
	t.Setenv("COMICCHAT_DATA_DIR", dir)
	if got := DefaultDBPath(); got != filepath.Join(dir, "comicchat.db") {
		t.Fatalf("got %q", got)
	}

	t.Setenv("COMICCHAT_DATA_DIR", "")
	t.Setenv("XDG_DATA_HOME", dir)
	if got := DefaultDBPath(); got != filepath.Join(dir, "comicchat", "comicchat.db") {
		t.Fatalf("got %q", got)
	}
}
