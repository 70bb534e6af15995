package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	intrnl "comicchat/internal"
)

// JournalDisabled as DBPath turns the connection journal off.
const JournalDisabled = "off"

// DefaultPort matches the port the relay has always listened on.
const DefaultPort = 9443

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr         string
	Path         string
	DBPath       string
	TLSCert      string
	TLSKey       string
	HistorySize  int
	RoomIdleTTL  time.Duration
	SendBuffer   int
	MaxFrameSize int64
	UpgradeLimit int
	Verbose      bool
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string
	Username  string
	Room      string
	Insecure  bool
}

// JournalEnabled reports whether a SQLite journal should be opened.
func (cfg ServerConfig) JournalEnabled() bool {
	return cfg.DBPath != "" && !strings.EqualFold(cfg.DBPath, JournalDisabled)
}

// TLSEnabled reports whether both halves of a key pair were given.
func (cfg ServerConfig) TLSEnabled() bool {
	return cfg.TLSCert != "" && cfg.TLSKey != ""
}

// sanitize fills defaults and rejects combinations that cannot run.
func (cfg ServerConfig) sanitize() (ServerConfig, error) {
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", DefaultPort)
	}
	cfg.Path = NormalizeWSPath(cfg.Path)
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = intrnl.DefaultHistorySize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = intrnl.DefaultSendBuffer
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = intrnl.DefaultMaxFrameSize
	}
	if cfg.UpgradeLimit < 0 {
		cfg.UpgradeLimit = 0
	}
	if cfg.RoomIdleTTL < 0 {
		cfg.RoomIdleTTL = 0
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return cfg, errors.New("tls needs both a certificate and a key")
	}
	return cfg, nil
}

// DefaultDBPath returns a per-user data path for the connection journal.
func DefaultDBPath() string {
	if env := os.Getenv("COMICCHAT_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("COMICCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "comicchat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "comicchat", "comicchat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Comicchat", "comicchat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Comicchat", "comicchat.db")
		}
		return filepath.Join(home, ".local", "share", "comicchat", "comicchat.db")
	}
	return filepath.Join(".", ".comicchat", "comicchat.db")
}

// NormalizeWSPath guarantees the websocket path starts with '/' and
// falls back to the root when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
