package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	intrnl "comicchat/internal"
	"comicchat/internal/app"
)

const shutdownTimeout = 10 * time.Second

func main() {
	host := flag.String("host", envOrDefault("COMICCHAT_HOST", ""), "interface to listen on (empty for all)")
	port := flag.Int("port", envIntOrDefault("COMICCHAT_PORT", app.DefaultPort), "listen port")
	path := flag.String("path", envOrDefault("COMICCHAT_PATH", "/"), "websocket path")
	historySize := flag.Int("history-size", envIntOrDefault("COMICCHAT_HISTORY_SIZE", intrnl.DefaultHistorySize), "messages kept per room")
	db := flag.String("db", envOrDefault("COMICCHAT_DB_PATH", app.DefaultDBPath()), "sqlite connection journal path, or \"off\"")
	tlsCert := flag.String("tls-cert", envOrDefault("COMICCHAT_TLS_CERT", ""), "TLS certificate file (plain HTTP when empty)")
	tlsKey := flag.String("tls-key", envOrDefault("COMICCHAT_TLS_KEY", ""), "TLS private key file")
	roomIdleTTL := flag.Duration("room-idle-ttl", 0, "drop empty rooms idle for this long (0 keeps rooms forever)")
	sendBuffer := flag.Int("send-buffer", intrnl.DefaultSendBuffer, "outbound frames queued per connection")
	maxFrame := flag.Int64("max-frame", intrnl.DefaultMaxFrameSize, "largest inbound frame in bytes")
	upgradeLimit := flag.Int("upgrade-limit", intrnl.DefaultUpgradeLimit, "websocket upgrades per minute per address (0 disables)")
	verbose := flag.Bool("verbose", false, "log every inbound frame")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(intrnl.VersionString("comicchat-server"))
		return
	}

	cfg := app.ServerConfig{
		Addr:         net.JoinHostPort(*host, strconv.Itoa(*port)),
		Path:         *path,
		DBPath:       *db,
		TLSCert:      *tlsCert,
		TLSKey:       *tlsKey,
		HistorySize:  *historySize,
		RoomIdleTTL:  *roomIdleTTL,
		SendBuffer:   *sendBuffer,
		MaxFrameSize: *maxFrame,
		UpgradeLimit: *upgradeLimit,
		Verbose:      *verbose,
	}
	log.Printf("config: history size %d, journal %s, room idle ttl %s", cfg.HistorySize, cfg.DBPath, cfg.RoomIdleTTL)

	handle, err := app.RunServer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("comicchat server listening on %s", handle.URL())

	go func() {
		if err := handle.Wait(); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				log.Println("graceful shutdown initiated...")
				return handle.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("server exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("ignoring %s=%q: %v", key, value, err)
		return fallback
	}
	return parsed
}
