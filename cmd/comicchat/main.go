package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	intrnl "comicchat/internal"
	"comicchat/internal/app"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	flagSet := flag.NewFlagSet("comicchat", flag.ExitOnError)
	addr := flagSet.String("addr", envOrDefault("COMICCHAT_ADDR", defaultAddrForMode(mode)), "server listen address")
	path := flagSet.String("path", envOrDefault("COMICCHAT_PATH", "/"), "websocket path")
	db := flagSet.String("db", envOrDefault("COMICCHAT_DB_PATH", ""), "sqlite connection journal path, or \"off\"")
	serverURL := flagSet.String("server-url", envOrDefault("COMICCHAT_SERVER", "wss://localhost:9443/"), "relay websocket URL (client mode)")
	username := flagSet.String("user", envOrDefault("COMICCHAT_USER", ""), "display name")
	insecure := flagSet.Bool("insecure", false, "skip TLS verification (client mode)")
	quiet := flagSet.Bool("quiet", false, "suppress informational logs")
	_ = flagSet.Parse(args)

	room := ""
	if remaining := flagSet.Args(); len(remaining) > 0 {
		room = remaining[0]
	}

	serverCfg := app.ServerConfig{
		Addr:         *addr,
		Path:         app.NormalizeWSPath(*path),
		DBPath:       *db,
		HistorySize:  intrnl.DefaultHistorySize,
		UpgradeLimit: intrnl.DefaultUpgradeLimit,
	}
	if serverCfg.DBPath == "" {
		serverCfg.DBPath = app.DefaultDBPath()
	}

	clientCfg := app.ClientConfig{
		ServerURL: *serverURL,
		Username:  *username,
		Room:      room,
		Insecure:  *insecure,
	}

	infof := func(format string, args ...interface{}) {
		if *quiet {
			return
		}
		log.Printf(format, args...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		err = runServerMode(ctx, serverCfg, infof)
	case modeLocal:
		// the TUI owns the terminal, so server logs would garble it
		log.SetOutput(io.Discard)
		err = runLocalMode(ctx, serverCfg, clientCfg, infof)
	default:
		err = runClientMode(clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "comicchat: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	infof("comicchat server listening on %s (journal %s)", handle.URL(), cfg.DBPath)
	return handle.Wait()
}

func runClientMode(cfg app.ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("client mode requires --server-url or COMICCHAT_SERVER")
	}
	return app.RunClient(cfg)
}

func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	infof("starting local comicchat server on %s (journal %s)", handle.Addr(), serverCfg.DBPath)
	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = handle.URL()
	infof("launching client against %s", clientCfg.ServerURL)

	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return fmt.Sprintf(":%d", app.DefaultPort)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
