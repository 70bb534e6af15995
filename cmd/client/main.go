package main

import (
	"flag"
	"fmt"
	"os"

	intrnl "comicchat/internal"
	"comicchat/internal/app"
)

func main() {
	defaultServer := envOrDefault("COMICCHAT_SERVER", "wss://localhost:9443/")
	defaultUser := envOrDefault("COMICCHAT_USER", "")

	serverURL := flag.String("server", defaultServer, "relay WebSocket URL (e.g., ws://localhost:9443/)")
	username := flag.String("user", defaultUser, "display name (prompted for when empty)")
	insecure := flag.Bool("insecure", false, "skip TLS verification for self-signed certificates")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(intrnl.VersionString("comicchat-client"))
		return
	}

	args := flag.Args()
	var room string
	if len(args) >= 1 {
		room = args[0]
	}

	cfg := app.ClientConfig{
		ServerURL: *serverURL,
		Room:      room,
		Username:  *username,
		Insecure:  *insecure,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
