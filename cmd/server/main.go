package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Tyrowin/chatrooms/internal/auth"
	"github.com/Tyrowin/chatrooms/internal/engine"
	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/server"
	"github.com/Tyrowin/chatrooms/internal/topic"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	store, err := history.Open(cfg.HistoryBackend)
	if err != nil {
		log.Error("Failed to open history store", "backend", cfg.HistoryBackend, "error", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close history store", "error", err)
		}
	}()

	blocklist := cfg.TopicBlocklist
	if len(blocklist) == 0 {
		blocklist = topic.DefaultBlocklist
	}
	filter, err := topic.NewWordFilter(blocklist)
	if err != nil {
		log.Error("Failed to build topic filter", "error", err)
		return 1
	}

	var verifier auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.JWTSecret)
	} else {
		log.Warn("JWT_SECRET is empty; accepting anonymous connections")
	}

	hub := server.NewHub(log.With("component", "hub"))
	hub.Attach(engine.New(hub, filter, store, log))
	go hub.Run()

	handlers := server.NewHandlers(hub, verifier, cfg, log.With("component", "http"))
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(handlers))

	go func() {
		if err := server.StartServer(httpServer, log); err != nil {
			log.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				if err := server.ShutdownServer(ctx, httpServer, log); err != nil {
					return err
				}
				return hub.Shutdown(cfg.ShutdownTimeout)
			},
		},
	)

	exitCode := <-wait
	log.Info("Server exited", "code", exitCode)
	return exitCode
}
