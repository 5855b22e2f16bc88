package integration

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/chatrooms/internal/auth"
	"github.com/Tyrowin/chatrooms/internal/engine"
	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/server"
	"github.com/Tyrowin/chatrooms/internal/topic"
	"github.com/Tyrowin/chatrooms/test/testhelpers"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// chatServer is a fully wired server listening on a random local port.
type chatServer struct {
	url string
	hub *server.Hub
}

func (s chatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.url, "http") + "/ws"
}

type serverOption func(cfg *server.Config, verifier *auth.Verifier)

func withJWTSecret(secret string) serverOption {
	return func(cfg *server.Config, verifier *auth.Verifier) {
		cfg.JWTSecret = secret
		*verifier = auth.NewJWTVerifier(secret)
	}
}

func withConfig(customize func(cfg *server.Config)) serverOption {
	return func(cfg *server.Config, _ *auth.Verifier) {
		customize(cfg)
	}
}

// startChatServer wires the engine, hub and handlers the way the binary does
// and stops them when the test ends.
func startChatServer(t *testing.T, opts ...serverOption) chatServer {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	cfg := server.DefaultConfig()
	cfg.AllowedOrigins = []string{testhelpers.TestOrigin}
	cfg.RateLimit.Burst = 50
	var verifier auth.Verifier
	for _, opt := range opts {
		opt(&cfg, &verifier)
	}
	cfg = server.SanitizeConfig(cfg)

	store, err := history.Open(cfg.HistoryBackend)
	require.NoError(t, err)
	filter, err := topic.NewWordFilter(topic.DefaultBlocklist)
	require.NoError(t, err)

	hub := server.NewHub(log)
	hub.Attach(engine.New(hub, filter, store, log))
	go hub.Run()

	srv := httptest.NewServer(server.SetupRoutes(server.NewHandlers(hub, verifier, cfg, log)))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Shutdown(5 * time.Second)
		_ = store.Close()
	})
	return chatServer{url: srv.URL, hub: hub}
}
