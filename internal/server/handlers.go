package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tyrowin/chatrooms/internal/auth"
	"github.com/Tyrowin/chatrooms/internal/persistent"
	"github.com/Tyrowin/chatrooms/internal/topic"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

const statsTimeout = 2 * time.Second

// Handlers serves the HTTP surface of the chat server.
type Handlers struct {
	hub      *Hub
	verifier auth.Verifier
	cfg      Config
	upgrader websocket.Upgrader
	validate *validator.Validate
	log      *slog.Logger
}

// NewHandlers builds the handlers. A nil verifier accepts anonymous
// connections.
func NewHandlers(hub *Hub, verifier auth.Verifier, cfg Config, log *slog.Logger) *Handlers {
	origins := newOriginPolicy(cfg.AllowedOrigins, log)
	return &Handlers{
		hub:      hub,
		verifier: verifier,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		validate: validator.New(),
		log:      log,
	}
}

// WebSocket authenticates the request when a verifier is configured, upgrades
// it and hands the connection to the hub.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	var identity auth.Identity
	if h.verifier != nil {
		verified, err := h.verifier.Verify(auth.TokenFromRequest(r))
		if err != nil {
			h.log.Warn("Rejected WebSocket connection", "addr", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		identity = verified
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, identity, h.cfg)
	if err := h.hub.Register(client); err != nil {
		_ = conn.Close()
	}
}

// Health responds with a plain text liveness message.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Chat server is running!")
}

// Stats reports the engine counters as JSON.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	stats, err := h.hub.Stats(ctx)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

type topicsResponse struct {
	Topics []string `json:"topics"`
}

// Topics lists the predefined discussion topics.
func (h *Handlers) Topics(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, topicsResponse{Topics: topic.Predefined})
}

type createRoomRequest struct {
	Name string `json:"name" validate:"required"`
}

type createRoomResponse struct {
	RoomID string `json:"roomId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateRoom generates the id of a new persistent room. The room itself comes
// to life when its first member joins.
func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxMessageSize)).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}

	roomID, err := persistent.NewRoomID(req.Name)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	h.log.Info("Room id issued", "room_id", roomID)
	h.writeJSON(w, http.StatusCreated, createRoomResponse{RoomID: roomID})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Error writing JSON response", "error", err)
	}
}
