// Package testhelpers provides utilities shared by the package tests and the
// integration tests of the chat server: a recording transport for driving the
// engine without sockets, and WebSocket helpers speaking the event protocol.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/chatrooms/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestOrigin is the origin the WebSocket helpers present.
const TestOrigin = "http://localhost:8080"

// Delivery is one frame handed to the transport.
type Delivery struct {
	ConnID string
	Event  string
	Data   json.RawMessage
}

// RecordingTransport implements broadcast.Transport by recording every frame.
type RecordingTransport struct {
	mu       sync.Mutex
	sent     []Delivery
	refusing map[string]bool
}

// NewRecordingTransport returns a transport that accepts every connection.
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{refusing: make(map[string]bool)}
}

// Send records frame for connID. Connections marked with Refuse are reported
// as unreachable and nothing is recorded for them.
func (r *RecordingTransport) Send(connID string, frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refusing[connID] {
		return false
	}
	f, err := protocol.Decode(frame)
	if err != nil {
		panic(err)
	}
	r.sent = append(r.sent, Delivery{ConnID: connID, Event: f.Event, Data: f.Data})
	return true
}

// Refuse makes every later send to connID fail.
func (r *RecordingTransport) Refuse(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refusing[connID] = true
}

// Reset forgets the recorded frames.
func (r *RecordingTransport) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// All returns every recorded frame in send order.
func (r *RecordingTransport) All() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.sent...)
}

// To returns the frames sent to connID, optionally restricted to event.
func (r *RecordingTransport) To(connID string, event string) []Delivery {
	var out []Delivery
	for _, d := range r.All() {
		if d.ConnID == connID && (event == "" || d.Event == event) {
			out = append(out, d)
		}
	}
	return out
}

// Events returns the event names sent to connID in order.
func (r *RecordingTransport) Events(connID string) []string {
	var out []string
	for _, d := range r.To(connID, "") {
		out = append(out, d.Event)
	}
	return out
}

// Count returns how many frames of event were sent to anyone.
func (r *RecordingTransport) Count(event string) int {
	n := 0
	for _, d := range r.All() {
		if d.Event == event {
			n++
		}
	}
	return n
}

// Last decodes into dst the data of the last event frame sent to connID.
func (r *RecordingTransport) Last(t *testing.T, connID, event string, dst any) {
	t.Helper()
	frames := r.To(connID, event)
	require.NotEmpty(t, frames, "no %q frame sent to %s", event, connID)
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, dst))
}

// ConnectWebSocket dials url with the test origin and optional extra headers.
func ConnectWebSocket(url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	for k, v := range header {
		headers[k] = v
	}
	if headers.Get("Origin") == "" {
		headers.Set("Origin", TestOrigin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials url and closes the connection when the test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one protocol frame.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := protocol.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// ExpectEvent reads frames until one named event arrives and decodes its data
// into dst when dst is not nil. Other events are skipped.
func ExpectEvent(t *testing.T, conn *websocket.Conn, event string, dst any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", event)
		f, err := protocol.Decode(raw)
		require.NoError(t, err)
		if f.Event != event {
			continue
		}
		if dst != nil {
			require.NoError(t, json.Unmarshal(f.Data, dst))
		}
		return
	}
}

// ExpectNoEvent fails if a frame named event arrives within timeout. A read
// timeout leaves the connection unusable, so call it last.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			require.NoError(t, err)
		}
		f, err := protocol.Decode(raw)
		require.NoError(t, err)
		require.NotEqual(t, event, f.Event, "unexpected %q frame", event)
	}
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest executes an HTTP request with a 5-second timeout.
func MakeRequest(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequest(method, url, http.NoBody)
	} else {
		req, err = http.NewRequest(method, url, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
