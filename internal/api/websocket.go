package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradelab/internal/strategy"
	"tradelab/internal/stream"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The HTTP API already allows any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub tracks live WebSocket sessions. Hijacked connections are not closed by
// http.Server.Shutdown, so the server cancels them through the Hub.
type Hub struct {
	mu       sync.Mutex
	sessions map[*wsSession]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[*wsSession]struct{})}
}

func (h *Hub) register(s *wsSession) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(s *wsSession) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// Len returns the number of open sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll cancels every open session's batch. Each session then sends a
// close frame and drops its connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		s.cancel()
	}
}

type wsSession struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// handleWebSocket runs one batch per connection. The client sends a single
// RunRequest as a text message; every stream.Event is written back as a JSON
// text message and the server closes normally after "complete". A request
// that fails validation gets an ErrorResponse followed by a policy-violation
// close. Closing the socket early cancels the batch.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sess := &wsSession{conn: conn, cancel: cancel}
	s.hub.register(sess)
	defer s.hub.unregister(sess)

	conn.SetReadLimit(maxBody)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		s.log.Info("websocket closed before request", "error", err)
		return
	}
	events, err := s.openWebSocketStream(ctx, data)
	if err != nil {
		s.closeWithError(conn, err)
		return
	}

	// The read pump only watches for the client going away; pongs extend the
	// deadline.
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.writeClose(conn, websocket.CloseNormalClosure, "")
				return
			}
			if err := s.writeEvent(conn, ev); err != nil {
				s.log.Info("websocket client gone", "error", err)
				cancel()
				for range events {
				}
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
				for range events {
				}
				return
			}
		}
	}
}

func (s *Server) openWebSocketStream(ctx context.Context, data []byte) (<-chan stream.Event, error) {
	var body RunRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return nil, &strategy.ValidationError{Field: "body", Reason: err.Error()}
	}
	req, err := body.Batch()
	if err != nil {
		return nil, err
	}
	return s.batcher.Stream(ctx, req)
}

func (s *Server) writeEvent(conn *websocket.Conn, ev stream.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}

// closeWithError reports err as an ErrorResponse and closes the connection
// with a code matching the HTTP status it would have had.
func (s *Server) closeWithError(conn *websocket.Conn, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var ve *strategy.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	code := websocket.CloseInternalServerErr
	if status := statusFor(err); status < 500 {
		code = websocket.ClosePolicyViolation
	} else {
		s.log.Error("websocket request failed", "error", err)
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if werr := conn.WriteJSON(resp); werr != nil {
		return
	}
	s.writeClose(conn, code, resp.Field)
}

func (s *Server) writeClose(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		s.log.Debug("websocket close frame", "error", err)
	}
}
