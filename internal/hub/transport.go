package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/opsbridge/opsbridge/internal/event"
)

// ErrSendBufferFull is returned by the channel transport when a peer cannot
// keep up with fan-out volume.
var ErrSendBufferFull = errors.New("send buffer full")

// ErrTransportClosed is returned by Deliver once the transport has been
// closed. Fan-out may race a disconnect: a sender holding a stale registry
// snapshot gets this error instead of a send on a closed channel.
var ErrTransportClosed = errors.New("transport closed")

// ChannelTransport queues outbound messages on a buffered channel drained by
// a write pump. Deliver never blocks the fan-out path. The mutex serializes
// Deliver against Close so a concurrent disconnect can never close the
// channel under an in-flight send.
type ChannelTransport struct {
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewChannelTransport creates a transport with the given buffer size.
func NewChannelTransport(buffer int) *ChannelTransport {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelTransport{send: make(chan []byte, buffer)}
}

// Deliver enqueues data for the write pump.
func (t *ChannelTransport) Deliver(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	select {
	case t.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close closes the send channel, terminating the write pump. Idempotent:
// disconnect and the liveness sweep may both get here.
func (t *ChannelTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.send)
	return nil
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Peers authenticate upstream; tighten in production.
	},
}

// WSHandler upgrades HTTP connections to WebSocket, performs the role
// handshake, and bridges the socket to the hub.
type WSHandler struct {
	hub    *Hub
	logger zerolog.Logger
}

// NewWSHandler creates a new WebSocket handler bound to the given hub.
func NewWSHandler(h *Hub, logger zerolog.Logger) *WSHandler {
	return &WSHandler{hub: h, logger: logger.With().Str("component", "ws").Logger()}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (wsh *WSHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// ack is the synchronous reply to each inbound submission frame.
type ack struct {
	Kind           string `json:"kind"`
	Accepted       bool   `json:"accepted"`
	SequenceNumber int64  `json:"sequence_number,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// HandleConnect handles GET /ws?role=<role>: upgrades the connection,
// registers the peer, and starts the read/write pumps.
func (wsh *WSHandler) HandleConnect(c echo.Context) error {
	role := event.Role(c.QueryParam("role"))
	if !role.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown role"})
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	transport := NewChannelTransport(256)
	connID, err := wsh.hub.Connect(role, transport)
	if err != nil {
		ws.Close()
		return nil
	}

	// Tell the peer its connection id before any traffic.
	hello, _ := json.Marshal(map[string]string{"kind": "connected", "connection_id": connID})
	if err := ws.WriteMessage(gorillawebsocket.TextMessage, hello); err != nil {
		wsh.hub.Disconnect(connID)
		return nil
	}

	go wsh.writePump(connID, transport, ws)
	go wsh.readPump(connID, transport, ws)
	return nil
}

// readPump reads submission frames, feeds them to the hub, and queues an ack
// per frame. Acks share the write pump with fan-out traffic so the socket has
// a single writer. Any read error tears the connection down.
func (wsh *WSHandler) readPump(connID string, t *ChannelTransport, ws *gorillawebsocket.Conn) {
	defer wsh.hub.Disconnect(connID)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var sub event.Submission
		if err := json.Unmarshal(data, &sub); err != nil {
			wsh.queueAck(t, ack{Kind: "ack", Accepted: false, Reason: "malformed submission"})
			continue
		}

		res, err := wsh.hub.Submit(context.Background(), connID, &sub)
		if err != nil {
			wsh.queueAck(t, ack{Kind: "ack", Accepted: false, Reason: err.Error()})
			continue
		}
		wsh.queueAck(t, ack{Kind: "ack", Accepted: res.Accepted, SequenceNumber: res.SequenceNumber, Reason: res.Reason})
	}
}

func (wsh *WSHandler) queueAck(t *ChannelTransport, a ack) {
	data, _ := json.Marshal(a)
	if err := t.Deliver(data); err != nil {
		wsh.logger.Debug().Err(err).Msg("ack dropped, send buffer full")
	}
}

// writePump drains the transport buffer onto the socket.
func (wsh *WSHandler) writePump(connID string, t *ChannelTransport, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for data := range t.send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
			wsh.hub.Disconnect(connID)
			return
		}
	}
}
