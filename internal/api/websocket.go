package api

import (
	"encoding/json"
	"net/http"
	"time"

	"upbit-autopilot/internal/autopilot"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// CORS on the HTTP routes is the access control; the ws endpoint
		// carries no credentials.
		return true
	},
}

// WSClient is one connected websocket consumer
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub fans state snapshots out to all connected clients. Slow clients
// are dropped rather than blocking the broadcast.
type WSHub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan []byte
	stop       chan struct{}
	logger     zerolog.Logger
}

// NewWSHub creates a hub. Call Run in a goroutine.
func NewWSHub(logger zerolog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan []byte, 16),
		stop:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes hub events until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug().Int("clients", len(h.clients)).Msg("websocket client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
		case <-h.stop:
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*WSClient]bool)
			return
		}
	}
}

// Stop disconnects all clients and ends Run.
func (h *WSHub) Stop() {
	close(h.stop)
}

// BroadcastState serializes and fans out one snapshot. Drops the frame
// when the broadcast buffer is full.
func (h *WSHub) BroadcastState(state autopilot.State) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": "autopilot_state",
		"data": state,
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to marshal state frame")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &WSClient{conn: conn, send: make(chan []byte, 32), hub: s.hub}
	s.hub.register <- client

	// Initial snapshot so new clients render without waiting for a tick.
	s.hub.BroadcastState(s.orchestrator.Snapshot())

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
