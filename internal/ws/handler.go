package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/playquickdraw/backend/internal/duel"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one websocket subscriber watching a match.
type Client struct {
	conn    *websocket.Conn
	matchID string
	send    chan []byte
}

// Hub routes match snapshots to the clients watching each match. Polling
// stays the source of truth; this feed just saves the chatty tabs a round
// trip, so drops are acceptable.
type Hub struct {
	rooms map[string]map[*Client]bool // matchID -> clients
	mu    sync.RWMutex
}

// MatchHub is the process-wide hub.
var MatchHub = NewHub()

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.matchID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[c.matchID] = room
	}
	room[c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[c.matchID]; ok {
		if room[c] {
			delete(room, c)
			close(c.send)
		}
		if len(room) == 0 {
			delete(h.rooms, c.matchID)
		}
	}
}

// BroadcastToMatch sends a message to every client watching the match.
func (h *Hub) BroadcastToMatch(matchID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[matchID] {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full; it can re-sync by polling.
			log.Printf("[WS] Send buffer full for a watcher of match %s, dropping message", matchID)
		}
	}
}

// HandleMatchFeed upgrades the connection and streams snapshots of one match.
func HandleMatchFeed() gin.HandlerFunc {
	return func(c *gin.Context) {
		matchID := duel.NormalizeMatchID(c.Param("id"))
		if matchID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_INPUT"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WS] Upgrade failed for match %s: %v", matchID, err)
			return
		}

		client := &Client{conn: conn, matchID: matchID, send: make(chan []byte, 16)}
		MatchHub.register(client)
		log.Printf("[WS] Watcher connected to match %s", matchID)

		go client.writePump()
		go client.readPump()
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the feed is one-way. Its job is to
// notice the close.
func (c *Client) readPump() {
	defer func() {
		MatchHub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
