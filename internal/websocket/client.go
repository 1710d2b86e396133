package websocket

import (
	"context"
	"encoding/json"
	"time"

	"civic-dispatch-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 2048

	positionTimeout = 5 * time.Second
)

// PositionReporter persists a position pushed by a unit's device.
type PositionReporter interface {
	UpdateUnitPosition(ctx context.Context, unitID string, pos models.Coordinate) (*models.UnitLocation, error)
}

// Client represents a WebSocket client connection
type Client struct {
	UserID   string
	UserRole string
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte
	reporter PositionReporter
}

// IncomingMessage represents a message from the client
type IncomingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type locationUpdate struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func NewClient(userID, userRole string, conn *websocket.Conn, hub *Hub, reporter PositionReporter) *Client {
	return &Client{
		UserID:   userID,
		UserRole: userRole,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, 256),
		reporter: reporter,
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user_id", c.UserID).Msg("WebSocket error")
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Msg("Invalid message format")
			continue
		}

		switch msg.Type {
		case "ping":
			c.reply(OutgoingMessage{Type: "pong", Data: map[string]interface{}{
				"timestamp": time.Now().Format(time.RFC3339),
			}})
		case "location_update":
			c.handleLocationUpdate(msg.Data)
		}
	}
}

// reply goes through the hub so it never races the hub closing c.send.
func (c *Client) reply(msg OutgoingMessage) {
	c.hub.BroadcastToUser(c.UserID, msg)
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleLocationUpdate stores a field unit's own position report. The
// resulting broadcast goes through the dispatch event sink.
func (c *Client) handleLocationUpdate(raw json.RawMessage) {
	if c.UserRole != models.RoleFieldOfficial || c.reporter == nil {
		return
	}
	var update locationUpdate
	if err := json.Unmarshal(raw, &update); err != nil || update.Latitude == nil || update.Longitude == nil {
		c.reply(OutgoingMessage{Type: "error", Data: map[string]string{"error": "latitude and longitude are required"}})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), positionTimeout)
	defer cancel()
	pos := models.Coordinate{Latitude: *update.Latitude, Longitude: *update.Longitude}
	if _, err := c.reporter.UpdateUnitPosition(ctx, c.UserID, pos); err != nil {
		log.Warn().Err(err).Str("unit_id", c.UserID).Msg("❌ Error saving unit location")
		c.reply(OutgoingMessage{Type: "error", Data: map[string]string{"error": "location update rejected"}})
	}
}
