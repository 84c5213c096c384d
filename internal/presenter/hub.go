package presenter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-session/internal/channel"
	"github.com/example/driver-session/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the hub only listens on the local interface
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is the envelope pushed to UI subscribers.
type Event struct {
	Type               string             `json:"type"`
	RideID             int64              `json:"ride_id,omitempty"`
	Offer              *models.RideOffer  `json:"offer,omitempty"`
	Reason             models.ClearReason `json:"reason,omitempty"`
	Tick               *models.Tick       `json:"tick,omitempty"`
	Ride               *models.Ride       `json:"ride,omitempty"`
	Online             *bool              `json:"online,omitempty"`
	Channel            string             `json:"channel,omitempty"`
	Status             string             `json:"status,omitempty"`
	ReconnectScheduled bool               `json:"reconnect_scheduled,omitempty"`
	Seconds            int                `json:"seconds,omitempty"`
	Level              models.NoticeLevel `json:"level,omitempty"`
	Text               string             `json:"text,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session signals out to every connected UI over websocket.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{clients: make(map[*client]struct{}), log: logger.With("component", "presenter")}
}

// ServeWS upgrades the request and subscribes the connection to events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("ui subscriber connected", "subscribers", n)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump only exists to notice disconnects and answer pings.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode event", "type", ev.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			// slow subscriber; drop it rather than stall the session
			h.log.Warn("dropping slow ui subscriber")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) OfferDisplayed(o models.RideOffer) {
	h.publish(Event{Type: "offer_displayed", RideID: o.RideID, Offer: &o})
}

func (h *Hub) OfferCleared(rideID int64, reason models.ClearReason) {
	h.publish(Event{Type: "offer_cleared", RideID: rideID, Reason: reason})
}

func (h *Hub) OfferETA(rideID int64, seconds int) {
	h.publish(Event{Type: "offer_eta", RideID: rideID, Seconds: seconds})
}

func (h *Hub) Tick(rideID int64, t models.Tick) {
	h.publish(Event{Type: "tick", RideID: rideID, Tick: &t})
}

func (h *Hub) RideUpdated(r *models.Ride) {
	ev := Event{Type: "ride_updated", Ride: r}
	if r != nil {
		ev.RideID = r.ID
	}
	h.publish(ev)
}

func (h *Hub) AvailabilityChanged(online bool) {
	h.publish(Event{Type: "availability", Online: &online})
}

func (h *Hub) ChannelStatus(name string, st channel.State) {
	h.publish(Event{Type: "channel_status", Channel: name, Status: st.Status.String(), ReconnectScheduled: st.ReconnectScheduled})
}

func (h *Hub) Notice(level models.NoticeLevel, text string) {
	h.publish(Event{Type: "notice", Level: level, Text: text})
}
