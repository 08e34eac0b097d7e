package mfbcontrol

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// SpectrumHub fans published updates out to WebSocket clients, so a browser
// can follow the spectra and correction values live.
type SpectrumHub struct {
	clients   map[*hubClient]bool
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// hubMessage is the JSON frame sent to WebSocket clients.
type hubMessage struct {
	Tag   string          `json:"tag"`
	State json.RawMessage `json:"state"`
}

// NewSpectrumHub creates a hub with no clients.
func NewSpectrumHub() *SpectrumHub {
	return &SpectrumHub{
		clients: make(map[*hubClient]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
func (h *SpectrumHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ProblemLogger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	c := &hubClient{conn: conn, send: make(chan []byte, 16)}
	h.clientsMu.Lock()
	h.clients[c] = true
	h.clientsMu.Unlock()

	go c.writePump()
	c.readPump()
	h.remove(c)
}

// NumClients returns the number of connected clients.
func (h *SpectrumHub) NumClients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *SpectrumHub) remove(c *hubClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// publish queues the message for every client. Slow clients miss messages
// rather than delaying the others.
func (h *SpectrumHub) publish(tag string, message []byte) error {
	frame, err := json.Marshal(hubMessage{Tag: tag, State: message})
	if err != nil {
		return err
	}
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
	return nil
}

// Close disconnects all clients.
func (h *SpectrumHub) Close() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *hubClient) writePump() {
	defer c.conn.Close()
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards anything the client sends and returns when the
// connection goes away.
func (c *hubClient) readPump() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// RunSpectrumServer serves the hub at /ws on the given port. It blocks.
func RunSpectrumServer(hub *SpectrumHub, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
