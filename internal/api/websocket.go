package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/JustinTDCT/VideoJockey/internal/queue"
)

const (
	eventQueueUpdated     = "queue:updated"
	eventDownloadProgress = "download:progress"
)

// ──────────────────── WebSocket Hub ────────────────────

type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]bool

	activeMu sync.RWMutex
	active   map[string]json.RawMessage // request id → last message while downloading
}

type WSClient struct {
	conn *websocket.Conn
	send chan []byte
}

type WSMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[*WSClient]bool),
		active:  make(map[string]json.RawMessage),
	}
}

// Broadcast sends an event to every client. Slow clients miss messages
// rather than block the sender.
func (h *WSHub) Broadcast(event string, data interface{}) {
	msg, err := json.Marshal(WSMessage{Event: event, Data: data})
	if err != nil {
		log.Printf("[api] marshal %s event: %v", event, err)
		return
	}
	h.track(event, data, msg)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// track keeps the latest message of each running download so a client that
// connects mid-download sees it straight away.
func (h *WSHub) track(event string, data interface{}, raw []byte) {
	var id string
	running := true
	switch event {
	case eventDownloadProgress:
		m, ok := data.(map[string]interface{})
		if !ok {
			return
		}
		id, _ = m["id"].(string)
	case eventQueueUpdated:
		req, ok := data.(*queue.Request)
		if !ok || req == nil {
			return
		}
		id = req.ID
		running = req.Status == queue.StatusDownloading
	default:
		return
	}
	if id == "" {
		return
	}

	h.activeMu.Lock()
	defer h.activeMu.Unlock()
	if running {
		h.active[id] = json.RawMessage(raw)
	} else {
		delete(h.active, id)
	}
}

func (h *WSHub) sendActive(client *WSClient) {
	h.activeMu.RLock()
	defer h.activeMu.RUnlock()
	for _, msg := range h.active {
		select {
		case client.send <- msg:
		default:
		}
	}
}

func (h *WSHub) activeCount() int {
	h.activeMu.RLock()
	defer h.activeMu.RUnlock()
	return len(h.active)
}

func (h *WSHub) addClient(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *WSHub) removeClient(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────── WebSocket Handler ────────────────────

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[api] websocket accept: %v", err)
		return
	}

	hub := s.deps.Hub
	client := &WSClient{conn: conn, send: make(chan []byte, 64)}
	hub.addClient(client)
	hub.sendActive(client)
	log.Printf("[api] websocket client connected from %s", r.RemoteAddr)

	ctx := r.Context()

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for msg := range client.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}()

	// Clients only listen; reading keeps control frames flowing.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	hub.removeClient(client)
	log.Printf("[api] websocket client disconnected from %s", r.RemoteAddr)
}
