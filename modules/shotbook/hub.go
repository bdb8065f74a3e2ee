package shotbook

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"shotbook-server/modules/common/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 개발용 - 모든 origin 허용
		return true
	},
}

// SnapshotMessage - /ws로 나가는 메시지
type SnapshotMessage struct {
	Type  string              `json:"type"`
	State *model.ProjectState `json:"state"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub - 스냅샷을 연결된 UI 클라이언트에 브로드캐스트
type Hub struct {
	mu      sync.RWMutex
	clients map[*subscriber]bool
	current func() *model.ProjectState
}

// NewHub - current는 새 연결에 보낼 초기 상태
func NewHub(current func() *model.ProjectState) *Hub {
	return &Hub{clients: map[*subscriber]bool{}, current: current}
}

// Broadcast - Persister.OnSnapshot 리스너
func (h *Hub) Broadcast(state *model.ProjectState) {
	data, err := json.Marshal(SnapshotMessage{Type: "snapshot", State: state})
	if err != nil {
		log.Printf("❌ [Hub] Error marshaling snapshot: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// 느린 클라이언트는 끊는다
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// Clients - 연결 수
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket - GET /ws
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ [Hub] WebSocket upgrade failed: %v", err)
		return
	}

	c := &subscriber{conn: conn, send: make(chan []byte, 64)}
	if h.current != nil {
		if data, err := json.Marshal(SnapshotMessage{Type: "snapshot", State: h.current()}); err == nil {
			c.send <- data
		}
	}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("👤 [Hub] Client connected (clients: %d)", count)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *subscriber) {
	h.mu.Lock()
	if h.clients[c] {
		close(c.send)
		delete(h.clients, c)
	}
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("👋 [Hub] Client disconnected (clients: %d)", count)
}

// readPump - 클라이언트 메시지는 무시하고 연결 종료만 감지
func (h *Hub) readPump(c *subscriber) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️  [Hub] WebSocket error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *subscriber) {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("⚠️  [Hub] WebSocket write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
