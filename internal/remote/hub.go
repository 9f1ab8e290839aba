package remote

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"videomorph/internal/jobs"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// hub fans coordinator events out to websocket clients. Slow clients drop
// events instead of blocking the coordinator.
type hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan jobs.Event
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// broadcast is registered as a coordinator listener.
func (h *hub) broadcast(ev jobs.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("websocket client too slow, event dropped", "seq", ev.Seq)
		}
	}
}

// serve upgrades the request and streams events, replaying backlog first.
func (h *hub) serve(w http.ResponseWriter, r *http.Request, backlog func() []jobs.Event) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan jobs.Event, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go h.writeLoop(c, backlog(), done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(done)
	_ = conn.Close()
}

func (h *hub) writeLoop(c *wsClient, backlog []jobs.Event, done <-chan struct{}) {
	write := func(ev jobs.Event) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			_ = c.conn.Close()
			return false
		}
		return true
	}

	var lastSeq int64
	for _, ev := range backlog {
		if !write(ev) {
			return
		}
		lastSeq = ev.Seq
	}
	for {
		select {
		case <-done:
			return
		case ev := <-c.send:
			if ev.Seq <= lastSeq {
				continue
			}
			if !write(ev) {
				return
			}
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
