package observer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rostrumdev/rostrum/internal/auction"
	"github.com/rostrumdev/rostrum/internal/snapshot"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 16
)

// Hub broadcasts auction views to websocket observers. Each connection
// follows exactly one auction. A client too slow to drain its send
// buffer is dropped rather than allowed to stall the broadcast.
//
// The latest rendered view is cached per auction so joiners get a frame
// immediately. A completed auction never renders again, so its cache
// entry is released once no observer follows it: on the completing
// render when nobody is connected, otherwise when the last observer
// leaves.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]map[*wsConn]bool
	latest map[string]cachedView
}

type cachedView struct {
	data     []byte
	terminal bool
}

type wsConn struct {
	auctionID string
	sock      *websocket.Conn
	send      chan []byte
}

// NewHub builds a hub. checkOrigin guards the websocket upgrade; nil
// allows any origin.
func NewHub(logger *slog.Logger, checkOrigin func(*http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		conns:  make(map[string]map[*wsConn]bool),
		latest: make(map[string]cachedView),
	}
}

// Render marshals the snapshot's view once and broadcasts it to every
// observer of the auction. Implements Renderer.
func (h *Hub) Render(snap *snapshot.Snapshot) {
	data, err := json.Marshal(auction.ViewFromSnapshot(snap))
	if err != nil {
		h.logger.Error("rendering view for broadcast",
			slog.String("auction_id", snap.AuctionID),
			slog.Any("error", err),
		)
		return
	}

	terminal := snap.Status == snapshot.StatusComplete
	h.mu.Lock()
	if terminal && len(h.conns[snap.AuctionID]) == 0 {
		delete(h.latest, snap.AuctionID)
	} else {
		h.latest[snap.AuctionID] = cachedView{data: data, terminal: terminal}
	}
	h.mu.Unlock()

	// Sends happen under the read lock so no connection can be closed
	// out from underneath them; slow ones are collected and dropped after.
	var slow []*wsConn
	h.mu.RLock()
	for c := range h.conns[snap.AuctionID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("observer too slow, dropping connection",
			slog.String("auction_id", c.auctionID),
		)
		h.drop(c)
	}
}

// Serve upgrades the request and streams views for the auction until the
// client goes away. The latest known view is sent immediately on join.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, auctionID string) error {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrading observer connection: %w", err)
	}
	c := &wsConn{auctionID: auctionID, sock: sock, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.conns[auctionID] == nil {
		h.conns[auctionID] = make(map[*wsConn]bool)
	}
	h.conns[auctionID][c] = true
	if view, ok := h.latest[auctionID]; ok {
		c.send <- view.data
	}
	h.mu.Unlock()

	h.logger.Info("observer joined", slog.String("auction_id", auctionID))

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

// Observers reports how many connections follow the auction.
func (h *Hub) Observers(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[auctionID])
}

// HasView reports whether a view for the auction is cached for joiners.
func (h *Hub) HasView(auctionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.latest[auctionID]
	return ok
}

func (h *Hub) drop(c *wsConn) {
	h.mu.Lock()
	if conns, ok := h.conns[c.auctionID]; ok && conns[c] {
		delete(conns, c)
		close(c.send)
		if len(conns) == 0 {
			delete(h.conns, c.auctionID)
			if view, ok := h.latest[c.auctionID]; ok && view.terminal {
				delete(h.latest, c.auctionID)
			}
		}
	}
	h.mu.Unlock()
	_ = c.sock.Close()
}

func (h *Hub) writePump(c *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *wsConn) {
	defer h.drop(c)

	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongTimeout))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	// Observers are read-only; inbound frames only refresh the deadline.
	for {
		if _, _, err := c.sock.ReadMessage(); err != nil {
			return
		}
		_ = c.sock.SetReadDeadline(time.Now().Add(pongTimeout))
	}
}
