package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/storage"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

type WSMessageType string

const (
	WSMessageOrder WSMessageType = "order"
	WSMessagePrice WSMessageType = "price"
)

// WSMessage is the frame pushed to websocket subscribers.
type WSMessage struct {
	Type  WSMessageType       `json:"type"`
	Order *models.OrderEvent  `json:"order,omitempty"`
	Price *models.PriceUpdate `json:"price,omitempty"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	pair string // FROM/TO, empty for every pair
}

// Hub pushes order and price events to websocket subscribers.
// A subscriber that falls wsSendBuffer frames behind is dropped.
type Hub struct {
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

var _ storage.EventPublisher = (*Hub)(nil)

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		clients:  make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:   logger,
	}
}

func (h *Hub) PublishOrderEvent(_ context.Context, ev *models.OrderEvent) error {
	msg, err := json.Marshal(WSMessage{Type: WSMessageOrder, Order: ev})
	if err != nil {
		return err
	}
	h.broadcast(msg, ev.Order.Pair())
	return nil
}

func (h *Hub) PublishPriceUpdate(_ context.Context, u *models.PriceUpdate) error {
	msg, err := json.Marshal(WSMessage{Type: WSMessagePrice, Price: u})
	if err != nil {
		return err
	}
	h.broadcast(msg, "")
	return nil
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the peer goes away.
// An optional ?pair=FROM/TO narrows order events to one direction.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.WithError(err).Debug("websocket upgrade failed")
		return nil
	}

	cl := &hubClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		pair: c.QueryParam("pair"),
	}
	h.register(cl)
	go h.writePump(cl)
	h.readPump(cl)
	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		close(cl.send)
		delete(h.clients, cl)
	}
}

func (h *Hub) broadcast(msg []byte, pair string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for cl := range h.clients {
		if pair != "" && cl.pair != "" && cl.pair != pair {
			continue
		}
		select {
		case cl.send <- msg:
		default:
			h.logger.Warn("websocket subscriber too slow, dropping")
			close(cl.send)
			delete(h.clients, cl)
		}
	}
}

func (h *Hub) register(cl *hubClient) {
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.logger.WithField("pair", cl.pair).Debug("websocket subscriber connected")
}

func (h *Hub) unregister(cl *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		close(cl.send)
		delete(h.clients, cl)
	}
	h.mu.Unlock()
}

// readPump only services control frames; subscribers never send data.
func (h *Hub) readPump(cl *hubClient) {
	defer h.unregister(cl)

	_ = cl.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *hubClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
