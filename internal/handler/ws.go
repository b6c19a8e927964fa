package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// tradeMessage is one frame of the trade feed.
type tradeMessage struct {
	Type string        `json:"type"`
	Data tradeResponse `json:"data"`
}

type outbound struct {
	symbol  string
	payload []byte
}

// Hub fans executed trades out to websocket clients. Clients may restrict
// the feed to one symbol with the symbol query parameter. The client set
// is owned by the Run goroutine.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan outbound
	register   chan *wsClient
	unregister chan *wsClient
	stopped    chan struct{}
	connected  atomic.Int64

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHub creates a Hub. Run must be called for it to deliver anything.
func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan outbound, wsSendBuffer),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stopped:    make(chan struct{}),
		logger:     logger.Named("ws"),
		metrics:    m,
	}
}

// Run delivers messages until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.connected.Add(1)
			h.metrics.WSClients(1)
			h.logger.Debug("client connected", zap.String("client_id", c.id), zap.String("symbol", c.symbol))

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.symbol != "" && c.symbol != msg.symbol {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// Slow consumer.
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	h.connected.Add(-1)
	h.metrics.WSClients(-1)
	h.logger.Debug("client disconnected", zap.String("client_id", c.id))
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int { return int(h.connected.Load()) }

// PublishTrades queues trades for delivery. It never blocks; trades are
// dropped when the queue is full.
func (h *Hub) PublishTrades(trades []*domain.Trade) {
	for _, t := range trades {
		payload, err := json.Marshal(tradeMessage{Type: "trade", Data: buildTradeResponse(t)})
		if err != nil {
			h.logger.Error("marshal trade", zap.Error(err))
			continue
		}
		select {
		case h.broadcast <- outbound{symbol: t.Symbol, payload: payload}:
		default:
			h.logger.Warn("trade feed queue full, dropping trade", zap.String("trade_id", t.TradeID))
		}
	}
}

// ServeHTTP handles GET /ws/trades.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		id:     uuid.New().String(),
		symbol: r.URL.Query().Get("symbol"),
	}
	select {
	case h.register <- c:
	case <-h.stopped:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	symbol string
}

// readPump discards inbound frames and keeps the read deadline alive on
// pongs. It unregisters the client when the connection ends.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
