// Package ws pushes chart updates to browser clients over websockets.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"BollingerChart/internal/domain/models"
	"BollingerChart/internal/services/render"
	"BollingerChart/internal/usecase"
	xlogger "BollingerChart/pkg/logger"
)

const (
	TypeSnapshot = "snapshot"
	TypeBands    = "bands"
	TypeStyles   = "styles"
)

// Message is the frame sent to clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StylesUpdate carries a restyle without any band data.
type StylesUpdate struct {
	Params  models.StyleParameters `json:"params"`
	Figures []render.Figure        `json:"figures"`
	Styles  render.Styles          `json:"styles"`
}

// SubscriberGauge is told the number of connected clients.
type SubscriberGauge interface {
	SetSubscribers(n int)
}

type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	AllowOrigins []string
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	chart    *usecase.ChartUseCase
	gauge    SubscriberGauge
	l        *xlogger.Logger
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub subscribes to chart changes and fans them out to every client.
func NewHub(chart *usecase.ChartUseCase, gauge SubscriberGauge, l *xlogger.Logger, cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	h := &Hub{
		chart:   chart,
		gauge:   gauge,
		l:       l,
		cfg:     cfg,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	chart.OnRecompute(func(ev usecase.RecomputeEvent) {
		h.Broadcast(Message{Type: TypeBands, Data: ev})
	})
	chart.OnRestyle(func(s models.StyleParameters) {
		figures, styles := render.Layout(s)
		h.Broadcast(Message{Type: TypeStyles, Data: StylesUpdate{Params: s, Figures: figures, Styles: styles}})
	})
	return h
}

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Serve)
}

// Serve upgrades the connection, sends the current indicator and then keeps
// the client registered until it disconnects.
func (h *Hub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.l.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}

	cl := &client{conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}
	ok, err := h.register(cl)
	if err != nil || !ok {
		_ = conn.Close()
		return err
	}

	go h.writePump(cl)
	h.readPump(cl)
	return nil
}

// Broadcast queues m for every client. Clients whose buffer is full are dropped.
func (h *Hub) Broadcast(m Message) {
	b, err := json.Marshal(m)
	if err != nil {
		h.l.Error("websocket marshal failed", xlogger.String("type", m.Type), xlogger.Error(err))
		return
	}

	h.mu.Lock()
	var slow []*client
	for cl := range h.clients {
		select {
		case cl.send <- b:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.Unlock()

	for _, cl := range slow {
		h.l.Warn("dropping slow websocket client", xlogger.String("remote", cl.conn.RemoteAddr().String()))
		h.unregister(cl)
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	for _, cl := range clients {
		h.unregister(cl)
	}
	return nil
}

// register adds cl and queues its snapshot while holding h.mu, so every
// broadcast after the snapshot was taken also reaches cl, after the snapshot.
func (h *Hub) register(cl *client) (bool, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false, nil
	}
	snapshot, err := json.Marshal(Message{Type: TypeSnapshot, Data: h.chart.Indicator()})
	if err != nil {
		h.mu.Unlock()
		return false, err
	}
	cl.send <- snapshot
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.setGauge(n)
	h.l.Debug("websocket client connected", xlogger.Int("subscribers", n))
	return true, nil
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, cl)
	close(cl.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.setGauge(n)
	h.l.Debug("websocket client disconnected", xlogger.Int("subscribers", n))
}

func (h *Hub) setGauge(n int) {
	if h.gauge != nil {
		h.gauge.SetSubscribers(n)
	}
}

// readPump discards client frames and keeps the read deadline moving on pongs.
func (h *Hub) readPump(cl *client) {
	defer func() {
		h.unregister(cl)
		_ = cl.conn.Close()
	}()

	pongWait := 2 * h.cfg.PingInterval
	cl.conn.SetReadLimit(4096)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case b, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
