package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/events"
)

const (
	streamQueueSize  = 64
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// streamedEvents are forwarded to websocket clients.
var streamedEvents = []events.EventType{
	events.EventSessionOpened,
	events.EventSessionClosed,
	events.EventDamageDealt,
	events.EventEffectStarted,
	events.EventEffectEnded,
	events.EventLongTick,
	events.EventUnknownZone,
}

type streamMessage struct {
	Type      events.EventType `json:"type"`
	Source    string           `json:"source"`
	Payload   any              `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

type streamClient struct {
	send chan []byte
}

// streamHub fans bus events out to connected websocket clients. A client
// whose queue is full misses the event.
type streamHub struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

func newStreamHub() *streamHub {
	return &streamHub{clients: make(map[*streamClient]struct{})}
}

const streamHandlerName = "api.stream"

func (h *streamHub) subscribe(bus *events.EventBus) {
	bus.SubscribeAll(streamedEvents, streamHandlerName, h.handle)
}

func (h *streamHub) unsubscribe(bus *events.EventBus) {
	for _, t := range streamedEvents {
		bus.Unsubscribe(t, streamHandlerName)
	}
}

func (h *streamHub) handle(_ context.Context, event events.Event) error {
	data, err := json.Marshal(streamMessage{
		Type:      event.Type,
		Source:    event.Source,
		Payload:   event.Payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
	return nil
}

func (h *streamHub) add() (*streamClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &streamClient{send: make(chan []byte, streamQueueSize)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *streamHub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *streamHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStream upgrades to a websocket and streams bus events as JSON text
// messages until the client goes away.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("stream upgrade failed")
		return
	}

	client, ok := s.stream.add()
	if !ok {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("stream client connected")

	go streamReadLoop(conn, func() { s.stream.remove(client) })
	streamWriteLoop(conn, client)
}

// streamReadLoop discards client messages; it only notices the close.
func streamReadLoop(conn *websocket.Conn, done func()) {
	defer done()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func streamWriteLoop(conn *websocket.Conn, client *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
