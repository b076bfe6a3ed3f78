package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/decred/slog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rugmania-backend/internal/models"
)

const (
	MessageSettlement = "SETTLEMENT"
	MessagePing       = "PING"
	MessagePong       = "PONG"

	writeWait      = 10 * time.Second
	clientSendSize = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

type directMessage struct {
	client *feedClient
	data   []byte
}

// FeedHub fans recorded settlements out to every connected websocket. All
// client bookkeeping happens on the Run goroutine.
type FeedHub struct {
	clients    map[*feedClient]struct{}
	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan []byte
	direct     chan directMessage
	done       chan struct{}
	log        slog.Logger
}

func NewFeedHub(log slog.Logger) *FeedHub {
	if log == nil {
		log = slog.Disabled
	}
	return &FeedHub{
		clients:    make(map[*feedClient]struct{}),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan []byte, 100),
		direct:     make(chan directMessage),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (hub *FeedHub) Run(ctx context.Context) error {
	defer func() {
		close(hub.done)
		for client := range hub.clients {
			delete(hub.clients, client)
			close(client.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-hub.register:
			hub.clients[client] = struct{}{}
			hub.log.Debugf("Feed client registered (%d connected)", len(hub.clients))

		case client := <-hub.unregister:
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				close(client.send)
				hub.log.Debugf("Feed client unregistered (%d connected)", len(hub.clients))
			}

		case msg := <-hub.direct:
			if _, ok := hub.clients[msg.client]; ok {
				hub.deliver(msg.client, msg.data)
			}

		case data := <-hub.broadcast:
			for client := range hub.clients {
				hub.deliver(client, data)
			}
		}
	}
}

// deliver drops a client whose buffer is full instead of stalling the feed.
func (hub *FeedHub) deliver(client *feedClient, data []byte) {
	select {
	case client.send <- data:
	default:
		delete(hub.clients, client)
		close(client.send)
	}
}

// BroadcastSettlement queues a SETTLEMENT message. It never blocks; when the
// queue is full the message is dropped.
func (hub *FeedHub) BroadcastSettlement(settlement *models.Settlement) {
	data, err := json.Marshal(Message{Type: MessageSettlement, Data: settlement})
	if err != nil {
		hub.log.Errorf("Failed to encode settlement: %v", err)
		return
	}

	select {
	case hub.broadcast <- data:
	default:
		hub.log.Warnf("Feed queue full, dropped settlement %s", settlement.TxRef)
	}
}

type FeedHandler struct {
	hub *FeedHub
	log slog.Logger
}

func NewFeedHandler(hub *FeedHub, log slog.Logger) *FeedHandler {
	if log == nil {
		log = slog.Disabled
	}
	return &FeedHandler{hub: hub, log: log}
}

func (h *FeedHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debugf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	client := &feedClient{conn: conn, send: make(chan []byte, clientSendSize)}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go h.writePump(client)

	defer func() {
		select {
		case h.hub.unregister <- client:
		case <-h.hub.done:
		}
	}()

	for {
		var msg Message
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debugf("WebSocket error: %v", err)
			}
			return
		}

		if msg.Type == MessagePing {
			h.sendPong(client)
		}
	}
}

func (h *FeedHandler) sendPong(client *feedClient) {
	data, _ := json.Marshal(Message{
		Type: MessagePong,
		Data: gin.H{"timestamp": time.Now().Unix()},
	})

	select {
	case h.hub.direct <- directMessage{client: client, data: data}:
	case <-h.hub.done:
	}
}

// writePump owns every write to conn and closes it when send is closed.
func (h *FeedHandler) writePump(client *feedClient) {
	defer client.conn.Close()

	for data := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
