package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CrowderSoup/crm-board/pushchannel"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024 * 1024 // 1MB

	// SendBuffer is the per-client outbound queue length
	SendBuffer = 256

	relayTimeout = 5 * time.Second
)

// Client represents a connected WebSocket client watching one board
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string
	Board  string
}

// NewClient creates a client for conn. Call Hub.Register, then start both pumps.
func NewClient(hub *Hub, conn *websocket.Conn, userID, board string) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, SendBuffer),
		UserID: userID,
		Board:  board,
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("user", c.UserID).Msg("websocket error")
			}
			break
		}

		var msg pushchannel.Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Str("user", c.UserID).Msg("dropping malformed websocket message")
			continue
		}

		// the server is the authority on who sent what, and where
		msg.User = c.UserID
		msg.Board = c.Board

		if msg.Type == pushchannel.Ping {
			pong, err := json.Marshal(pushchannel.Message{
				Type: pushchannel.Pong,
				Data: json.RawMessage(fmt.Sprintf(`{"timestamp":%q}`, time.Now().Format(time.RFC3339))),
			})
			if err == nil {
				c.Hub.sendTo(c, pong)
			}
			continue
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal websocket message")
			continue
		}

		log.Debug().Str("user", c.UserID).Str("board", c.Board).Str("event", msg.Type).Msg("received push event")
		c.Hub.publish(c.Board, c, payload)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publisher forwards board events to other server instances.
type Publisher interface {
	Publish(ctx context.Context, board string, payload []byte) error
}

type outbound struct {
	board   string
	sender  *Client
	target  *Client
	payload []byte
}

type countRequest struct {
	board string
	reply chan int
}

// Hub maintains the set of active clients per board and broadcasts messages
// to the clients of a board
type Hub struct {
	boards     map[string]map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	count      chan countRequest
	quit       chan struct{}
	done       chan struct{}
	relay      Publisher
}

// NewHub creates a new hub instance. relay may be nil for a single server.
func NewHub(relay Publisher) *Hub {
	return &Hub{
		boards:     make(map[string]map[*Client]bool),
		broadcast:  make(chan outbound),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan countRequest),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		relay:      relay,
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends an event to every client of board and to the other servers.
func (h *Hub) Broadcast(board, eventType string, data any, user string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	payload, err := json.Marshal(pushchannel.Message{Type: eventType, Data: raw, User: user, Board: board})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", eventType, err)
	}

	h.publish(board, nil, payload)
	return nil
}

// Deliver hands a message relayed from another server to the local clients
// of board. It is not relayed again.
func (h *Hub) Deliver(board string, payload []byte) {
	h.enqueue(outbound{board: board, payload: payload})
}

// ClientCount returns how many clients watch board.
func (h *Hub) ClientCount(board string) int {
	req := countRequest{board: board, reply: make(chan int, 1)}
	select {
	case h.count <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}

// Stop disconnects every client and ends Run.
func (h *Hub) Stop() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
	<-h.done
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			if h.boards[client.Board] == nil {
				h.boards[client.Board] = make(map[*Client]bool)
			}
			h.boards[client.Board][client] = true
			log.Info().Str("user", client.UserID).Str("board", client.Board).Msg("client connected")
		case client := <-h.unregister:
			if h.boards[client.Board][client] {
				h.remove(client)
				log.Info().Str("user", client.UserID).Str("board", client.Board).Msg("client disconnected")
			}
		case req := <-h.count:
			req.reply <- len(h.boards[req.board])
		case out := <-h.broadcast:
			h.fanout(out)
		case <-h.quit:
			for _, clients := range h.boards {
				for client := range clients {
					close(client.Send)
				}
			}
			h.boards = make(map[string]map[*Client]bool)
			return
		}
	}
}

// publish delivers payload locally, skipping sender, and relays it.
func (h *Hub) publish(board string, sender *Client, payload []byte) {
	h.enqueue(outbound{board: board, sender: sender, payload: payload})
	h.forward(board, payload)
}

func (h *Hub) sendTo(client *Client, payload []byte) {
	h.enqueue(outbound{board: client.Board, target: client, payload: payload})
}

func (h *Hub) enqueue(out outbound) {
	select {
	case h.broadcast <- out:
	case <-h.done:
	}
}

func (h *Hub) forward(board string, payload []byte) {
	if h.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := h.relay.Publish(ctx, board, payload); err != nil {
		log.Warn().Err(err).Str("board", board).Msg("failed to relay board event")
	}
}

func (h *Hub) fanout(out outbound) {
	clients := h.boards[out.board]
	if out.target != nil {
		if clients[out.target] {
			h.deliver(out.target, out.payload)
		}
		return
	}

	for client := range clients {
		// skip the sender to avoid echo
		if client == out.sender {
			continue
		}
		h.deliver(client, out.payload)
	}
}

func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		// Client's send buffer is full, assume disconnected
		log.Warn().Str("user", client.UserID).Str("board", client.Board).Msg("client send buffer full, removing client")
		h.remove(client)
	}
}

// remove drops client and, when it was the user's last connection to the
// board, tells the board the user left.
func (h *Hub) remove(client *Client) {
	clients := h.boards[client.Board]
	delete(clients, client)
	close(client.Send)

	for other := range clients {
		if other.UserID == client.UserID {
			return
		}
	}
	if len(clients) == 0 {
		delete(h.boards, client.Board)
	}
	if client.UserID == "" {
		return
	}

	data, _ := json.Marshal(pushchannel.UserLeftPayload{User: client.UserID})
	payload, err := json.Marshal(pushchannel.Message{Type: pushchannel.UserLeft, Data: data, User: client.UserID, Board: client.Board})
	if err != nil {
		return
	}
	for other := range clients {
		h.deliver(other, payload)
	}
	go h.forward(client.Board, payload)
}
