package pushchannel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

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

	sendBuffer = 256
)

// ErrClosed is returned by Emit after the channel is closed.
var ErrClosed = errors.New("push channel closed")

// Message is the envelope of every push-channel frame.
type Message struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	User  string          `json:"user,omitempty"`
	Board string          `json:"board,omitempty"`
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: %w", m.Type, err)
	}
	return nil
}

// HandlerFunc handles one inbound event.
type HandlerFunc func(msg Message)

// Handlers maps event names to handlers.
type Handlers map[string]HandlerFunc

// Channel is a duplex connection to the board hub. Handlers are registered as
// a table and removed together, so a view can tear down exactly what it added.
type Channel struct {
	conn  *websocket.Conn
	board string

	send      chan []byte
	flush     chan chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	handlers map[string]map[uint64]HandlerFunc
	nextID   uint64
}

// WebSocketURL derives the push-channel endpoint from the API base URL.
func WebSocketURL(apiBase string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("invalid api url %q: %w", apiBase, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws"
	return u.String(), nil
}

// Dial connects to the hub at wsURL for boardID.
func Dial(ctx context.Context, wsURL, token, boardID string) (*Channel, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid push channel url %q: %w", wsURL, err)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("board", boardID)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial push channel (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial push channel: %w", err)
	}

	return New(conn, boardID), nil
}

// New wraps an established websocket connection.
func New(conn *websocket.Conn, boardID string) *Channel {
	return &Channel{
		conn:     conn,
		board:    boardID,
		send:     make(chan []byte, sendBuffer),
		flush:    make(chan chan struct{}),
		done:     make(chan struct{}),
		handlers: make(map[string]map[uint64]HandlerFunc),
	}
}

// Board returns the board the channel was opened for.
func (c *Channel) Board() string {
	return c.board
}

// Subscribe registers every handler in h. The returned func removes exactly
// those handlers and is safe to call more than once.
func (c *Channel) Subscribe(h Handlers) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	type reg struct {
		event string
		id    uint64
	}
	regs := make([]reg, 0, len(h))
	for event, fn := range h {
		if fn == nil {
			continue
		}
		c.nextID++
		if c.handlers[event] == nil {
			c.handlers[event] = make(map[uint64]HandlerFunc)
		}
		c.handlers[event][c.nextID] = fn
		regs = append(regs, reg{event: event, id: c.nextID})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for _, r := range regs {
				delete(c.handlers[r.event], r.id)
				if len(c.handlers[r.event]) == 0 {
					delete(c.handlers, r.event)
				}
			}
		})
	}
}

// HandlerCount returns how many handlers are registered. Used by tests.
func (c *Channel) HandlerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

// Emit queues an event for the hub.
func (c *Channel) Emit(ctx context.Context, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	raw, err := json.Marshal(Message{Type: eventType, Data: data, Board: c.board})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", eventType, err)
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- raw:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every event queued before the call has been written.
func (c *Channel) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case c.flush <- ack:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run pumps messages until ctx is cancelled, the peer goes away or Close is
// called. Inbound events are dispatched on the calling goroutine.
func (c *Channel) Run(ctx context.Context) error {
	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	return c.readPump()
}

// Close shuts the connection down.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) readPump() error {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("push channel read: %w", err)
		}

		// the hub may batch several queued messages into one frame
		for _, line := range bytes.Split(frame, []byte("\n")) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			c.Dispatch(line)
		}
	}
}

// Dispatch decodes one raw message and runs its handlers. Malformed messages
// and handler panics are logged and dropped.
func (c *Channel) Dispatch(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().Err(err).Msg("dropping malformed push message")
		return
	}

	c.mu.RLock()
	fns := make([]HandlerFunc, 0, len(c.handlers[msg.Type]))
	for _, fn := range c.handlers[msg.Type] {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		c.call(fn, msg)
	}
}

func (c *Channel) call(fn HandlerFunc, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", msg.Type).Msg("push handler panicked")
		}
	}()
	fn(msg)
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}
		case ack := <-c.flush:
			for pending := true; pending; {
				select {
				case message := <-c.send:
					if !c.write(websocket.TextMessage, message) {
						return
					}
				default:
					pending = false
				}
			}
			close(ack)
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Channel) write(messageType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		log.Debug().Err(err).Msg("push channel write failed")
		c.Close()
		return false
	}
	return true
}
