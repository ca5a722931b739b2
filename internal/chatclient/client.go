// Package chatclient is a Go client for the project chat websocket
// protocol. It hides transport instability from the caller: the
// connection is re-established with a bounded retry budget and the room
// is re-joined automatically, while sends fail fast during an outage.
package chatclient

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"project-chat-service/internal/models"
)

var (
	ErrDisconnected = errors.New("chatclient: disconnected")
	ErrClosed       = errors.New("chatclient: closed")
)

// Config tunes the client.
type Config struct {
	URL        string
	Token      string
	RetryDelay time.Duration
	MaxRetries int
	AckTimeout time.Duration
	Dialer     *websocket.Dialer
}

func (c Config) withDefaults() Config {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}

// Handlers receive broadcast events. Callbacks run on the client's read
// goroutine and must not block.
type Handlers struct {
	OnMessage  func(msg models.Message)
	OnPresence func(userID, userName, kind string)
	OnTyping   func(userID, userName string, isTyping bool)
	// OnDisconnected fires once the retry budget is exhausted; the
	// client stays disconnected until Connect is called again.
	OnDisconnected func(err error)
}

// Client maintains at most one logical connection to one project room.
type Client struct {
	cfg Config
	h   Handlers

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	closed       bool
	reconnecting bool
	projectID    string
	pending      []chan models.ServerEvent
}

// New constructs a Client.
func New(cfg Config, handlers Handlers) *Client {
	return &Client{cfg: cfg.withDefaults(), h: handlers}
}

// Connect dials the server and joins the given project room.
func (c *Client) Connect(projectID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.projectID = projectID
	c.mu.Unlock()
	return c.dialAndJoin()
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send delivers a message and returns its server-assigned id and
// sequence number. While disconnected it fails fast rather than
// queueing; the caller decides whether to retry.
func (c *Client) Send(body string) (string, int64, error) {
	ack, err := c.request(models.ClientFrame{Op: models.OpSend, Body: body})
	if err != nil {
		return "", 0, err
	}
	if ack.Error != "" {
		return "", 0, fmt.Errorf("send rejected: %s", ack.Error)
	}
	return ack.MessageID, ack.Seq, nil
}

// Typing signals the user is typing. Suppressed while disconnected:
// typing state is lossy and is never queued for replay.
func (c *Client) Typing() error {
	return c.sendTyping(models.OpTyping)
}

// StopTyping signals the user stopped typing.
func (c *Client) StopTyping() error {
	return c.sendTyping(models.OpStopTyping)
}

// Leave exits the current room. Future reconnects will not re-join.
func (c *Client) Leave() error {
	c.mu.Lock()
	c.projectID = ""
	c.mu.Unlock()

	_, err := c.request(models.ClientFrame{Op: models.OpLeave})
	if errors.Is(err, ErrDisconnected) {
		return nil
	}
	return err
}

// Close tears the client down permanently.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) sendTyping(op string) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	ack, err := c.request(models.ClientFrame{Op: op})
	if err != nil {
		if errors.Is(err, ErrDisconnected) {
			return nil
		}
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("%s rejected: %s", op, ack.Error)
	}
	return nil
}

func (c *Client) dialAndJoin() error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	conn, resp, err := c.cfg.Dialer.Dial(c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.connected = true
	c.pending = nil
	projectID := c.projectID
	c.mu.Unlock()

	go c.readLoop(conn)

	if projectID == "" {
		return nil
	}

	ack, err := c.request(models.ClientFrame{Op: models.OpJoin, ProjectID: projectID})
	if err != nil {
		c.dropConn(conn)
		return err
	}
	if ack.Error != "" {
		c.dropConn(conn)
		return fmt.Errorf("join rejected: %s", ack.Error)
	}
	return nil
}

// dropConn tears a connection down and clears the client state first if
// the connection is still current. The read loop's drop handler then
// sees a stale conn and does not start a second reconnect loop.
func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	var pending []chan models.ServerEvent
	if c.conn == conn {
		c.conn = nil
		c.connected = false
		pending = c.pending
		c.pending = nil
	}
	c.mu.Unlock()

	conn.Close()
	for _, ch := range pending {
		close(ch)
	}
}

// request writes a frame and waits for its ack. Acks arrive in frame
// order per connection, so waiters form a FIFO.
func (c *Client) request(frame models.ClientFrame) (models.ServerEvent, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return models.ServerEvent{}, ErrDisconnected
	}
	conn := c.conn
	ackCh := make(chan models.ServerEvent, 1)
	c.pending = append(c.pending, ackCh)
	err := conn.WriteJSON(frame)
	if err != nil {
		c.pending = c.pending[:len(c.pending)-1]
		c.mu.Unlock()
		return models.ServerEvent{}, fmt.Errorf("write %s: %w", frame.Op, err)
	}
	c.mu.Unlock()

	select {
	case ack, ok := <-ackCh:
		if !ok {
			return models.ServerEvent{}, ErrDisconnected
		}
		return ack, nil
	case <-time.After(c.cfg.AckTimeout):
		return models.ServerEvent{}, fmt.Errorf("ack timeout for %s", frame.Op)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var evt models.ServerEvent
		if err := conn.ReadJSON(&evt); err != nil {
			c.handleDrop(conn, err)
			return
		}

		switch evt.Type {
		case models.EventAck:
			c.deliverAck(evt)
		case models.EventMessage:
			if c.h.OnMessage != nil && evt.Message != nil {
				c.h.OnMessage(*evt.Message)
			}
		case models.EventPresence:
			if c.h.OnPresence != nil {
				c.h.OnPresence(evt.UserID, evt.UserName, evt.Presence)
			}
		case models.EventTyping:
			if c.h.OnTyping != nil {
				c.h.OnTyping(evt.UserID, evt.UserName, evt.IsTyping)
			}
		}
	}
}

func (c *Client) deliverAck(evt models.ServerEvent) {
	c.mu.Lock()
	var ackCh chan models.ServerEvent
	if len(c.pending) > 0 {
		ackCh = c.pending[0]
		c.pending = c.pending[1:]
	}
	c.mu.Unlock()
	if ackCh != nil {
		ackCh <- evt
	}
}

func (c *Client) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	pending := c.pending
	c.pending = nil

	// Single-flight: a drop observed while a reconnect loop is already
	// running belongs to that loop's own failed attempt.
	spawn := !c.closed && !c.reconnecting
	if spawn {
		c.reconnecting = true
	}
	c.mu.Unlock()

	conn.Close()
	for _, ch := range pending {
		close(ch)
	}
	if spawn {
		go c.reconnect(cause)
	}
}

// reconnect retries with a fixed delay up to the configured budget,
// re-joining the current room on success. Local state accumulated by
// the caller is untouched; missed broadcasts are the history store's
// problem, not the transport's.
func (c *Client) reconnect(cause error) {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		time.Sleep(c.cfg.RetryDelay)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.dialAndJoin(); err != nil {
			cause = err
			log.Printf("chatclient: reconnect attempt %d/%d failed: %v", attempt, c.cfg.MaxRetries, err)
			continue
		}
		return
	}

	if c.h.OnDisconnected != nil {
		c.h.OnDisconnected(cause)
	}
}
