package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"project-chat-service/internal/models"
	"project-chat-service/internal/repositories"
	"project-chat-service/internal/room"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4096

	authzTimeout = 5 * time.Second
)

// Session binds one authenticated identity to one websocket connection
// and at most one room membership. It translates wire frames to room
// operations and implements room.EventSink for the fan-out path.
type Session struct {
	conn     *websocket.Conn
	identity models.Identity
	registry *room.Registry
	projects repositories.ProjectRepository
	info     ConnInfo

	out       chan models.ServerEvent
	closed    chan struct{}
	closeOnce sync.Once

	// room is owned by the read loop goroutine.
	room *room.Room
}

func newSession(conn *websocket.Conn, identity models.Identity, registry *room.Registry, projects repositories.ProjectRepository, bufferSize int, info ConnInfo) *Session {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Session{
		conn:     conn,
		identity: identity,
		registry: registry,
		projects: projects,
		info:     info,
		out:      make(chan models.ServerEvent, bufferSize),
		closed:   make(chan struct{}),
	}
}

// TrySend enqueues an event for delivery without blocking. False means
// the outbound buffer is full or the session is closed; the room treats
// either as a disconnect.
func (s *Session) TrySend(evt models.ServerEvent) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.out <- evt:
		return true
	default:
		return false
	}
}

// Close tears down the connection. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case evt := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(evt); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// readLoop consumes client frames until the transport drops. The
// deferred leave guarantees presence never shows a stale member after
// an abrupt close.
func (s *Session) readLoop() (closeReason string) {
	defer func() {
		if s.room != nil {
			s.room.Leave(s)
			s.room = nil
		}
		s.Close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err.Error()
		}
		var frame models.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.ackErr("", models.ErrCodeInvalidFrame)
			continue
		}
		s.handleFrame(frame)
	}
}

func (s *Session) handleFrame(frame models.ClientFrame) {
	switch frame.Op {
	case models.OpJoin:
		s.handleJoin(frame.ProjectID)
	case models.OpLeave:
		s.handleLeave()
	case models.OpSend:
		s.handleSend(frame.Body)
	case models.OpTyping:
		s.handleTyping(true)
	case models.OpStopTyping:
		s.handleTyping(false)
	default:
		s.ackErr(frame.Op, models.ErrCodeInvalidFrame)
	}
}

func (s *Session) handleJoin(projectID string) {
	if projectID == "" {
		s.ackErr(models.OpJoin, models.ErrCodeInvalidFrame)
		return
	}

	// Rejoining the current room is idempotent re-entry; reconnecting
	// clients rely on it. Resolving through the registry covers the case
	// where the room shut down after the session was detached.
	if s.room != nil && s.room.ProjectID() == projectID {
		joined, members := s.registry.Join(projectID, s.identity, s)
		s.room = joined
		s.ack(models.OpJoin, func(evt *models.ServerEvent) { evt.Members = members })
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), authzTimeout)
	defer cancel()
	member, err := s.projects.IsMember(ctx, projectID, s.identity.UserID)
	if err != nil || !member {
		s.ackErr(models.OpJoin, models.ErrCodeAuthorization)
		return
	}

	if s.room != nil {
		s.room.Leave(s)
		s.room = nil
	}

	joined, members := s.registry.Join(projectID, s.identity, s)
	s.room = joined
	s.ack(models.OpJoin, func(evt *models.ServerEvent) { evt.Members = members })
}

func (s *Session) handleLeave() {
	if s.room != nil {
		s.room.Leave(s)
		s.room = nil
	}
	// Leaving while not in a room is a no-op, not an error.
	s.ack(models.OpLeave, nil)
}

func (s *Session) handleSend(body string) {
	if s.room == nil {
		s.ackErr(models.OpSend, models.ErrCodeNotInRoom)
		return
	}
	res := s.room.Send(s, body)
	if res.Err != nil {
		s.ackErr(models.OpSend, sendErrorCode(res.Err))
		return
	}
	s.ack(models.OpSend, func(evt *models.ServerEvent) {
		evt.MessageID = res.Message.ID
		evt.Seq = res.Message.Seq
	})
}

func (s *Session) handleTyping(isTyping bool) {
	op := models.OpTyping
	if !isTyping {
		op = models.OpStopTyping
	}
	if s.room == nil {
		s.ackErr(op, models.ErrCodeNotInRoom)
		return
	}
	s.room.SetTyping(s, isTyping)
	s.ack(op, nil)
}

func (s *Session) ack(op string, mutate func(*models.ServerEvent)) {
	evt := models.ServerEvent{
		Type:      models.EventAck,
		Op:        op,
		Success:   true,
		Timestamp: time.Now().UTC(),
	}
	if mutate != nil {
		mutate(&evt)
	}
	s.TrySend(evt)
}

func (s *Session) ackErr(op, code string) {
	s.TrySend(models.ServerEvent{
		Type:      models.EventAck,
		Op:        op,
		Error:     code,
		Timestamp: time.Now().UTC(),
	})
}

func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrEmptyMessage):
		return models.ErrCodeEmptyMessage
	case errors.Is(err, room.ErrMessageTooLong):
		return models.ErrCodeMessageTooLong
	case errors.Is(err, room.ErrNotInRoom):
		return models.ErrCodeNotInRoom
	default:
		return models.ErrCodePersistenceFailure
	}
}
