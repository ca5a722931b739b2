package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"project-chat-service/internal/models"
	"project-chat-service/internal/observability"
	"project-chat-service/internal/repositories"
)

var (
	ErrNotInRoom      = errors.New("not in room")
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")
)

const persistTimeout = 5 * time.Second

// EventSink is the delivery target for one room member, typically the
// outbound buffer of a websocket session.
type EventSink interface {
	// TrySend enqueues an event without blocking. A false return means
	// the sink is saturated; the room treats the member as disconnected.
	TrySend(evt models.ServerEvent) bool
	// Close tears down the member's transport.
	Close()
}

// JoinResult is the outcome of a Join call.
type JoinResult struct {
	// Members is the presence snapshot at the moment of admission,
	// including the joiner.
	Members []models.Identity
	closed  bool
}

// SendResult is the outcome of a Send call.
type SendResult struct {
	Message models.Message
	Err     error
}

type command interface{}

type joinCmd struct {
	identity models.Identity
	sink     EventSink
	reply    chan JoinResult
}

type leaveCmd struct {
	sink  EventSink
	reply chan struct{}
}

type sendCmd struct {
	sink  EventSink
	body  string
	reply chan SendResult
}

type typingCmd struct {
	sink     EventSink
	isTyping bool
}

type typingExpiredCmd struct {
	userID string
	gen    uint64
}

// Room serializes all state changes for one project's chat through a
// single worker goroutine. Every member observes joins, leaves and
// messages in the order the worker dequeues them.
type Room struct {
	projectID string
	registry  *Registry
	messages  repositories.MessageRepository
	opts      Options

	cmds chan command
	done chan struct{}

	// State below is owned by the run goroutine.
	members    map[EventSink]models.Identity
	connCount  map[string]int
	typing     *typingTracker
	seq        int64
	seqLoaded  bool
	everJoined bool
}

func newRoom(projectID string, registry *Registry) *Room {
	r := &Room{
		projectID: projectID,
		registry:  registry,
		messages:  registry.messages,
		opts:      registry.opts,
		cmds:      make(chan command, registry.opts.QueueSize),
		done:      make(chan struct{}),
		members:   make(map[EventSink]models.Identity),
		connCount: make(map[string]int),
	}
	r.typing = newTypingTracker(r.opts.TypingTTL, func(userID string, gen uint64) {
		r.enqueue(typingExpiredCmd{userID: userID, gen: gen})
	})
	return r
}

// ProjectID returns the project this room belongs to.
func (r *Room) ProjectID() string {
	return r.projectID
}

// Join adds a connection to the room and announces it to the other
// members. A second connection for an already-present identity coexists
// with the first; presence events fire only on the identity's first
// connection and last departure.
func (r *Room) Join(identity models.Identity, sink EventSink) JoinResult {
	reply := make(chan JoinResult, 1)
	if !r.enqueue(joinCmd{identity: identity, sink: sink, reply: reply}) {
		return JoinResult{closed: true}
	}
	select {
	case res := <-reply:
		return res
	case <-r.done:
		return JoinResult{closed: true}
	}
}

// Leave removes the connection from the room. Leaving a room the
// connection is not in, or one that has already shut down, is a no-op.
func (r *Room) Leave(sink EventSink) {
	reply := make(chan struct{}, 1)
	if !r.enqueue(leaveCmd{sink: sink, reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-r.done:
	}
}

// Send assigns the next sequence number, persists the message and
// broadcasts it to every member including the sender. The sender's own
// echo is the delivery confirmation.
func (r *Room) Send(sink EventSink, body string) SendResult {
	reply := make(chan SendResult, 1)
	if !r.enqueue(sendCmd{sink: sink, body: body, reply: reply}) {
		return SendResult{Err: ErrNotInRoom}
	}
	select {
	case res := <-reply:
		return res
	case <-r.done:
		return SendResult{Err: ErrNotInRoom}
	}
}

// SetTyping updates the member's typing state. Best-effort: no ordering
// relative to messages, no delivery guarantee.
func (r *Room) SetTyping(sink EventSink, isTyping bool) {
	r.enqueue(typingCmd{sink: sink, isTyping: isTyping})
}

func (r *Room) enqueue(cmd command) bool {
	select {
	case r.cmds <- cmd:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) run() {
	for {
		cmd := <-r.cmds
		r.dispatch(cmd)
		if r.everJoined && len(r.members) == 0 {
			r.shutdown()
			return
		}
	}
}

func (r *Room) dispatch(cmd command) {
	switch c := cmd.(type) {
	case joinCmd:
		r.handleJoin(c)
	case leaveCmd:
		r.handleLeave(c.sink)
		c.reply <- struct{}{}
	case sendCmd:
		c.reply <- r.handleSend(c)
	case typingCmd:
		r.handleTyping(c.sink, c.isTyping)
	case typingExpiredCmd:
		r.handleTypingExpired(c.userID, c.gen)
	}
}

func (r *Room) handleJoin(c joinCmd) {
	r.everJoined = true
	if _, ok := r.members[c.sink]; ok {
		// Idempotent re-entry: the connection is already a member.
		c.reply <- JoinResult{Members: r.memberList()}
		return
	}
	r.members[c.sink] = c.identity
	first := r.connCount[c.identity.UserID] == 0
	r.connCount[c.identity.UserID]++

	if first {
		r.broadcast(presenceEvent(c.identity, models.PresenceJoined), c.sink)
	}
	c.reply <- JoinResult{Members: r.memberList()}
}

func (r *Room) handleLeave(sink EventSink) {
	identity, ok := r.members[sink]
	if !ok {
		return
	}
	delete(r.members, sink)
	r.connCount[identity.UserID]--
	if r.connCount[identity.UserID] > 0 {
		return
	}
	delete(r.connCount, identity.UserID)

	if r.typing.stop(identity.UserID) {
		r.broadcast(typingEvent(identity, false), nil)
	}
	r.broadcast(presenceEvent(identity, models.PresenceLeft), nil)
}

func (r *Room) handleSend(c sendCmd) SendResult {
	identity, ok := r.members[c.sink]
	if !ok {
		return SendResult{Err: ErrNotInRoom}
	}

	body := strings.TrimSpace(c.body)
	if body == "" {
		return SendResult{Err: ErrEmptyMessage}
	}
	if len(body) > r.opts.MaxMessageLen {
		return SendResult{Err: ErrMessageTooLong}
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	// A recreated room resumes numbering from the history store so
	// sequence numbers stay strictly increasing per project.
	if !r.seqLoaded {
		last, err := r.messages.LastSeq(ctx, r.projectID)
		if err != nil {
			return SendResult{Err: fmt.Errorf("load last sequence: %w", err)}
		}
		r.seq = last
		r.seqLoaded = true
	}

	msg := models.Message{
		ID:         uuid.NewString(),
		ProjectID:  r.projectID,
		SenderID:   identity.UserID,
		SenderName: identity.DisplayName,
		Body:       body,
		Seq:        r.seq + 1,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.messages.AppendMessage(ctx, msg); err != nil {
		// Sequence number is not consumed on a failed persist.
		return SendResult{Err: fmt.Errorf("persist message: %w", err)}
	}
	r.seq++

	if r.typing.stop(identity.UserID) {
		r.broadcast(typingEvent(identity, false), c.sink)
	}

	observability.IncMessage()
	r.broadcast(models.ServerEvent{Type: models.EventMessage, Message: &msg}, nil)
	return SendResult{Message: msg}
}

func (r *Room) handleTyping(sink EventSink, isTyping bool) {
	identity, ok := r.members[sink]
	if !ok {
		return
	}
	if isTyping {
		if r.typing.mark(identity.UserID) {
			r.broadcast(typingEvent(identity, true), sink)
		}
		return
	}
	if r.typing.stop(identity.UserID) {
		r.broadcast(typingEvent(identity, false), sink)
	}
}

func (r *Room) handleTypingExpired(userID string, gen uint64) {
	if !r.typing.clear(userID, gen) {
		return
	}
	if r.connCount[userID] == 0 {
		return
	}
	identity := r.identityFor(userID)
	r.broadcast(typingEvent(identity, false), nil)
}

func (r *Room) identityFor(userID string) models.Identity {
	for _, identity := range r.members {
		if identity.UserID == userID {
			return identity
		}
	}
	return models.Identity{UserID: userID}
}

// broadcast fans an event out to every member except the given sink.
// Delivery is a non-blocking buffered send; a saturated member is
// detached rather than stalling the room.
func (r *Room) broadcast(evt models.ServerEvent, except EventSink) {
	var dead []EventSink
	for sink := range r.members {
		if sink == except {
			continue
		}
		if !sink.TrySend(evt) {
			dead = append(dead, sink)
		}
	}
	for _, sink := range dead {
		identity := r.members[sink]
		log.Printf("room %s: detaching slow member %s", r.projectID, identity.UserID)
		r.handleLeave(sink)
		sink.Close()
	}
}

// shutdown evicts the room from the registry and rejects any commands
// that raced the eviction. Callers holding a stale handle observe the
// closed result and re-resolve through the registry.
func (r *Room) shutdown() {
	r.typing.stopAll()
	r.registry.evict(r)
	close(r.done)
	for {
		select {
		case cmd := <-r.cmds:
			r.reject(cmd)
		default:
			return
		}
	}
}

func (r *Room) reject(cmd command) {
	switch c := cmd.(type) {
	case joinCmd:
		c.reply <- JoinResult{closed: true}
	case leaveCmd:
		c.reply <- struct{}{}
	case sendCmd:
		c.reply <- SendResult{Err: ErrNotInRoom}
	}
}
