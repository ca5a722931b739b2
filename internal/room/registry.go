package room

import (
	"sync"
	"time"

	"project-chat-service/internal/models"
	"project-chat-service/internal/observability"
	"project-chat-service/internal/repositories"
)

// Options tunes per-room behaviour.
type Options struct {
	TypingTTL     time.Duration
	MaxMessageLen int
	QueueSize     int
}

func (o Options) withDefaults() Options {
	if o.TypingTTL <= 0 {
		o.TypingTTL = 3 * time.Second
	}
	if o.MaxMessageLen <= 0 {
		o.MaxMessageLen = 1000
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	return o
}

// Registry maps project ids to live room actors. Rooms are created on
// first join and evicted once their membership empties; eviction and
// the empty check happen inside the room's own worker, so a join can
// never resurrect a half-destroyed room.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	messages repositories.MessageRepository
	opts     Options
}

// NewRegistry constructs a Registry.
func NewRegistry(messages repositories.MessageRepository, opts Options) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		messages: messages,
		opts:     opts.withDefaults(),
	}
}

// GetOrCreate returns the live room for a project, starting one if
// needed. Concurrent calls for the same project yield the same room.
func (g *Registry) GetOrCreate(projectID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[projectID]; ok {
		return r
	}
	r := newRoom(projectID, g)
	g.rooms[projectID] = r
	observability.IncRoomActive()
	go r.run()
	return r
}

// Join resolves the project's room and admits the connection, retrying
// when the join races a shutdown of an emptying room.
func (g *Registry) Join(projectID string, identity models.Identity, sink EventSink) (*Room, []models.Identity) {
	for {
		r := g.GetOrCreate(projectID)
		res := r.Join(identity, sink)
		if !res.closed {
			return r, res.Members
		}
	}
}

// evict removes the room from the map. Called by the room's worker once
// membership is empty; the identity check guards against evicting a
// successor room created for the same project.
func (g *Registry) evict(r *Room) {
	g.mu.Lock()
	if current, ok := g.rooms[r.projectID]; ok && current == r {
		delete(g.rooms, r.projectID)
		observability.DecRoomActive()
	}
	g.mu.Unlock()
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
