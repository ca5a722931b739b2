package room

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"project-chat-service/internal/models"
)

func TestGetOrCreateConcurrentReturnsSameRoom(t *testing.T) {
	registry, _ := newTestRegistry(Options{})

	const workers = 16
	rooms := make([]*Room, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i] = registry.GetOrCreate("P1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, rooms[0], rooms[i])
	}
	assert.Equal(t, 1, registry.Len())
}

func TestDistinctProjectsGetDistinctRooms(t *testing.T) {
	registry, _ := newTestRegistry(Options{})

	r1 := registry.GetOrCreate("P1")
	r2 := registry.GetOrCreate("P2")
	assert.NotSame(t, r1, r2)
	assert.Equal(t, 2, registry.Len())
}

func TestJoinSurvivesShutdownRace(t *testing.T) {
	registry, _ := newTestRegistry(Options{})

	// Hammer the join/leave cycle so joins keep racing room eviction.
	// Every join must land in a live room regardless of which side wins.
	for i := 0; i < 200; i++ {
		sink := newTestSink()
		r, members := registry.Join("P1", alice, sink)
		require.NotNil(t, r)
		require.NotEmpty(t, members)
		r.Leave(sink)
	}

	require.Eventually(t, func() bool { return registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStaleHandleJoinResolvesFreshRoom(t *testing.T) {
	registry, _ := newTestRegistry(Options{})

	sink := newTestSink()
	r, _ := registry.Join("P1", alice, sink)
	r.Leave(sink)
	require.Eventually(t, func() bool { return registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	// A join on the dead handle must report closure, never a silent
	// success with no members.
	sink2 := newTestSink()
	res := r.Join(alice, sink2)
	assert.True(t, res.closed)
	assert.Empty(t, res.Members)

	// The registry path re-resolves to a live successor room.
	r2, members := registry.Join("P1", alice, sink2)
	assert.NotSame(t, r, r2)
	require.Len(t, members, 1)
	sendRes := r2.Send(sink2, "still works")
	require.NoError(t, sendRes.Err)
}

func TestConcurrentJoinLeaveManyIdentities(t *testing.T) {
	registry, _ := newTestRegistry(Options{})

	identities := []struct{ id, name string }{
		{"u-1", "one"}, {"u-2", "two"}, {"u-3", "three"}, {"u-4", "four"},
	}

	var wg sync.WaitGroup
	for _, ident := range identities {
		wg.Add(1)
		go func(userID, name string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sink := newTestSink()
				r, _ := registry.Join("P1", models.Identity{UserID: userID, DisplayName: name}, sink)
				r.Leave(sink)
			}
		}(ident.id, ident.name)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
