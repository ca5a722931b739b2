package room

import "time"

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// typingTracker holds the per-room set of currently typing identities
// with quiescence timers. All methods run on the room's worker
// goroutine; only the expiry callback fires elsewhere, and it re-enters
// the room through the command queue.
type typingTracker struct {
	ttl     time.Duration
	entries map[string]*typingEntry
	expired func(userID string, gen uint64)
}

func newTypingTracker(ttl time.Duration, expired func(string, uint64)) *typingTracker {
	return &typingTracker{
		ttl:     ttl,
		entries: make(map[string]*typingEntry),
		expired: expired,
	}
}

// mark (re)starts the quiescence timer and reports whether the user was
// not already typing. Each refresh bumps the generation so a stale
// timer firing concurrently with the refresh is ignored.
func (t *typingTracker) mark(userID string) bool {
	if entry, ok := t.entries[userID]; ok {
		entry.timer.Stop()
		entry.gen++
		gen := entry.gen
		entry.timer = time.AfterFunc(t.ttl, func() { t.expired(userID, gen) })
		return false
	}
	entry := &typingEntry{}
	gen := entry.gen
	entry.timer = time.AfterFunc(t.ttl, func() { t.expired(userID, gen) })
	t.entries[userID] = entry
	return true
}

// stop cancels the timer and reports whether the user was typing.
func (t *typingTracker) stop(userID string) bool {
	entry, ok := t.entries[userID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, userID)
	return true
}

// clear removes the entry for an expired timer. A mismatched generation
// means the user refreshed after the timer fired, so the expiry is
// ignored.
func (t *typingTracker) clear(userID string, gen uint64) bool {
	entry, ok := t.entries[userID]
	if !ok || entry.gen != gen {
		return false
	}
	delete(t.entries, userID)
	return true
}

func (t *typingTracker) stopAll() {
	for userID, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, userID)
	}
}
