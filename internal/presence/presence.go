// Package presence tracks which identities are currently viewing a channel
// or document. Best effort: entries are ephemeral and carry no durability
// guarantee. A heartbeat refreshes lastSeen; entries whose heartbeat goes
// quiet beyond the TTL are swept, so a crashed client cannot leave a
// permanent ghost.
package presence

import (
	"sort"
	"sync"
	"time"

	"codesync/pkg/logger"
	"codesync/store"
)

type Tracker struct {
	mu       sync.Mutex
	channels map[string]map[string]store.PresenceEntry
	ttl      time.Duration
	now      func() time.Time
	onExpire func(channelID string)

	done     chan struct{}
	stopOnce sync.Once
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		channels: make(map[string]map[string]store.PresenceEntry),
		ttl:      ttl,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// OnExpire registers fn to run whenever sweeping removed entries from a
// channel. Must be set before Start.
func (t *Tracker) OnExpire(fn func(channelID string)) {
	t.onExpire = fn
}

// Join upserts the entry and refreshes its heartbeat. Idempotent.
func (t *Tracker) Join(channelID, userID, displayName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.channels[channelID] == nil {
		t.channels[channelID] = make(map[string]store.PresenceEntry)
	}
	t.channels[channelID][userID] = store.PresenceEntry{
		ChannelID:   channelID,
		UserID:      userID,
		DisplayName: displayName,
		LastSeenAt:  t.now(),
	}
}

// Leave removes the entry. Called on normal teardown; a client that crashes
// without calling Leave is swept by the TTL instead.
func (t *Tracker) Leave(channelID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.channels[channelID], userID)
	if len(t.channels[channelID]) == 0 {
		delete(t.channels, channelID)
	}
}

// List returns a snapshot of who is in the channel.
func (t *Tracker) List(channelID string) []store.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]store.PresenceEntry, 0, len(t.channels[channelID]))
	for _, e := range t.channels[channelID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

// Start runs the TTL sweeper until Stop.
func (t *Tracker) Start() {
	go func() {
		ticker := time.NewTicker(t.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-t.done:
				return
			}
		}
	}()
}

func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

func (t *Tracker) sweep() {
	cutoff := t.now().Add(-t.ttl)
	var expired []string

	t.mu.Lock()
	for channelID, users := range t.channels {
		removed := false
		for userID, e := range users {
			if e.LastSeenAt.Before(cutoff) {
				delete(users, userID)
				removed = true
				logger.Sugar.Infof("Swept stale presence entry %s in channel %s", userID, channelID)
			}
		}
		if len(users) == 0 {
			delete(t.channels, channelID)
		}
		if removed {
			expired = append(expired, channelID)
		}
	}
	fn := t.onExpire
	t.mu.Unlock()

	if fn != nil {
		for _, channelID := range expired {
			fn(channelID)
		}
	}
}
