package messaging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"dm-service/internal/models"
)

type sentEvent struct {
	userID int64
	event  any
}

// recordingSessions is an in-memory Sessions that records every push.
type recordingSessions struct {
	mu     sync.Mutex
	online map[int64]bool
	sent   []sentEvent
}

func newRecordingSessions(online ...int64) *recordingSessions {
	s := &recordingSessions{online: make(map[int64]bool)}
	for _, id := range online {
		s.online[id] = true
	}
	return s
}

func (s *recordingSessions) SendTo(userID int64, event any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online[userID] {
		return false
	}
	s.sent = append(s.sent, sentEvent{userID: userID, event: event})
	return true
}

func (s *recordingSessions) SendToMany(userIDs []int64, event any) int {
	var n int
	for _, id := range userIDs {
		if s.SendTo(id, event) {
			n++
		}
	}
	return n
}

func (s *recordingSessions) Broadcast(event any, exclude int64) int {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.online))
	for id := range s.online {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	return s.SendToMany(ids, event)
}

func (s *recordingSessions) eventsFor(userID int64) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, e := range s.sent {
		if e.userID == userID {
			out = append(out, e.event)
		}
	}
	return out
}

func (s *recordingSessions) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// racyConversations creates a row whenever the lookup misses, so only the caller's
// locking keeps it to one row per pair.
type racyConversations struct {
	mu      sync.Mutex
	rows    map[[2]int64]models.Conversation
	creates int
	nextID  int64
}

func newRacyConversations() *racyConversations {
	return &racyConversations{rows: make(map[[2]int64]models.Conversation)}
}

func (r *racyConversations) lookup(a, b int64) (models.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[[2]int64{a, b}]
	return c, ok
}

func (r *racyConversations) FindOrCreate(_ context.Context, a, b int64) (models.Conversation, error) {
	if c, ok := r.lookup(a, b); ok {
		return c, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	r.nextID++
	c := models.Conversation{ID: r.nextID, User1ID: a, User2ID: b}
	r.rows[[2]int64{a, b}] = c
	return c, nil
}

func (r *racyConversations) FindByPair(_ context.Context, a, b int64) (models.Conversation, error) {
	if a > b {
		a, b = b, a
	}
	c, _ := r.lookup(a, b)
	return c, nil
}

func (r *racyConversations) ListContacts(context.Context, int64) ([]models.ContactSummary, error) {
	return nil, nil
}

func (r *racyConversations) ListPeerIDs(context.Context, int64) ([]int64, error) {
	return nil, nil
}

func requireMessageEvent(t *testing.T, event any) models.MessageEvent {
	t.Helper()
	ev, ok := event.(models.MessageEvent)
	require.True(t, ok, "expected MessageEvent, got %T", event)
	return ev
}
