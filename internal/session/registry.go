package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ludo/internal/game"
)

// Lister is the store query Restore needs.
type Lister interface {
	ListMatches(ctx context.Context, status game.Status) ([]*game.Match, error)
}

// Registry holds the mirrors of all live matches.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Ensure creates the mirror for matchID if missing and reports whether it did.
func (r *Registry) Ensure(matchID string) bool {
	_, created := r.session(matchID)
	return created
}

func (r *Registry) session(matchID string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[matchID]
	r.mu.RUnlock()
	if ok {
		return s, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[matchID]; ok {
		return s, false
	}
	s = NewSession(matchID, r.now())
	r.sessions[matchID] = s
	return s, true
}

// Publish updates the mirror from an authoritative match and pushes it to
// subscribers. Stale versions are dropped.
func (r *Registry) Publish(m *game.Match) {
	s, _ := r.session(m.ID)
	mirror := FromMatch(m, r.now())
	if !s.apply(mirror) {
		log.Debug().Str("match_id", m.ID).Int64("version", m.Version).Msg("stale mirror publish ignored")
	}
}

// Get returns the session holding the mirror for matchID.
func (r *Registry) Get(matchID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[matchID]
	return s, ok
}

// List returns all mirrors ordered by match id.
func (r *Registry) List() []Mirror {
	r.mu.RLock()
	out := make([]Mirror, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

// Subscribe attaches a listener to an existing mirror.
func (r *Registry) Subscribe(matchID, subscriberID string) (*Subscriber, error) {
	s, ok := r.Get(matchID)
	if !ok {
		return nil, fmt.Errorf("no mirror for match %s", matchID)
	}
	return s.Subscribe(subscriberID), nil
}

// Unsubscribe detaches a listener.
func (r *Registry) Unsubscribe(matchID string, sub *Subscriber) {
	if s, ok := r.Get(matchID); ok {
		s.Unsubscribe(sub)
	}
}

// Remove drops a mirror and disconnects its subscribers.
func (r *Registry) Remove(matchID string) {
	r.mu.Lock()
	s, ok := r.sessions[matchID]
	delete(r.sessions, matchID)
	r.mu.Unlock()
	if ok {
		s.closeAll()
	}
}

// Restore rebuilds mirrors for in-progress matches on startup.
func (r *Registry) Restore(ctx context.Context, store Lister) (int, error) {
	matches, err := store.ListMatches(ctx, game.StatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("list matches: %w", err)
	}
	for _, m := range matches {
		r.Publish(m)
	}
	return len(matches), nil
}

// CleanupLoop removes stale mirrors periodically until ctx is done.
func (r *Registry) CleanupLoop(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.cleanup(maxAge); n > 0 {
				log.Info().Int("removed", n).Msg("cleaned up mirrors")
			}
		}
	}
}

// cleanup drops mirrors without listeners whose match is completed or which
// have not been updated within maxAge.
func (r *Registry) cleanup(maxAge time.Duration) int {
	now := r.now()
	var stale []string
	r.mu.RLock()
	for id, s := range r.sessions {
		snap := s.Snapshot()
		idle := now.Sub(snap.UpdatedAt) > maxAge
		done := snap.Status == game.StatusCompleted
		if (idle || done) && len(s.SubscriberIDs()) == 0 {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range stale {
		log.Debug().Str("match_id", id).Msg("removing mirror")
		r.Remove(id)
	}
	return len(stale)
}
