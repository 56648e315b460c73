package session

import (
	"encoding/json"
	"sync"
	"time"

	"ludo/internal/game"
)

// Mirror is the low-latency copy of a match pushed to subscribers.
// It may lag the authoritative store and is never used for validation.
type Mirror struct {
	MatchID         string                                      `json:"matchId"`
	Status          game.Status                                 `json:"status"`
	PlayerIDs       []string                                    `json:"playerIds"`
	CurrentPlayerID string                                      `json:"currentPlayerId"`
	CurrentTurn     int                                         `json:"currentTurn"`
	LastDiceRoll    int                                         `json:"lastDiceRoll"`
	Scores          map[string]int                              `json:"playerScores"`
	Tokens          map[string][game.TokensPerPlayer]game.Token `json:"tokenPositions"`
	WinnerID        string                                      `json:"winnerId,omitempty"`
	ExpectedEndTime time.Time                                   `json:"expectedEndTime,omitzero"`
	Settled         bool                                        `json:"settled"`
	Version         int64                                       `json:"version"`
	UpdatedAt       time.Time                                   `json:"updatedAt"`
}

// FromMatch projects a match onto its mirror fields.
func FromMatch(m *game.Match, now time.Time) Mirror {
	c := m.Clone()
	return Mirror{
		MatchID:         c.ID,
		Status:          c.Status,
		PlayerIDs:       c.PlayerIDs,
		CurrentPlayerID: c.CurrentPlayerID,
		CurrentTurn:     c.CurrentTurn,
		LastDiceRoll:    c.LastDiceRoll,
		Scores:          c.Scores,
		Tokens:          c.Tokens,
		WinnerID:        c.WinnerID,
		ExpectedEndTime: c.ExpectedEndTime,
		Settled:         c.Settled,
		Version:         c.Version,
		UpdatedAt:       now,
	}
}

// Subscriber is one connected listener.
type Subscriber struct {
	ID   string
	Send chan []byte // outbound messages
}

// Session is the mirror of one match plus its subscribers.
type Session struct {
	mu        sync.RWMutex
	MatchID   string
	mirror    Mirror
	subs      map[string]*Subscriber
	CreatedAt time.Time
}

// NewSession creates an empty mirror for matchID.
func NewSession(matchID string, now time.Time) *Session {
	return &Session{
		MatchID:   matchID,
		mirror:    Mirror{MatchID: matchID, UpdatedAt: now},
		subs:      make(map[string]*Subscriber),
		CreatedAt: now,
	}
}

// Snapshot returns the current mirror.
func (s *Session) Snapshot() Mirror {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror
}

// apply replaces the mirror if next is newer and pushes it to subscribers.
// Older or equal versions are ignored so out-of-order publishes never move a
// mirror backwards.
func (s *Session) apply(next Mirror) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next.Version <= s.mirror.Version {
		return false
	}
	s.mirror = next
	s.broadcastLocked(Encode("mirror", next))
	return true
}

// Subscribe registers a listener, replacing any previous one with the same id.
func (s *Session) Subscribe(id string) *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.subs[id]; ok {
		close(old.Send)
	}
	sub := &Subscriber{ID: id, Send: make(chan []byte, 64)}
	s.subs[id] = sub
	return sub
}

// Unsubscribe removes sub if it is still the registered listener for its id.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.subs[sub.ID]; ok && cur == sub {
		close(sub.Send)
		delete(s.subs, sub.ID)
	}
}

// SubscriberIDs returns the ids of connected listeners.
func (s *Session) SubscriberIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) broadcastLocked(msg []byte) {
	for _, sub := range s.subs {
		select {
		case sub.Send <- msg:
		default:
			// drop message if buffer full
		}
	}
}

func (s *Session) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		close(sub.Send)
		delete(s.subs, id)
	}
}

// Message is the JSON envelope pushed to subscribers.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps payload in a Message of the given type.
func Encode(msgType string, payload any) []byte {
	p, _ := json.Marshal(payload)
	msg, _ := json.Marshal(Message{Type: msgType, Payload: p})
	return msg
}
