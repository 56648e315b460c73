package game

import (
	"fmt"
	"time"

	"ludo/internal/game/board"
)

// TokensPerPlayer is the number of pieces each seat owns.
const TokensPerPlayer = 4

// Status represents the match lifecycle. It only ever moves forward.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Token is one piece. Position indexes the owner's path and is meaningless while IsHome.
type Token struct {
	ID         int  `json:"tokenId"`
	Position   int  `json:"position"`
	IsHome     bool `json:"isHome"`
	IsFinished bool `json:"isFinished"`
}

// Valid reports whether the token satisfies the home/finished invariants.
func (t Token) Valid() bool {
	if t.IsHome && t.IsFinished {
		return false
	}
	if t.IsFinished && t.Position != board.FinishIndex {
		return false
	}
	return t.Position >= 0 && t.Position <= board.FinishIndex
}

// HomeTokens returns a fresh set of tokens sitting in the yard.
func HomeTokens() [TokensPerPlayer]Token {
	var ts [TokensPerPlayer]Token
	for i := range ts {
		ts[i] = Token{ID: i, IsHome: true}
	}
	return ts
}

// Ranking is one player's final placement.
type Ranking struct {
	PlayerID       string `json:"playerId"`
	Rank           int    `json:"rank"` // 1 = first place
	Score          int    `json:"score"`
	FinishedTokens int    `json:"finishedTokens"`
}

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	KindWin        TransactionKind = "win"
	KindLoss       TransactionKind = "loss"
	KindPurchase   TransactionKind = "purchase"
	KindWithdrawal TransactionKind = "withdrawal"
)

// Payout is a settlement intent recorded on a concluded match.
type Payout struct {
	PlayerID     string          `json:"playerId"`
	Rank         int             `json:"rank"`
	Kind         TransactionKind `json:"kind"`
	Amount       int64           `json:"amount"`
	Won          bool            `json:"won"`
	RatingChange int             `json:"ratingChange"`
	Applied      bool            `json:"applied"`
	AppliedAt    time.Time       `json:"appliedAt,omitzero"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"lastError,omitempty"`
}

// Ref is the idempotency key used for every ledger call of this payout.
func (p Payout) Ref(matchID string) string {
	return matchID + ":" + p.PlayerID
}

// Match is the authoritative document for one game.
type Match struct {
	ID              string                             `json:"id"`
	PlayerIDs       []string                           `json:"playerIds"`
	PlayerColors    map[string]board.Color             `json:"playerColors"`
	Tokens          map[string][TokensPerPlayer]Token  `json:"tokenPositions"`
	Scores          map[string]int                     `json:"playerScores"`
	CurrentPlayerID string                             `json:"currentPlayerId"`
	CurrentTurn     int                                `json:"currentTurn"`
	LastDiceRoll    int                                `json:"lastDiceRoll"`
	Status          Status                             `json:"status"`
	ExpectedEndTime time.Time                          `json:"expectedEndTime,omitzero"`
	EntryFee        int64                              `json:"entryFee"`
	PrizePool       int64                              `json:"prizePool"`
	Tier            string                             `json:"tier"`
	WinnerID        string                             `json:"winnerId,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`

	// Audit fields, still writable after completion.
	Rankings []Ranking `json:"rankings,omitempty"`
	Payouts  []Payout  `json:"payouts,omitempty"`
	Settled  bool      `json:"settled"`

	// Version is the optimistic concurrency token; the store bumps it on every write.
	Version int64 `json:"version"`
}

// NewMatch builds a waiting match. Colors are handed out in seat order.
func NewMatch(id string, tier Tier, playerIDs []string, now time.Time) (*Match, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty match id", ErrInvalidMatch)
	}
	if len(playerIDs) == 0 || len(playerIDs) > len(board.Colors) {
		return nil, fmt.Errorf("%w: need 1 to %d players, have %d", ErrInvalidMatch, len(board.Colors), len(playerIDs))
	}
	if tier.MinPlayers > 0 && len(playerIDs) < tier.MinPlayers {
		return nil, fmt.Errorf("%w: tier %s needs at least %d players", ErrInvalidMatch, tier.Name, tier.MinPlayers)
	}
	if tier.MaxPlayers > 0 && len(playerIDs) > tier.MaxPlayers {
		return nil, fmt.Errorf("%w: tier %s allows at most %d players", ErrInvalidMatch, tier.Name, tier.MaxPlayers)
	}
	m := &Match{
		ID:           id,
		PlayerIDs:    make([]string, 0, len(playerIDs)),
		PlayerColors: make(map[string]board.Color, len(playerIDs)),
		Tokens:       make(map[string][TokensPerPlayer]Token, len(playerIDs)),
		Scores:       make(map[string]int, len(playerIDs)),
		Status:       StatusWaiting,
		EntryFee:     tier.EntryFee,
		PrizePool:    tier.PrizePool,
		Tier:         tier.Name,
		CreatedAt:    now,
	}
	for seat, pid := range playerIDs {
		if pid == "" {
			return nil, fmt.Errorf("%w: empty player id", ErrInvalidMatch)
		}
		if _, dup := m.PlayerColors[pid]; dup {
			return nil, fmt.Errorf("%w: player %s seated twice", ErrInvalidMatch, pid)
		}
		m.PlayerIDs = append(m.PlayerIDs, pid)
		m.PlayerColors[pid] = board.Colors[seat]
		m.Tokens[pid] = HomeTokens()
		m.Scores[pid] = 0
	}
	m.CurrentPlayerID = m.PlayerIDs[0]
	return m, nil
}

// HasPlayer reports whether playerID is seated in the match.
func (m *Match) HasPlayer(playerID string) bool {
	_, ok := m.PlayerColors[playerID]
	return ok
}

// Seat returns the index of playerID in turn order, or -1.
func (m *Match) Seat(playerID string) int {
	for i, id := range m.PlayerIDs {
		if id == playerID {
			return i
		}
	}
	return -1
}

// FinishedCount returns how many of the player's tokens are finished.
func (m *Match) FinishedCount(playerID string) int {
	n := 0
	for _, t := range m.Tokens[playerID] {
		if t.IsFinished {
			n++
		}
	}
	return n
}

// Validate checks the token invariants of a loaded document.
func (m *Match) Validate() error {
	for pid, tokens := range m.Tokens {
		if !m.HasPlayer(pid) {
			return fmt.Errorf("%w: tokens for unseated player %s", ErrInvalidMatch, pid)
		}
		for i, t := range tokens {
			if t.ID != i || !t.Valid() {
				return fmt.Errorf("%w: player %s token %d is %+v", ErrInvalidMatch, pid, i, t)
			}
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (m *Match) Clone() *Match {
	c := *m
	c.PlayerIDs = append([]string(nil), m.PlayerIDs...)
	c.PlayerColors = make(map[string]board.Color, len(m.PlayerColors))
	for k, v := range m.PlayerColors {
		c.PlayerColors[k] = v
	}
	c.Tokens = make(map[string][TokensPerPlayer]Token, len(m.Tokens))
	for k, v := range m.Tokens {
		c.Tokens[k] = v
	}
	c.Scores = make(map[string]int, len(m.Scores))
	for k, v := range m.Scores {
		c.Scores[k] = v
	}
	if m.Rankings != nil {
		c.Rankings = append([]Ranking(nil), m.Rankings...)
	}
	if m.Payouts != nil {
		c.Payouts = append([]Payout(nil), m.Payouts...)
	}
	return &c
}
