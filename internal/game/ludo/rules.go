// Package ludo implements the turn rules of a match as pure transitions on a game.Match.
// Callers pass a clone; on error the clone must be discarded.
package ludo

import (
	"fmt"
	"sort"
	"time"

	"ludo/internal/game"
	"ludo/internal/game/board"
)

const (
	DiceMin = 1
	DiceMax = 6

	ExtraTurnRoll = 6

	CaptureBonus = 5
	FinishBonus  = 10

	// MatchDuration is the default time limit from start to forced conclusion.
	MatchDuration = 10 * time.Minute
)

// Capture records an opposing token sent home by a move.
type Capture struct {
	PlayerID   string `json:"playerId"`
	TokenID    int    `json:"tokenId"`
	Coordinate int    `json:"coordinate"`
}

// MoveResult describes what a successful move did.
type MoveResult struct {
	Token     game.Token `json:"token"`
	Captures  []Capture  `json:"captures,omitempty"`
	Finished  bool       `json:"finished"`
	Won       bool       `json:"won"`
	ExtraTurn bool       `json:"extraTurn"`
}

// IsValidMove reports whether token may move by dice.
// A home token may always enter, whatever the roll.
func IsValidMove(t game.Token, dice int) bool {
	switch {
	case t.IsFinished:
		return false
	case t.IsHome:
		return true
	default:
		return t.Position+dice <= board.FinishIndex
	}
}

// MovableTokens returns the ids of tokens that can move by dice, ascending.
func MovableTokens(tokens [game.TokensPerPlayer]game.Token, dice int) []int {
	var ids []int
	for _, t := range tokens {
		if IsValidMove(t, dice) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func checkTurn(m *game.Match, playerID string) error {
	if m.Status != game.StatusInProgress {
		return game.ErrMatchNotInProgress
	}
	if m.CurrentPlayerID != playerID {
		return game.ErrNotYourTurn
	}
	return nil
}

// Roll records a dice value for the current player. Every roll scores its face value.
func Roll(m *game.Match, playerID string, value int) error {
	if err := checkTurn(m, playerID); err != nil {
		return err
	}
	if m.LastDiceRoll != 0 {
		return game.ErrRollPending
	}
	if value < DiceMin || value > DiceMax {
		return fmt.Errorf("dice value %d out of range", value)
	}
	m.LastDiceRoll = value
	m.Scores[playerID] += value
	return nil
}

// Move applies a token move for the pending roll.
// The supplied dice must match the roll recorded on the match.
func Move(m *game.Match, playerID string, tokenID, dice int) (MoveResult, error) {
	if err := checkTurn(m, playerID); err != nil {
		return MoveResult{}, err
	}
	if m.LastDiceRoll == 0 || dice != m.LastDiceRoll {
		return MoveResult{}, fmt.Errorf("%w: dice %d does not match pending roll %d", game.ErrInvalidMove, dice, m.LastDiceRoll)
	}
	if tokenID < 0 || tokenID >= game.TokensPerPlayer {
		return MoveResult{}, game.ErrTokenNotFound
	}
	tokens := m.Tokens[playerID]
	tok := tokens[tokenID]
	if !IsValidMove(tok, dice) {
		return MoveResult{}, game.ErrInvalidMove
	}

	if tok.IsHome {
		tok.IsHome = false
		tok.Position = 0
	} else {
		tok.Position += dice
	}
	if tok.Position == board.FinishIndex {
		tok.IsFinished = true
	}

	res := MoveResult{}
	res.Captures = capture(m, playerID, tok)
	if n := len(res.Captures); n > 0 {
		m.Scores[playerID] += CaptureBonus * n
		// kill-jump: a capturing token goes straight to the finish slot
		tok.Position = board.FinishIndex
		tok.IsFinished = true
	}
	if tok.IsFinished {
		m.Scores[playerID] += FinishBonus
		res.Finished = true
	}
	tokens[tokenID] = tok
	m.Tokens[playerID] = tokens
	res.Token = tok

	res.Won = allFinished(tokens)
	res.ExtraTurn = dice == ExtraTurnRoll && !res.Won
	m.LastDiceRoll = 0
	advance(m, res.ExtraTurn)
	return res, nil
}

// capture sends home every opposing on-path token sharing the mover's unsafe coordinate.
func capture(m *game.Match, moverID string, mover game.Token) []Capture {
	coord, ok := board.GlobalCoordinate(m.PlayerColors[moverID], mover.Position)
	if !ok || board.IsSafe(coord) {
		return nil
	}
	var caps []Capture
	for _, pid := range m.PlayerIDs {
		if pid == moverID {
			continue
		}
		tokens := m.Tokens[pid]
		hit := false
		for i, t := range tokens {
			if t.IsHome || t.IsFinished {
				continue
			}
			c, ok := board.GlobalCoordinate(m.PlayerColors[pid], t.Position)
			if !ok || c != coord {
				continue
			}
			tokens[i] = game.Token{ID: t.ID, IsHome: true}
			caps = append(caps, Capture{PlayerID: pid, TokenID: t.ID, Coordinate: coord})
			hit = true
		}
		if hit {
			m.Tokens[pid] = tokens
		}
	}
	return caps
}

// Pass gives up a roll that has no legal move.
func Pass(m *game.Match, playerID string) error {
	if err := checkTurn(m, playerID); err != nil {
		return err
	}
	if m.LastDiceRoll == 0 {
		return fmt.Errorf("%w: no pending roll", game.ErrInvalidPass)
	}
	if movable := MovableTokens(m.Tokens[playerID], m.LastDiceRoll); len(movable) > 0 {
		return fmt.Errorf("%w: tokens %v can move", game.ErrInvalidPass, movable)
	}
	keep := m.LastDiceRoll == ExtraTurnRoll
	m.LastDiceRoll = 0
	if len(m.PlayerIDs) == 1 {
		// nobody to rotate to
		return nil
	}
	advance(m, keep)
	return nil
}

// advance hands the turn to the next seat unless the current player keeps it.
func advance(m *game.Match, keep bool) {
	if keep {
		return
	}
	seat := m.Seat(m.CurrentPlayerID)
	m.CurrentPlayerID = m.PlayerIDs[(seat+1)%len(m.PlayerIDs)]
	m.CurrentTurn++
}

func allFinished(tokens [game.TokensPerPlayer]game.Token) bool {
	for _, t := range tokens {
		if !t.IsFinished {
			return false
		}
	}
	return true
}

// Start moves a waiting match into play and resets the board.
func Start(m *game.Match, hostID string, now time.Time, duration time.Duration) error {
	if m.Status != game.StatusWaiting {
		return game.ErrMatchNotWaiting
	}
	if !m.HasPlayer(hostID) {
		return game.ErrUnknownPlayer
	}
	if duration <= 0 {
		duration = MatchDuration
	}
	for _, pid := range m.PlayerIDs {
		m.Tokens[pid] = game.HomeTokens()
		m.Scores[pid] = 0
	}
	m.CurrentPlayerID = m.PlayerIDs[0]
	m.CurrentTurn = 0
	m.LastDiceRoll = 0
	m.Status = game.StatusInProgress
	m.StartedAt = now
	m.ExpectedEndTime = now.Add(duration)
	return nil
}

// Expired reports whether an in-progress match has passed its deadline.
func Expired(m *game.Match, now time.Time) bool {
	return m.Status == game.StatusInProgress && !m.ExpectedEndTime.IsZero() && !now.Before(m.ExpectedEndTime)
}

// TimerWinner picks the strictly highest score; ties go to the earlier seat.
func TimerWinner(m *game.Match) string {
	winner := m.PlayerIDs[0]
	for _, pid := range m.PlayerIDs[1:] {
		if m.Scores[pid] > m.Scores[winner] {
			winner = pid
		}
	}
	return winner
}

// Rank places the winner first and the rest by finished tokens, ties by seat order.
func Rank(m *game.Match, winnerID string) []game.Ranking {
	others := make([]string, 0, len(m.PlayerIDs))
	for _, pid := range m.PlayerIDs {
		if pid != winnerID {
			others = append(others, pid)
		}
	}
	sort.SliceStable(others, func(i, j int) bool {
		return m.FinishedCount(others[i]) > m.FinishedCount(others[j])
	})
	order := append([]string{winnerID}, others...)
	out := make([]game.Ranking, len(order))
	for i, pid := range order {
		out[i] = game.Ranking{
			PlayerID:       pid,
			Rank:           i + 1,
			Score:          m.Scores[pid],
			FinishedTokens: m.FinishedCount(pid),
		}
	}
	return out
}

// Conclude completes the match. It is irreversible.
func Conclude(m *game.Match, winnerID string, now time.Time) error {
	if m.Status == game.StatusCompleted {
		return game.ErrMatchNotInProgress
	}
	if !m.HasPlayer(winnerID) {
		return game.ErrUnknownPlayer
	}
	m.Status = game.StatusCompleted
	m.WinnerID = winnerID
	m.CompletedAt = now
	m.LastDiceRoll = 0
	m.Rankings = Rank(m, winnerID)
	return nil
}
