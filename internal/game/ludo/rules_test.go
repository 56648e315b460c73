package ludo

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"ludo/internal/game"
	"ludo/internal/game/board"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMatch(t *testing.T, players ...string) *game.Match {
	t.Helper()
	m, err := game.NewMatch("m1", game.Tier{Name: "bronze", EntryFee: 50, PrizePool: 75}, players, testNow)
	if err != nil {
		t.Fatalf("new match: %v", err)
	}
	if err := Start(m, players[0], testNow, MatchDuration); err != nil {
		t.Fatalf("start: %v", err)
	}
	return m
}

func onPath(id, pos int) game.Token {
	return game.Token{ID: id, Position: pos}
}

func finished(id int) game.Token {
	return game.Token{ID: id, Position: board.FinishIndex, IsFinished: true}
}

func home(id int) game.Token {
	return game.Token{ID: id, IsHome: true}
}

func setTokens(m *game.Match, playerID string, tokens ...game.Token) {
	ts := m.Tokens[playerID]
	for _, tok := range tokens {
		ts[tok.ID] = tok
	}
	m.Tokens[playerID] = ts
}

func mustRoll(t *testing.T, m *game.Match, playerID string, value int) {
	t.Helper()
	if err := Roll(m, playerID, value); err != nil {
		t.Fatalf("roll %d: %v", value, err)
	}
}

func TestIsValidMove(t *testing.T) {
	tests := []struct {
		name  string
		token game.Token
		dice  int
		want  bool
	}{
		{"home enters on 1", home(0), 1, true},
		{"home enters on 6", home(0), 6, true},
		{"finished never moves", finished(0), 1, false},
		{"exact finish", onPath(0, 56), 2, true},
		{"overshoot", onPath(0, 56), 3, false},
		{"mid path", onPath(0, 10), 6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidMove(tt.token, tt.dice); got != tt.want {
				t.Fatalf("IsValidMove(%+v, %d) = %v, want %v", tt.token, tt.dice, got, tt.want)
			}
		})
	}
}

func TestMovableTokens(t *testing.T) {
	tokens := [game.TokensPerPlayer]game.Token{home(0), onPath(1, 57), finished(2), onPath(3, 20)}
	got := MovableTokens(tokens, 3)
	if !reflect.DeepEqual(got, []int{0, 3}) {
		t.Fatalf("expected [0 3], got %v", got)
	}
}

func TestMoveOvershootRejectedWithoutMutation(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	setTokens(m, "alice", onPath(0, 56))
	mustRoll(t, m, "alice", 3)
	before := m.Clone()

	if _, err := Move(m, "alice", 0, 3); !errors.Is(err, game.ErrInvalidMove) {
		t.Fatalf("expected ErrInvalidMove, got %v", err)
	}
	if !reflect.DeepEqual(before, m) {
		t.Fatal("rejected move changed the match")
	}
}

func TestMoveExactFinish(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	setTokens(m, "alice", onPath(0, 56))
	mustRoll(t, m, "alice", 2)

	res, err := Move(m, "alice", 0, 2)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	tok := m.Tokens["alice"][0]
	if !tok.IsFinished || tok.Position != board.FinishIndex {
		t.Fatalf("expected finished token at %d, got %+v", board.FinishIndex, tok)
	}
	if !res.Finished {
		t.Fatal("expected result to report finish")
	}
	if got := m.Scores["alice"]; got != 2+FinishBonus {
		t.Fatalf("expected score %d, got %d", 2+FinishBonus, got)
	}
}

func TestMoveNotYourTurn(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	if _, err := Move(m, "bob", 0, 1); !errors.Is(err, game.ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn before roll, got %v", err)
	}
	mustRoll(t, m, "alice", 3)
	if _, err := Move(m, "bob", 0, 3); !errors.Is(err, game.ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn after roll, got %v", err)
	}
	if _, err := Move(m, "mallory", 0, 3); !errors.Is(err, game.ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn for outsider, got %v", err)
	}
}

func TestMoveRequiresMatchingRoll(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	if _, err := Move(m, "alice", 0, 4); !errors.Is(err, game.ErrInvalidMove) {
		t.Fatalf("expected ErrInvalidMove without a roll, got %v", err)
	}
	mustRoll(t, m, "alice", 4)
	if _, err := Move(m, "alice", 0, 6); !errors.Is(err, game.ErrInvalidMove) {
		t.Fatalf("expected ErrInvalidMove for forged dice, got %v", err)
	}
}

func TestMoveTokenNotFound(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	mustRoll(t, m, "alice", 4)
	for _, id := range []int{-1, 4} {
		if _, err := Move(m, "alice", id, 4); !errors.Is(err, game.ErrTokenNotFound) {
			t.Fatalf("token %d: expected ErrTokenNotFound, got %v", id, err)
		}
	}
}

func TestCaptureAndKillJump(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	// alice is red: path 4 -> coordinate 4; bob is green: path 43 -> coordinate 4
	setTokens(m, "alice", onPath(0, 2))
	setTokens(m, "bob", onPath(1, 43))
	mustRoll(t, m, "alice", 2)

	res, err := Move(m, "alice", 0, 2)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(res.Captures) != 1 || res.Captures[0].PlayerID != "bob" || res.Captures[0].TokenID != 1 {
		t.Fatalf("expected bob's token 1 captured, got %+v", res.Captures)
	}
	victim := m.Tokens["bob"][1]
	if !victim.IsHome || victim.Position != 0 {
		t.Fatalf("expected captured token home, got %+v", victim)
	}
	mover := m.Tokens["alice"][0]
	if !mover.IsFinished || mover.Position != board.FinishIndex {
		t.Fatalf("expected kill-jump to finish, got %+v", mover)
	}
	want := 2 + CaptureBonus + FinishBonus
	if m.Scores["alice"] != want {
		t.Fatalf("expected score %d, got %d", want, m.Scores["alice"])
	}
}

func TestNoCaptureOnSafeSpot(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	// coordinate 8 is a star square; green path 47 sits on it
	setTokens(m, "alice", onPath(0, 6))
	setTokens(m, "bob", onPath(0, 47))
	mustRoll(t, m, "alice", 2)

	res, err := Move(m, "alice", 0, 2)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(res.Captures) != 0 {
		t.Fatalf("expected no capture on safe spot, got %+v", res.Captures)
	}
	if m.Tokens["bob"][0].IsHome {
		t.Fatal("token on safe spot was sent home")
	}
	if m.Tokens["alice"][0].Position != 8 {
		t.Fatalf("expected mover at 8, got %d", m.Tokens["alice"][0].Position)
	}
}

func TestHomeEntryNeverCaptures(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	// green path 39 lands on red's start square (coordinate 0)
	setTokens(m, "bob", onPath(2, 39))
	mustRoll(t, m, "alice", 5)

	res, err := Move(m, "alice", 0, 5)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(res.Captures) != 0 || m.Tokens["bob"][2].IsHome {
		t.Fatal("entering on a start square must not capture")
	}
	if tok := m.Tokens["alice"][0]; tok.IsHome || tok.Position != 0 {
		t.Fatalf("expected token at path start, got %+v", tok)
	}
}

func TestOwnTokensAreNotCaptured(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	setTokens(m, "alice", onPath(0, 2), onPath(1, 4))
	mustRoll(t, m, "alice", 2)

	res, err := Move(m, "alice", 0, 2)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(res.Captures) != 0 || m.Tokens["alice"][1].IsHome {
		t.Fatal("own token was captured")
	}
}

func TestExtraTurnOnSix(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	mustRoll(t, m, "alice", 6)
	res, err := Move(m, "alice", 0, 6)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !res.ExtraTurn {
		t.Fatal("expected extra turn")
	}
	if m.CurrentPlayerID != "alice" || m.CurrentTurn != 0 {
		t.Fatalf("expected alice to keep turn 0, got %s turn %d", m.CurrentPlayerID, m.CurrentTurn)
	}
	if m.LastDiceRoll != 0 {
		t.Fatalf("expected roll reset, got %d", m.LastDiceRoll)
	}
}

func TestTurnAdvancesAndWraps(t *testing.T) {
	m := newTestMatch(t, "alice", "bob", "carol")
	for i, want := range []string{"bob", "carol", "alice"} {
		current := m.CurrentPlayerID
		mustRoll(t, m, current, 3)
		if _, err := Move(m, current, 0, 3); err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
		if m.CurrentPlayerID != want {
			t.Fatalf("step %d: expected %s, got %s", i, want, m.CurrentPlayerID)
		}
		if m.CurrentTurn != i+1 {
			t.Fatalf("step %d: expected turn %d, got %d", i, i+1, m.CurrentTurn)
		}
	}
}

func TestWinningMoveAdvancesEvenOnSix(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	setTokens(m, "alice", finished(0), finished(1), finished(2), onPath(3, 52))
	mustRoll(t, m, "alice", 6)

	res, err := Move(m, "alice", 3, 6)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !res.Won {
		t.Fatal("expected win")
	}
	if res.ExtraTurn {
		t.Fatal("a winning six must not grant an extra turn")
	}
	if m.CurrentPlayerID != "bob" || m.CurrentTurn != 1 {
		t.Fatalf("expected bob on turn 1, got %s turn %d", m.CurrentPlayerID, m.CurrentTurn)
	}
}

func TestRollErrors(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	if err := Roll(m, "bob", 3); !errors.Is(err, game.ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	mustRoll(t, m, "alice", 3)
	if err := Roll(m, "alice", 4); !errors.Is(err, game.ErrRollPending) {
		t.Fatalf("expected ErrRollPending, got %v", err)
	}
	if m.Scores["alice"] != 3 {
		t.Fatalf("expected score 3, got %d", m.Scores["alice"])
	}

	waiting, _ := game.NewMatch("m2", game.Tier{Name: "bronze"}, []string{"alice"}, testNow)
	if err := Roll(waiting, "alice", 3); !errors.Is(err, game.ErrMatchNotInProgress) {
		t.Fatalf("expected ErrMatchNotInProgress, got %v", err)
	}
}

func TestPassRejectedWhenMovable(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	if err := Pass(m, "alice"); !errors.Is(err, game.ErrInvalidPass) {
		t.Fatalf("expected ErrInvalidPass without roll, got %v", err)
	}
	mustRoll(t, m, "alice", 2)
	if err := Pass(m, "alice"); !errors.Is(err, game.ErrInvalidPass) {
		t.Fatalf("expected ErrInvalidPass with home tokens, got %v", err)
	}
	if m.LastDiceRoll != 2 || m.CurrentPlayerID != "alice" {
		t.Fatal("rejected pass changed the match")
	}
}

func TestPassWhenNothingMovable(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	setTokens(m, "alice", finished(0), finished(1), finished(2), onPath(3, 57))
	mustRoll(t, m, "alice", 5)

	if err := Pass(m, "alice"); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if m.CurrentPlayerID != "bob" || m.CurrentTurn != 1 || m.LastDiceRoll != 0 {
		t.Fatalf("expected bob on turn 1 with no roll, got %s turn %d roll %d", m.CurrentPlayerID, m.CurrentTurn, m.LastDiceRoll)
	}
}

func TestPassOnSixKeepsTurn(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	setTokens(m, "alice", finished(0), finished(1), finished(2), onPath(3, 55))
	mustRoll(t, m, "alice", 6)

	if err := Pass(m, "alice"); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if m.CurrentPlayerID != "alice" || m.CurrentTurn != 0 {
		t.Fatalf("expected alice to keep turn, got %s turn %d", m.CurrentPlayerID, m.CurrentTurn)
	}
}

func TestSinglePlayerPassKeepsTurnCounter(t *testing.T) {
	m := newTestMatch(t, "solo")
	setTokens(m, "solo", finished(0), finished(1), finished(2), onPath(3, 57))
	mustRoll(t, m, "solo", 4)

	if err := Pass(m, "solo"); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if m.CurrentPlayerID != "solo" || m.CurrentTurn != 0 {
		t.Fatalf("expected solo on turn 0, got %s turn %d", m.CurrentPlayerID, m.CurrentTurn)
	}
}

func TestStart(t *testing.T) {
	m, _ := game.NewMatch("m1", game.Tier{Name: "bronze"}, []string{"alice", "bob"}, testNow)
	if err := Start(m, "mallory", testNow, MatchDuration); !errors.Is(err, game.ErrUnknownPlayer) {
		t.Fatalf("expected ErrUnknownPlayer, got %v", err)
	}
	if err := Start(m, "bob", testNow, MatchDuration); err != nil {
		t.Fatalf("start: %v", err)
	}
	if m.Status != game.StatusInProgress {
		t.Fatalf("expected in progress, got %s", m.Status)
	}
	if !m.ExpectedEndTime.Equal(testNow.Add(10 * time.Minute)) {
		t.Fatalf("unexpected end time %s", m.ExpectedEndTime)
	}
	if err := Start(m, "bob", testNow, MatchDuration); !errors.Is(err, game.ErrMatchNotWaiting) {
		t.Fatalf("expected ErrMatchNotWaiting on second start, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	if Expired(m, testNow.Add(9*time.Minute)) {
		t.Fatal("match expired early")
	}
	if !Expired(m, testNow.Add(10*time.Minute)) {
		t.Fatal("match should expire at its deadline")
	}
}

func TestTimerWinnerTieBreaksBySeat(t *testing.T) {
	m := newTestMatch(t, "alice", "bob", "carol")
	m.Scores = map[string]int{"alice": 10, "bob": 12, "carol": 12}
	if got := TimerWinner(m); got != "bob" {
		t.Fatalf("expected bob, got %s", got)
	}
	m.Scores = map[string]int{"alice": 0, "bob": 0, "carol": 0}
	if got := TimerWinner(m); got != "alice" {
		t.Fatalf("expected alice on all-zero tie, got %s", got)
	}
}

func TestRank(t *testing.T) {
	m := newTestMatch(t, "alice", "bob", "carol", "dave")
	setTokens(m, "carol", finished(0), finished(1))
	setTokens(m, "alice", finished(0))
	setTokens(m, "dave", finished(0))

	ranks := Rank(m, "bob")
	want := []string{"bob", "carol", "alice", "dave"}
	for i, pid := range want {
		if ranks[i].PlayerID != pid || ranks[i].Rank != i+1 {
			t.Fatalf("rank %d: expected %s, got %+v", i+1, pid, ranks[i])
		}
	}
}

func TestConcludeIsIrreversible(t *testing.T) {
	m := newTestMatch(t, "alice", "bob")
	if err := Conclude(m, "bob", testNow); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if m.Status != game.StatusCompleted || m.WinnerID != "bob" {
		t.Fatalf("unexpected state %s winner %s", m.Status, m.WinnerID)
	}
	if err := Conclude(m, "alice", testNow); !errors.Is(err, game.ErrMatchNotInProgress) {
		t.Fatalf("expected ErrMatchNotInProgress, got %v", err)
	}
	if m.WinnerID != "bob" {
		t.Fatal("second conclude changed the winner")
	}
}

func playOpening(t *testing.T) *game.Match {
	m := newTestMatch(t, "p0", "p1")
	mustRoll(t, m, "p0", 4)
	if _, err := Move(m, "p0", 0, 4); err != nil {
		t.Fatalf("move: %v", err)
	}
	return m
}

func TestOpeningSequenceIsDeterministic(t *testing.T) {
	m := playOpening(t)
	if m.Scores["p0"] != 4 || m.Scores["p1"] != 0 {
		t.Fatalf("unexpected scores %v", m.Scores)
	}
	if tok := m.Tokens["p0"][0]; tok.IsHome || tok.Position != 0 {
		t.Fatalf("expected token 0 at path start, got %+v", tok)
	}
	if m.CurrentPlayerID != "p1" || m.CurrentTurn != 1 {
		t.Fatalf("expected p1 on turn 1, got %s turn %d", m.CurrentPlayerID, m.CurrentTurn)
	}
	if again := playOpening(t); !reflect.DeepEqual(m, again) {
		t.Fatal("same dice produced different states")
	}
}
