// Package engine runs turn and lifecycle operations against the authoritative store.
//
// Every operation reads the match, applies the rules to a clone and writes it back
// conditionally on the version it read. A lost race is retried a bounded number of
// times; validation errors are returned without writing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ludo/internal/game"
	"ludo/internal/game/ludo"
	"ludo/internal/settlement"
)

// Store is the authoritative match store.
type Store interface {
	settlement.MatchStore
	CreateMatch(ctx context.Context, m *game.Match) error
}

// Mirror receives every successfully written match. It is never read back.
// Ensure reports whether it had to create the mirror.
type Mirror interface {
	Ensure(matchID string) bool
	Publish(m *game.Match)
}

// Archiver keeps the final document of a concluded match.
type Archiver interface {
	Archive(ctx context.Context, m *game.Match) error
}

// Options configures a Service. Store and Tiers are required.
type Options struct {
	Store    Store
	Tiers    *game.Registry
	Settler  *settlement.Settler // nil leaves payouts recorded but unapplied
	Mirror   Mirror
	Archiver Archiver
	Dice     Dice
	Now      func() time.Time
	Policy   *settlement.Policy

	MatchDuration time.Duration
	StoreTimeout  time.Duration
	MaxAttempts   int
}

// Service is the turn engine and match lifecycle.
type Service struct {
	store    Store
	tiers    *game.Registry
	settler  *settlement.Settler
	mirror   Mirror
	archiver Archiver
	dice     Dice
	now      func() time.Time
	policy   settlement.Policy

	matchDuration time.Duration
	storeTimeout  time.Duration
	maxAttempts   int
}

type noMirror struct{}

func (noMirror) Ensure(string) bool  { return false }
func (noMirror) Publish(*game.Match) {}

// New creates a Service, filling unset options with defaults.
func New(opts Options) *Service {
	s := &Service{
		store:         opts.Store,
		tiers:         opts.Tiers,
		settler:       opts.Settler,
		mirror:        opts.Mirror,
		archiver:      opts.Archiver,
		dice:          opts.Dice,
		now:           opts.Now,
		matchDuration: opts.MatchDuration,
		storeTimeout:  opts.StoreTimeout,
		maxAttempts:   opts.MaxAttempts,
	}
	if s.mirror == nil {
		s.mirror = noMirror{}
	}
	if s.dice == nil {
		s.dice = CryptoDice{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Policy != nil {
		s.policy = *opts.Policy
	} else {
		s.policy = settlement.DefaultPolicy()
	}
	if s.matchDuration <= 0 {
		s.matchDuration = ludo.MatchDuration
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = 5 * time.Second
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 3
	}
	if s.tiers == nil {
		s.tiers = game.NewRegistry()
	}
	return s
}

// Tiers lists the configured tiers.
func (s *Service) Tiers() []game.Tier {
	return s.tiers.List()
}

// CreateMatch seats playerIDs in a new waiting match of the named tier.
func (s *Service) CreateMatch(ctx context.Context, tierName string, playerIDs []string) (*game.Match, error) {
	tier, ok := s.tiers.Get(tierName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown tier %q", game.ErrInvalidMatch, tierName)
	}
	m, err := game.NewMatch(uuid.NewString(), tier, playerIDs, s.now().UTC())
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.CreateMatch(cctx, m); err != nil {
		return nil, game.WrapStore("create", err)
	}
	log.Info().Str("match_id", m.ID).Str("tier", tier.Name).Strs("players", m.PlayerIDs).Msg("match created")
	return m, nil
}

// GetMatch reads the authoritative match.
func (s *Service) GetMatch(ctx context.Context, id string) (*game.Match, error) {
	return s.get(ctx, id)
}

// StartMatch moves a waiting match into play. Starting a match already in
// progress succeeds without a write and re-ensures its mirror.
func (s *Service) StartMatch(ctx context.Context, id, hostID string) (*game.Match, error) {
	m, changed, err := s.mutate(ctx, id, func(m *game.Match) error {
		if !m.HasPlayer(hostID) {
			return game.ErrUnknownPlayer
		}
		switch m.Status {
		case game.StatusInProgress:
			return errUnchanged
		case game.StatusCompleted:
			return game.ErrMatchNotInProgress
		}
		return ludo.Start(m, hostID, s.now().UTC(), s.matchDuration)
	})
	if err != nil {
		return nil, err
	}
	if s.mirror.Ensure(m.ID) {
		log.Debug().Str("match_id", m.ID).Msg("mirror created")
	}
	s.mirror.Publish(m)
	if changed {
		log.Info().Str("match_id", m.ID).Str("player_id", hostID).Time("ends", m.ExpectedEndTime).Msg("match started")
	}
	return m, nil
}

// RollDice draws a roll for the current player.
func (s *Service) RollDice(ctx context.Context, id, playerID string) (int, error) {
	value, err := s.dice.Roll()
	if err != nil {
		return 0, err
	}
	_, err = s.play(ctx, id, func(m *game.Match) error {
		return ludo.Roll(m, playerID, value)
	})
	if err != nil {
		return 0, err
	}
	log.Debug().Str("match_id", id).Str("player_id", playerID).Int("dice", value).Msg("dice rolled")
	return value, nil
}

// MoveToken moves one of the player's tokens by the pending roll.
// A winning move concludes the match in the same write.
func (s *Service) MoveToken(ctx context.Context, id, playerID string, tokenID, dice int) (ludo.MoveResult, error) {
	var res ludo.MoveResult
	_, err := s.play(ctx, id, func(m *game.Match) error {
		var err error
		res, err = ludo.Move(m, playerID, tokenID, dice)
		if err != nil {
			return err
		}
		if res.Won {
			return s.conclude(m, playerID)
		}
		return nil
	})
	if err != nil {
		return ludo.MoveResult{}, err
	}
	lvl := zerolog.DebugLevel
	if len(res.Captures) > 0 {
		lvl = zerolog.InfoLevel
	}
	log.WithLevel(lvl).Str("match_id", id).Str("player_id", playerID).Int("token", tokenID).Int("position", res.Token.Position).Int("captures", len(res.Captures)).Msg("token moved")
	return res, nil
}

// ConsumeRoll passes a roll that has no legal move.
func (s *Service) ConsumeRoll(ctx context.Context, id, playerID string) error {
	_, err := s.play(ctx, id, func(m *game.Match) error {
		return ludo.Pass(m, playerID)
	})
	return err
}

// CheckMatchTimer concludes an in-progress match whose deadline has passed,
// awarding it to the highest score. It is a no-op otherwise.
func (s *Service) CheckMatchTimer(ctx context.Context, id, playerID string) (*game.Match, error) {
	m, changed, err := s.mutate(ctx, id, func(m *game.Match) error {
		if !ludo.Expired(m, s.now()) {
			return errUnchanged
		}
		return s.conclude(m, ludo.TimerWinner(m))
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return m, nil
	}
	log.Info().Str("match_id", id).Str("player_id", playerID).Msg("match timer expired")
	return s.concluded(ctx, m), nil
}

// Reconcile retries payouts of completed matches that are not fully settled.
// Every match it settles is archived and published again in its settled form.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	if s.settler == nil {
		return 0, nil
	}
	ids, err := s.settler.Reconcile(ctx)
	for _, id := range ids {
		m, gerr := s.get(ctx, id)
		if gerr != nil {
			err = errors.Join(err, fmt.Errorf("match %s: %w", id, gerr))
			continue
		}
		s.finalize(ctx, m)
	}
	return len(ids), err
}

// ReconcileLoop runs Reconcile periodically until ctx is done.
func (s *Service) ReconcileLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Reconcile(ctx)
			if err != nil {
				log.Error().Err(err).Int("settled", n).Msg("reconcile")
				continue
			}
			if n > 0 {
				log.Info().Int("settled", n).Msg("reconciled pending payouts")
			}
		}
	}
}

// play runs a turn operation. An expired match is concluded by the timer
// instead, and the caller gets ErrMatchNotInProgress.
func (s *Service) play(ctx context.Context, id string, fn func(m *game.Match) error) (*game.Match, error) {
	var expired bool
	m, _, err := s.mutate(ctx, id, func(m *game.Match) error {
		expired = false
		if ludo.Expired(m, s.now()) {
			expired = true
			return s.conclude(m, ludo.TimerWinner(m))
		}
		return fn(m)
	})
	if err != nil {
		return nil, err
	}
	if expired {
		log.Info().Str("match_id", id).Msg("match timer expired")
		s.concluded(ctx, m)
		return nil, game.ErrMatchNotInProgress
	}
	if m.Status == game.StatusCompleted {
		return s.concluded(ctx, m), nil
	}
	s.mirror.Publish(m)
	return m, nil
}

// conclude completes m and records the payout intents in the same document.
func (s *Service) conclude(m *game.Match, winnerID string) error {
	if err := ludo.Conclude(m, winnerID, s.now().UTC()); err != nil {
		return err
	}
	m.Payouts = settlement.Plan(m, s.policy)
	return nil
}

// concluded runs the follow-ups of a written conclusion. Failures are logged;
// unapplied payouts stay on the match for Reconcile.
func (s *Service) concluded(ctx context.Context, m *game.Match) *game.Match {
	log.Info().Str("match_id", m.ID).Str("winner", m.WinnerID).Msg("match completed")
	s.mirror.Publish(m)

	// the outcome is already durable; a client going away must not abort the follow-ups
	ctx = context.WithoutCancel(ctx)
	if s.settler != nil {
		if err := s.settler.Settle(ctx, m.ID); err != nil {
			log.Error().Err(err).Str("match_id", m.ID).Msg("settlement incomplete")
		}
		if latest, err := s.get(ctx, m.ID); err == nil {
			m = latest
		}
	}
	s.finalize(ctx, m)
	return m
}

// finalize archives the latest copy of a completed match and publishes it.
func (s *Service) finalize(ctx context.Context, m *game.Match) {
	if s.archiver != nil {
		actx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		if err := s.archiver.Archive(actx, m); err != nil {
			log.Error().Err(err).Str("match_id", m.ID).Msg("archive failed")
		}
		cancel()
	}
	s.mirror.Publish(m)
}

var errUnchanged = errors.New("unchanged")

// mutate applies fn to a fresh clone and writes it back. fn returning
// errUnchanged skips the write. Version conflicts are retried up to maxAttempts.
func (s *Service) mutate(ctx context.Context, id string, fn func(m *game.Match) error) (*game.Match, bool, error) {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var cur *game.Match
		cur, err = s.get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		next := cur.Clone()
		if ferr := fn(next); ferr != nil {
			if errors.Is(ferr, errUnchanged) {
				return cur, false, nil
			}
			return nil, false, ferr
		}
		err = s.update(ctx, next)
		if err == nil {
			return next, true, nil
		}
		if !errors.Is(err, game.ErrConcurrentModification) {
			return nil, false, err
		}
		log.Debug().Str("match_id", id).Int("attempt", attempt).Msg("version conflict")
	}
	log.Warn().Str("match_id", id).Int("attempts", s.maxAttempts).Msg("giving up after version conflicts")
	return nil, false, err
}

func (s *Service) get(ctx context.Context, id string) (*game.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	m, err := s.store.GetMatch(ctx, id)
	return m, game.WrapStore("get", err)
}

func (s *Service) update(ctx context.Context, m *game.Match) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return game.WrapStore("update", s.store.UpdateMatch(ctx, m))
}
