// Package settlement turns a concluded match into payout intents and applies them to the ledger.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ludo/internal/game"
)

// Ledger is the external coin ledger. Both calls must be idempotent per ref.
type Ledger interface {
	Credit(ctx context.Context, ref, playerID string, amount int64, kind game.TransactionKind, description string) error
	UpdatePlayerStats(ctx context.Context, ref, playerID string, won bool, coinsChange int64, ratingChange int) error
}

// MatchStore is the slice of the authoritative store the settler needs.
type MatchStore interface {
	GetMatch(ctx context.Context, id string) (*game.Match, error)
	UpdateMatch(ctx context.Context, m *game.Match) error
	ListMatches(ctx context.Context, status game.Status) ([]*game.Match, error)
}

// Policy holds the economic constants of reward distribution.
type Policy struct {
	WinnerShare decimal.Decimal
	WinRating   int
	LossRating  int
}

// DefaultPolicy pays the winner 75% of collected entry fees.
func DefaultPolicy() Policy {
	return Policy{
		WinnerShare: decimal.NewFromFloat(0.75),
		WinRating:   25,
		LossRating:  -10,
	}
}

// Plan computes the payouts for a completed match, winner first.
// A single-player match always pays the tier's prize pool to its only player.
func Plan(m *game.Match, p Policy) []game.Payout {
	order := m.Rankings
	if len(order) == 0 {
		order = make([]game.Ranking, 0, len(m.PlayerIDs))
		order = append(order, game.Ranking{PlayerID: m.WinnerID, Rank: 1})
		for _, pid := range m.PlayerIDs {
			if pid != m.WinnerID {
				order = append(order, game.Ranking{PlayerID: pid, Rank: len(order) + 1})
			}
		}
	}

	if len(m.PlayerIDs) == 1 {
		return []game.Payout{{
			PlayerID:     m.PlayerIDs[0],
			Rank:         1,
			Kind:         game.KindWin,
			Amount:       m.PrizePool,
			Won:          true,
			RatingChange: p.WinRating,
		}}
	}

	pool := decimal.NewFromInt(m.EntryFee).Mul(decimal.NewFromInt(int64(len(m.PlayerIDs))))
	prize := pool.Mul(p.WinnerShare).Floor().IntPart()

	out := make([]game.Payout, 0, len(order))
	for _, r := range order {
		if r.Rank == 1 {
			out = append(out, game.Payout{
				PlayerID:     r.PlayerID,
				Rank:         1,
				Kind:         game.KindWin,
				Amount:       prize,
				Won:          true,
				RatingChange: p.WinRating,
			})
			continue
		}
		out = append(out, game.Payout{
			PlayerID:     r.PlayerID,
			Rank:         r.Rank,
			Kind:         game.KindLoss,
			Amount:       -m.EntryFee,
			RatingChange: p.LossRating,
		})
	}
	return out
}

// Options tunes a Settler.
type Options struct {
	Timeout        time.Duration // per external call
	LedgerAttempts int           // tries per payout within one Settle call
	StoreAttempts  int           // tries of the audit write on version conflicts
	Now            func() time.Time
}

// Settler applies recorded payouts through the ledger, at most once per player per match.
type Settler struct {
	store  MatchStore
	ledger Ledger
	opts   Options
}

// NewSettler creates a settler. Zero options fall back to sane defaults.
func NewSettler(store MatchStore, ledger Ledger, opts Options) *Settler {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.LedgerAttempts <= 0 {
		opts.LedgerAttempts = 3
	}
	if opts.StoreAttempts <= 0 {
		opts.StoreAttempts = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Settler{store: store, ledger: ledger, opts: opts}
}

// Settle applies every pending payout of a completed match and records the outcome.
// A failing player does not stop the others; the joined failures are returned.
func (s *Settler) Settle(ctx context.Context, matchID string) error {
	for attempt := 1; ; attempt++ {
		m, err := s.get(ctx, matchID)
		if err != nil {
			return err
		}
		if m.Status != game.StatusCompleted {
			return fmt.Errorf("settle %s: %w", matchID, game.ErrMatchNotInProgress)
		}
		if m.Settled {
			return nil
		}

		next := m.Clone()
		var failures []error
		for i := range next.Payouts {
			if next.Payouts[i].Applied {
				continue
			}
			if err := s.apply(ctx, next.ID, &next.Payouts[i]); err != nil {
				failures = append(failures, fmt.Errorf("player %s: %w", next.Payouts[i].PlayerID, err))
			}
		}
		next.Settled = len(failures) == 0

		err = s.update(ctx, next)
		if errors.Is(err, game.ErrConcurrentModification) && attempt < s.opts.StoreAttempts {
			// ledger calls are idempotent, so replaying against the fresh copy is safe
			log.Debug().Str("match_id", matchID).Int("attempt", attempt).Msg("settlement write conflicted, retrying")
			continue
		}
		if err != nil {
			return err
		}
		if len(failures) > 0 {
			return errors.Join(failures...)
		}
		log.Info().Str("match_id", matchID).Int("payouts", len(next.Payouts)).Msg("match settled")
		return nil
	}
}

func (s *Settler) apply(ctx context.Context, matchID string, p *game.Payout) error {
	var err error
	for i := 0; i < s.opts.LedgerAttempts; i++ {
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
		p.Attempts++
		if err = s.applyOnce(ctx, matchID, *p); err == nil {
			p.Applied = true
			p.AppliedAt = s.opts.Now()
			p.LastError = ""
			return nil
		}
		log.Warn().Err(err).
			Str("match_id", matchID).
			Str("player_id", p.PlayerID).
			Int("attempt", p.Attempts).
			Msg("ledger call failed")
	}
	p.LastError = err.Error()
	return err
}

func (s *Settler) applyOnce(ctx context.Context, matchID string, p game.Payout) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	ref := p.Ref(matchID)
	if err := s.ledger.Credit(ctx, ref, p.PlayerID, p.Amount, p.Kind, describe(matchID, p)); err != nil {
		return game.WrapStore("credit", err)
	}
	if err := s.ledger.UpdatePlayerStats(ctx, ref, p.PlayerID, p.Won, p.Amount, p.RatingChange); err != nil {
		return game.WrapStore("player stats", err)
	}
	return nil
}

func describe(matchID string, p game.Payout) string {
	if p.Won {
		return fmt.Sprintf("Won match %s", matchID)
	}
	return fmt.Sprintf("Entry fee for match %s (rank %d)", matchID, p.Rank)
}

// Reconcile settles every completed match that still has pending payouts.
// It returns the ids of the matches that ended fully settled.
func (s *Settler) Reconcile(ctx context.Context) ([]string, error) {
	lctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	matches, err := s.store.ListMatches(lctx, game.StatusCompleted)
	cancel()
	if err != nil {
		return nil, game.WrapStore("list", err)
	}
	var settled []string
	var failures []error
	for _, m := range matches {
		if m.Settled {
			continue
		}
		if err := s.Settle(ctx, m.ID); err != nil {
			failures = append(failures, fmt.Errorf("match %s: %w", m.ID, err))
			continue
		}
		settled = append(settled, m.ID)
	}
	return settled, errors.Join(failures...)
}

func (s *Settler) get(ctx context.Context, id string) (*game.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	m, err := s.store.GetMatch(ctx, id)
	return m, game.WrapStore("get", err)
}

func (s *Settler) update(ctx context.Context, m *game.Match) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return game.WrapStore("update", s.store.UpdateMatch(ctx, m))
}
