package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ludo/internal/game"
)

// Transaction is one append-only ledger entry.
type Transaction struct {
	ID          string               `json:"id"`
	Ref         string               `json:"ref"`
	PlayerID    string               `json:"playerId"`
	Amount      int64                `json:"amount"`
	Kind        game.TransactionKind `json:"kind"`
	Description string               `json:"description"`
	CreatedAt   time.Time            `json:"createdAt"`
}

// PlayerStats aggregates a player's settled results.
type PlayerStats struct {
	PlayerID    string `json:"playerId"`
	GamesPlayed int    `json:"gamesPlayed"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	NetCoins    int64  `json:"netCoins"`
	Rating      int    `json:"rating"`
}

// Credit appends a transaction and adjusts the wallet. A repeated ref is a no-op.
func (s *Store) Credit(ctx context.Context, ref, playerID string, amount int64, kind game.TransactionKind, description string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, ref, player_id, amount, kind, description)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(ref) DO NOTHING
		`, uuid.NewString(), ref, playerID, amount, string(kind), description)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallets (player_id, coins) VALUES (?, ?)
			ON CONFLICT(player_id) DO UPDATE SET coins = coins + excluded.coins
		`, playerID, amount)
		return err
	})
}

// UpdatePlayerStats folds one match result into the player's stats. A repeated ref is a no-op.
func (s *Store) UpdatePlayerStats(ctx context.Context, ref, playerID string, won bool, coinsChange int64, ratingChange int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO stat_updates (ref, player_id) VALUES (?, ?)
			ON CONFLICT(ref) DO NOTHING
		`, ref, playerID)
		if err != nil {
			return fmt.Errorf("insert stat update: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		wins, losses := 0, 1
		if won {
			wins, losses = 1, 0
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO player_stats (player_id, games_played, wins, losses, net_coins, rating)
			VALUES (?, 1, ?, ?, ?, ?)
			ON CONFLICT(player_id) DO UPDATE SET
				games_played = games_played + 1,
				wins = wins + excluded.wins,
				losses = losses + excluded.losses,
				net_coins = net_coins + excluded.net_coins,
				rating = rating + excluded.rating
		`, playerID, wins, losses, coinsChange, ratingChange)
		return err
	})
}

// Balance returns the player's coin balance (0 for unknown players).
func (s *Store) Balance(ctx context.Context, playerID string) (int64, error) {
	var coins int64
	err := s.db.QueryRowContext(ctx, "SELECT coins FROM wallets WHERE player_id = ?", playerID).Scan(&coins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return coins, err
}

// Transactions lists a player's ledger entries, oldest first.
func (s *Store) Transactions(ctx context.Context, playerID string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ref, player_id, amount, kind, description, created_at
		FROM transactions WHERE player_id = ? ORDER BY created_at, rowid
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var tr Transaction
		var kind string
		if err := rows.Scan(&tr.ID, &tr.Ref, &tr.PlayerID, &tr.Amount, &kind, &tr.Description, &tr.CreatedAt); err != nil {
			return nil, err
		}
		tr.Kind = game.TransactionKind(kind)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Stats returns the player's aggregate stats (zero value for unknown players).
func (s *Store) Stats(ctx context.Context, playerID string) (PlayerStats, error) {
	st := PlayerStats{PlayerID: playerID}
	err := s.db.QueryRowContext(ctx, `
		SELECT games_played, wins, losses, net_coins, rating FROM player_stats WHERE player_id = ?
	`, playerID).Scan(&st.GamesPlayed, &st.Wins, &st.Losses, &st.NetCoins, &st.Rating)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	return st, err
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
