// Package store mirrors ladder results into Postgres.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"snake-arena/arena/rating"
)

//go:embed schema.sql
var schema embed.FS

type DB struct{ *pgxpool.Pool }

func Open(ctx context.Context, dsn string) (*DB, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{p}, nil
}

func (db *DB) Close()                         { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func Migrate(ctx context.Context, db *DB) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, string(sqlBytes))
	return err
}

/* -----------------------------
   Write helpers
------------------------------*/

// UpsertBot registers a bot and returns its id.
func (db *DB) UpsertBot(ctx context.Context, name, kind string) (int64, error) {
	var id int64
	err := db.QueryRow(ctx, `
        INSERT INTO bots(name, kind)
        VALUES ($1,$2)
        ON CONFLICT (name) DO UPDATE
          SET kind = EXCLUDED.kind
        RETURNING id
    `, name, kind).Scan(&id)
	return id, err
}

// BotIDs resolves names to ids, creating unknown bots with kind "unknown".
func (db *DB) BotIDs(ctx context.Context, names []string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	for _, n := range names {
		var id int64
		err := db.QueryRow(ctx, `SELECT id FROM bots WHERE name = $1`, n).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			id, err = db.UpsertBot(ctx, n, "unknown")
		}
		if err != nil {
			return nil, fmt.Errorf("bot %s: %w", n, err)
		}
		out[n] = id
	}
	return out, nil
}

// GetRating returns the stored rating of a bot under model.
func (db *DB) GetRating(ctx context.Context, botID int64, model string) (rating.Rating, bool, error) {
	var r rating.Rating
	err := db.QueryRow(ctx, `
		SELECT mu, sigma, volatility
		  FROM bot_ratings WHERE bot_id = $1 AND model = $2
	`, botID, model).Scan(&r.Mu, &r.Sigma, &r.Volatility)
	if errors.Is(err, pgx.ErrNoRows) {
		return rating.Rating{}, false, nil
	}
	if err != nil {
		return rating.Rating{}, false, err
	}
	return r, true, nil
}

// Participant is one seat of a recorded match.
type Participant struct {
	Name    string
	Address string
	Rank    int
	After   rating.Rating
}

// MatchRow is one completed match.
type MatchRow struct {
	ID       uuid.UUID
	RunID    uuid.UUID
	Turns    int
	Draw     bool
	PlayedAt time.Time
	Players  []Participant
}

// RecordMatch inserts a match with its participants and bumps each
// participant's rating row, atomically.
func (db *DB) RecordMatch(ctx context.Context, model string, m MatchRow) error {
	names := make([]string, len(m.Players))
	for i, p := range m.Players {
		names[i] = p.Name
	}
	ids, err := db.BotIDs(ctx, names)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // safe if already committed

	if _, err := tx.Exec(ctx, `
		INSERT INTO matches(id, run_id, turns, draw, played_at)
		VALUES ($1,$2,$3,$4,$5)
	`, m.ID, m.RunID, m.Turns, m.Draw, m.PlayedAt); err != nil {
		return err
	}
	for seat, p := range m.Players {
		if _, err := tx.Exec(ctx, `
            INSERT INTO match_participants(
                match_id, seat, bot_id, address, rank, mu_after, sigma_after
            ) VALUES ($1,$2,$3,$4,$5,$6,$7)
        `, m.ID, seat, ids[p.Name], p.Address, p.Rank, p.After.Mu, p.After.Sigma); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
            INSERT INTO bot_ratings(bot_id, model, mu, sigma, volatility, matches)
            VALUES ($1,$2,$3,$4,$5,1)
            ON CONFLICT (bot_id, model) DO UPDATE
              SET mu = EXCLUDED.mu,
                  sigma = EXCLUDED.sigma,
                  volatility = EXCLUDED.volatility,
                  matches = bot_ratings.matches + 1,
                  updated_at = now()
        `, ids[p.Name], model, p.After.Mu, p.After.Sigma, p.After.Volatility); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// SaveRatings writes the whole table without touching match counters.
func (db *DB) SaveRatings(ctx context.Context, model string, t rating.Table) error {
	names := make([]string, 0, len(t))
	for n := range t {
		names = append(names, n)
	}
	ids, err := db.BotIDs(ctx, names)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for n, r := range t {
		batch.Queue(`
            INSERT INTO bot_ratings(bot_id, model, mu, sigma, volatility)
            VALUES ($1,$2,$3,$4,$5)
            ON CONFLICT (bot_id, model) DO UPDATE
              SET mu = EXCLUDED.mu,
                  sigma = EXCLUDED.sigma,
                  volatility = EXCLUDED.volatility,
                  updated_at = now()
        `, ids[n], model, r.Mu, r.Sigma, r.Volatility)
	}
	return db.SendBatch(ctx, batch).Close()
}

// ResetRatings drops every stored rating for model.
func (db *DB) ResetRatings(ctx context.Context, model string) error {
	_, err := db.Exec(ctx, `DELETE FROM bot_ratings WHERE model = $1`, model)
	return err
}
