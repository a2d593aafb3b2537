package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"snake-arena/arena/ladder"
	"snake-arena/arena/outcome"
	"snake-arena/arena/rating"
	"snake-arena/arena/store"
)

// filePersister rewrites the ratings and outcomes files after every match.
type filePersister struct {
	ratingsPath  string
	outcomesPath string
}

func (p filePersister) Persist(_ context.Context, s ladder.Snapshot) error {
	if err := rating.Save(s.Ratings, p.ratingsPath); err != nil {
		return fmt.Errorf("save ratings: %w", err)
	}
	// The final flush only rewrites ratings.
	if s.Match == nil {
		return nil
	}
	if err := outcome.Save(s.Outcomes, p.outcomesPath); err != nil {
		return fmt.Errorf("save outcomes: %w", err)
	}
	return nil
}

// mirrorTimeout bounds one mirror write. Persisters run while the ladder
// holds its lock.
const mirrorTimeout = 10 * time.Second

// dbMirror copies every match and the final rating table into Postgres.
type dbMirror struct {
	db      *store.DB
	model   string
	runID   uuid.UUID
	timeout time.Duration // zero means mirrorTimeout
}

func (m dbMirror) Persist(ctx context.Context, s ladder.Snapshot) error {
	timeout := m.timeout
	if timeout <= 0 {
		timeout = mirrorTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.Match == nil {
		return m.db.SaveRatings(ctx, m.model, s.Ratings)
	}
	row := store.MatchRow{
		ID:       s.Match.ID,
		RunID:    m.runID,
		Turns:    s.Match.Outcome.Turns,
		Draw:     s.Match.Outcome.Draw,
		PlayedAt: s.Match.PlayedAt,
		Players:  make([]store.Participant, len(s.Match.Players)),
	}
	for i, p := range s.Match.Players {
		row.Players[i] = store.Participant{
			Name:    p.Name,
			Address: p.Address,
			Rank:    s.Match.Outcome.Ranks[i],
			After:   s.Ratings[p.Name],
		}
	}
	return m.db.RecordMatch(ctx, m.model, row)
}

// persisters runs every persister and joins their errors, so a broken
// mirror never stops the files from being written.
type persisters []ladder.Persister

func (ps persisters) Persist(ctx context.Context, s ladder.Snapshot) error {
	var errs []error
	for _, p := range ps {
		if err := p.Persist(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
