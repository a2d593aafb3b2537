// Package ladder schedules matches between running bots and folds their
// outcomes into the shared rating and outcome stores.
package ladder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"snake-arena/arena/outcome"
	"snake-arena/arena/rating"
	"snake-arena/arena/referee"
)

var ErrNotEnoughBots = errors.New("not enough bots for a match")

// Referee plays one match. *referee.Referee satisfies it.
type Referee interface {
	Play(ctx context.Context, players []referee.Player) (referee.Outcome, error)
	Warnings() int
}

// Competitor is a bot as the ladder sees it: a name and where to reach it.
type Competitor struct {
	Name      string
	Addresses []string
}

// Match is one completed match, handed to the Persister.
type Match struct {
	ID       uuid.UUID
	Players  []referee.Player
	Outcome  referee.Outcome
	PlayedAt time.Time
}

// Snapshot is the shared state after a mutation. Match is nil for the
// final flush at the end of a run. The maps must not be retained.
type Snapshot struct {
	Match    *Match
	Ratings  rating.Table
	Outcomes outcome.Tracker
}

// Persister stores a Snapshot. It is called with the ladder lock held, so
// calls never overlap.
type Persister interface {
	Persist(ctx context.Context, s Snapshot) error
}

type Config struct {
	PlayersPerMatch int
	TotalMatches    int
	Parallelism     int
	Beta            float64
	Seed            int64 // 0 picks a time-based seed
}

// Stats are the run counters.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
	InFlight  int `json:"in_flight"`
	Warnings  int `json:"warnings"`
}

// Scheduler runs a fixed number of matches on a bounded worker pool. One
// mutex guards ratings, weights, outcomes and counters; it is held for the
// sampling decision and the post-match update, never across Play.
type Scheduler struct {
	cfg     Config
	ref     Referee
	rater   rating.Rater
	persist Persister
	log     *slog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	bots     []Competitor
	ratings  rating.Table
	outcomes outcome.Tracker
	weights  []float64
	turns    []int // per-bot address rotation
	stats    Stats
}

func New(cfg Config, bots []Competitor, ref Referee, rater rating.Rater,
	ratings rating.Table, outcomes outcome.Tracker, persist Persister, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if ratings == nil {
		ratings = rating.Table{}
	}
	if outcomes == nil {
		outcomes = outcome.Tracker{}
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Scheduler{
		cfg:      cfg,
		ref:      ref,
		rater:    rater,
		persist:  persist,
		log:      log.With("component", "ladder"),
		rng:      rand.New(rand.NewSource(seed)),
		bots:     bots,
		ratings:  ratings,
		outcomes: outcomes,
		turns:    make([]int, len(bots)),
	}
	for _, b := range bots {
		s.ratings.GetOrCreate(b.Name, rater)
	}
	s.recomputeWeights()
	return s
}

// recomputeWeights refreshes sampling weights from current sigmas.
// Caller holds mu (or owns s exclusively).
func (s *Scheduler) recomputeWeights() {
	if len(s.weights) != len(s.bots) {
		s.weights = make([]float64, len(s.bots))
	}
	for i, b := range s.bots {
		s.weights[i] = s.ratings.GetOrCreate(b.Name, s.rater).Sigma
	}
}

// Run plays cfg.TotalMatches matches with at most cfg.Parallelism at a time.
// Failed matches are counted and skipped. When ctx is cancelled, matches not
// yet started are counted as cancelled and running ones finish.
func (s *Scheduler) Run(ctx context.Context) (Stats, error) {
	if s.cfg.PlayersPerMatch > len(s.bots) {
		return Stats{}, fmt.Errorf("%w: %d per match, %d available", ErrNotEnoughBots, s.cfg.PlayersPerMatch, len(s.bots))
	}
	if s.cfg.PlayersPerMatch < 2 {
		return Stats{}, fmt.Errorf("%w: players per match is %d", ErrNotEnoughBots, s.cfg.PlayersPerMatch)
	}
	for _, b := range s.bots {
		if len(b.Addresses) == 0 {
			return Stats{}, fmt.Errorf("bot %s has no address", b.Name)
		}
	}

	s.mu.Lock()
	s.stats.Total = s.cfg.TotalMatches
	s.mu.Unlock()

	s.log.Info("ladder starting",
		"matches", s.cfg.TotalMatches,
		"parallelism", s.cfg.Parallelism,
		"players_per_match", s.cfg.PlayersPerMatch,
		"beta", s.cfg.Beta,
		"bots", len(s.bots),
	)

	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for i := 0; i < s.cfg.TotalMatches; i++ {
		if ctx.Err() != nil {
			s.cancel(s.cfg.TotalMatches - i)
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				s.cancel(1)
				return nil
			}
			s.playOne(ctx)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Warnings = s.ref.Warnings()
	var err error
	if s.persist != nil {
		if perr := s.persist.Persist(context.WithoutCancel(ctx), Snapshot{Ratings: s.ratings, Outcomes: s.outcomes}); perr != nil {
			err = fmt.Errorf("final persist: %w", perr)
		}
	}
	st := s.stats
	s.log.Info("ladder finished",
		"completed", st.Completed,
		"cancelled", st.Cancelled,
		"failed", st.Failed,
		"warnings", st.Warnings,
	)
	return st, err
}

func (s *Scheduler) cancel(n int) {
	s.mu.Lock()
	s.stats.Cancelled += n
	s.mu.Unlock()
}

func (s *Scheduler) playOne(ctx context.Context) {
	s.mu.Lock()
	picks := Sample(s.weights, s.cfg.Beta, s.cfg.PlayersPerMatch, s.rng)
	players := make([]referee.Player, len(picks))
	for j, bi := range picks {
		b := s.bots[bi]
		players[j] = referee.Player{Name: b.Name, Address: b.Addresses[s.turns[bi]%len(b.Addresses)]}
		s.turns[bi]++
	}
	s.stats.InFlight++
	s.mu.Unlock()

	id := uuid.New()
	names := playerNames(players)
	log := s.log.With("match", id.String(), "players", names)
	log.Debug("match starting")

	out, err := s.ref.Play(ctx, players)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.InFlight--
	if err != nil {
		s.stats.Failed++
		log.Error("match failed", "error", err)
		return
	}
	if err := s.ratings.Apply(s.rater, names, out.Ranks); err != nil {
		s.stats.Failed++
		log.Error("rating update failed", "error", err)
		return
	}
	s.outcomes.Record(out.WinnerName(players), names)
	s.recomputeWeights()
	s.stats.Completed++

	if s.persist == nil {
		return
	}
	snap := Snapshot{
		Match:    &Match{ID: id, Players: players, Outcome: out, PlayedAt: time.Now().UTC()},
		Ratings:  s.ratings,
		Outcomes: s.outcomes,
	}
	if err := s.persist.Persist(context.WithoutCancel(ctx), snap); err != nil {
		log.Error("persist failed", "error", err)
	}
}

// Stats returns the live counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	if s.ref != nil {
		st.Warnings = s.ref.Warnings()
	}
	return st
}

// Ratings returns a copy of the current rating table.
func (s *Scheduler) Ratings() rating.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratings.Clone()
}

// Outcomes returns a copy of the current outcome tracker.
func (s *Scheduler) Outcomes() outcome.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes.Clone()
}

func playerNames(players []referee.Player) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.Name
	}
	return out
}
