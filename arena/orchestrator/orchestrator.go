// Package orchestrator owns one arena run: it provisions the rules engine and
// every bot, runs the ladder against them and tears everything down.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"snake-arena/arena/bot"
	"snake-arena/arena/config"
	"snake-arena/arena/ladder"
	"snake-arena/arena/objstore"
	"snake-arena/arena/outcome"
	"snake-arena/arena/rating"
	"snake-arena/arena/referee"
	"snake-arena/arena/store"
)

type Options struct {
	Logger         *slog.Logger
	Stdout, Stderr io.Writer
	// DB mirrors bots, matches and ratings when set.
	DB *store.DB
	// Snapshots receives the end-of-run result files when set.
	Snapshots *objstore.Snapshotter
	RunID     uuid.UUID
	// ResetStats starts from empty ratings and outcomes instead of the files.
	ResetStats bool
	Seed       int64
	// Referee replaces the rules engine; Prepare then skips the engine build.
	Referee ladder.Referee
}

// BotStatus is a bot as reported by the status API.
type BotStatus struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	State     string   `json:"state"`
	Addresses []string `json:"addresses"`
}

type Orchestrator struct {
	cfg   *config.Config
	log   *slog.Logger
	sup   *bot.Supervisor
	ports *bot.Ports // shared by every Up, so a port is never handed out twice
	bots  []bot.Provider
	rater rating.Rater

	engine *referee.Referee // nil when a Referee was injected
	ref    ladder.Referee

	db         *store.DB
	snaps      *objstore.Snapshotter
	runID      uuid.UUID
	resetStats bool
	seed       int64

	mu     sync.Mutex
	up     bool
	sched  *ladder.Scheduler
	status []BotStatus // refreshed after each lifecycle step, read by Bots
}

func New(cfg *config.Config, opts Options) (*Orchestrator, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}

	rater, err := rating.NewRater(cfg.Rating.Model)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:        cfg,
		log:        log.With("run", opts.RunID.String()),
		sup:        bot.NewSupervisor(log),
		ports:      bot.NewPorts(cfg.Ports),
		rater:      rater,
		ref:        opts.Referee,
		db:         opts.DB,
		snaps:      opts.Snapshots,
		runID:      opts.RunID,
		resetStats: opts.ResetStats,
		seed:       opts.Seed,
	}
	if o.ref == nil {
		eng, err := referee.New(cfg.Rules, cfg.Ladder.MatchTimeout, log)
		if err != nil {
			return nil, err
		}
		o.engine, o.ref = eng, eng
	}

	bopts := bot.Options{Logger: log, Supervisor: o.sup, Stdout: opts.Stdout, Stderr: opts.Stderr}
	for _, spec := range cfg.Bots {
		p, err := bot.New(spec, bopts)
		if err != nil {
			return nil, err
		}
		o.bots = append(o.bots, p)
	}
	o.status = make([]BotStatus, len(o.bots))
	for i := range o.bots {
		o.refresh(i)
	}
	return o, nil
}

func (o *Orchestrator) RunID() uuid.UUID { return o.runID }

// Prepare builds the rules engine and every bot. The first failure aborts.
func (o *Orchestrator) Prepare(ctx context.Context) error {
	if o.engine != nil {
		if err := o.engine.Prepare(ctx); err != nil {
			return err
		}
	}
	for i, b := range o.bots {
		o.log.Info("preparing bot", "bot", b.Name(), "kind", b.Kind())
		err := b.Prepare(ctx)
		o.refresh(i)
		if err != nil {
			return err
		}
	}
	return nil
}

// Up brings every bot up in order, drawing ports from the range shared by
// the orchestrator's whole lifetime. Ports used before a Down are not
// handed out again. Callers must call Down even when Up fails.
func (o *Orchestrator) Up(ctx context.Context) error {
	o.mu.Lock()
	if o.up {
		o.mu.Unlock()
		return bot.ErrAlreadyUp
	}
	o.up = true
	o.mu.Unlock()

	for i, b := range o.bots {
		err := b.Up(ctx, o.ports, 0)
		o.refresh(i)
		if err != nil {
			return err
		}
		addrs := b.Addresses()
		if len(addrs) == 0 {
			return &bot.LivenessError{Bot: b.Name(), Err: errors.New("no address after up")}
		}
		o.log.Info("bot up", "bot", b.Name(), "addresses", addrs)
	}

	if o.db != nil {
		for _, b := range o.bots {
			if _, err := o.db.UpsertBot(ctx, b.Name(), string(b.Kind())); err != nil {
				o.log.Warn("register bot in database", "bot", b.Name(), "error", err)
			}
		}
	}
	return nil
}

// Down tears down every bot, then reaps anything still tracked.
func (o *Orchestrator) Down() {
	for i, b := range o.bots {
		b.Down()
		o.refresh(i)
	}
	o.sup.Shutdown()
	o.mu.Lock()
	o.up = false
	o.mu.Unlock()
}

// RunLadder plays the configured number of matches and returns the counters.
func (o *Orchestrator) RunLadder(ctx context.Context) (ladder.Stats, error) {
	l := o.cfg.Ladder

	ratings, outcomes := rating.Table{}, outcome.Tracker{}
	if !o.resetStats {
		var err error
		if ratings, err = rating.Load(l.RatingsFile); err != nil {
			return ladder.Stats{}, fmt.Errorf("load ratings: %w", err)
		}
		if outcomes, err = outcome.Load(l.OutcomesFile); err != nil {
			return ladder.Stats{}, fmt.Errorf("load outcomes: %w", err)
		}
	} else {
		o.log.Info("starting from a clean slate")
		if o.db != nil {
			if err := o.db.ResetRatings(ctx, o.rater.Name()); err != nil {
				o.log.Warn("reset database ratings", "error", err)
			}
		}
	}

	comps := make([]ladder.Competitor, len(o.bots))
	for i, b := range o.bots {
		comps[i] = ladder.Competitor{Name: b.Name(), Addresses: b.Addresses()}
	}

	ps := persisters{filePersister{ratingsPath: l.RatingsFile, outcomesPath: l.OutcomesFile}}
	if o.db != nil {
		ps = append(ps, dbMirror{db: o.db, model: o.rater.Name(), runID: o.runID})
	}

	sched := ladder.New(ladder.Config{
		PlayersPerMatch: l.PlayersPerMatch,
		TotalMatches:    l.TotalMatches,
		Parallelism:     l.Parallelism,
		Beta:            l.Beta,
		Seed:            o.seed,
	}, comps, o.ref, o.rater, ratings, outcomes, ps, o.log)

	o.mu.Lock()
	o.sched = sched
	o.mu.Unlock()

	stats, err := sched.Run(ctx)
	if err != nil {
		return stats, err
	}
	o.snapshot(ctx, stats)
	return stats, nil
}

func (o *Orchestrator) snapshot(ctx context.Context, stats ladder.Stats) {
	if o.snaps == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	docs := []struct {
		name string
		v    any
	}{
		{objstore.RatingsObject, o.Ratings()},
		{objstore.OutcomesObject, o.Outcomes()},
		{objstore.SummaryObject, map[string]any{
			"run_id": o.runID,
			"model":  o.rater.Name(),
			"stats":  stats,
		}},
	}
	for _, d := range docs {
		key, err := o.snaps.Put(ctx, d.name, d.v)
		if err != nil {
			o.log.Warn("upload snapshot", "object", d.name, "error", err)
			continue
		}
		o.log.Info("uploaded snapshot", "key", key)
	}
}

// refresh records bot i's status. Providers are only touched by the
// lifecycle goroutine; readers go through the copy.
func (o *Orchestrator) refresh(i int) {
	b := o.bots[i]
	st := BotStatus{
		Name:      b.Name(),
		Kind:      string(b.Kind()),
		State:     b.State().String(),
		Addresses: b.Addresses(),
	}
	o.mu.Lock()
	o.status[i] = st
	o.mu.Unlock()
}

// Bots reports every configured bot.
func (o *Orchestrator) Bots() []BotStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]BotStatus, len(o.status))
	copy(out, o.status)
	return out
}

// Ratings is the live table while a ladder runs, else the ratings file.
func (o *Orchestrator) Ratings() rating.Table {
	o.mu.Lock()
	sched := o.sched
	o.mu.Unlock()
	if sched != nil {
		return sched.Ratings()
	}
	t, err := rating.Load(o.cfg.Ladder.RatingsFile)
	if err != nil {
		o.log.Warn("load ratings", "error", err)
		return rating.Table{}
	}
	return t
}

func (o *Orchestrator) Outcomes() outcome.Tracker {
	o.mu.Lock()
	sched := o.sched
	o.mu.Unlock()
	if sched != nil {
		return sched.Outcomes()
	}
	t, err := outcome.Load(o.cfg.Ladder.OutcomesFile)
	if err != nil {
		o.log.Warn("load outcomes", "error", err)
		return outcome.Tracker{}
	}
	return t
}

// LadderStats returns the live counters and whether a ladder has started.
func (o *Orchestrator) LadderStats() (ladder.Stats, bool) {
	o.mu.Lock()
	sched := o.sched
	o.mu.Unlock()
	if sched == nil {
		return ladder.Stats{}, false
	}
	return sched.Stats(), true
}
