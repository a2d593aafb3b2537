package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"snake-arena/arena/bot"
	"snake-arena/arena/config"
	"snake-arena/arena/ladder"
	"snake-arena/arena/outcome"
	"snake-arena/arena/rating"
	"snake-arena/arena/referee"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fakeBot(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(bot.Info{APIVersion: bot.APIVersion})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// lowestNameWins makes the alphabetically first player win every match.
type lowestNameWins struct {
	mu    sync.Mutex
	calls int
}

func (r *lowestNameWins) Play(_ context.Context, players []referee.Player) (referee.Outcome, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	best := 0
	for i, p := range players {
		if p.Name < players[best].Name {
			best = i
		}
	}
	ranks := make([]int, len(players))
	for i := range ranks {
		if i != best {
			ranks[i] = 1
		}
	}
	return referee.Outcome{Turns: 5, Winner: best, Ranks: ranks}, nil
}

func (r *lowestNameWins) Warnings() int { return 0 }

func testConfig(t *testing.T, addrs ...string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{
		Ports:  config.PortRange{From: 40000, To: 40010},
		Rating: config.Rating{Model: config.RatingTrueSkill},
		Ladder: config.Ladder{
			PlayersPerMatch: 2,
			TotalMatches:    6,
			Parallelism:     2,
			Beta:            1,
			RatingsFile:     filepath.Join(dir, "ratings.json"),
			OutcomesFile:    filepath.Join(dir, "winrates.json"),
		},
	}
	for i, a := range addrs {
		c.Bots = append(c.Bots, config.BotSpec{
			Name:          string(rune('a' + i)),
			Kind:          config.KindFixedEndpoint,
			FixedEndpoint: &config.FixedEndpoint{Addresses: []string{a}},
		})
	}
	return c
}

func TestFullRun(t *testing.T) {
	cfg := testConfig(t, fakeBot(t), fakeBot(t), fakeBot(t))
	ref := &lowestNameWins{}
	o, err := New(cfg, Options{Logger: quiet(), Referee: ref, Seed: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := o.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := o.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	for _, b := range o.Bots() {
		if b.State != "up" || len(b.Addresses) < 1 {
			t.Fatalf("bot after up = %+v", b)
		}
	}

	stats, err := o.RunLadder(ctx)
	if err != nil {
		t.Fatalf("RunLadder: %v", err)
	}
	if stats.Completed != 6 || ref.calls != 6 {
		t.Fatalf("stats = %+v, calls = %d", stats, ref.calls)
	}
	live, ok := o.LadderStats()
	if !ok || live.Completed != 6 {
		t.Fatalf("LadderStats = %+v, %v", live, ok)
	}

	o.Down()
	for _, b := range o.Bots() {
		if b.State != "down" || len(b.Addresses) != 0 {
			t.Fatalf("bot after down = %+v", b)
		}
	}

	ratings, err := rating.Load(cfg.Ladder.RatingsFile)
	if err != nil {
		t.Fatalf("load ratings: %v", err)
	}
	if len(ratings) != 3 {
		t.Fatalf("ratings file = %v", ratings)
	}
	outcomes, err := outcome.Load(cfg.Ladder.OutcomesFile)
	if err != nil {
		t.Fatalf("load outcomes: %v", err)
	}
	if outcomes.Wins("b", "a") != 0 {
		t.Fatalf("b should never beat a: %v", outcomes)
	}
	var wins int
	for _, row := range outcomes {
		for _, n := range row {
			wins += n
		}
	}
	if wins != 6 {
		t.Fatalf("outcomes record %d wins, want 6", wins)
	}
}

func TestRunResumesFromFiles(t *testing.T) {
	cfg := testConfig(t, fakeBot(t), fakeBot(t))
	cfg.Ladder.TotalMatches = 0
	seeded := rating.Table{"a": {Mu: 40, Sigma: 2}, "ghost": {Mu: 10, Sigma: 1}}
	if err := rating.Save(seeded, cfg.Ladder.RatingsFile); err != nil {
		t.Fatalf("seed: %v", err)
	}

	o, err := New(cfg, Options{Logger: quiet(), Referee: &lowestNameWins{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	_ = o.Prepare(ctx)
	if err := o.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	defer o.Down()
	if _, err := o.RunLadder(ctx); err != nil {
		t.Fatalf("RunLadder: %v", err)
	}
	got := o.Ratings()
	if got["a"] != seeded["a"] || got["ghost"] != seeded["ghost"] {
		t.Fatalf("stored ratings not kept: %v", got)
	}
	if _, ok := got["b"]; !ok {
		t.Fatalf("new bot b missing from table: %v", got)
	}
}

func TestResetStatsIgnoresFiles(t *testing.T) {
	cfg := testConfig(t, fakeBot(t), fakeBot(t))
	cfg.Ladder.TotalMatches = 0
	if err := rating.Save(rating.Table{"a": {Mu: 40, Sigma: 2}}, cfg.Ladder.RatingsFile); err != nil {
		t.Fatalf("seed: %v", err)
	}
	o, err := New(cfg, Options{Logger: quiet(), Referee: &lowestNameWins{}, ResetStats: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	_ = o.Prepare(ctx)
	if err := o.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	defer o.Down()
	if _, err := o.RunLadder(ctx); err != nil {
		t.Fatalf("RunLadder: %v", err)
	}
	if got := o.Ratings()["a"]; got != rating.NewTrueSkill().Default() {
		t.Fatalf("a = %+v, want fresh default", got)
	}
}

func TestUpTwiceFails(t *testing.T) {
	o, err := New(testConfig(t, fakeBot(t)), Options{Logger: quiet(), Referee: &lowestNameWins{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	_ = o.Prepare(ctx)
	if err := o.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	defer o.Down()
	if err := o.Up(ctx); !errors.Is(err, bot.ErrAlreadyUp) {
		t.Fatalf("second Up = %v, want ErrAlreadyUp", err)
	}
}

func TestUpAfterDownUsesFreshPorts(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cfg := testConfig(t)
	cfg.Bots = []config.BotSpec{{
		Name: "launched",
		Kind: config.KindBinary,
		Binary: &config.Binary{
			WorkingDir: t.TempDir(),
			Run:        config.Run{Command: sleep, Args: []string{"30"}, Copies: 1, Mute: true},
		},
	}}
	o, err := New(cfg, Options{Logger: quiet(), Referee: &lowestNameWins{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := o.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if err := o.Up(ctx); err != nil {
		o.Down()
		t.Fatalf("first Up: %v", err)
	}
	first := o.Bots()[0].Addresses
	o.Down()

	if err := o.Up(ctx); err != nil {
		o.Down()
		t.Fatalf("second Up: %v", err)
	}
	second := o.Bots()[0].Addresses
	o.Down()

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("addresses = %v then %v, want one each", first, second)
	}
	if first[0] != "http://127.0.0.1:40000" || second[0] != "http://127.0.0.1:40001" {
		t.Fatalf("addresses = %v then %v, want ports 40000 then 40001", first, second)
	}
}

func TestUpUnreachableBotIsLivenessError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	o, err := New(testConfig(t, fakeBot(t), dead), Options{Logger: quiet(), Referee: &lowestNameWins{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	_ = o.Prepare(ctx)
	err = o.Up(ctx)
	defer o.Down()
	var le *bot.LivenessError
	if !errors.As(err, &le) || le.Bot != "b" {
		t.Fatalf("Up = %v, want LivenessError for b", err)
	}
}

func TestNotEnoughBots(t *testing.T) {
	cfg := testConfig(t, fakeBot(t))
	o, err := New(cfg, Options{Logger: quiet(), Referee: &lowestNameWins{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	_ = o.Prepare(ctx)
	if err := o.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	defer o.Down()
	if _, err := o.RunLadder(ctx); !errors.Is(err, ladder.ErrNotEnoughBots) {
		t.Fatalf("RunLadder = %v, want ErrNotEnoughBots", err)
	}
}

type failingPersister struct{}

func (failingPersister) Persist(context.Context, ladder.Snapshot) error {
	return errors.New("database gone")
}

func TestPersistersKeepGoing(t *testing.T) {
	dir := t.TempDir()
	fp := filePersister{ratingsPath: filepath.Join(dir, "r.json"), outcomesPath: filepath.Join(dir, "w.json")}
	ps := persisters{failingPersister{}, fp}
	snap := ladder.Snapshot{
		Match:    &ladder.Match{},
		Ratings:  rating.Table{"a": {Mu: 1, Sigma: 1}},
		Outcomes: outcome.Tracker{"a": {"b": 1}},
	}
	err := ps.Persist(context.Background(), snap)
	if err == nil || !strings.Contains(err.Error(), "database gone") {
		t.Fatalf("Persist = %v", err)
	}
	got, err := outcome.Load(fp.outcomesPath)
	if err != nil || got.Wins("a", "b") != 1 {
		t.Fatalf("outcomes not written: %v, %v", got, err)
	}
}
