package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"snake-arena/arena/ladder"
	"snake-arena/arena/orchestrator"
	"snake-arena/arena/outcome"
	"snake-arena/arena/rating"
)

type staticState struct {
	bots     []orchestrator.BotStatus
	ratings  rating.Table
	outcomes outcome.Tracker
	stats    ladder.Stats
	started  bool
}

func (s staticState) Bots() []orchestrator.BotStatus    { return s.bots }
func (s staticState) Ratings() rating.Table             { return s.ratings }
func (s staticState) Outcomes() outcome.Tracker         { return s.outcomes }
func (s staticState) LadderStats() (ladder.Stats, bool) { return s.stats, s.started }

func get(t *testing.T, h http.Handler, path string, into any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s = %d", path, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("GET %s content type %q", path, ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("GET %s: decode: %v", path, err)
	}
}

func TestRouter(t *testing.T) {
	st := staticState{
		bots: []orchestrator.BotStatus{{Name: "main", Kind: "binary", State: "up", Addresses: []string{"http://127.0.0.1:8100"}}},
		ratings: rating.Table{
			"steady": {Mu: 27, Sigma: 1},
			"wild":   {Mu: 30, Sigma: 8},
		},
		outcomes: outcome.Tracker{"steady": {"wild": 3}},
		stats:    ladder.Stats{Total: 10, Completed: 4, Failed: 1},
		started:  true,
	}
	h := Router(st, "trueskill")

	var health struct{ OK bool }
	get(t, h, "/api/health", &health)
	if !health.OK {
		t.Fatalf("health not ok")
	}

	var bots struct{ Bots []orchestrator.BotStatus }
	get(t, h, "/api/bots", &bots)
	if len(bots.Bots) != 1 || bots.Bots[0].Addresses[0] != "http://127.0.0.1:8100" {
		t.Fatalf("bots = %+v", bots)
	}

	var ratings struct {
		Model string
		Rows  []rating.Entry
	}
	get(t, h, "/api/ratings", &ratings)
	if ratings.Model != "trueskill" || len(ratings.Rows) != 2 || ratings.Rows[0].Name != "steady" {
		t.Fatalf("ratings = %+v", ratings)
	}

	var outcomes struct{ Competitors []outcome.Competitor }
	get(t, h, "/api/outcomes", &outcomes)
	if len(outcomes.Competitors) != 2 || outcomes.Competitors[0].Name != "steady" {
		t.Fatalf("outcomes = %+v", outcomes)
	}

	var lad struct {
		Started bool
		Stats   ladder.Stats
	}
	get(t, h, "/api/ladder", &lad)
	if !lad.Started || lad.Stats.Completed != 4 || lad.Stats.Failed != 1 {
		t.Fatalf("ladder = %+v", lad)
	}
}

func TestRouterUnknownPath(t *testing.T) {
	rec := httptest.NewRecorder()
	Router(staticState{}, "trueskill").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
