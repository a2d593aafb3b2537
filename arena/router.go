package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"snake-arena/arena/ladder"
	"snake-arena/arena/orchestrator"
	"snake-arena/arena/outcome"
	"snake-arena/arena/rating"
)

// arenaState is what the status API reads. *orchestrator.Orchestrator
// satisfies it.
type arenaState interface {
	Bots() []orchestrator.BotStatus
	Ratings() rating.Table
	Outcomes() outcome.Tracker
	LadderStats() (ladder.Stats, bool)
}

func Router(st arenaState, model string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Route("/api", func(r chi.Router) {
		// Health
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"ok": true})
		})

		r.Get("/bots", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"bots": st.Bots()})
		})

		// Leaderboard by conservative estimate
		r.Get("/ratings", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{
				"model": model,
				"rows":  st.Ratings().Leaderboard(),
			})
		})

		r.Get("/outcomes", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"competitors": st.Outcomes().Report()})
		})

		r.Get("/ladder", func(w http.ResponseWriter, r *http.Request) {
			stats, running := st.LadderStats()
			writeJSON(w, map[string]any{"started": running, "stats": stats})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
