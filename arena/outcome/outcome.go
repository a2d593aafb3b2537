// Package outcome tracks head-to-head wins between competitors.
package outcome

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"

	"snake-arena/arena/rating"
)

// Tracker maps competitor -> opponent -> wins. Losses are never stored;
// they are read from the mirrored entry.
type Tracker map[string]map[string]int

// Record adds one completed match. Every participant gets a row, so the
// saved file lists each competitor even before its first win. The winner
// then gains a win over every other participant. Draws add no wins.
func (t Tracker) Record(winner string, participants []string) {
	for _, p := range participants {
		if t[p] == nil {
			t[p] = make(map[string]int)
		}
	}
	if winner == "" {
		return
	}
	row := t[winner]
	if row == nil {
		row = make(map[string]int)
		t[winner] = row
	}
	for _, p := range participants {
		if p != winner {
			row[p]++
		}
	}
}

// Wins is how often a beat b.
func (t Tracker) Wins(a, b string) int { return t[a][b] }

func (t Tracker) Clone() Tracker {
	out := make(Tracker, len(t))
	for k, row := range t {
		cp := make(map[string]int, len(row))
		for o, n := range row {
			cp[o] = n
		}
		out[k] = cp
	}
	return out
}

// Load reads an outcomes file. A missing file is an empty tracker.
func Load(path string) (Tracker, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Tracker{}, nil
	}
	if err != nil {
		return nil, err
	}
	t := Tracker{}
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if t == nil {
		t = Tracker{}
	}
	return t, nil
}

// Save writes the whole tracker to path, replacing it atomically.
func Save(t Tracker, path string) error {
	if t == nil {
		t = Tracker{}
	}
	b, err := json.MarshalIndent(t, "", "    ")
	if err != nil {
		return err
	}
	return rating.WriteFileAtomic(path, append(b, '\n'))
}

// --------- win-rate report ---------

// Pair is one head-to-head line of the report.
type Pair struct {
	Opponent string  `json:"opponent"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	WinRate  float64 `json:"win_rate"`
	Low      float64 `json:"ci_low"`
	High     float64 `json:"ci_high"`
}

type Competitor struct {
	Name    string  `json:"name"`
	Average float64 `json:"average_win_rate"`
	Pairs   []Pair  `json:"pairs"`
}

// Report derives win rates for every competitor that appears in the tracker,
// as a winner or as someone who was beaten. Pairs that never finished a
// decisive match are left out. Competitors are ordered by average win rate.
func (t Tracker) Report() []Competitor {
	names := make(map[string]struct{})
	for a, row := range t {
		names[a] = struct{}{}
		for b := range row {
			names[b] = struct{}{}
		}
	}

	out := make([]Competitor, 0, len(names))
	for a := range names {
		c := Competitor{Name: a}
		var sum float64
		for b := range names {
			if a == b {
				continue
			}
			wins, losses := t.Wins(a, b), t.Wins(b, a)
			total := wins + losses
			if total == 0 {
				continue
			}
			low, hi := WilsonCI95(wins, 0, total)
			p := Pair{
				Opponent: b,
				Wins:     wins,
				Losses:   losses,
				WinRate:  float64(wins) / float64(total),
				Low:      low,
				High:     hi,
			}
			sum += p.WinRate
			c.Pairs = append(c.Pairs, p)
		}
		if len(c.Pairs) > 0 {
			c.Average = sum / float64(len(c.Pairs))
		}
		sort.Slice(c.Pairs, func(i, j int) bool { return c.Pairs[i].Opponent < c.Pairs[j].Opponent })
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Average != out[j].Average {
			return out[i].Average > out[j].Average
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// WilsonCI95 for a Bernoulli win rate; ties count as half a win.
func WilsonCI95(wins, ties, total int) (low, hi float64) {
	if total <= 0 {
		return 0, 1
	}
	z := 1.96
	n := float64(total)
	p := (float64(wins) + 0.5*float64(ties)) / n
	den := 1 + (z*z)/n
	center := p + (z*z)/(2*n)
	half := z * math.Sqrt((p*(1-p))/n+(z*z)/(4*n*n))
	return (center - half) / den, (center + half) / den
}
