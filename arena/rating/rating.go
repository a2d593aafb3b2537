// Package rating keeps the skill table of all competitors and updates it
// from ranked match outcomes.
package rating

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Rating is a Gaussian skill belief. Volatility is only used by Glicko-2.
type Rating struct {
	Mu         float64 `json:"mu"`
	Sigma      float64 `json:"sigma"`
	Volatility float64 `json:"volatility,omitempty"`
}

// Conservative is the skill estimate mu - 3*sigma used for leaderboards.
func (r Rating) Conservative() float64 { return r.Mu - 3*r.Sigma }

// Rater turns pre-match ratings and ranks (lower is better, equal is a tie)
// into post-match ratings. Implementations must be deterministic.
type Rater interface {
	Name() string
	Default() Rating
	Rate(ratings []Rating, ranks []int) ([]Rating, error)
}

// NewRater returns the rater registered under model.
func NewRater(model string) (Rater, error) {
	switch model {
	case "", "trueskill":
		return NewTrueSkill(), nil
	case "glicko2":
		return NewGlicko2Rater(), nil
	}
	return nil, fmt.Errorf("unknown rating model %q", model)
}

// Table maps competitor names to ratings.
type Table map[string]Rating

// GetOrCreate returns the rating for name, creating it from the rater's prior.
func (t Table) GetOrCreate(name string, r Rater) Rating {
	if cur, ok := t[name]; ok {
		return cur
	}
	def := r.Default()
	t[name] = def
	return def
}

// Apply rates one match. Only the named participants change; the table is
// left untouched when rating fails.
func (t Table) Apply(r Rater, names []string, ranks []int) error {
	if len(names) != len(ranks) {
		return fmt.Errorf("rate: %d players but %d ranks", len(names), len(ranks))
	}
	seen := make(map[string]struct{}, len(names))
	pre := make([]Rating, len(names))
	for i, n := range names {
		if _, dup := seen[n]; dup {
			return fmt.Errorf("rate: %q appears twice", n)
		}
		seen[n] = struct{}{}
		if cur, ok := t[n]; ok {
			pre[i] = cur
		} else {
			pre[i] = r.Default()
		}
	}
	post, err := r.Rate(pre, ranks)
	if err != nil {
		return fmt.Errorf("rate %v: %w", names, err)
	}
	for i, n := range names {
		t[n] = post[i]
	}
	return nil
}

// Clone returns an independent copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

type Entry struct {
	Name string `json:"name"`
	Rating
	Conservative float64 `json:"conservative"`
}

// Leaderboard sorts competitors by conservative estimate, best first.
func (t Table) Leaderboard() []Entry {
	out := make([]Entry, 0, len(t))
	for name, r := range t {
		out = append(out, Entry{Name: name, Rating: r, Conservative: r.Conservative()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Conservative != out[j].Conservative {
			return out[i].Conservative > out[j].Conservative
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Load reads a ratings file. A missing file is an empty table.
func Load(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Table{}, nil
	}
	if err != nil {
		return nil, err
	}
	t := Table{}
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if t == nil {
		t = Table{}
	}
	return t, nil
}

// Save writes the whole table to path, replacing it atomically.
func Save(t Table, path string) error {
	if t == nil {
		t = Table{}
	}
	b, err := json.MarshalIndent(t, "", "    ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, append(b, '\n'))
}

// WriteFileAtomic writes data next to path and renames it into place, so a
// reader never observes a half-written file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
