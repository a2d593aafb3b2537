package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ===== Top-level =====

type Config struct {
	Rules  Rules     `yaml:"rules"`
	Ports  PortRange `yaml:"ports"`
	Rating Rating    `yaml:"rating"`
	Ladder Ladder    `yaml:"arena"`
	Bots   []BotSpec `yaml:"bots"`
}

// Rules locates the rules engine sources and fixes the board every match is played on.
type Rules struct {
	SourceDir string `yaml:"source_dir"`
	BuildDir  string `yaml:"build_dir"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	GameType  string `yaml:"game_type"`
}

// PortRange is the half-open interval [From, To) handed out to launched bots.
type PortRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

func (p PortRange) Len() int { return p.To - p.From }

type Rating struct {
	Model string `yaml:"model"` // trueskill | glicko2
}

type Ladder struct {
	PlayersPerMatch int           `yaml:"players_per_match"`
	TotalMatches    int           `yaml:"total_matches"`
	Parallelism     int           `yaml:"parallelism"`
	Beta            float64       `yaml:"beta"`
	RatingsFile     string        `yaml:"ratings_file"`
	OutcomesFile    string        `yaml:"outcomes_file"`
	Warmup          time.Duration `yaml:"warmup"`
	MatchTimeout    time.Duration `yaml:"match_timeout"` // 0 = unbounded
}

const (
	RatingTrueSkill = "trueskill"
	RatingGlicko2   = "glicko2"
)

// MaxPlayersPerMatch is the largest field the rules engine accepts.
const MaxPlayersPerMatch = 8

// ===== Loader + defaults =====

// Load reads, defaults and validates the YAML document at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse is Load for an in-memory document.
func Parse(input []byte) (*Config, error) {
	return decode(bytes.NewReader(input))
}

func decode(r io.Reader) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Rules.SourceDir == "" {
		c.Rules.SourceDir = "rules"
	}
	if c.Rules.BuildDir == "" {
		c.Rules.BuildDir = "build/rules"
	}
	if c.Rules.Width <= 0 {
		c.Rules.Width = 11
	}
	if c.Rules.Height <= 0 {
		c.Rules.Height = 11
	}
	if c.Rules.GameType == "" {
		c.Rules.GameType = "royale"
	}

	if c.Rating.Model == "" {
		c.Rating.Model = RatingTrueSkill
	}

	if c.Ladder.PlayersPerMatch <= 0 {
		c.Ladder.PlayersPerMatch = 2
	}
	if c.Ladder.Parallelism <= 0 {
		c.Ladder.Parallelism = 1
	}
	if c.Ladder.RatingsFile == "" {
		c.Ladder.RatingsFile = "ratings.json"
	}
	if c.Ladder.OutcomesFile == "" {
		c.Ladder.OutcomesFile = "winrates.json"
	}
	if c.Ladder.Warmup == 0 {
		c.Ladder.Warmup = 2 * time.Second
	}

	for i := range c.Bots {
		c.Bots[i].applyDefaults()
	}
}

func (c *Config) Validate() error {
	if c.Ports.From <= 0 || c.Ports.To > 65536 || c.Ports.From >= c.Ports.To {
		return fmt.Errorf("ports: invalid range [%d, %d)", c.Ports.From, c.Ports.To)
	}
	switch c.Rating.Model {
	case RatingTrueSkill, RatingGlicko2:
	default:
		return fmt.Errorf("rating.model unsupported: %q", c.Rating.Model)
	}

	l := c.Ladder
	if l.PlayersPerMatch < 2 || l.PlayersPerMatch > MaxPlayersPerMatch {
		return fmt.Errorf("arena.players_per_match must be in [2, %d], got %d", MaxPlayersPerMatch, l.PlayersPerMatch)
	}
	if l.TotalMatches < 0 {
		return errors.New("arena.total_matches must be >= 0")
	}
	if l.Beta < 0 {
		return errors.New("arena.beta must be >= 0")
	}
	if l.MatchTimeout < 0 {
		return errors.New("arena.match_timeout must be >= 0")
	}

	if len(c.Bots) == 0 {
		return errors.New("bots must be non-empty")
	}
	seen := make(map[string]struct{}, len(c.Bots))
	ports := 0
	for i, b := range c.Bots {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bots[%d]: %w", i, err)
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("bots[%d]: duplicate name %q", i, b.Name)
		}
		seen[b.Name] = struct{}{}
		if r := b.Launch(); r != nil {
			ports += r.Copies
		}
	}
	if ports > c.Ports.Len() {
		return fmt.Errorf("ports: range [%d, %d) too small for %d bot processes", c.Ports.From, c.Ports.To, ports)
	}
	return nil
}

// Unmute turns output muting off for every bot the arena launches itself.
func (c *Config) Unmute() {
	for i := range c.Bots {
		if r := c.Bots[i].Launch(); r != nil {
			r.Mute = false
		}
	}
}

// BotNames lists bot names in configuration order.
func (c *Config) BotNames() []string {
	out := make([]string, len(c.Bots))
	for i, b := range c.Bots {
		out[i] = b.Name
	}
	return out
}
