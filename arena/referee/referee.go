// Package referee drives the external rules engine for one match at a time.
package referee

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"snake-arena/arena/bot"
	"snake-arena/arena/config"
)

const (
	// MaxPlayers is the largest field the engine supports.
	MaxPlayers = 8

	engineName = "official_engine"
	warnMarker = "[WARN]"
)

var ErrTooManyPlayers = errors.New("too many players")

// Player is a competitor as seen by a single match.
type Player struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Referee builds the rules engine once and plays matches with it.
type Referee struct {
	sourceDir string
	engine    string
	width     int
	height    int
	gameType  string
	timeout   time.Duration
	log       *slog.Logger

	warnMu   sync.Mutex
	warnings int
}

func New(rules config.Rules, matchTimeout time.Duration, log *slog.Logger) (*Referee, error) {
	if log == nil {
		log = slog.Default()
	}
	engine, err := filepath.Abs(filepath.Join(rules.BuildDir, engineName))
	if err != nil {
		return nil, fmt.Errorf("resolve engine path: %w", err)
	}
	return &Referee{
		sourceDir: rules.SourceDir,
		engine:    engine,
		width:     rules.Width,
		height:    rules.Height,
		gameType:  rules.GameType,
		timeout:   matchTimeout,
		log:       log.With("component", "referee"),
	}, nil
}

// Engine is the path of the built rules engine binary.
func (r *Referee) Engine() string { return r.engine }

// Prepare builds the rules engine. Failures are fatal for the run.
func (r *Referee) Prepare(ctx context.Context) error {
	r.log.Info("building rules engine", "source", r.sourceDir, "out", r.engine)
	cmd := exec.CommandContext(ctx, "go", "build", "-o", r.engine, "./cli/battlesnake/main.go")
	cmd.Dir = r.sourceDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return &bot.ProvisioningError{Bot: "rules", Step: "go build", Err: err, Output: string(out)}
	}
	return nil
}

// Warnings is the number of engine warning lines seen so far.
func (r *Referee) Warnings() int {
	r.warnMu.Lock()
	defer r.warnMu.Unlock()
	return r.warnings
}

// GameNames composes the per-match names "<index>_<name>" handed to the engine.
func GameNames(players []Player) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = strconv.Itoa(i) + "_" + p.Name
	}
	return out
}

func (r *Referee) args(players []Player) []string {
	args := []string{
		"play",
		"--width", strconv.Itoa(r.width),
		"--height", strconv.Itoa(r.height),
		"--gametype", r.gameType,
	}
	for i, name := range GameNames(players) {
		args = append(args, "--name", name, "--url", players[i].Address)
	}
	return args
}

// Play runs one match to completion and returns its ranked outcome. The
// engine process is not tied to ctx unless a match timeout is configured, so
// a cancelled ladder lets running matches finish.
func (r *Referee) Play(ctx context.Context, players []Player) (Outcome, error) {
	if len(players) > MaxPlayers {
		return Outcome{}, fmt.Errorf("%w: %d > %d", ErrTooManyPlayers, len(players), MaxPlayers)
	}

	runCtx := context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.engine, r.args(players)...)
	// A terminal Ctrl+C must not kill running matches.
	cmd.SysProcAttr = bot.SysProcAttr()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	r.countWarnings(stderr.String(), players)

	out, err := ParseResult(stderr.String(), players)
	if err != nil {
		if runErr != nil {
			err = fmt.Errorf("%w (engine: %v)", err, runErr)
		}
		return Outcome{}, &MatchExecutionError{
			Players: players,
			Err:     err,
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
		}
	}
	if runErr != nil {
		r.log.Warn("engine exited with error after reporting a result", "error", runErr)
	}

	if out.Draw {
		r.log.Info("match drawn", "turns", out.Turns, "players", names(players))
	} else {
		r.log.Info("match decided", "turns", out.Turns, "winner", out.Winner, "losers", out.Losers(players))
	}
	return out, nil
}

func (r *Referee) countWarnings(stderr string, players []Player) {
	n := 0
	for _, line := range strings.Split(stderr, "\n") {
		if strings.Contains(line, warnMarker) {
			r.log.Warn(strings.TrimSpace(line), "players", names(players))
			n++
		}
	}
	if n == 0 {
		return
	}
	r.warnMu.Lock()
	r.warnings += n
	r.warnMu.Unlock()
}

func names(players []Player) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.Name
	}
	return out
}
