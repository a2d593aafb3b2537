package referee

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var resultPattern = regexp.MustCompile(
	`Game completed after (\d+) turns\. (.*) is the winner\.|` +
		`Game completed after (\d+) turns\. It was a draw\.`,
)

var (
	ErrNoResult      = errors.New("no game result in engine output")
	ErrUnknownWinner = errors.New("winner is not a participant")
)

// Outcome is the ranked result of one match. Ranks are in participant order,
// lower is better. A draw ranks everyone 0 and is distinct from a failure.
type Outcome struct {
	Turns  int
	Draw   bool
	Winner int // participant index, -1 on a draw
	Ranks  []int
}

// WinnerName returns the winning participant's name, "" on a draw.
func (o Outcome) WinnerName(players []Player) string {
	if o.Draw || o.Winner < 0 || o.Winner >= len(players) {
		return ""
	}
	return players[o.Winner].Name
}

func (o Outcome) Losers(players []Player) []string {
	if o.Draw {
		return nil
	}
	out := make([]string, 0, len(players))
	for i, p := range players {
		if i != o.Winner {
			out = append(out, p.Name)
		}
	}
	return out
}

// ParseResult extracts the match result from the engine's error stream.
func ParseResult(stderr string, players []Player) (Outcome, error) {
	m := resultPattern.FindStringSubmatch(stderr)
	if m == nil {
		return Outcome{}, ErrNoResult
	}

	ranks := make([]int, len(players))
	if m[3] != "" {
		turns, _ := strconv.Atoi(m[3])
		return Outcome{Turns: turns, Draw: true, Winner: -1, Ranks: ranks}, nil
	}

	turns, _ := strconv.Atoi(m[1])
	winner := strings.TrimSpace(m[2])
	idx := -1
	for i, name := range GameNames(players) {
		if name == winner {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownWinner, winner)
	}
	for i := range ranks {
		if i != idx {
			ranks[i] = 1
		}
	}
	return Outcome{Turns: turns, Winner: idx, Ranks: ranks}, nil
}

// MatchExecutionError is a match that produced no usable result. It carries
// the raw engine output for diagnosis.
type MatchExecutionError struct {
	Players []Player
	Err     error
	Stdout  string
	Stderr  string
}

func (e *MatchExecutionError) Error() string {
	return fmt.Sprintf("match %s: %v\n--- stdout ---\n%s\n--- stderr ---\n%s",
		strings.Join(names(e.Players), " vs "), e.Err, e.Stdout, e.Stderr)
}

func (e *MatchExecutionError) Unwrap() error { return e.Err }
