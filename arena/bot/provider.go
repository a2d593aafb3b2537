// Package bot provisions competitors: it builds and launches bot processes
// or attaches to bots running elsewhere, and tears them down again.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"snake-arena/arena/config"
)

// Provider brings one competitor up and down.
type Provider interface {
	Name() string
	Kind() config.Kind
	State() State
	// Addresses are the reachable base URLs of the bot; empty unless up.
	Addresses() []string
	// Prepare makes the bot launchable. Safe to repeat.
	Prepare(ctx context.Context) error
	// Up makes the bot reachable, launching copies processes where the
	// bot is owned by the arena. Calling Up twice without Down fails.
	Up(ctx context.Context, ports *Ports, copies int) error
	// Down releases everything Up acquired. It never fails.
	Down()
}

// State is the lifecycle position of a provider.
type State int

const (
	Unprepared State = iota
	Prepared
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Unprepared:
		return "unprepared"
	case Prepared:
		return "prepared"
	case Running:
		return "up"
	case Stopped:
		return "down"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type lifecycle struct{ state State }

func (l *lifecycle) State() State { return l.state }

func (l *lifecycle) prepared() {
	if l.state == Unprepared {
		l.state = Prepared
	}
}

func (l *lifecycle) canUp() error {
	switch l.state {
	case Unprepared:
		return ErrNotPrepared
	case Running:
		return ErrAlreadyUp
	}
	return nil
}

func (l *lifecycle) down() {
	if l.state == Running {
		l.state = Stopped
	}
}

// Options carries the collaborators shared by all providers.
type Options struct {
	Logger     *slog.Logger
	Supervisor *Supervisor
	HTTPClient *http.Client
	// Output receives stdout/stderr of unmuted bot processes.
	Stdout, Stderr io.Writer
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Supervisor == nil {
		o.Supervisor = NewSupervisor(o.Logger)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	return o
}

// New selects the provider variant for spec.
func New(spec config.BotSpec, opts Options) (Provider, error) {
	opts = opts.withDefaults()
	switch {
	case spec.FromSource != nil:
		return NewFromSource(spec.Name, *spec.FromSource, opts), nil
	case spec.Binary != nil:
		return NewBinary(spec.Name, *spec.Binary, opts), nil
	case spec.FixedEndpoint != nil:
		return NewFixedEndpoint(spec.Name, *spec.FixedEndpoint, opts), nil
	}
	return nil, fmt.Errorf("bot %q: unrecognized type %q", spec.Name, spec.Kind)
}
