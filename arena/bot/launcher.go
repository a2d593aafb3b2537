package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"snake-arena/arena/config"
)

// launcher runs copies of a bot executable, one process per port.
type launcher struct {
	lifecycle

	name string
	dir  string
	run  config.Run
	opts Options
	log  *slog.Logger

	procs []*Process
	addrs []string
}

func newLauncher(name, dir string, run config.Run, opts Options) launcher {
	return launcher{
		name: name,
		dir:  dir,
		run:  run,
		opts: opts,
		log:  opts.Logger.With("bot", name),
	}
}

func (l *launcher) Name() string { return l.name }

func (l *launcher) Addresses() []string {
	out := make([]string, len(l.addrs))
	copy(out, l.addrs)
	return out
}

func (l *launcher) Up(ctx context.Context, ports *Ports, copies int) error {
	if err := l.canUp(); err != nil {
		return fmt.Errorf("%s: %w", l.name, err)
	}
	if copies <= 0 {
		copies = l.run.Copies
	}
	l.log.Info("up", "copies", copies, "dir", l.dir)
	l.state = Running

	for i := 0; i < copies; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		port, err := ports.Next()
		if err != nil {
			return &ProvisioningError{Bot: l.name, Step: "allocate port", Err: err}
		}
		cmd := exec.Command(l.run.Command, l.run.Args...)
		cmd.Dir = l.dir
		cmd.Env = processEnv(port, l.run.Env)
		if !l.run.Mute {
			cmd.Stdout = l.opts.Stdout
			cmd.Stderr = l.opts.Stderr
		}
		p, err := l.opts.Supervisor.Start(cmd, l.name, port)
		if err != nil {
			return &ProvisioningError{Bot: l.name, Step: "launch " + l.run.Command, Err: err}
		}
		l.procs = append(l.procs, p)
		l.addrs = append(l.addrs, "http://127.0.0.1:"+strconv.Itoa(port))
	}
	return nil
}

func (l *launcher) Down() {
	if len(l.procs) > 0 {
		l.log.Info("down", "processes", len(l.procs))
	}
	for _, p := range l.procs {
		p.terminate()
	}
	for _, p := range l.procs {
		if p.await(TerminateTimeout) {
			l.log.Warn("process did not exit in time, killed forcefully",
				"port", p.Port, "timeout", TerminateTimeout)
		}
		l.opts.Supervisor.Release(p)
	}
	l.procs = nil
	l.addrs = nil
	l.down()
}

// Processes returns the handles launched by the last Up.
func (l *launcher) Processes() []*Process {
	out := make([]*Process, len(l.procs))
	copy(out, l.procs)
	return out
}

// processEnv inherits the arena environment, adds the port variables and
// lets the configured run env override both.
func processEnv(port int, extra map[string]string) []string {
	p := strconv.Itoa(port)
	return mergeEnv(append(os.Environ(), "PORT="+p, "ROCKET_PORT="+p), extra)
}
