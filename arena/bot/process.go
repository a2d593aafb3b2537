package bot

import (
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// TerminateTimeout is how long a process gets to exit after the graceful
// termination request before it is killed.
const TerminateTimeout = 1 * time.Second

// Process is one launched bot copy.
type Process struct {
	Bot  string
	Port int

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitErr is the wait error, valid after Done is closed.
func (p *Process) ExitErr() error {
	<-p.done
	return p.err
}

func (p *Process) terminate() {
	if p.Alive() {
		_ = terminateGroup(p.cmd.Process)
	}
}

func (p *Process) kill() {
	if p.Alive() {
		_ = killGroup(p.cmd.Process)
	}
}

// stop asks the process to exit, escalating to a kill after timeout. It
// returns true when the kill was needed. Always returns with the process reaped.
func (p *Process) stop(timeout time.Duration) (forced bool) {
	p.terminate()
	return p.await(timeout)
}

func (p *Process) await(timeout time.Duration) (forced bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
		return false
	case <-t.C:
	}
	p.kill()
	<-p.done
	return true
}

// Supervisor owns every process the arena spawns. Shutdown terminates
// whatever is still tracked, so a run never leaves children behind on any
// exit path.
type Supervisor struct {
	log     *slog.Logger
	timeout time.Duration

	mu    sync.Mutex
	procs map[*Process]struct{}
}

func NewSupervisor(log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{log: log, timeout: TerminateTimeout, procs: make(map[*Process]struct{})}
}

// Start launches cmd and tracks the resulting process.
func (s *Supervisor) Start(cmd *exec.Cmd, bot string, port int) (*Process, error) {
	cmd.SysProcAttr = SysProcAttr()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &Process{Bot: bot, Port: port, cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	s.mu.Lock()
	s.procs[p] = struct{}{}
	s.mu.Unlock()
	s.log.Debug("process started", "bot", bot, "port", port, "pid", p.Pid())
	return p, nil
}

// Release stops tracking p. The caller must have reaped it.
func (s *Supervisor) Release(p *Process) {
	s.mu.Lock()
	delete(s.procs, p)
	s.mu.Unlock()
}

// Live counts tracked processes that have not exited.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := range s.procs {
		if p.Alive() {
			n++
		}
	}
	return n
}

// Shutdown terminates and reaps every tracked process.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.procs))
	for p := range s.procs {
		procs = append(procs, p)
	}
	s.procs = make(map[*Process]struct{})
	s.mu.Unlock()

	if len(procs) == 0 {
		return
	}
	s.log.Warn("terminating leftover bot processes", "count", len(procs))
	for _, p := range procs {
		p.terminate()
	}
	for _, p := range procs {
		if p.await(s.timeout) {
			s.log.Warn("process killed forcefully", "bot", p.Bot, "port", p.Port)
		}
	}
}
