//go:build !unix

package bot

import (
	"os"
	"syscall"
)

func SysProcAttr() *syscall.SysProcAttr { return nil }

// No graceful signal here; both steps kill.
func terminateGroup(p *os.Process) error { return p.Kill() }

func killGroup(p *os.Process) error { return p.Kill() }
