//go:build linux

package bot

import "syscall"

// SysProcAttr puts a child in its own process group, out of reach of
// terminal signals, and on Linux kills it when the arena dies.
func SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
}
