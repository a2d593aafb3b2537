package bot

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAlreadyUp      = errors.New("bot is already up")
	ErrNotPrepared    = errors.New("bot is not prepared")
	ErrPortsExhausted = errors.New("port range exhausted")
)

// ProvisioningError reports a failed checkout, build or launch step. It is
// fatal for the whole run.
type ProvisioningError struct {
	Bot    string
	Step   string
	Err    error
	Output string
}

func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("provision %s: %s: %v", e.Bot, e.Step, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// LivenessError reports a fixed endpoint that failed its handshake.
type LivenessError struct {
	Bot     string
	Address string
	Err     error
}

func (e *LivenessError) Error() string {
	return fmt.Sprintf("liveness %s at %s: %v", e.Bot, e.Address, e.Err)
}

func (e *LivenessError) Unwrap() error { return e.Err }
