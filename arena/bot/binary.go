package bot

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"snake-arena/arena/config"
)

// Binary launches a prebuilt executable.
type Binary struct {
	launcher
}

func NewBinary(name string, spec config.Binary, opts Options) *Binary {
	opts = opts.withDefaults()
	return &Binary{launcher: newLauncher(name, spec.WorkingDir, spec.Run, opts)}
}

func (b *Binary) Kind() config.Kind { return config.KindBinary }

// Prepare only checks that the executable resolves.
func (b *Binary) Prepare(ctx context.Context) error {
	exe := b.run.Command
	if strings.ContainsRune(exe, filepath.Separator) && !filepath.IsAbs(exe) {
		exe = filepath.Join(b.dir, exe)
	}
	if _, err := exec.LookPath(exe); err != nil {
		return &ProvisioningError{Bot: b.name, Step: "resolve executable", Err: err}
	}
	b.prepared()
	return nil
}
