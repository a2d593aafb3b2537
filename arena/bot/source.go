package bot

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"snake-arena/arena/config"
)

// FromSource checks a git revision out into its own worktree, builds it and
// launches the result.
type FromSource struct {
	launcher
	spec config.FromSource
}

func NewFromSource(name string, spec config.FromSource, opts Options) *FromSource {
	opts = opts.withDefaults()
	return &FromSource{launcher: newLauncher(name, spec.WorkingDir, spec.Run, opts), spec: spec}
}

func (b *FromSource) Kind() config.Kind { return config.KindFromSource }

// Prepare creates or updates the worktree and runs the build. Repeating it
// on a built tree is harmless.
func (b *FromSource) Prepare(ctx context.Context) error {
	b.log.Info("prepare", "ref", b.spec.VersionRef, "dir", b.spec.WorkingDir)

	dir, err := filepath.Abs(b.spec.WorkingDir)
	if err != nil {
		return &ProvisioningError{Bot: b.name, Step: "resolve working dir", Err: err}
	}

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return &ProvisioningError{Bot: b.name, Step: "create working dir", Err: err}
		}
		if err := b.step(ctx, "git worktree add", b.spec.Repository, nil,
			"git", "worktree", "add", "--detach", dir, b.spec.VersionRef); err != nil {
			return err
		}
	} else if err != nil {
		return &ProvisioningError{Bot: b.name, Step: "stat working dir", Err: err}
	} else {
		if err := b.step(ctx, "git checkout", dir, nil,
			"git", "checkout", "--detach", b.spec.VersionRef); err != nil {
			return err
		}
	}

	build := append(append([]string{}, b.spec.BuildCommand...), b.spec.BuildFlags...)
	if err := b.step(ctx, "build", dir, b.spec.BuildEnv, build[0], build[1:]...); err != nil {
		return err
	}
	b.prepared()
	return nil
}

func (b *FromSource) step(ctx context.Context, step, dir string, env map[string]string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), env)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &ProvisioningError{Bot: b.name, Step: step, Err: err, Output: string(out)}
	}
	return nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := append([]string{}, base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
