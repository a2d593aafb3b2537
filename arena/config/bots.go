package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the provisioning strategy of a bot.
type Kind string

const (
	KindFromSource    Kind = "from_source"
	KindBinary        Kind = "binary"
	KindFixedEndpoint Kind = "fixed_endpoint"
)

// BotSpec is a closed variant: exactly one of FromSource, Binary and
// FixedEndpoint is set, matching Kind.
type BotSpec struct {
	Name string
	Kind Kind

	FromSource    *FromSource
	Binary        *Binary
	FixedEndpoint *FixedEndpoint
}

// Run describes how a launched bot process is started.
type Run struct {
	Command string            `yaml:"run_command"`
	Args    []string          `yaml:"run_args"`
	Env     map[string]string `yaml:"run_env"`
	Mute    bool              `yaml:"mute_output"`
	Copies  int               `yaml:"copies"`
}

// FromSource builds the bot from a git revision in its own worktree.
type FromSource struct {
	WorkingDir   string            `yaml:"working_dir"`
	Repository   string            `yaml:"repository"`
	VersionRef   string            `yaml:"version_ref"`
	BuildCommand []string          `yaml:"build_command"`
	BuildFlags   []string          `yaml:"build_flags"`
	BuildEnv     map[string]string `yaml:"build_env"`
	Run          `yaml:",inline"`
}

// Binary launches an already built executable.
type Binary struct {
	WorkingDir string `yaml:"working_dir"`
	Run        `yaml:",inline"`
}

// FixedEndpoint points at bots the arena does not own.
type FixedEndpoint struct {
	Addresses []string `yaml:"addresses"`
}

func (b *BotSpec) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Name string `yaml:"name"`
		Type Kind   `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	b.Name = strings.TrimSpace(head.Name)
	b.Kind = head.Type
	if allowed, ok := botFields[head.Type]; ok {
		if err := checkFields(node, allowed); err != nil {
			return err
		}
	}

	switch head.Type {
	case KindFromSource:
		var v struct {
			Name       string `yaml:"name"`
			Type       Kind   `yaml:"type"`
			FromSource `yaml:",inline"`
		}
		if err := node.Decode(&v); err != nil {
			return err
		}
		b.FromSource = &v.FromSource
	case KindBinary:
		var v struct {
			Name   string `yaml:"name"`
			Type   Kind   `yaml:"type"`
			Binary `yaml:",inline"`
		}
		if err := node.Decode(&v); err != nil {
			return err
		}
		b.Binary = &v.Binary
	case KindFixedEndpoint:
		var v struct {
			Name          string `yaml:"name"`
			Type          Kind   `yaml:"type"`
			FixedEndpoint `yaml:",inline"`
		}
		if err := node.Decode(&v); err != nil {
			return err
		}
		b.FixedEndpoint = &v.FixedEndpoint
	default:
		return fmt.Errorf("line %d: unrecognized bot type %q for %q", node.Line, head.Type, head.Name)
	}
	return nil
}

var (
	runFields = []string{"run_command", "run_args", "run_env", "mute_output", "copies"}

	botFields = map[Kind][]string{
		KindFromSource: append([]string{"working_dir", "repository", "version_ref",
			"build_command", "build_flags", "build_env"}, runFields...),
		KindBinary:        append([]string{"working_dir"}, runFields...),
		KindFixedEndpoint: {"addresses"},
	}
)

// checkFields rejects keys a bot variant does not know, the same way the
// top-level decoder does.
func checkFields(node *yaml.Node, allowed []string) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		switch key.Value {
		case "name", "type":
			continue
		}
		known := false
		for _, a := range allowed {
			if key.Value == a {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("line %d: field %s not valid for bot type", key.Line, key.Value)
		}
	}
	return nil
}

// Launch returns the process settings of bots the arena starts itself, nil otherwise.
func (b *BotSpec) Launch() *Run {
	switch {
	case b.FromSource != nil:
		return &b.FromSource.Run
	case b.Binary != nil:
		return &b.Binary.Run
	}
	return nil
}

func (b *BotSpec) applyDefaults() {
	if r := b.Launch(); r != nil && r.Copies <= 0 {
		r.Copies = 1
	}
	if s := b.FromSource; s != nil {
		if s.Repository == "" {
			s.Repository = "."
		}
		if len(s.BuildCommand) == 0 {
			s.BuildCommand = []string{"cargo", "build"}
			if s.BuildEnv == nil {
				s.BuildEnv = map[string]string{"RUSTFLAGS": "-Awarnings"}
			}
		}
	}
}

func (b BotSpec) Validate() error {
	if b.Name == "" {
		return errors.New("name is required")
	}
	set := 0
	for _, ok := range []bool{b.FromSource != nil, b.Binary != nil, b.FixedEndpoint != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%s: exactly one variant must be set", b.Name)
	}

	switch b.Kind {
	case KindFromSource:
		s := b.FromSource
		if s == nil {
			return fmt.Errorf("%s: from_source fields missing", b.Name)
		}
		if strings.TrimSpace(s.WorkingDir) == "" {
			return fmt.Errorf("%s: working_dir is required", b.Name)
		}
		if strings.TrimSpace(s.VersionRef) == "" {
			return fmt.Errorf("%s: version_ref is required", b.Name)
		}
		return s.Run.validate(b.Name)
	case KindBinary:
		if b.Binary == nil {
			return fmt.Errorf("%s: binary fields missing", b.Name)
		}
		return b.Binary.Run.validate(b.Name)
	case KindFixedEndpoint:
		if b.FixedEndpoint == nil || len(b.FixedEndpoint.Addresses) == 0 {
			return fmt.Errorf("%s: addresses must be non-empty", b.Name)
		}
		for _, a := range b.FixedEndpoint.Addresses {
			u, err := url.Parse(a)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("%s: invalid address %q", b.Name, a)
			}
		}
		return nil
	}
	return fmt.Errorf("%s: unrecognized bot type %q", b.Name, b.Kind)
}

func (r Run) validate(name string) error {
	if strings.TrimSpace(r.Command) == "" {
		return fmt.Errorf("%s: run_command is required", name)
	}
	if r.Copies < 1 {
		return fmt.Errorf("%s: copies must be >= 1", name)
	}
	return nil
}
