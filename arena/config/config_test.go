package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sample = `
rules:
  source_dir: arena/rules
ports: {from: 8100, to: 8110}
arena:
  players_per_match: 3
  total_matches: 100
  parallelism: 4
  beta: 1.5
bots:
  - name: main
    type: from_source
    working_dir: build/main
    version_ref: main
    build_flags: [--release]
    run_command: ./target/release/snake
    mute_output: true
    copies: 2
  - {name: old, type: binary, working_dir: ., run_command: ./bin/old, run_args: [--fast]}
  - {name: remote, type: fixed_endpoint, addresses: [http://10.0.0.5:8000]}
`

func TestParseVariantsAndDefaults(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.Rules.SourceDir != "arena/rules" || c.Rules.BuildDir != "build/rules" {
		t.Fatalf("rules dirs = %+v", c.Rules)
	}
	if c.Rules.Width != 11 || c.Rules.Height != 11 || c.Rules.GameType != "royale" {
		t.Fatalf("rules board = %+v", c.Rules)
	}
	if c.Rating.Model != RatingTrueSkill {
		t.Fatalf("rating model = %q", c.Rating.Model)
	}
	l := c.Ladder
	if l.PlayersPerMatch != 3 || l.TotalMatches != 100 || l.Parallelism != 4 || l.Beta != 1.5 {
		t.Fatalf("ladder = %+v", l)
	}
	if l.RatingsFile != "ratings.json" || l.OutcomesFile != "winrates.json" || l.Warmup != 2*time.Second {
		t.Fatalf("ladder defaults = %+v", l)
	}

	if got := c.BotNames(); !reflect.DeepEqual(got, []string{"main", "old", "remote"}) {
		t.Fatalf("BotNames = %v", got)
	}

	src := c.Bots[0]
	if src.Kind != KindFromSource || src.FromSource == nil {
		t.Fatalf("bots[0] = %+v", src)
	}
	if src.FromSource.Repository != "." || !reflect.DeepEqual(src.FromSource.BuildCommand, []string{"cargo", "build"}) {
		t.Fatalf("from_source defaults = %+v", src.FromSource)
	}
	if src.FromSource.BuildEnv["RUSTFLAGS"] != "-Awarnings" {
		t.Fatalf("build env = %v", src.FromSource.BuildEnv)
	}
	if src.FromSource.Run.Copies != 2 || !src.FromSource.Run.Mute {
		t.Fatalf("run = %+v", src.FromSource.Run)
	}

	bin := c.Bots[1]
	if bin.Kind != KindBinary || bin.Binary == nil || bin.Binary.Run.Copies != 1 {
		t.Fatalf("bots[1] = %+v", bin)
	}
	if !reflect.DeepEqual(bin.Binary.Run.Args, []string{"--fast"}) {
		t.Fatalf("run args = %v", bin.Binary.Run.Args)
	}

	fixed := c.Bots[2]
	if fixed.Kind != KindFixedEndpoint || fixed.FixedEndpoint == nil || fixed.Launch() != nil {
		t.Fatalf("bots[2] = %+v", fixed)
	}
}

func TestUnmute(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c.Unmute()
	if c.Bots[0].FromSource.Run.Mute {
		t.Fatalf("main still muted")
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]struct {
		doc  string
		want string
	}{
		"unknown top-level field": {
			doc:  "ports: {from: 1, to: 10}\nbogus: 1\nbots: [{name: a, type: fixed_endpoint, addresses: [http://h:1]}]",
			want: "bogus",
		},
		"unknown bot field": {
			doc:  "ports: {from: 1, to: 10}\nbots: [{name: a, type: fixed_endpoint, addresses: [http://h:1], run_command: x}]",
			want: "run_command",
		},
		"unknown bot type": {
			doc:  "ports: {from: 1, to: 10}\nbots: [{name: a, type: docker}]",
			want: "unrecognized bot type",
		},
		"no bots": {
			doc:  "ports: {from: 1, to: 10}\nbots: []",
			want: "bots must be non-empty",
		},
		"duplicate names": {
			doc:  "ports: {from: 1, to: 10}\nbots: [{name: a, type: fixed_endpoint, addresses: [http://h:1]}, {name: a, type: fixed_endpoint, addresses: [http://h:2]}]",
			want: "duplicate name",
		},
		"bad port range": {
			doc:  "ports: {from: 10, to: 10}\nbots: [{name: a, type: fixed_endpoint, addresses: [http://h:1]}]",
			want: "ports",
		},
		"too many players": {
			doc:  "ports: {from: 1, to: 10}\narena: {players_per_match: 9}\nbots: [{name: a, type: fixed_endpoint, addresses: [http://h:1]}]",
			want: "players_per_match",
		},
		"unknown rating model": {
			doc:  "ports: {from: 1, to: 10}\nrating: {model: elo}\nbots: [{name: a, type: fixed_endpoint, addresses: [http://h:1]}]",
			want: "rating.model",
		},
		"not enough ports": {
			doc:  "ports: {from: 1, to: 3}\nbots: [{name: a, type: binary, run_command: x, copies: 3}]",
			want: "too small",
		},
		"missing version_ref": {
			doc:  "ports: {from: 1, to: 10}\nbots: [{name: a, type: from_source, working_dir: w, run_command: x}]",
			want: "version_ref",
		},
		"bad address": {
			doc:  "ports: {from: 1, to: 10}\nbots: [{name: a, type: fixed_endpoint, addresses: [not-a-url]}]",
			want: "invalid address",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Bots) != 3 {
		t.Fatalf("bots = %d", len(c.Bots))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("ARENA_CONFIG", "/etc/arena.yaml")
	t.Setenv("ARENA_STATUS_ADDR", ":9090")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("ARENA_S3_ENDPOINT", "minio:9000")
	t.Setenv("ARENA_S3_USE_SSL", "true")

	e, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if e.ConfigPath != "/etc/arena.yaml" || e.StatusAddr != ":9090" || !e.AutoMigrate {
		t.Fatalf("env = %+v", e)
	}
	if !e.ObjectStore.Enabled() || !e.ObjectStore.UseSSL || e.ObjectStore.Bucket != "arena-results" {
		t.Fatalf("object store = %+v", e.ObjectStore)
	}
	if e.LogFormat != "text" || e.LogLevel != "info" {
		t.Fatalf("log defaults = %q %q", e.LogFormat, e.LogLevel)
	}
}

func TestLoadEnvBadValue(t *testing.T) {
	t.Setenv("AUTO_MIGRATE", "sometimes")
	if _, err := LoadEnv(); err == nil {
		t.Fatalf("expected parse error")
	}
}
