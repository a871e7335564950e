package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leeroybrun/edison-sub004/internal/core"
)

// EntityDomain is the per-entity-kind lifecycle configuration. The
// state set and the transition table come entirely from configuration;
// nothing in the code assumes a particular shape (cycles included).
type EntityDomain struct {
	Subdir       string              `yaml:"subdir"`
	InitialState string              `yaml:"initial_state"`
	States       []string            `yaml:"states"`
	Transitions  map[string][]string `yaml:"transitions"`
	Template     string              `yaml:"template"`
}

// HasState reports whether a state is defined for the domain.
func (d EntityDomain) HasState(state string) bool {
	for _, s := range d.States {
		if s == state {
			return true
		}
	}
	return false
}

// Allows reports whether the transition table permits from -> to.
func (d EntityDomain) Allows(from, to string) bool {
	for _, s := range d.Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SessionConfig extends the session lifecycle with worktree and
// shared-state settings.
type SessionConfig struct {
	EntityDomain     `yaml:",inline"`
	BranchPrefix     string   `yaml:"branch_prefix"`
	BaseBranchMode   string   `yaml:"base_branch_mode"` // fixed | current
	BaseBranch       string   `yaml:"base_branch"`
	WorktreesDir     string   `yaml:"worktrees_dir"`
	Fetch            string   `yaml:"fetch"` // never | always | on_failure
	InstallDeps      bool     `yaml:"install_deps"`
	PostInstall      []string `yaml:"post_install_commands"`
	SharedStateMode  string   `yaml:"shared_state_mode"` // primary | external | meta
	SharedStatePath  string   `yaml:"shared_state_path"` // external mode only
	MetaBranch       string   `yaml:"meta_branch"`
	SharedPaths      []string `yaml:"shared_paths"`
	RecognizedAgents []string `yaml:"recognized_agents"`
	StaleAfter       string   `yaml:"stale_after"`
}

// StaleDuration parses stale_after, defaulting to two hours.
func (s SessionConfig) StaleDuration() time.Duration {
	if d, err := time.ParseDuration(s.StaleAfter); err == nil {
		return d
	}
	return 2 * time.Hour
}

// GitConfig holds git subprocess settings.
type GitConfig struct {
	Timeout string `yaml:"timeout"`
}

// TimeoutDuration parses the git timeout, defaulting to 30s.
func (g GitConfig) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(g.Timeout); err == nil {
		return d
	}
	return 30 * time.Second
}

// ValidationConfig is the validator roster and wave layout.
type ValidationConfig struct {
	Parallelism     int                          `yaml:"parallelism"`
	ParallelEnabled bool                         `yaml:"parallel_enabled"`
	Waves           []core.WaveConfig            `yaml:"waves"`
	Validators      []core.ValidatorConfig       `yaml:"validators"`
	Engines         map[string]core.EngineConfig `yaml:"engines"`
}

// Validator returns the configuration for an id.
func (v ValidationConfig) Validator(id string) (core.ValidatorConfig, bool) {
	for _, val := range v.Validators {
		if val.ID == id {
			return val, true
		}
	}
	return core.ValidatorConfig{}, false
}

// CompositionConfig holds template pipeline settings.
type CompositionConfig struct {
	MaxIncludeDepth int    `yaml:"max_include_depth"`
	Version         string `yaml:"version"`
}

// PacksConfig lists the active packs in merge order.
type PacksConfig struct {
	Active []string `yaml:"active"`
}

// PathsConfig mirrors the paths section of the merged configuration.
type PathsConfig struct {
	ProjectConfigDir string `yaml:"project_config_dir"`
	ManagementDir    string `yaml:"management_dir"`
	EvidenceSubdir   string `yaml:"evidence_subdir"`
}

// Config is the fully merged configuration.
type Config struct {
	Paths       PathsConfig       `yaml:"paths"`
	Packs       PacksConfig       `yaml:"packs"`
	Tasks       EntityDomain      `yaml:"tasks"`
	QA          EntityDomain      `yaml:"qa"`
	Session     SessionConfig     `yaml:"session"`
	Git         GitConfig         `yaml:"git"`
	Validation  ValidationConfig  `yaml:"validation"`
	Composition CompositionConfig `yaml:"composition"`

	raw map[string]any
}

// Domain returns the lifecycle configuration for an entity kind.
func (c *Config) Domain(kind core.EntityKind) (EntityDomain, error) {
	switch kind {
	case core.KindTask:
		return c.Tasks, nil
	case core.KindQA:
		return c.QA, nil
	case core.KindSession:
		return c.Session.EntityDomain, nil
	default:
		return EntityDomain{}, core.ErrConfig(core.CodeMissingKey, fmt.Sprintf("no domain for entity kind %q", kind))
	}
}

// Raw returns the merged configuration map.
func (c *Config) Raw() map[string]any {
	return c.raw
}

// Lookup resolves a dotted path against the merged map. The second
// return reports whether the key exists.
func (c *Config) Lookup(dotted string) (any, bool) {
	return lookupPath(c.raw, dotted)
}

// LookupString resolves a dotted path and renders it as a string.
func (c *Config) LookupString(dotted string) (string, bool) {
	v, ok := c.Lookup(dotted)
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

func lookupPath(m map[string]any, dotted string) (any, bool) {
	parts := strings.Split(dotted, ".")
	var cur any = m
	for _, part := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// fromMerged decodes the merged layer map into the typed Config. The
// round-trip through YAML keeps the struct tags as the single source
// of field naming.
func fromMerged(merged map[string]any) (*Config, error) {
	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, core.ErrConfig(core.CodeInvalidYAML, "re-encoding merged configuration").WithCause(err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.ErrConfig(core.CodeInvalidYAML, "decoding merged configuration").WithCause(err)
	}
	cfg.raw = merged
	return cfg, nil
}
