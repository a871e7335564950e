package core

import "time"

// Verdict is the outcome a validator produces for a task round.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
	VerdictBlocked Verdict = "blocked"
	VerdictPending Verdict = "pending"
	VerdictError   Verdict = "error"
)

// IsTerminal reports whether the verdict needs no further action.
func (v Verdict) IsTerminal() bool {
	return v == VerdictApprove || v == VerdictReject
}

// EngineConfig describes how a CLI engine builds its command line.
type EngineConfig struct {
	Command        string   `yaml:"command"`
	Subcommand     string   `yaml:"subcommand,omitempty"`
	OutputFlags    []string `yaml:"output_flags,omitempty"`
	ReadOnlyFlags  []string `yaml:"read_only_flags,omitempty"`
	ResponseParser string   `yaml:"response_parser,omitempty"`
}

// ValidatorConfig is the declarative description of one validator.
type ValidatorConfig struct {
	ID               string        `yaml:"id"`
	Engine           string        `yaml:"engine"`
	PromptPath       string        `yaml:"prompt_path,omitempty"`
	Wave             string        `yaml:"wave"`
	FallbackEngine   string        `yaml:"fallback_engine,omitempty"`
	Blocking         bool          `yaml:"blocking"`
	AlwaysRun        bool          `yaml:"always_run"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	Triggers         []string      `yaml:"triggers,omitempty"`
	Focus            []string      `yaml:"focus,omitempty"`
	Context7Required bool          `yaml:"context7_required,omitempty"`
}

// Validate checks validator configuration invariants.
func (v *ValidatorConfig) Validate() error {
	if v.ID == "" {
		return ErrConfig("VALIDATOR_ID_REQUIRED", "validator id cannot be empty")
	}
	if v.Engine == "" {
		return ErrConfig("VALIDATOR_ENGINE_REQUIRED", "validator "+v.ID+" has no engine")
	}
	if v.Wave == "" {
		return ErrConfig("VALIDATOR_WAVE_REQUIRED", "validator "+v.ID+" has no wave")
	}
	return nil
}

// WaveConfig is an ordered group of validators executed as a unit.
type WaveConfig struct {
	Name       string   `yaml:"name"`
	Validators []string `yaml:"validators"`
}
