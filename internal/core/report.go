package core

import "time"

// FollowUpDelegation marks a follow-up that hands a validator back to
// the orchestrator instead of recording a verdict.
const FollowUpDelegation = "delegation"

// FollowUpTask is an action item attached to a validator result.
type FollowUpTask struct {
	Type        string `yaml:"type"`
	Title       string `yaml:"title,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Finding is a single issue a validator raised.
type Finding struct {
	Severity string `yaml:"severity,omitempty"`
	Summary  string `yaml:"summary"`
	File     string `yaml:"file,omitempty"`
	Line     int    `yaml:"line,omitempty"`
}

// Tracking records execution timing for a validator run.
type Tracking struct {
	StartedAt   time.Time     `yaml:"startedAt,omitempty"`
	CompletedAt time.Time     `yaml:"completedAt,omitempty"`
	Duration    time.Duration `yaml:"duration,omitempty"`
}

// ValidatorReport is the canonical per-validator record persisted as
// validator-<id>-report.md inside a round directory.
type ValidatorReport struct {
	TaskID        string             `yaml:"taskId"`
	Round         int                `yaml:"round"`
	ValidatorID   string             `yaml:"validatorId"`
	Verdict       Verdict            `yaml:"verdict"`
	Summary       string             `yaml:"summary,omitempty"`
	Findings      []Finding          `yaml:"findings,omitempty"`
	Strengths     []string           `yaml:"strengths,omitempty"`
	FollowUpTasks []FollowUpTask     `yaml:"followUpTasks,omitempty"`
	Tracking      Tracking           `yaml:"tracking,omitempty"`
	Scores        map[string]float64 `yaml:"scores,omitempty"`

	Body string `yaml:"-"`
}

// HasDelegation reports whether any follow-up hands this validator to
// the orchestrator.
func (r *ValidatorReport) HasDelegation() bool {
	for _, f := range r.FollowUpTasks {
		if f.Type == FollowUpDelegation {
			return true
		}
	}
	return false
}

// Reusable reports whether an on-disk report can stand in for a fresh
// run: it must match the requested task and round and carry a verdict.
func (r *ValidatorReport) Reusable(taskID string, round int) bool {
	return r.TaskID == taskID && r.Round == round && r.Verdict != ""
}

// BundleApproval is the cluster-level summary written to a bundle
// root's round directory and mirrored to every member.
type BundleApproval struct {
	Approved  bool      `yaml:"approved"`
	RootTask  string    `yaml:"rootTask"`
	Members   []string  `yaml:"members"`
	Round     int       `yaml:"round"`
	Timestamp time.Time `yaml:"timestamp"`
}
