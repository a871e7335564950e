package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/evidence"
	"github.com/leeroybrun/edison-sub004/internal/fsutil"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// DelegatedEngine never executes anything. It writes Markdown
// instructions into the current round and returns a pending verdict
// with a single delegation follow-up; the orchestrator runs the
// validator out-of-band and drops the report file in later.
type DelegatedEngine struct {
	name     string
	evidence *evidence.Service
	log      *logging.Logger
}

// NewDelegatedEngine creates a delegation engine.
func NewDelegatedEngine(name string, ev *evidence.Service, log *logging.Logger) *DelegatedEngine {
	if log == nil {
		log = logging.NewNop()
	}
	return &DelegatedEngine{name: name, evidence: ev, log: log}
}

// Name returns the engine id.
func (e *DelegatedEngine) Name() string { return e.name }

// CanExecute is always true: delegation is the engine of last resort.
func (e *DelegatedEngine) CanExecute(ctx context.Context) bool { return true }

// Execute writes the instructions file and hands back a pending
// result. No validator report is persisted for delegated runs.
func (e *DelegatedEngine) Execute(ctx context.Context, req Request) (*core.ValidatorReport, error) {
	if _, err := e.evidence.EnsureRound(req.TaskID, req.Round); err != nil {
		return nil, err
	}
	path := e.evidence.DelegationInstructionsPath(req.TaskID, req.Round, req.Validator.ID)
	if err := fsutil.WriteFileAtomic(path, []byte(e.instructions(req)), 0o644); err != nil {
		return nil, core.ErrPersistence(core.CodeRenameFailed,
			"writing delegation instructions for "+req.Validator.ID).WithCause(err)
	}

	e.log.Info("validator delegated",
		"validator", req.Validator.ID, "task_id", req.TaskID, "round", req.Round)
	return &core.ValidatorReport{
		TaskID:      req.TaskID,
		Round:       req.Round,
		ValidatorID: req.Validator.ID,
		Verdict:     core.VerdictPending,
		Summary:     "delegated to " + e.name,
		FollowUpTasks: []core.FollowUpTask{{
			Type:        core.FollowUpDelegation,
			Title:       "Run validator " + req.Validator.ID,
			Description: "instructions at " + path,
		}},
	}, nil
}

// instructions renders the delegation brief.
func (e *DelegatedEngine) instructions(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Validation delegation: %s\n\n", req.Validator.ID)
	fmt.Fprintf(&b, "- Role: %s\n", e.name)
	fmt.Fprintf(&b, "- Task: %s\n", req.TaskID)
	fmt.Fprintf(&b, "- Round: %d\n", req.Round)
	if req.Validator.PromptPath != "" {
		fmt.Fprintf(&b, "- Prompt: %s\n", req.Validator.PromptPath)
	}
	if req.WorktreePath != "" {
		fmt.Fprintf(&b, "- Worktree: %s\n", req.WorktreePath)
	}
	if len(req.Validator.Focus) > 0 {
		b.WriteString("\n## Focus areas\n\n")
		for _, f := range req.Validator.Focus {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	b.WriteString("\n## Expected output\n\n")
	fmt.Fprintf(&b, "Write `validator-%s-report.md` into the round directory with a\n", req.Validator.ID)
	b.WriteString("frontmatter verdict of approve, reject or blocked.\n")
	fmt.Fprintf(&b, "\nGenerated %s.\n", time.Now().UTC().Format(time.RFC3339))
	return b.String()
}
