package cli

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/evidence"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// defaultEngineTimeout bounds a validator run when the validator
// configuration does not set one.
const defaultEngineTimeout = 5 * time.Minute

// Request carries everything an engine needs to validate one task.
type Request struct {
	TaskID       string
	Round        int
	Validator    core.ValidatorConfig
	WorktreePath string
	ChangedFiles []string
}

// Engine produces a validator report for a request. CanExecute guards
// execution: engines that cannot run locally (missing binary,
// delegation-only) report false and are handled by the fallback chain.
type Engine interface {
	Name() string
	CanExecute(ctx context.Context) bool
	Execute(ctx context.Context, req Request) (*core.ValidatorReport, error)
}

// CLIEngine runs a configured external command and parses its stdout
// into a verdict.
type CLIEngine struct {
	name     string
	cfg      core.EngineConfig
	parsers  *ParserRegistry
	evidence *evidence.Service
	log      *logging.Logger
}

// NewCLIEngine creates a CLI engine from its configuration.
func NewCLIEngine(name string, cfg core.EngineConfig, parsers *ParserRegistry, ev *evidence.Service, log *logging.Logger) *CLIEngine {
	if log == nil {
		log = logging.NewNop()
	}
	return &CLIEngine{name: name, cfg: cfg, parsers: parsers, evidence: ev, log: log}
}

// Name returns the engine id from configuration.
func (e *CLIEngine) Name() string { return e.name }

// CanExecute reports whether the configured binary is on PATH.
func (e *CLIEngine) CanExecute(ctx context.Context) bool {
	if e.cfg.Command == "" {
		return false
	}
	_, err := exec.LookPath(e.cfg.Command)
	return err == nil
}

// Execute runs the command, captures the raw output as evidence and
// parses the verdict. A non-zero exit never approves: the verdict
// degrades to error when the parser saw an approval.
func (e *CLIEngine) Execute(ctx context.Context, req Request) (*core.ValidatorReport, error) {
	timeout := req.Validator.Timeout
	if timeout <= 0 {
		timeout = defaultEngineTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := e.buildArgs(req)
	cmd := exec.CommandContext(ctx, e.cfg.Command, args...)
	if req.WorktreePath != "" {
		cmd.Dir = req.WorktreePath
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	started := time.Now().UTC()
	runErr := cmd.Run()
	completed := time.Now().UTC()

	if err := e.evidence.WriteCommandCapture(req.TaskID, req.Round, req.Validator.ID, output.Bytes()); err != nil {
		return nil, err
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, core.ErrValidator(core.CodeEngineTimeout,
			"engine "+e.name+" timed out for validator "+req.Validator.ID)
	}

	parser := e.parsers.Get(e.cfg.ResponseParser)
	verdict, summary := parser.Parse(output.String())
	if runErr != nil && verdict == core.VerdictApprove {
		// The binary failed; whatever it printed cannot approve.
		verdict = core.VerdictError
	}

	report := &core.ValidatorReport{
		TaskID:      req.TaskID,
		Round:       req.Round,
		ValidatorID: req.Validator.ID,
		Verdict:     verdict,
		Summary:     summary,
		Tracking: core.Tracking{
			StartedAt:   started,
			CompletedAt: completed,
			Duration:    completed.Sub(started),
		},
		Body: "## Engine output\n\nSee `command-" + req.Validator.ID + ".txt` for the raw capture.\n",
	}
	e.log.Debug("validator executed",
		"validator", req.Validator.ID, "engine", e.name, "verdict", string(verdict))
	return report, nil
}

// buildArgs assembles the command line: subcommand, output and
// read-only flags, then the prompt path.
func (e *CLIEngine) buildArgs(req Request) []string {
	var args []string
	if e.cfg.Subcommand != "" {
		args = append(args, strings.Fields(e.cfg.Subcommand)...)
	}
	args = append(args, e.cfg.OutputFlags...)
	args = append(args, e.cfg.ReadOnlyFlags...)
	if req.Validator.PromptPath != "" {
		args = append(args, req.Validator.PromptPath)
	}
	return args
}
