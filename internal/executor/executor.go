// Package executor schedules validators in waves: narrowing the roster
// by file triggers, reusing reports that already exist on disk, running
// CLI engines in a bounded pool and delegated engines sequentially, and
// stopping at the first wave with a blocking failure.
package executor

import (
	"context"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/leeroybrun/edison-sub004/internal/adapters/cli"
	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/evidence"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// defaultParallelism bounds the per-wave worker pool when the
// configuration does not set one.
const defaultParallelism = 4

// Overall execution statuses.
const (
	StatusCompleted          = "completed"
	StatusAwaitingDelegation = "awaiting_delegation"
)

// Request selects what to validate and how to narrow the roster.
type Request struct {
	TaskID    string
	SessionID string

	// Round 0 means the task's current round, starting round 1 when no
	// evidence exists yet.
	Round int

	WorktreePath string
	ChangedFiles []string

	// Wave restricts the run to a single named wave.
	Wave string

	// ValidatorsFilter and ExtraValidators widen the narrowed roster.
	ValidatorsFilter []string
	ExtraValidators  []string
}

// ValidatorResult is the per-validator outcome inside a wave.
type ValidatorResult struct {
	ValidatorID string
	Verdict     core.Verdict
	Blocking    bool
	Delegated   bool
	Reused      bool
	Summary     string
}

// WaveResult aggregates one wave.
type WaveResult struct {
	Wave              string
	Results           []ValidatorResult
	BlockingPassed    bool
	DelegatedBlocking []string
}

// ExecutionResult is the full run outcome.
type ExecutionResult struct {
	TaskID  string
	Round   int
	Waves   []WaveResult
	Total   int
	Passed  int
	Failed  int
	Pending int
	Status  string
}

// Executor drives wave-ordered validation for one task at a time.
type Executor struct {
	cfg      *config.Config
	evidence *evidence.Service
	resolver *cli.Resolver
	log      *logging.Logger
}

// New creates an executor.
func New(cfg *config.Config, ev *evidence.Service, resolver *cli.Resolver, log *logging.Logger) *Executor {
	if log == nil {
		log = logging.NewNop()
	}
	return &Executor{cfg: cfg, evidence: ev, resolver: resolver, log: log}
}

// Run executes the configured waves in order for the request's task.
func (e *Executor) Run(ctx context.Context, req Request) (*ExecutionResult, error) {
	round, err := e.resolveRound(req)
	if err != nil {
		return nil, err
	}
	if _, err := e.evidence.EnsureRound(req.TaskID, round); err != nil {
		return nil, err
	}

	result := &ExecutionResult{TaskID: req.TaskID, Round: round}
	for _, wave := range e.cfg.Validation.Waves {
		if req.Wave != "" && wave.Name != req.Wave {
			continue
		}
		waveResult, err := e.runWave(ctx, wave, req, round)
		if err != nil {
			return nil, err
		}
		result.Waves = append(result.Waves, *waveResult)
		if !waveResult.BlockingPassed {
			e.log.Warn("blocking failure, stopping wave iteration",
				"task_id", req.TaskID, "wave", wave.Name)
			break
		}
	}

	for _, w := range result.Waves {
		for _, r := range w.Results {
			result.Total++
			switch r.Verdict {
			case core.VerdictApprove:
				result.Passed++
			case core.VerdictPending:
				result.Pending++
			default:
				result.Failed++
			}
			if r.Delegated {
				result.Status = StatusAwaitingDelegation
			}
		}
	}
	if result.Status == "" {
		result.Status = StatusCompleted
	}
	return result, nil
}

func (e *Executor) resolveRound(req Request) (int, error) {
	if req.Round > 0 {
		return req.Round, nil
	}
	current, err := e.evidence.CurrentRound(req.TaskID)
	if err != nil {
		return 0, err
	}
	if current == 0 {
		return e.evidence.StartNextRound(req.TaskID)
	}
	return current, nil
}

// runWave executes one wave: reuse, then parallel CLI, then sequential
// delegation.
func (e *Executor) runWave(ctx context.Context, wave core.WaveConfig, req Request, round int) (*WaveResult, error) {
	roster := e.narrow(wave, req)
	out := &WaveResult{Wave: wave.Name, BlockingPassed: true}

	type pending struct {
		validator core.ValidatorConfig
		engine    cli.Engine
	}
	var executable, delegated []pending

	for _, v := range roster {
		// An on-disk report for this round stands in for a fresh run.
		// Delegated validators depend on this: their reports arrive
		// out-of-band and must never be re-requested.
		if existing, err := e.evidence.LoadReport(req.TaskID, round, v.ID); err == nil && existing.Reusable(req.TaskID, round) {
			e.log.Debug("reusing validator report", "validator", v.ID, "round", round)
			out.Results = append(out.Results, ValidatorResult{
				ValidatorID: v.ID,
				Verdict:     existing.Verdict,
				Blocking:    v.Blocking,
				Reused:      true,
				Summary:     existing.Summary,
			})
			continue
		}

		engine, ok := e.resolver.Resolve(ctx, v)
		if !ok {
			report := cli.BlockedReport(req.TaskID, round, v)
			if err := e.evidence.WriteReport(report); err != nil {
				return nil, err
			}
			out.Results = append(out.Results, ValidatorResult{
				ValidatorID: v.ID,
				Verdict:     core.VerdictBlocked,
				Blocking:    v.Blocking,
				Summary:     report.Summary,
			})
			continue
		}
		if _, isDelegated := engine.(*cli.DelegatedEngine); isDelegated {
			delegated = append(delegated, pending{v, engine})
		} else {
			executable = append(executable, pending{v, engine})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism())
	for _, p := range executable {
		p := p
		g.Go(func() error {
			result, err := e.execute(gctx, p.engine, p.validator, req, round)
			if err != nil {
				return err
			}
			mu.Lock()
			out.Results = append(out.Results, *result)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range delegated {
		result, err := e.execute(ctx, p.engine, p.validator, req, round)
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, *result)
	}

	sort.Slice(out.Results, func(i, j int) bool {
		return out.Results[i].ValidatorID < out.Results[j].ValidatorID
	})
	for _, r := range out.Results {
		if !r.Blocking {
			continue
		}
		if r.Delegated {
			out.DelegatedBlocking = append(out.DelegatedBlocking, r.ValidatorID)
			continue
		}
		if r.Verdict != core.VerdictApprove {
			out.BlockingPassed = false
		}
	}
	return out, nil
}

// execute runs a single validator fail-soft: an engine crash becomes an
// error verdict instead of aborting the wave.
func (e *Executor) execute(ctx context.Context, engine cli.Engine, v core.ValidatorConfig, req Request, round int) (*ValidatorResult, error) {
	report, err := engine.Execute(ctx, cli.Request{
		TaskID:       req.TaskID,
		Round:        round,
		Validator:    v,
		WorktreePath: req.WorktreePath,
		ChangedFiles: req.ChangedFiles,
	})
	if err != nil {
		e.log.Error("validator execution failed", "validator", v.ID, "error", err)
		report = &core.ValidatorReport{
			TaskID:      req.TaskID,
			Round:       round,
			ValidatorID: v.ID,
			Verdict:     core.VerdictError,
			Summary:     err.Error(),
		}
	}

	// Delegated results carry a follow-up instead of a verdict; the
	// orchestrator writes the report file later.
	if !report.HasDelegation() {
		if err := e.evidence.WriteReport(report); err != nil {
			return nil, err
		}
	}
	return &ValidatorResult{
		ValidatorID: v.ID,
		Verdict:     report.Verdict,
		Blocking:    v.Blocking,
		Delegated:   report.HasDelegation(),
		Summary:     report.Summary,
	}, nil
}

// narrow selects the wave's validators that apply to this request:
// trigger matches against the changed files, always_run validators, the
// explicit filter, and orchestrator extras.
func (e *Executor) narrow(wave core.WaveConfig, req Request) []core.ValidatorConfig {
	wanted := make(map[string]bool, len(req.ValidatorsFilter)+len(req.ExtraValidators))
	for _, id := range req.ValidatorsFilter {
		wanted[id] = true
	}
	for _, id := range req.ExtraValidators {
		wanted[id] = true
	}

	var selected []core.ValidatorConfig
	for _, id := range wave.Validators {
		v, ok := e.cfg.Validation.Validator(id)
		if !ok {
			e.log.Warn("wave references unknown validator", "wave", wave.Name, "validator", id)
			continue
		}
		if v.AlwaysRun || wanted[id] || matchesTriggers(v.Triggers, req.ChangedFiles) {
			selected = append(selected, v)
		}
	}
	return selected
}

// matchesTriggers reports whether any trigger glob matches any changed
// file. A validator without triggers applies to every change set.
func matchesTriggers(triggers, changed []string) bool {
	if len(triggers) == 0 {
		return true
	}
	for _, pattern := range triggers {
		for _, file := range changed {
			if ok, err := doublestar.Match(pattern, file); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func (e *Executor) parallelism() int {
	if !e.cfg.Validation.ParallelEnabled {
		return 1
	}
	if e.cfg.Validation.Parallelism > 0 {
		return e.cfg.Validation.Parallelism
	}
	return defaultParallelism
}
