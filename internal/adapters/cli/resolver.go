package cli

import (
	"context"

	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/evidence"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// Resolver picks the engine that will serve a validator: the primary
// if it can execute, else the fallback, else nothing (the validator is
// blocked).
type Resolver struct {
	engines map[string]Engine
	log     *logging.Logger
}

// NewResolver builds engines from the validation configuration. Every
// engine named in config becomes a CLI engine; engine ids without a
// command (or referenced but not configured) resolve to delegation.
func NewResolver(cfg *config.Config, parsers *ParserRegistry, ev *evidence.Service, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.NewNop()
	}
	r := &Resolver{engines: make(map[string]Engine), log: log}
	for name, engineCfg := range cfg.Validation.Engines {
		if engineCfg.Command == "" {
			r.engines[name] = NewDelegatedEngine(name, ev, log)
			continue
		}
		r.engines[name] = NewCLIEngine(name, engineCfg, parsers, ev, log)
	}
	return r
}

// Register adds or replaces an engine.
func (r *Resolver) Register(e Engine) {
	r.engines[e.Name()] = e
}

// Engine returns a configured engine by name.
func (r *Resolver) Engine(name string) (Engine, bool) {
	e, ok := r.engines[name]
	return e, ok
}

// Resolve picks the engine for a validator. The second return is false
// when neither primary nor fallback can execute; the caller records a
// blocked verdict.
func (r *Resolver) Resolve(ctx context.Context, v core.ValidatorConfig) (Engine, bool) {
	if primary, ok := r.engines[v.Engine]; ok && primary.CanExecute(ctx) {
		return primary, true
	}
	if v.FallbackEngine != "" {
		if fallback, ok := r.engines[v.FallbackEngine]; ok && fallback.CanExecute(ctx) {
			r.log.Debug("validator falling back",
				"validator", v.ID, "primary", v.Engine, "fallback", v.FallbackEngine)
			return fallback, true
		}
	}
	return nil, false
}

// BlockedReport is the result recorded when no engine can serve a
// validator.
func BlockedReport(taskID string, round int, v core.ValidatorConfig) *core.ValidatorReport {
	return &core.ValidatorReport{
		TaskID:      taskID,
		Round:       round,
		ValidatorID: v.ID,
		Verdict:     core.VerdictBlocked,
		Summary:     "no engine available: " + v.Engine + " unavailable and no usable fallback",
	}
}
