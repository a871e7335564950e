package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeroybrun/edison-sub004/internal/adapters/cli"
	"github.com/leeroybrun/edison-sub004/internal/adapters/state"
	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/evidence"
)

type fixture struct {
	cfg      *config.Config
	paths    config.Paths
	evidence *evidence.Service
}

func testFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	paths := config.NewPaths(root)
	paths.UserConfigDir = filepath.Join(root, "userconfig")
	cfg, err := config.NewLoader(paths, nil).Load()
	require.NoError(t, err)
	return &fixture{cfg: cfg, paths: paths, evidence: evidence.NewService(paths, nil)}
}

func (f *fixture) executor() *Executor {
	resolver := cli.NewResolver(f.cfg, cli.NewParserRegistry(), f.evidence, nil)
	return New(f.cfg, f.evidence, resolver, nil)
}

// stubBinary drops an executable shell script on a fresh PATH entry.
func stubBinary(t *testing.T, name, script string) {
	t.Helper()
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"+script), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func validator(id, wave string, blocking bool) core.ValidatorConfig {
	return core.ValidatorConfig{ID: id, Engine: "codex", Wave: wave, Blocking: blocking, AlwaysRun: true}
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Should run a wave and persist the report", func(t *testing.T) {
		stubBinary(t, "fakeval", `echo "Verdict: approve"`)
		f := testFixture(t)
		f.cfg.Validation = config.ValidationConfig{
			Engines:    map[string]core.EngineConfig{"codex": {Command: "fakeval", ResponseParser: "codex"}},
			Validators: []core.ValidatorConfig{validator("v1", "critical", true)},
			Waves:      []core.WaveConfig{{Name: "critical", Validators: []string{"v1"}}},
		}

		result, err := f.executor().Run(ctx, Request{TaskID: "T-1"})
		require.NoError(t, err)

		assert.Equal(t, 1, result.Round)
		assert.Equal(t, StatusCompleted, result.Status)
		assert.Equal(t, 1, result.Passed)
		require.Len(t, result.Waves, 1)
		assert.True(t, result.Waves[0].BlockingPassed)
		assert.FileExists(t, f.evidence.ReportPath("T-1", 1, "v1"))
	})

	t.Run("Should narrow the roster by file triggers", func(t *testing.T) {
		stubBinary(t, "fakeval", `echo "Verdict: approve"`)
		f := testFixture(t)
		goVal := core.ValidatorConfig{ID: "v-go", Engine: "codex", Wave: "review", Triggers: []string{"**/*.go"}}
		docsVal := core.ValidatorConfig{ID: "v-docs", Engine: "codex", Wave: "review", Triggers: []string{"docs/**"}}
		f.cfg.Validation = config.ValidationConfig{
			Engines:    map[string]core.EngineConfig{"codex": {Command: "fakeval", ResponseParser: "codex"}},
			Validators: []core.ValidatorConfig{goVal, docsVal},
			Waves:      []core.WaveConfig{{Name: "review", Validators: []string{"v-go", "v-docs"}}},
		}

		result, err := f.executor().Run(ctx, Request{
			TaskID:       "T-1",
			ChangedFiles: []string{"internal/server/handler.go"},
		})
		require.NoError(t, err)

		require.Len(t, result.Waves[0].Results, 1)
		assert.Equal(t, "v-go", result.Waves[0].Results[0].ValidatorID)
	})

	t.Run("Should include orchestrator extras regardless of triggers", func(t *testing.T) {
		stubBinary(t, "fakeval", `echo "Verdict: approve"`)
		f := testFixture(t)
		docsVal := core.ValidatorConfig{ID: "v-docs", Engine: "codex", Wave: "review", Triggers: []string{"docs/**"}}
		f.cfg.Validation = config.ValidationConfig{
			Engines:    map[string]core.EngineConfig{"codex": {Command: "fakeval", ResponseParser: "codex"}},
			Validators: []core.ValidatorConfig{docsVal},
			Waves:      []core.WaveConfig{{Name: "review", Validators: []string{"v-docs"}}},
		}

		result, err := f.executor().Run(ctx, Request{
			TaskID:          "T-1",
			ChangedFiles:    []string{"main.go"},
			ExtraValidators: []string{"v-docs"},
		})
		require.NoError(t, err)
		require.Len(t, result.Waves[0].Results, 1)
	})

	t.Run("Should reuse an existing report instead of re-running", func(t *testing.T) {
		f := testFixture(t)
		// The binary is absent on purpose; only reuse can produce approve.
		f.cfg.Validation = config.ValidationConfig{
			Engines:    map[string]core.EngineConfig{"codex": {Command: "definitely-not-installed-xyz"}},
			Validators: []core.ValidatorConfig{validator("v1", "critical", true)},
			Waves:      []core.WaveConfig{{Name: "critical", Validators: []string{"v1"}}},
		}
		_, err := f.evidence.StartNextRound("T-1")
		require.NoError(t, err)
		require.NoError(t, f.evidence.WriteReport(&core.ValidatorReport{
			TaskID: "T-1", Round: 1, ValidatorID: "v1",
			Verdict: core.VerdictApprove, Summary: "delivered out-of-band",
		}))

		result, err := f.executor().Run(ctx, Request{TaskID: "T-1"})
		require.NoError(t, err)

		require.Len(t, result.Waves[0].Results, 1)
		assert.True(t, result.Waves[0].Results[0].Reused)
		assert.Equal(t, core.VerdictApprove, result.Waves[0].Results[0].Verdict)
		assert.True(t, result.Waves[0].BlockingPassed)
	})

	t.Run("Should fall back to delegation when the CLI binary is missing", func(t *testing.T) {
		f := testFixture(t)
		f.cfg.Validation = config.ValidationConfig{
			Engines: map[string]core.EngineConfig{
				"codex-cli": {Command: "definitely-not-installed-xyz"},
				"zen-mcp":   {},
			},
			Validators: []core.ValidatorConfig{{
				ID: "global-codex", Engine: "codex-cli", FallbackEngine: "zen-mcp",
				Wave: "critical", Blocking: true, AlwaysRun: true,
			}},
			Waves: []core.WaveConfig{{Name: "critical", Validators: []string{"global-codex"}}},
		}

		result, err := f.executor().Run(ctx, Request{TaskID: "T-1"})
		require.NoError(t, err)

		assert.Equal(t, StatusAwaitingDelegation, result.Status)
		require.Len(t, result.Waves, 1)
		wave := result.Waves[0]
		require.Len(t, wave.Results, 1)
		assert.Equal(t, core.VerdictPending, wave.Results[0].Verdict)
		assert.True(t, wave.Results[0].Delegated)
		// Delegated blocking validators do not fail the wave.
		assert.True(t, wave.BlockingPassed)
		assert.Equal(t, []string{"global-codex"}, wave.DelegatedBlocking)
		assert.FileExists(t, f.evidence.DelegationInstructionsPath("T-1", 1, "global-codex"))
		assert.NoFileExists(t, f.evidence.ReportPath("T-1", 1, "global-codex"))
	})

	t.Run("Should record blocked when no engine can serve", func(t *testing.T) {
		f := testFixture(t)
		f.cfg.Validation = config.ValidationConfig{
			Engines:    map[string]core.EngineConfig{"codex": {Command: "definitely-not-installed-xyz"}},
			Validators: []core.ValidatorConfig{validator("v1", "critical", false)},
			Waves:      []core.WaveConfig{{Name: "critical", Validators: []string{"v1"}}},
		}

		result, err := f.executor().Run(ctx, Request{TaskID: "T-1"})
		require.NoError(t, err)

		require.Len(t, result.Waves[0].Results, 1)
		assert.Equal(t, core.VerdictBlocked, result.Waves[0].Results[0].Verdict)
		assert.FileExists(t, f.evidence.ReportPath("T-1", 1, "v1"))
	})

	t.Run("Should stop wave iteration at the first blocking failure", func(t *testing.T) {
		stubBinary(t, "fakeval", `echo "Verdict: reject"`)
		f := testFixture(t)
		f.cfg.Validation = config.ValidationConfig{
			Engines: map[string]core.EngineConfig{"codex": {Command: "fakeval", ResponseParser: "codex"}},
			Validators: []core.ValidatorConfig{
				validator("v1", "critical", true),
				validator("v2", "quality", false),
			},
			Waves: []core.WaveConfig{
				{Name: "critical", Validators: []string{"v1"}},
				{Name: "quality", Validators: []string{"v2"}},
			},
		}

		result, err := f.executor().Run(ctx, Request{TaskID: "T-1"})
		require.NoError(t, err)

		require.Len(t, result.Waves, 1)
		assert.False(t, result.Waves[0].BlockingPassed)
		assert.Equal(t, 1, result.Failed)
	})

	t.Run("Should restrict the run to the requested wave", func(t *testing.T) {
		stubBinary(t, "fakeval", `echo "Verdict: approve"`)
		f := testFixture(t)
		f.cfg.Validation = config.ValidationConfig{
			Engines: map[string]core.EngineConfig{"codex": {Command: "fakeval", ResponseParser: "codex"}},
			Validators: []core.ValidatorConfig{
				validator("v1", "critical", true),
				validator("v2", "quality", false),
			},
			Waves: []core.WaveConfig{
				{Name: "critical", Validators: []string{"v1"}},
				{Name: "quality", Validators: []string{"v2"}},
			},
		}

		result, err := f.executor().Run(ctx, Request{TaskID: "T-1", Wave: "quality"})
		require.NoError(t, err)

		require.Len(t, result.Waves, 1)
		assert.Equal(t, "quality", result.Waves[0].Wave)
	})

	t.Run("Should keep running non-blocking failures within a wave", func(t *testing.T) {
		stubBinary(t, "fakeval", `echo "Verdict: reject"`)
		f := testFixture(t)
		f.cfg.Validation = config.ValidationConfig{
			Engines:    map[string]core.EngineConfig{"codex": {Command: "fakeval", ResponseParser: "codex"}},
			Validators: []core.ValidatorConfig{validator("v1", "critical", false)},
			Waves:      []core.WaveConfig{{Name: "critical", Validators: []string{"v1"}}},
		}

		result, err := f.executor().Run(ctx, Request{TaskID: "T-1"})
		require.NoError(t, err)

		assert.True(t, result.Waves[0].BlockingPassed)
		assert.Equal(t, StatusCompleted, result.Status)
		assert.Equal(t, 1, result.Failed)
	})
}

func TestEvaluateBundle(t *testing.T) {
	ctx := context.Background()

	bundleFixture := func(t *testing.T) (*fixture, *state.TaskRepository) {
		f := testFixture(t)
		f.cfg.Validation = config.ValidationConfig{
			Engines:    map[string]core.EngineConfig{"codex": {Command: "fakeval", ResponseParser: "codex"}},
			Validators: []core.ValidatorConfig{validator("v1", "critical", true)},
			Waves:      []core.WaveConfig{{Name: "critical", Validators: []string{"v1"}}},
		}
		tasks := state.NewTaskRepository(f.paths, f.cfg, nil)
		root := core.NewTask("P", "Parent")
		root.Relationships = []core.Relationship{
			{Type: core.RelationChild, Target: "C1"},
			{Type: core.RelationChild, Target: "C2"},
		}
		require.NoError(t, tasks.Create(ctx, root))
		for _, id := range []string{"C1", "C2"} {
			child := core.NewTask(id, "Child "+id)
			child.Relationships = []core.Relationship{{Type: core.RelationParent, Target: "P"}}
			require.NoError(t, tasks.Create(ctx, child))
		}
		return f, tasks
	}

	approve := func(t *testing.T, f *fixture, taskID string, verdict core.Verdict) {
		t.Helper()
		_, err := f.evidence.StartNextRound(taskID)
		require.NoError(t, err)
		require.NoError(t, f.evidence.WriteReport(&core.ValidatorReport{
			TaskID: taskID, Round: 1, ValidatorID: "v1", Verdict: verdict,
		}))
	}

	t.Run("Should mirror approval to every member", func(t *testing.T) {
		f, tasks := bundleFixture(t)
		for _, id := range []string{"P", "C1", "C2"} {
			approve(t, f, id, core.VerdictApprove)
		}

		approval, err := f.executor().EvaluateBundle(ctx, tasks, "P", 1)
		require.NoError(t, err)

		assert.True(t, approval.Approved)
		assert.Equal(t, []string{"C1", "C2"}, approval.Members)
		for _, id := range []string{"P", "C1", "C2"} {
			got, err := f.evidence.LoadBundleApproval(id, 1)
			require.NoError(t, err)
			assert.True(t, got.Approved)
			assert.Equal(t, "P", got.RootTask)
		}
	})

	t.Run("Should withhold approval when a member rejects", func(t *testing.T) {
		f, tasks := bundleFixture(t)
		approve(t, f, "P", core.VerdictApprove)
		approve(t, f, "C1", core.VerdictReject)
		approve(t, f, "C2", core.VerdictApprove)

		approval, err := f.executor().EvaluateBundle(ctx, tasks, "P", 1)
		require.NoError(t, err)

		assert.False(t, approval.Approved)
		_, err = f.evidence.LoadBundleApproval("P", 1)
		assert.Error(t, err)
	})

	t.Run("Should withhold approval when a member has no evidence", func(t *testing.T) {
		f, tasks := bundleFixture(t)
		approve(t, f, "P", core.VerdictApprove)
		approve(t, f, "C1", core.VerdictApprove)

		approval, err := f.executor().EvaluateBundle(ctx, tasks, "P", 1)
		require.NoError(t, err)
		assert.False(t, approval.Approved)
	})
}
