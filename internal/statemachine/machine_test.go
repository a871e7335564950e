package statemachine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeroybrun/edison-sub004/internal/adapters/state"
	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
)

func testEnv(t *testing.T) (config.Paths, *config.Config) {
	t.Helper()
	root := t.TempDir()
	paths := config.NewPaths(root)
	paths.UserConfigDir = filepath.Join(root, "userconfig")
	cfg, err := config.NewLoader(paths, nil).Load()
	require.NoError(t, err)
	return paths, cfg
}

func TestTaskTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("Should move the file and append state history", func(t *testing.T) {
		paths, cfg := testEnv(t)
		repo := state.NewTaskRepository(paths, cfg, nil)
		machine := NewTaskMachine(repo, cfg, nil)

		task := core.NewTask("T-1", "First")
		require.NoError(t, repo.Create(ctx, task))

		require.NoError(t, machine.Transition(ctx, task, "wip", Options[*core.Task]{Reason: "claimed"}))

		assert.Equal(t, "wip", task.State)
		assert.FileExists(t, filepath.Join(paths.TasksDir(), "wip", "T-1.md"))
		assert.NoFileExists(t, filepath.Join(paths.TasksDir(), "todo", "T-1.md"))

		got, err := repo.Get(ctx, "T-1")
		require.NoError(t, err)
		require.Len(t, got.StateHistory, 2)
		assert.Equal(t, "", got.StateHistory[0].From)
		assert.Equal(t, "todo", got.StateHistory[0].To)
		assert.Equal(t, "created", got.StateHistory[0].Reason)
		assert.Equal(t, "todo", got.StateHistory[1].From)
		assert.Equal(t, "wip", got.StateHistory[1].To)
		assert.Equal(t, "claimed", got.StateHistory[1].Reason)
	})

	t.Run("Should reject an undefined target state", func(t *testing.T) {
		paths, cfg := testEnv(t)
		repo := state.NewTaskRepository(paths, cfg, nil)
		machine := NewTaskMachine(repo, cfg, nil)

		task := core.NewTask("T-1", "First")
		require.NoError(t, repo.Create(ctx, task))

		err := machine.Transition(ctx, task, "limbo", Options[*core.Task]{})
		var terr *core.TransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "limbo", terr.To)
	})

	t.Run("Should reject a transition the table does not permit", func(t *testing.T) {
		paths, cfg := testEnv(t)
		repo := state.NewTaskRepository(paths, cfg, nil)
		machine := NewTaskMachine(repo, cfg, nil)

		task := core.NewTask("T-1", "First")
		require.NoError(t, repo.Create(ctx, task))

		err := machine.Transition(ctx, task, "validated", Options[*core.Task]{})
		var terr *core.TransitionError
		require.ErrorAs(t, err, &terr)
		assert.NotEmpty(t, terr.Violations)
		// Entity is untouched on disk.
		assert.FileExists(t, filepath.Join(paths.TasksDir(), "todo", "T-1.md"))
	})

	t.Run("Should fail closed when a guard rejects", func(t *testing.T) {
		paths, cfg := testEnv(t)
		repo := state.NewTaskRepository(paths, cfg, nil)
		machine := NewTaskMachine(repo, cfg, nil)
		machine.RegisterGuard("todo", "wip", BuiltinTaskGuards()["claimed-by-session"])

		task := core.NewTask("T-1", "First")
		require.NoError(t, repo.Create(ctx, task))

		err := machine.Transition(ctx, task, "wip", Options[*core.Task]{})
		var terr *core.TransitionError
		require.ErrorAs(t, err, &terr)
		require.Len(t, terr.Violations, 1)
		assert.Contains(t, terr.Violations[0], "not claimed")
		assert.FileExists(t, filepath.Join(paths.TasksDir(), "todo", "T-1.md"))

		got, err2 := repo.Get(ctx, "T-1")
		require.NoError(t, err2)
		require.Len(t, got.StateHistory, 1, "only the creation entry on refused transition")
		assert.Equal(t, "created", got.StateHistory[0].Reason)
	})

	t.Run("Should collect every guard violation", func(t *testing.T) {
		paths, cfg := testEnv(t)
		repo := state.NewTaskRepository(paths, cfg, nil)
		machine := NewTaskMachine(repo, cfg, nil)
		builtins := BuiltinTaskGuards()
		machine.RegisterGuard("todo", "wip", builtins["claimed-by-session"])
		machine.RegisterGuard(Wildcard, "wip", builtins["result-recorded"])

		task := core.NewTask("T-1", "First")
		require.NoError(t, repo.Create(ctx, task))

		err := machine.Transition(ctx, task, "wip", Options[*core.Task]{})
		var terr *core.TransitionError
		require.ErrorAs(t, err, &terr)
		assert.Len(t, terr.Violations, 2)
	})

	t.Run("Should abort on action failure before any mutation", func(t *testing.T) {
		paths, cfg := testEnv(t)
		repo := state.NewTaskRepository(paths, cfg, nil)
		machine := NewTaskMachine(repo, cfg, nil)
		machine.RegisterAction("todo", "wip", Action[*core.Task]{
			Name: "boom",
			Run:  func(context.Context, *core.Task) error { return errors.New("nope") },
		})

		task := core.NewTask("T-1", "First")
		require.NoError(t, repo.Create(ctx, task))

		err := machine.Transition(ctx, task, "wip", Options[*core.Task]{})
		require.Error(t, err)
		assert.True(t, core.HasCode(errors.Unwrap(err), core.CodeActionFailed))
		assert.FileExists(t, filepath.Join(paths.TasksDir(), "todo", "T-1.md"))
	})

	t.Run("Should apply the caller mutator before persistence", func(t *testing.T) {
		paths, cfg := testEnv(t)
		repo := state.NewTaskRepository(paths, cfg, nil)
		machine := NewTaskMachine(repo, cfg, nil)

		task := core.NewTask("T-1", "First")
		require.NoError(t, repo.Create(ctx, task))

		require.NoError(t, machine.Transition(ctx, task, "wip", Options[*core.Task]{
			Mutate: func(t *core.Task) error { t.Result = "started"; return nil },
		}))

		got, err := repo.Get(ctx, "T-1")
		require.NoError(t, err)
		assert.Equal(t, "started", got.Result)
	})

	t.Run("Should wire guards from a YAML-shaped table", func(t *testing.T) {
		paths, cfg := testEnv(t)
		repo := state.NewTaskRepository(paths, cfg, nil)
		machine := NewTaskMachine(repo, cfg, nil)

		require.NoError(t, machine.ConfigureGuards(map[string][]string{
			"wip->done": {"result-recorded"},
		}, BuiltinTaskGuards()))

		task := core.NewTask("T-1", "First")
		require.NoError(t, repo.Create(ctx, task))
		require.NoError(t, machine.Transition(ctx, task, "wip", Options[*core.Task]{}))

		err := machine.Transition(ctx, task, "done", Options[*core.Task]{})
		var terr *core.TransitionError
		require.ErrorAs(t, err, &terr)

		task.Result = "implemented"
		require.NoError(t, repo.Save(ctx, task))
		require.NoError(t, machine.Transition(ctx, task, "done", Options[*core.Task]{}))
	})

	t.Run("Should reject unknown guard names in the table", func(t *testing.T) {
		_, cfg := testEnv(t)
		machine := NewTaskMachine(nil, cfg, nil)

		err := machine.ConfigureGuards(map[string][]string{
			"todo->wip": {"no-such-guard"},
		}, BuiltinTaskGuards())
		assert.Error(t, err)
	})
}

func TestQATransitionCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Should allow the configured wip to todo cycle", func(t *testing.T) {
		paths, cfg := testEnv(t)
		repo := state.NewQARepository(paths, cfg, nil)
		machine := NewQAMachine(repo, cfg, nil)

		qa := core.NewQARecord("T-1", "First")
		require.NoError(t, repo.Create(ctx, qa))

		require.NoError(t, machine.Transition(ctx, qa, "todo", Options[*core.QARecord]{}))
		require.NoError(t, machine.Transition(ctx, qa, "wip", Options[*core.QARecord]{}))
		require.NoError(t, machine.Transition(ctx, qa, "todo", Options[*core.QARecord]{Reason: "rework"}))

		got, err := repo.Get(ctx, "T-1-qa")
		require.NoError(t, err)
		assert.Equal(t, "todo", got.State)
		assert.Len(t, got.StateHistory, 3)
	})
}

func TestSessionTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("Should log transitions into the activity log", func(t *testing.T) {
		paths, cfg := testEnv(t)
		repo := state.NewSessionRepository(paths, cfg, nil)
		machine := NewSessionMachine(repo, cfg, nil)

		s := core.NewSession("S-1", "claude")
		require.NoError(t, repo.Create(ctx, s))

		require.NoError(t, machine.Transition(ctx, s, "done", Options[*core.Session]{Reason: "work finished"}))

		got, err := repo.Get(ctx, "S-1")
		require.NoError(t, err)
		assert.Equal(t, "done", got.State)
		require.NotEmpty(t, got.Activity)
		assert.Equal(t, "transition", got.Activity[len(got.Activity)-1].Kind)
	})
}
