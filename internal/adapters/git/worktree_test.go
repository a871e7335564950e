package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) (string, *Client, *Manager) {
	t.Helper()
	dir, client := initRepo(t)
	paths, cfg := testConfig(t, dir)
	return dir, client, NewManager(client, paths, cfg, nil)
}

func TestCreateWorktree(t *testing.T) {
	ctx := context.Background()

	t.Run("Should create a worktree on the session branch at the predicted path", func(t *testing.T) {
		dir, client, m := testManager(t)

		got, err := m.Create(ctx, "sess-A")
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, ".worktrees", "sess-A"), got.WorktreePath)
		assert.Equal(t, "session/sess-A", got.BranchName)
		assert.Equal(t, "main", got.BaseBranch)

		branch, err := client.At(got.WorktreePath).CurrentBranch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "session/sess-A", branch)
	})

	t.Run("Should leave the primary HEAD untouched", func(t *testing.T) {
		_, client, m := testManager(t)

		before, err := client.HeadMarker(ctx)
		require.NoError(t, err)

		_, err = m.Create(ctx, "sess-B")
		require.NoError(t, err)

		after, err := client.HeadMarker(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Equal(t, "refs/heads/main", after)
	})

	t.Run("Should reuse an existing session branch without -b", func(t *testing.T) {
		dir, client, m := testManager(t)
		gitCmd(t, dir, "branch", "session/sess-C")
		sha := gitCmd(t, dir, "rev-parse", "session/sess-C")

		got, err := m.Create(ctx, "sess-C")
		require.NoError(t, err)

		head, err := client.At(got.WorktreePath).CurrentCommit(ctx)
		require.NoError(t, err)
		assert.Equal(t, sha, head)
	})

	t.Run("Should append a suffix when the path is occupied", func(t *testing.T) {
		_, _, m := testManager(t)
		predicted := m.PredictPath("sess-D")
		require.NoError(t, os.MkdirAll(predicted, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(predicted, "squatter"), []byte("x"), 0o644))

		got, err := m.Create(ctx, "sess-D")
		require.NoError(t, err)

		assert.NotEqual(t, predicted, got.WorktreePath)
		assert.True(t, strings.HasPrefix(got.WorktreePath, predicted+"-"))
	})

	t.Run("Should branch from the detached commit in current mode", func(t *testing.T) {
		dir, client, m := testManager(t)
		sha := gitCmd(t, dir, "rev-parse", "HEAD")
		gitCmd(t, dir, "checkout", "--detach")

		got, err := m.Create(ctx, "sess-E")
		require.NoError(t, err)
		assert.Equal(t, sha, got.BaseBranch)

		head, err := client.At(got.WorktreePath).CurrentCommit(ctx)
		require.NoError(t, err)
		assert.Equal(t, sha, head)
	})

	t.Run("Should honor a fixed base branch", func(t *testing.T) {
		dir, client := initRepo(t)
		gitCmd(t, dir, "branch", "develop")
		paths, cfg := testConfig(t, dir)
		cfg.Session.BaseBranchMode = "fixed"
		cfg.Session.BaseBranch = "develop"
		m := NewManager(client, paths, cfg, nil)

		got, err := m.Create(ctx, "sess-F")
		require.NoError(t, err)
		assert.Equal(t, "develop", got.BaseBranch)
	})
}

func TestVerifyWorktree(t *testing.T) {
	ctx := context.Background()

	t.Run("Should pass for a freshly created worktree", func(t *testing.T) {
		_, _, m := testManager(t)

		got, err := m.Create(ctx, "sess-A")
		require.NoError(t, err)
		assert.NoError(t, m.Verify(ctx, got.WorktreePath, got.BranchName))
	})

	t.Run("Should reject a plain directory", func(t *testing.T) {
		_, _, m := testManager(t)
		plain := t.TempDir()

		assert.Error(t, m.Verify(ctx, plain, "session/x"))
	})

	t.Run("Should reject a branch mismatch", func(t *testing.T) {
		_, _, m := testManager(t)

		got, err := m.Create(ctx, "sess-A")
		require.NoError(t, err)
		assert.Error(t, m.Verify(ctx, got.WorktreePath, "session/other"))
	})
}

func TestListAndFind(t *testing.T) {
	ctx := context.Background()

	t.Run("Should list the primary and session worktrees", func(t *testing.T) {
		dir, _, m := testManager(t)

		got, err := m.Create(ctx, "sess-A")
		require.NoError(t, err)

		worktrees, err := m.List(ctx)
		require.NoError(t, err)
		require.Len(t, worktrees, 2)
		assert.Equal(t, resolvePath(dir), resolvePath(worktrees[0].Path))
		assert.Equal(t, "main", worktrees[0].Branch)

		found, err := m.Find(ctx, got.WorktreePath)
		require.NoError(t, err)
		assert.Equal(t, "session/sess-A", found.Branch)
	})

	t.Run("Should report a missing worktree as not found", func(t *testing.T) {
		_, _, m := testManager(t)

		_, err := m.Find(ctx, filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
}

func TestRemoveAndPrune(t *testing.T) {
	ctx := context.Background()

	t.Run("Should remove a worktree and prune its registration", func(t *testing.T) {
		_, _, m := testManager(t)

		got, err := m.Create(ctx, "sess-A")
		require.NoError(t, err)

		require.NoError(t, m.Remove(ctx, got.WorktreePath))
		require.NoError(t, m.Prune(ctx))

		worktrees, err := m.List(ctx)
		require.NoError(t, err)
		assert.Len(t, worktrees, 1)
	})

	t.Run("Should tolerate removing a path that is not a worktree", func(t *testing.T) {
		_, _, m := testManager(t)
		assert.NoError(t, m.Remove(ctx, filepath.Join(t.TempDir(), "ghost")))
	})
}

func TestInferInstallCommands(t *testing.T) {
	t.Run("Should map lockfiles to frozen installs with fallbacks", func(t *testing.T) {
		cases := []struct {
			lockfile string
			frozen   string
			fallback string
		}{
			{"pnpm-lock.yaml", "pnpm install --frozen-lockfile", "pnpm install"},
			{"package-lock.json", "npm ci", "npm install"},
			{"yarn.lock", "yarn install --frozen-lockfile", "yarn install"},
			{"bun.lockb", "bun install --frozen-lockfile", "bun install"},
		}
		for _, tc := range cases {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, tc.lockfile), nil, 0o644))
			frozen, fallback := inferInstallCommands(dir)
			assert.Equal(t, tc.frozen, frozen, tc.lockfile)
			assert.Equal(t, tc.fallback, fallback, tc.lockfile)
		}
	})

	t.Run("Should skip installs when no lockfile is present", func(t *testing.T) {
		frozen, _ := inferInstallCommands(t.TempDir())
		assert.Empty(t, frozen)
	})
}

func TestRunShell(t *testing.T) {
	ctx := context.Background()

	t.Run("Should surface the output tail on failure", func(t *testing.T) {
		_, _, m := testManager(t)

		err := m.runShell(ctx, t.TempDir(), "echo line-one; echo line-two; false")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line-two")
	})
}
