package relationship

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeroybrun/edison-sub004/internal/adapters/state"
	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
)

func setup(t *testing.T) (*Service, *state.TaskRepository) {
	t.Helper()
	root := t.TempDir()
	paths := config.NewPaths(root)
	paths.UserConfigDir = filepath.Join(root, "userconfig")
	cfg, err := config.NewLoader(paths, nil).Load()
	require.NoError(t, err)

	repo := state.NewTaskRepository(paths, cfg, nil)
	return NewService(repo, nil), repo
}

func mustCreate(t *testing.T, repo *state.TaskRepository, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		require.NoError(t, repo.Create(ctx, core.NewTask(id, "Task "+id)))
	}
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("Should maintain the inverse edge automatically", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "B")

		require.NoError(t, svc.Add(ctx, "A", core.RelationParent, "B", false))

		a, err := repo.Get(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, "B", a.ParentID())

		b, err := repo.Get(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, b.ChildIDs())
	})

	t.Run("Should pair depends_on with blocks", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "B")

		require.NoError(t, svc.Add(ctx, "A", core.RelationDependsOn, "B", false))

		a, _ := repo.Get(ctx, "A")
		b, _ := repo.Get(ctx, "B")
		assert.True(t, a.HasEdge(core.RelationDependsOn, "B"))
		assert.True(t, b.HasEdge(core.RelationBlocks, "A"))
	})

	t.Run("Should keep related symmetric", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "B")

		require.NoError(t, svc.Add(ctx, "A", core.RelationRelated, "B", false))

		a, _ := repo.Get(ctx, "A")
		b, _ := repo.Get(ctx, "B")
		assert.True(t, a.HasEdge(core.RelationRelated, "B"))
		assert.True(t, b.HasEdge(core.RelationRelated, "A"))
	})

	t.Run("Should not mirror the directed bundle_root edge", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "P")

		require.NoError(t, svc.Add(ctx, "A", core.RelationBundleRoot, "P", false))

		a, _ := repo.Get(ctx, "A")
		p, _ := repo.Get(ctx, "P")
		assert.Equal(t, "P", a.BundleRoot())
		assert.Empty(t, p.Relationships)
	})

	t.Run("Should be idempotent for duplicate edges", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "B")

		require.NoError(t, svc.Add(ctx, "A", core.RelationRelated, "B", false))
		require.NoError(t, svc.Add(ctx, "A", core.RelationRelated, "B", false))

		a, _ := repo.Get(ctx, "A")
		assert.Len(t, a.Relationships, 1)
	})

	t.Run("Should reject self edges", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A")

		assert.Error(t, svc.Add(ctx, "A", core.RelationRelated, "A", false))
	})

	t.Run("Should reject unknown relation types", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "B")

		assert.Error(t, svc.Add(ctx, "A", core.RelationType("friend"), "B", false))
	})
}

func TestReparent(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fail closed on a second parent without force", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "P1", "P2")

		require.NoError(t, svc.Add(ctx, "A", core.RelationParent, "P1", false))
		err := svc.Add(ctx, "A", core.RelationParent, "P2", false)
		require.Error(t, err)

		var domErr *core.DomainError
		require.ErrorAs(t, err, &domErr)
		assert.NotEmpty(t, domErr.Remediation)

		a, _ := repo.Get(ctx, "A")
		assert.Equal(t, "P1", a.ParentID())
	})

	t.Run("Should move the child edge on forced reparent", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "P1", "P2")

		require.NoError(t, svc.Add(ctx, "A", core.RelationParent, "P1", false))
		require.NoError(t, svc.Reparent(ctx, "A", "P2", true))

		a, _ := repo.Get(ctx, "A")
		assert.Equal(t, "P2", a.ParentID())

		p1, _ := repo.Get(ctx, "P1")
		assert.Empty(t, p1.ChildIDs(), "old parent keeps no child edge")

		p2, _ := repo.Get(ctx, "P2")
		assert.Equal(t, []string{"A"}, p2.ChildIDs())
	})

	t.Run("Should tolerate reparenting to the same parent", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "P1")

		require.NoError(t, svc.Add(ctx, "A", core.RelationParent, "P1", false))
		require.NoError(t, svc.Add(ctx, "A", core.RelationParent, "P1", false))

		a, _ := repo.Get(ctx, "A")
		assert.Equal(t, "P1", a.ParentID())
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("Should remove both sides of an edge", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "B")

		require.NoError(t, svc.Add(ctx, "A", core.RelationParent, "B", false))
		require.NoError(t, svc.Remove(ctx, "A", core.RelationParent, "B"))

		a, _ := repo.Get(ctx, "A")
		b, _ := repo.Get(ctx, "B")
		assert.Empty(t, a.Relationships)
		assert.Empty(t, b.Relationships)
	})

	t.Run("Should tolerate a missing peer on removal", func(t *testing.T) {
		svc, repo := setup(t)
		mustCreate(t, repo, "A", "B")

		require.NoError(t, svc.Add(ctx, "A", core.RelationRelated, "B", false))
		require.NoError(t, repo.Delete(ctx, "B"))

		assert.NoError(t, svc.Remove(ctx, "A", core.RelationRelated, "B"))
		a, _ := repo.Get(ctx, "A")
		assert.Empty(t, a.Relationships)
	})
}
