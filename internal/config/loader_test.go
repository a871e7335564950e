package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaths(t *testing.T) Paths {
	t.Helper()
	root := t.TempDir()
	p := NewPaths(root)
	p.UserConfigDir = filepath.Join(root, "userconfig")
	return p
}

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoaderDefaults(t *testing.T) {
	t.Run("Should load pure defaults when no files exist", func(t *testing.T) {
		cfg, err := NewLoader(testPaths(t), nil).Load()
		require.NoError(t, err)

		assert.Equal(t, "todo", cfg.Tasks.InitialState)
		assert.Equal(t, "waiting", cfg.QA.InitialState)
		assert.Equal(t, "session/", cfg.Session.BranchPrefix)
		assert.Equal(t, "meta", cfg.Session.SharedStateMode)
		assert.Equal(t, 4, cfg.Validation.Parallelism)
		assert.True(t, cfg.Validation.ParallelEnabled)
	})

	t.Run("Should expose configured transition cycles", func(t *testing.T) {
		cfg, err := NewLoader(testPaths(t), nil).Load()
		require.NoError(t, err)

		assert.True(t, cfg.QA.Allows("wip", "todo"))
		assert.True(t, cfg.Tasks.Allows("done", "wip"))
		assert.False(t, cfg.Tasks.Allows("validated", "wip"))
	})
}

func TestLoaderLayering(t *testing.T) {
	t.Run("Should let project config override user config", func(t *testing.T) {
		paths := testPaths(t)
		writeYAML(t, filepath.Join(paths.UserConfigDir, "config.yml"),
			"session:\n  branch_prefix: user/\n")
		writeYAML(t, filepath.Join(paths.ConfigDir(), "config.yml"),
			"session:\n  branch_prefix: feature/\n")

		cfg, err := NewLoader(paths, nil).Load()
		require.NoError(t, err)
		assert.Equal(t, "feature/", cfg.Session.BranchPrefix)
	})

	t.Run("Should merge per-domain fragments in lexical order", func(t *testing.T) {
		paths := testPaths(t)
		writeYAML(t, filepath.Join(paths.ConfigDir(), "config", "10-git.yml"),
			"git:\n  timeout: 45s\n")
		writeYAML(t, filepath.Join(paths.ConfigDir(), "config", "20-git.yml"),
			"git:\n  timeout: 60s\n")

		cfg, err := NewLoader(paths, nil).Load()
		require.NoError(t, err)
		assert.Equal(t, "60s", cfg.Git.Timeout)
	})

	t.Run("Should append and dedupe list values across layers", func(t *testing.T) {
		paths := testPaths(t)
		writeYAML(t, filepath.Join(paths.UserConfigDir, "config.yml"),
			"session:\n  recognized_agents: [claude, aider]\n")

		cfg, err := NewLoader(paths, nil).Load()
		require.NoError(t, err)

		assert.Contains(t, cfg.Session.RecognizedAgents, "aider")
		count := 0
		for _, a := range cfg.Session.RecognizedAgents {
			if a == "claude" {
				count++
			}
		}
		assert.Equal(t, 1, count, "claude should appear once after dedupe")
	})

	t.Run("Should replace instead of append for replace-keyed lists", func(t *testing.T) {
		paths := testPaths(t)
		writeYAML(t, filepath.Join(paths.UserConfigDir, "config.yml"),
			"session:\n  shared_paths: [\".project\", \".notes\"]\n")
		writeYAML(t, filepath.Join(paths.ConfigDir(), "config.yml"),
			"session:\n  shared_paths: [\".state\"]\n")

		cfg, err := NewLoader(paths, nil).Load()
		require.NoError(t, err)
		assert.Equal(t, []string{".state"}, cfg.Session.SharedPaths)
	})

	t.Run("Should fail closed on malformed YAML", func(t *testing.T) {
		paths := testPaths(t)
		writeYAML(t, filepath.Join(paths.ConfigDir(), "config.yml"),
			"session: [unclosed\n")

		_, err := NewLoader(paths, nil).Load()
		assert.Error(t, err)
	})
}

func TestLoaderPacks(t *testing.T) {
	t.Run("Should layer an active project pack between user and project", func(t *testing.T) {
		paths := testPaths(t)
		writeYAML(t, filepath.Join(paths.ConfigDir(), "packs", "strict", "config.yml"),
			"validation:\n  parallelism: 2\n")
		writeYAML(t, filepath.Join(paths.ConfigDir(), "config.yml"),
			"packs:\n  active: [strict]\n")

		cfg, err := NewLoader(paths, nil).Load()
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Validation.Parallelism)
	})

	t.Run("Should reject an active pack that cannot be found", func(t *testing.T) {
		paths := testPaths(t)
		writeYAML(t, filepath.Join(paths.ConfigDir(), "config.yml"),
			"packs:\n  active: [ghost]\n")

		_, err := NewLoader(paths, nil).Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ghost")
	})

	t.Run("Should resolve a bundled pack without any file", func(t *testing.T) {
		RegisterBundledPack("builtin-test", map[string]any{
			"composition": map[string]any{"max_include_depth": 5},
		})
		t.Cleanup(func() { delete(bundledPacks, "builtin-test") })

		paths := testPaths(t)
		writeYAML(t, filepath.Join(paths.ConfigDir(), "config.yml"),
			"packs:\n  active: [builtin-test]\n")

		cfg, err := NewLoader(paths, nil).Load()
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Composition.MaxIncludeDepth)
	})
}

func TestLoaderEnvOverrides(t *testing.T) {
	t.Run("Should apply nested overrides with highest precedence", func(t *testing.T) {
		paths := testPaths(t)
		writeYAML(t, filepath.Join(paths.ConfigDir(), "config.yml"),
			"session:\n  fetch: never\n")
		t.Setenv("EDISON_session__fetch", "always")

		cfg, err := NewLoader(paths, nil).Load()
		require.NoError(t, err)
		assert.Equal(t, "always", cfg.Session.Fetch)
	})

	t.Run("Should parse numeric override values", func(t *testing.T) {
		t.Setenv("EDISON_validation__parallelism", "8")

		cfg, err := NewLoader(testPaths(t), nil).Load()
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Validation.Parallelism)
	})

	t.Run("Should honor the management dir alias", func(t *testing.T) {
		t.Setenv("EDISON_project_management_dir", ".mgmt")

		cfg, err := NewLoader(testPaths(t), nil).Load()
		require.NoError(t, err)
		assert.Equal(t, ".mgmt", cfg.Paths.ManagementDir)
	})
}

func TestConfigLookup(t *testing.T) {
	t.Run("Should resolve dotted keys against the merged map", func(t *testing.T) {
		cfg, err := NewLoader(testPaths(t), nil).Load()
		require.NoError(t, err)

		v, ok := cfg.Lookup("session.branch_prefix")
		require.True(t, ok)
		assert.Equal(t, "session/", v)

		_, ok = cfg.Lookup("session.no_such_key")
		assert.False(t, ok)
	})

	t.Run("Should render non-string scalars via LookupString", func(t *testing.T) {
		cfg, err := NewLoader(testPaths(t), nil).Load()
		require.NoError(t, err)

		s, ok := cfg.LookupString("validation.parallelism")
		require.True(t, ok)
		assert.Equal(t, "4", s)
	})
}
