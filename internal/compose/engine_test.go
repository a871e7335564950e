package compose

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
)

func testCtx(t *testing.T) *TransformContext {
	t.Helper()
	root := t.TempDir()
	paths := config.NewPaths(root)
	paths.UserConfigDir = filepath.Join(root, "userconfig")
	cfg, err := config.NewLoader(paths, nil).Load()
	require.NoError(t, err)

	return &TransformContext{
		Config:        cfg,
		ProjectRoot:   root,
		ConfigDirName: config.DefaultConfigDirName,
		SourceDir:     filepath.Join(root, "templates"),
		SourceLayers:  []string{"core", "project"},
		TemplateName:  "test.md",
		Version:       "1",
		ContextVars:   map[string]any{},
	}
}

func writeTemplate(t *testing.T, tc *TransformContext, rel, content string) {
	t.Helper()
	path := filepath.Join(tc.SourceDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRenderIncludes(t *testing.T) {
	t.Run("Should resolve a required include from the source dir", func(t *testing.T) {
		tc := testCtx(t)
		writeTemplate(t, tc, "part.md", "included body")

		out, report, err := New(nil, nil).Render("before {{include:part.md}} after", tc)
		require.NoError(t, err)
		assert.Equal(t, "before included body after", out)
		assert.Contains(t, report.IncludesResolved, "part.md")
	})

	t.Run("Should emit an error marker for a missing required include", func(t *testing.T) {
		tc := testCtx(t)

		out, report, err := New(nil, nil).Render("{{include:absent.md}}", tc)
		require.NoError(t, err)
		assert.Contains(t, out, "<!-- ERROR: required include not found: absent.md -->")
		assert.Contains(t, report.IncludesMissing, "absent.md")
	})

	t.Run("Should render empty for a missing optional include", func(t *testing.T) {
		tc := testCtx(t)

		out, _, err := New(nil, nil).Render("a{{include-optional:absent.md}}b", tc)
		require.NoError(t, err)
		assert.Equal(t, "ab", out)
	})

	t.Run("Should resolve nested includes", func(t *testing.T) {
		tc := testCtx(t)
		writeTemplate(t, tc, "outer.md", "o[{{include:inner.md}}]")
		writeTemplate(t, tc, "inner.md", "i")

		out, _, err := New(nil, nil).Render("{{include:outer.md}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "o[i]", out)
	})

	t.Run("Should break include cycles with a single error marker", func(t *testing.T) {
		tc := testCtx(t)
		writeTemplate(t, tc, "a.md", "A{{include:b.md}}")
		writeTemplate(t, tc, "b.md", "B{{include:a.md}}")

		out, _, err := New(nil, nil).Render("{{include:a.md}}", tc)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(out, "include cycle detected"))
	})

	t.Run("Should fall back to the project root for includes", func(t *testing.T) {
		tc := testCtx(t)
		path := filepath.Join(tc.ProjectRoot, "docs", "shared.md")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("from root"), 0o644))

		out, _, err := New(nil, nil).Render("{{include:docs/shared.md}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "from root", out)
	})
}

func TestRenderSections(t *testing.T) {
	t.Run("Should extract content between section markers", func(t *testing.T) {
		tc := testCtx(t)
		writeTemplate(t, tc, "doc.md", "top\n<!-- SECTION: setup -->\nsetup steps\n<!-- /SECTION: setup -->\nbottom")

		out, report, err := New(nil, nil).Render("{{include-section:doc.md#setup}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "setup steps", out)
		assert.Contains(t, report.SectionsExtracted, "doc.md#setup")
	})

	t.Run("Should emit an error marker for a missing section", func(t *testing.T) {
		tc := testCtx(t)
		writeTemplate(t, tc, "doc.md", "no sections here")

		out, _, err := New(nil, nil).Render("{{include-section:doc.md#ghost}}", tc)
		require.NoError(t, err)
		assert.Contains(t, out, "ERROR")
	})
}

func TestRenderConditionalsAndLoops(t *testing.T) {
	t.Run("Should render conditional and loop together", func(t *testing.T) {
		tc := testCtx(t)
		tc.ActivePacks = []string{"nextjs"}
		tc.ContextVars["items"] = []any{"x", "y"}

		tpl := "{{if:has-pack(nextjs)}}A{{else}}B{{/if}} {{#each items}}[{{this}}:{{@index}}]{{/each}}"
		out, _, err := New(nil, nil).Render(tpl, tc)
		require.NoError(t, err)
		assert.Equal(t, "A [x:0][y:1]", out)
	})

	t.Run("Should take the else branch when the expression is false", func(t *testing.T) {
		tc := testCtx(t)

		out, _, err := New(nil, nil).Render("{{if:has-pack(nextjs)}}A{{else}}B{{/if}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "B", out)
	})

	t.Run("Should include a file when include-if holds", func(t *testing.T) {
		tc := testCtx(t)
		tc.ActivePacks = []string{"go"}
		writeTemplate(t, tc, "go.md", "go rules")

		out, _, err := New(nil, nil).Render("{{include-if:has-pack(go):go.md}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "go rules", out)
	})

	t.Run("Should preserve a syntactically invalid expression marker", func(t *testing.T) {
		tc := testCtx(t)

		out, report, err := New(nil, nil).Render("{{if:has-pack(}}A{{/if}}", tc)
		require.NoError(t, err)
		assert.Contains(t, out, "{{if:has-pack(}}")
		assert.NotEmpty(t, report.UnresolvedMarkers)
	})

	t.Run("Should abort on an unknown conditional function", func(t *testing.T) {
		tc := testCtx(t)

		_, _, err := New(nil, nil).Render("{{if:mystery(x)}}A{{/if}}", tc)
		require.Error(t, err)
		assert.True(t, core.HasCode(err, core.CodeUnknownFunction))
	})

	t.Run("Should expand loop item fields", func(t *testing.T) {
		tc := testCtx(t)
		tc.ContextVars["validators"] = []any{
			map[string]any{"id": "sec", "wave": 1},
			map[string]any{"id": "arch", "wave": 2},
		}

		out, _, err := New(nil, nil).Render("{{#each validators}}{{this.id}}/{{this.wave}};{{/each}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "sec/1;arch/2;", out)
	})

	t.Run("Should keep the loop marker when the collection is missing", func(t *testing.T) {
		tc := testCtx(t)

		out, report, err := New(nil, nil).Render("{{#each ghosts}}x{{/each}}", tc)
		require.NoError(t, err)
		assert.Contains(t, out, "{{#each ghosts}}")
		assert.Contains(t, report.VariablesMissing, "ghosts")
	})
}

func TestRenderVariables(t *testing.T) {
	t.Run("Should resolve config variables from the merged config", func(t *testing.T) {
		tc := testCtx(t)

		out, report, err := New(nil, nil).Render("prefix={{config.session.branch_prefix}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "prefix=session/", out)
		assert.Contains(t, report.VariablesResolved, "config.session.branch_prefix")
	})

	t.Run("Should keep the marker and record missing config variables", func(t *testing.T) {
		tc := testCtx(t)

		out, report, err := New(nil, nil).Render("{{config.no.such.key}}", tc)
		require.NoError(t, err)
		assert.Contains(t, out, "{{config.no.such.key}}")
		assert.Contains(t, report.VariablesMissing, "config.no.such.key")
		assert.NotEmpty(t, report.UnresolvedMarkers)
	})

	t.Run("Should resolve the closed context variable set", func(t *testing.T) {
		tc := testCtx(t)

		out, _, err := New(nil, nil).Render("{{template}} v{{version}} from {{source_layers}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "test.md v1 from core, project", out)
	})

	t.Run("Should resolve the project config dir path variable", func(t *testing.T) {
		tc := testCtx(t)

		out, _, err := New(nil, nil).Render("dir={{PROJECT_EDISON_DIR}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "dir="+filepath.Join(tc.ProjectRoot, ".edison"), out)
	})
}

func TestRenderReferencesAndValidation(t *testing.T) {
	t.Run("Should render reference pointers without embedding", func(t *testing.T) {
		tc := testCtx(t)

		out, _, err := New(nil, nil).Render("{{reference-section:guides/api.md#auth|How auth works}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "- guides/api.md#auth: How auth works", out)
	})

	t.Run("Should strip section markers from the final output", func(t *testing.T) {
		tc := testCtx(t)

		in := "<!-- SECTION: a -->\nbody\n<!-- /SECTION: a -->\n"
		out, _, err := New(nil, nil).Render(in, tc)
		require.NoError(t, err)
		assert.Equal(t, "body\n", out)
	})

	t.Run("Should be idempotent over already-validated content", func(t *testing.T) {
		tc := testCtx(t)
		e := New(nil, nil)

		once := e.stepValidate("<!-- SECTION: s -->\nx\n<!-- /SECTION: s -->\n", tc)
		twice := e.stepValidate(once, tc)
		assert.Equal(t, once, twice)
	})

	t.Run("Should record every leftover marker", func(t *testing.T) {
		tc := testCtx(t)

		_, report, err := New(nil, nil).Render("{{mystery_marker}} and {{another one}}", tc)
		require.NoError(t, err)
		assert.Len(t, report.UnresolvedMarkers, 2)
	})
}

func TestRenderFunctions(t *testing.T) {
	t.Run("Should call a builtin through the function form", func(t *testing.T) {
		tc := testCtx(t)

		out, report, err := New(nil, nil).Render(`{{function:upper("hello")}}`, tc)
		require.NoError(t, err)
		assert.Equal(t, "HELLO", out)
		assert.Contains(t, report.FunctionsCalled, "upper")
	})

	t.Run("Should call a builtin through the fn alias", func(t *testing.T) {
		tc := testCtx(t)

		out, _, err := New(nil, nil).Render("{{fn:lower LOUD}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "loud", out)
	})

	t.Run("Should pass context variables as arguments", func(t *testing.T) {
		tc := testCtx(t)
		tc.ContextVars["names"] = []any{"a", "b", "c"}

		out, _, err := New(nil, nil).Render(`{{function:join(", ", names)}}`, tc)
		require.NoError(t, err)
		assert.Equal(t, "a, b, c", out)
	})

	t.Run("Should give context-aware functions the transform context", func(t *testing.T) {
		tc := testCtx(t)

		out, _, err := New(nil, nil).Render("{{function:template-name()}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "test.md", out)
	})

	t.Run("Should fail on an unknown function name", func(t *testing.T) {
		tc := testCtx(t)

		_, _, err := New(nil, nil).Render("{{function:nope()}}", tc)
		require.Error(t, err)
		assert.True(t, core.HasCode(err, core.CodeUnknownFunction))
	})

	t.Run("Should register functions from a manifest", func(t *testing.T) {
		tc := testCtx(t)
		manifestPath := filepath.Join(tc.ProjectRoot, "functions", "manifest.yml")
		require.NoError(t, os.MkdirAll(filepath.Dir(manifestPath), 0o755))
		require.NoError(t, os.WriteFile(manifestPath, []byte(
			"functions:\n  - name: csv\n    action: join\n    separator: \",\"\n"), 0o644))

		reg := NewRegistry()
		require.NoError(t, reg.LoadManifest(manifestPath))
		tc.ContextVars["parts"] = []any{"1", "2"}

		out, _, err := New(reg, nil).Render("{{function:csv(parts)}}", tc)
		require.NoError(t, err)
		assert.Equal(t, "1,2", out)
	})

	t.Run("Should reject a manifest naming an unknown action", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "manifest.yml")
		require.NoError(t, os.WriteFile(path, []byte(
			"functions:\n  - name: evil\n    action: exec\n"), 0o644))

		err := NewRegistry().LoadManifest(path)
		require.Error(t, err)
	})
}
