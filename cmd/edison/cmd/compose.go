package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leeroybrun/edison-sub004/internal/compose"
	"github.com/leeroybrun/edison-sub004/internal/fsutil"
)

var composeOut string

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Render layered templates",
}

var composeRenderCmd = &cobra.Command{
	Use:   "render <template>",
	Short: "Render a template through the composition pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		engine, err := newComposeEngine(a)
		if err != nil {
			return err
		}

		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		tc := &compose.TransformContext{
			Config:          a.cfg,
			ActivePacks:     a.cfg.Packs.Active,
			ProjectRoot:     a.paths.ProjectRoot,
			ConfigDirName:   a.paths.ConfigDirName,
			SourceDir:       filepath.Dir(args[0]),
			TemplateName:    filepath.Base(args[0]),
			Version:         a.cfg.Composition.Version,
			MaxIncludeDepth: a.cfg.Composition.MaxIncludeDepth,
		}
		rendered, report, err := engine.Render(string(content), tc)
		if err != nil {
			return err
		}
		for _, marker := range report.UnresolvedMarkers {
			a.log.Warn("unresolved marker", "template", tc.TemplateName, "marker", marker)
		}

		if composeOut == "" {
			fmt.Print(rendered)
			return nil
		}
		out := composeOut
		if !filepath.IsAbs(out) {
			out = filepath.Join(a.paths.GeneratedDir(), out)
		}
		if err := fsutil.WriteFileAtomic(out, []byte(rendered), 0o644); err != nil {
			return err
		}
		a.printf("rendered %s -> %s\n", args[0], out)
		return nil
	},
}

var composeWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Invalidate generated artifacts when template sources change",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		watcher, err := compose.NewWatcher(a.paths.GeneratedDir(),
			[]string{a.paths.ConfigDir()}, a.log)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a.printf("watching %s\n", a.paths.ConfigDir())
		return watcher.Run(ctx)
	},
}

// newComposeEngine builds the engine with project functions loaded.
func newComposeEngine(a *app) (*compose.Engine, error) {
	registry := compose.NewRegistry()
	if err := registry.LoadManifest(filepath.Join(a.paths.FunctionsDir(), "manifest.yml")); err != nil {
		return nil, err
	}
	return compose.New(registry, a.log), nil
}

func init() {
	composeRenderCmd.Flags().StringVar(&composeOut, "out", "",
		"output path (relative paths land under the generated directory; default: stdout)")
	composeCmd.AddCommand(composeRenderCmd, composeWatchCmd)
	rootCmd.AddCommand(composeCmd)
}
