package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/leeroybrun/edison-sub004/internal/adapters/cli"
	"github.com/leeroybrun/edison-sub004/internal/adapters/git"
	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/evidence"
	"github.com/leeroybrun/edison-sub004/internal/executor"
	"github.com/leeroybrun/edison-sub004/internal/logging"
	"github.com/leeroybrun/edison-sub004/internal/session"
)

// app bundles the wired services every subcommand needs.
type app struct {
	paths    config.Paths
	cfg      *config.Config
	log      *logging.Logger
	sessions *session.Service
	evidence *evidence.Service
}

// newApp resolves the project root, loads the merged configuration and
// wires the services. Git integration is optional: outside a git
// repository worktree operations are skipped, everything else works.
func newApp(ctx context.Context) (*app, error) {
	log := logging.New(logging.Config{
		Level:  viper.GetString("log.level"),
		Format: viper.GetString("log.format"),
	})

	root := projectRoot
	if root == "" {
		var err error
		root, err = config.NewResolver().ProjectRoot(ctx)
		if err != nil {
			return nil, err
		}
	}
	paths := config.NewPaths(root)
	cfg, err := config.NewLoader(paths, log).Load()
	if err != nil {
		return nil, err
	}

	var opts []session.Option
	if client, err := git.NewClient(root, cfg.Git.TimeoutDuration()); err == nil {
		opts = append(opts, session.WithGit(client))
	} else {
		log.Debug("git unavailable, worktree operations disabled", "error", err)
	}

	return &app{
		paths:    paths,
		cfg:      cfg,
		log:      log,
		sessions: session.NewService(paths, cfg, log, opts...),
		evidence: evidence.NewService(paths, log),
	}, nil
}

// executor builds the wave executor, loading project parsers first.
func (a *app) executor() (*executor.Executor, error) {
	parsers := cli.NewParserRegistry()
	if err := parsers.LoadManifest(a.paths.ParsersDir()); err != nil {
		return nil, err
	}
	resolver := cli.NewResolver(a.cfg, parsers, a.evidence, a.log)
	return executor.New(a.cfg, a.evidence, resolver, a.log), nil
}

func (a *app) printf(format string, args ...any) {
	if quiet {
		return
	}
	fmt.Printf(format, args...)
}
