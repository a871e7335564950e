package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/fsutil"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// DefaultMetaBranch hosts shared session state when no branch is
// configured.
const DefaultMetaBranch = "edison-meta"

// Markers delimiting the managed block in info/exclude. Everything
// between them is rewritten; everything outside is preserved.
const (
	excludeBegin = "# edison shared-state (managed) begin"
	excludeEnd   = "# edison shared-state (managed) end"
)

// legacyExcludeMarker identifies entries written by earlier versions
// without the block markers; they are pruned on rewrite.
const legacyExcludeMarker = "# edison-meta"

// SharedState resolves where session state lives and wires it into
// every worktree. Three modes: primary (state under the primary
// checkout), external (a configured absolute path), and meta (a
// dedicated worktree on an orphan branch).
type SharedState struct {
	client  *Client
	manager *Manager
	paths   config.Paths
	cfg     *config.Config
	log     *logging.Logger
}

// NewSharedState creates the shared-state coordinator.
func NewSharedState(client *Client, manager *Manager, paths config.Paths, cfg *config.Config, log *logging.Logger) *SharedState {
	if log == nil {
		log = logging.NewNop()
	}
	return &SharedState{client: client, manager: manager, paths: paths, cfg: cfg, log: log}
}

// MetaBranch returns the configured orphan branch name.
func (s *SharedState) MetaBranch() string {
	if b := s.cfg.Session.MetaBranch; b != "" {
		return b
	}
	return DefaultMetaBranch
}

// MetaPath returns where the meta worktree is checked out.
func (s *SharedState) MetaPath() string {
	return filepath.Join(s.manager.worktreesBase(), s.MetaBranch())
}

// Root returns the directory that holds shared session state,
// materializing the meta worktree on first use.
func (s *SharedState) Root(ctx context.Context) (string, error) {
	switch s.cfg.Session.SharedStateMode {
	case "primary":
		return s.paths.ProjectRoot, nil
	case "external":
		if s.cfg.Session.SharedStatePath == "" {
			return "", core.ErrConfig(core.CodeMissingKey,
				"shared_state_mode external requires session.shared_state_path")
		}
		return s.cfg.Session.SharedStatePath, nil
	case "meta", "":
		if err := s.EnsureMetaWorktree(ctx); err != nil {
			return "", err
		}
		return s.MetaPath(), nil
	default:
		return "", core.ErrConfig(core.CodeMissingKey,
			"session.shared_state_mode must be primary, external or meta, got "+s.cfg.Session.SharedStateMode)
	}
}

// EnsureMetaWorktree creates the orphan branch and its worktree when
// either is missing, then installs the commit guard. Idempotent.
func (s *SharedState) EnsureMetaWorktree(ctx context.Context) error {
	branch := s.MetaBranch()
	path := s.MetaPath()

	if !s.client.BranchExists(ctx, branch) {
		// An orphan root commit with no parents and an empty tree; the
		// branch shares no history with the project.
		tree, err := s.client.EmptyTree(ctx)
		if err != nil {
			return err
		}
		commit, err := s.client.CommitTree(ctx, tree, "initialize shared state branch")
		if err != nil {
			return err
		}
		if err := s.client.UpdateRef(ctx, "refs/heads/"+branch, commit); err != nil {
			return err
		}
		s.log.Info("meta branch created", "branch", branch, "commit", commit)
	}

	if _, err := s.manager.Find(ctx, path); err != nil {
		if _, err := s.client.run(ctx, "worktree", "add", path, branch); err != nil {
			return err
		}
		s.log.Info("meta worktree created", "path", path, "branch", branch)
	}

	return s.InstallCommitGuard(ctx)
}

// LinkSharedPaths symlinks each configured shared path from the shared
// root into a worktree and rewrites that worktree's exclude list. An
// existing directory at the link position is merged into the shared
// root exactly once.
func (s *SharedState) LinkSharedPaths(ctx context.Context, worktreeDir, sharedRoot string) error {
	if resolvePath(worktreeDir) == resolvePath(sharedRoot) {
		return nil
	}
	for _, rel := range s.cfg.Session.SharedPaths {
		target := filepath.Join(sharedRoot, rel)
		if err := os.MkdirAll(target, 0o755); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed, "creating shared target "+target).WithCause(err)
		}
		link := filepath.Join(worktreeDir, rel)
		if err := fsutil.EnsureSymlink(target, link); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed,
				fmt.Sprintf("linking %s into %s", rel, worktreeDir)).WithCause(err)
		}
	}
	return s.RewriteExclude(ctx, worktreeDir)
}

// RewriteExclude keeps the shared-path symlinks out of `git status` by
// maintaining a managed block in the worktree's info/exclude. The
// rewrite is idempotent and prunes entries left by earlier versions.
func (s *SharedState) RewriteExclude(ctx context.Context, worktreeDir string) error {
	excludePath, err := s.client.At(worktreeDir).GitPath(ctx, "info/exclude")
	if err != nil {
		return err
	}

	var kept []string
	if data, err := os.ReadFile(excludePath); err == nil {
		kept = pruneManagedLines(strings.Split(string(data), "\n"), s.cfg.Session.SharedPaths)
	}

	lines := append([]string{}, kept...)
	if len(lines) > 0 && lines[len(lines)-1] != "" {
		lines = append(lines, "")
	}
	lines = append(lines, excludeBegin)
	for _, rel := range s.cfg.Session.SharedPaths {
		lines = append(lines, "/"+strings.TrimPrefix(rel, "/"))
	}
	lines = append(lines, excludeEnd)

	content := strings.Join(lines, "\n") + "\n"
	return fsutil.WriteFileAtomic(excludePath, []byte(content), 0o644)
}

// pruneManagedLines drops the previous managed block, legacy-marker
// entries, and stray lines matching a shared path.
func pruneManagedLines(lines, sharedPaths []string) []string {
	managed := map[string]bool{}
	for _, rel := range sharedPaths {
		managed["/"+strings.TrimPrefix(rel, "/")] = true
	}

	var kept []string
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == excludeBegin:
			inBlock = true
		case trimmed == excludeEnd:
			inBlock = false
		case inBlock:
		case strings.HasPrefix(trimmed, legacyExcludeMarker):
		case managed[trimmed]:
		default:
			kept = append(kept, line)
		}
	}
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	return kept
}

// InstallCommitGuard writes the pre-commit hook that refuses commits on
// the meta branch touching paths outside the shared-path allow-list.
// The hook no-ops on every other branch, so installing it in the shared
// hooks directory is safe.
func (s *SharedState) InstallCommitGuard(ctx context.Context) error {
	hooksDir, err := s.client.GitPath(ctx, "hooks")
	if err != nil {
		return err
	}
	script := commitGuardScript(s.MetaBranch(), s.cfg.Session.SharedPaths)
	hookPath := filepath.Join(hooksDir, "pre-commit")
	if err := fsutil.WriteFileAtomic(hookPath, []byte(script), 0o755); err != nil {
		return core.ErrPersistence(core.CodeRenameFailed, "installing pre-commit guard").WithCause(err)
	}
	return nil
}

// commitGuardScript renders the deny-by-default hook. Only paths under
// an allowed prefix may be committed to the meta branch.
func commitGuardScript(metaBranch string, sharedPaths []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Managed hook: restricts commits on the shared-state branch.\n")
	fmt.Fprintf(&b, "branch=$(git rev-parse --abbrev-ref HEAD)\n")
	fmt.Fprintf(&b, "[ \"$branch\" = %q ] || exit 0\n", metaBranch)
	fmt.Fprintf(&b, "allowed=%q\n", strings.Join(sharedPaths, " "))
	b.WriteString(`status=0
for f in $(git diff --cached --name-only); do
  ok=0
  for prefix in $allowed; do
    case "$f" in
      "$prefix"|"$prefix"/*) ok=1 ;;
    esac
  done
  if [ "$ok" -eq 0 ]; then
    echo "pre-commit: $f is outside the shared-state allow-list" >&2
    status=1
  fi
done
exit $status
`)
	return b.String()
}
