package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// EnvCreateProgress, when set, makes worktree creation emit progress
// lines to stderr.
const EnvCreateProgress = "EDISON_SESSION_CREATE_PROGRESS"

// installTimeout bounds dependency installs and post-install commands,
// which routinely outlive the plain git timeout.
const installTimeout = 10 * time.Minute

// Worktree is one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path   string
	Head   string
	Branch string
}

// Manager creates and retires session worktrees against the primary
// checkout.
type Manager struct {
	client *Client
	paths  config.Paths
	cfg    *config.Config
	log    *logging.Logger
}

// NewManager creates a worktree manager. The client must be rooted at
// the primary checkout.
func NewManager(client *Client, paths config.Paths, cfg *config.Config, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	return &Manager{client: client, paths: paths, cfg: cfg, log: log}
}

// BranchName returns the session branch name.
func (m *Manager) BranchName(sessionID string) string {
	prefix := m.cfg.Session.BranchPrefix
	if prefix == "" {
		prefix = "session/"
	}
	return prefix + sessionID
}

// worktreesBase resolves the configured worktree base directory,
// relative paths anchored at the project root.
func (m *Manager) worktreesBase() string {
	base := m.cfg.Session.WorktreesDir
	if base == "" {
		return m.paths.WorktreesDir()
	}
	if !filepath.IsAbs(base) {
		base = filepath.Join(m.paths.ProjectRoot, base)
	}
	return base
}

// PredictPath returns the path a session worktree would get when its
// slot is free. Restore-from-archive asserts against this.
func (m *Manager) PredictPath(sessionID string) string {
	return filepath.Join(m.worktreesBase(), sessionID)
}

// Create materializes an isolated worktree for a session. The primary
// worktree's HEAD must be identical before and after; any drift aborts
// the operation.
func (m *Manager) Create(ctx context.Context, sessionID string) (*core.SessionGit, error) {
	headBefore, err := m.client.HeadMarker(ctx)
	if err != nil {
		return nil, err
	}

	baseRef, err := m.resolveBaseRef(ctx)
	if err != nil {
		return nil, err
	}

	path := m.PredictPath(sessionID)
	if pathOccupied(path) {
		path = path + "-" + uuid.NewString()[:8]
	}
	branch := m.BranchName(sessionID)

	m.progress("creating worktree at " + path)

	if m.cfg.Session.Fetch == "always" {
		m.progress("fetching origin")
		if err := m.client.Fetch(ctx, "origin"); err != nil {
			return nil, err
		}
	}

	if err := m.addWorktree(ctx, path, branch, baseRef); err != nil {
		return nil, err
	}

	headAfter, err := m.client.HeadMarker(ctx)
	if err != nil {
		return nil, err
	}
	if headAfter != headBefore {
		// Hard failure. Tear the new worktree down so the repository is
		// left the way we found it, modulo the moved HEAD.
		_ = m.Remove(ctx, path)
		return nil, core.ErrGit(core.CodeHeadMoved,
			fmt.Sprintf("primary worktree HEAD moved during worktree creation: %s -> %s", headBefore, headAfter)).
			WithRemediation("inspect the primary checkout before retrying; no other git operation may run concurrently")
	}

	if err := m.Verify(ctx, path, branch); err != nil {
		return nil, err
	}

	if m.cfg.Session.InstallDeps {
		m.progress("installing dependencies")
		if err := m.installDeps(ctx, path); err != nil {
			return nil, err
		}
	}
	for _, cmd := range m.cfg.Session.PostInstall {
		m.progress("running " + cmd)
		if err := m.runShell(ctx, path, cmd); err != nil {
			return nil, err
		}
	}

	m.progress("worktree ready")
	m.log.Info("session worktree created",
		"session", sessionID, "path", path, "branch", branch, "base", baseRef)

	return &core.SessionGit{
		WorktreePath: path,
		BranchName:   branch,
		BaseBranch:   baseRef,
	}, nil
}

// addWorktree runs the right worktree-add form for the branch state.
// When the add fails and fetch policy is on_failure, it fetches once
// and retries.
func (m *Manager) addWorktree(ctx context.Context, path, branch, baseRef string) error {
	add := func() error {
		if m.client.BranchExists(ctx, branch) {
			_, err := m.client.run(ctx, "worktree", "add", path, branch)
			return err
		}
		_, err := m.client.run(ctx, "worktree", "add", "-b", branch, path, baseRef)
		return err
	}

	err := add()
	if err == nil {
		return nil
	}
	if m.cfg.Session.Fetch != "on_failure" && m.cfg.Session.Fetch != "" {
		return err
	}
	m.progress("worktree add failed, fetching origin and retrying")
	if ferr := m.client.Fetch(ctx, "origin"); ferr != nil {
		m.log.Warn("fetch after worktree-add failure failed", "error", ferr)
		return err
	}
	return add()
}

// resolveBaseRef picks the start ref for new session branches.
func (m *Manager) resolveBaseRef(ctx context.Context) (string, error) {
	switch m.cfg.Session.BaseBranchMode {
	case "current":
		branch, err := m.client.CurrentBranch(ctx)
		if err != nil {
			return "", err
		}
		if branch == "HEAD" {
			// Detached primary: branch from the exact commit.
			return m.client.CurrentCommit(ctx)
		}
		return branch, nil
	case "fixed", "":
		if m.cfg.Session.BaseBranch != "" {
			return m.cfg.Session.BaseBranch, nil
		}
		return "main", nil
	default:
		return "", core.ErrConfig(core.CodeMissingKey,
			"session.base_branch_mode must be fixed or current, got "+m.cfg.Session.BaseBranchMode)
	}
}

// Verify runs the post-creation health checks: inside a work tree, on
// the expected branch, and the .git pointer file references an existing
// git directory.
func (m *Manager) Verify(ctx context.Context, path, branch string) error {
	wt := m.client.At(path)

	if !wt.IsInsideWorkTree(ctx) {
		return core.ErrGit(core.CodeWorktreeInvalid, path+" is not inside a git work tree")
	}

	current, err := wt.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if branch != "" && current != branch {
		return core.ErrGit(core.CodeWorktreeInvalid,
			fmt.Sprintf("worktree %s is on branch %s, expected %s", path, current, branch))
	}

	gitFile := filepath.Join(path, ".git")
	fi, err := os.Lstat(gitFile)
	if err != nil {
		return core.ErrGit(core.CodeWorktreeInvalid, "worktree has no .git entry: "+path).WithCause(err)
	}
	if fi.IsDir() {
		return core.ErrGit(core.CodeWorktreeInvalid,
			path+"/.git is a directory; linked worktrees carry a pointer file")
	}
	data, err := os.ReadFile(gitFile)
	if err != nil {
		return core.ErrGit(core.CodeWorktreeInvalid, "reading .git pointer for "+path).WithCause(err)
	}
	target := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(data)), "gitdir:"))
	if target == "" {
		return core.ErrGit(core.CodeWorktreeInvalid, path+"/.git carries no gitdir pointer")
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(path, target)
	}
	if _, err := os.Stat(target); err != nil {
		return core.ErrGit(core.CodeWorktreeInvalid,
			fmt.Sprintf("gitdir pointer of %s references missing path %s", path, target))
	}
	return nil
}

// List parses `git worktree list --porcelain`.
func (m *Manager) List(ctx context.Context) ([]Worktree, error) {
	out, err := m.client.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var (
		worktrees []Worktree
		current   *Worktree
	)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees, nil
}

// Find returns the worktree whose path matches, after symlink
// resolution on both sides.
func (m *Manager) Find(ctx context.Context, path string) (*Worktree, error) {
	worktrees, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	want := resolvePath(path)
	for i := range worktrees {
		if resolvePath(worktrees[i].Path) == want {
			return &worktrees[i], nil
		}
	}
	return nil, core.ErrNotFound("worktree", path)
}

// Remove detaches a worktree with --force; a failed removal is logged
// and tolerated so cleanup can proceed.
func (m *Manager) Remove(ctx context.Context, path string) error {
	if _, err := m.client.run(ctx, "worktree", "remove", "--force", path); err != nil {
		m.log.Warn("worktree removal failed", "path", path, "error", err)
	}
	return nil
}

// Prune drops stale worktree registrations.
func (m *Manager) Prune(ctx context.Context) error {
	_, err := m.client.run(ctx, "worktree", "prune")
	return err
}

// installDeps infers the package manager from the lockfile present in
// the worktree and runs its lockfile-preserving install. On failure the
// non-frozen variant is attempted exactly once.
func (m *Manager) installDeps(ctx context.Context, dir string) error {
	frozen, fallback := inferInstallCommands(dir)
	if frozen == "" {
		m.log.Debug("no lockfile found, skipping dependency install", "dir", dir)
		return nil
	}
	if err := m.runShell(ctx, dir, frozen); err != nil {
		m.log.Warn("frozen install failed, attempting fallback",
			"command", frozen, "fallback", fallback, "error", err)
		return m.runShell(ctx, dir, fallback)
	}
	return nil
}

func inferInstallCommands(dir string) (frozen, fallback string) {
	switch {
	case fileExists(filepath.Join(dir, "pnpm-lock.yaml")):
		return "pnpm install --frozen-lockfile", "pnpm install"
	case fileExists(filepath.Join(dir, "package-lock.json")):
		return "npm ci", "npm install"
	case fileExists(filepath.Join(dir, "yarn.lock")):
		return "yarn install --frozen-lockfile", "yarn install"
	case fileExists(filepath.Join(dir, "bun.lockb")):
		return "bun install --frozen-lockfile", "bun install"
	}
	return "", ""
}

// runShell executes a command line via `sh -c` inside dir. Failures
// carry the tail of the combined output.
func (m *Manager) runShell(ctx context.Context, dir, command string) error {
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return core.ErrTimeout("command timed out: " + command)
		}
		return core.ErrGit(core.CodeGitFailed,
			fmt.Sprintf("command failed: %s\n%s", command, tail(out.String(), 20))).
			WithCause(err)
	}
	return nil
}

// tail returns the last n lines of output.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func (m *Manager) progress(msg string) {
	if os.Getenv(EnvCreateProgress) == "" {
		return
	}
	fmt.Fprintln(os.Stderr, "[session] "+msg)
}

func pathOccupied(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// resolvePath normalizes a path through symlinks for comparisons, so
// /var vs /private/var style aliasing does not split identities.
func resolvePath(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return resolved
}
