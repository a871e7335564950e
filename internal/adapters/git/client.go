// Package git wraps the git CLI for worktree-isolated sessions: a
// timeout-bounded subprocess client, session worktree creation with
// primary-HEAD protection, and the meta-branch shared-state mode.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/leeroybrun/edison-sub004/internal/core"
)

// Client runs git commands rooted at one working directory.
type Client struct {
	repoPath string
	timeout  time.Duration
}

// NewClient creates a git client for a repository path.
func NewClient(repoPath string, timeout time.Duration) (*Client, error) {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, core.ErrGit(core.CodeGitFailed, "resolving repository path").WithCause(err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{repoPath: absPath, timeout: timeout}

	if _, err := c.run(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, core.ErrGit(core.CodeGitFailed, repoPath+" is not a git repository").WithCause(err)
	}
	return c, nil
}

// At returns a client with the same timeout rooted elsewhere, without
// re-verifying the repository.
func (c *Client) At(dir string) *Client {
	return &Client{repoPath: dir, timeout: c.timeout}
}

// RepoPath returns the client's working directory.
func (c *Client) RepoPath() string {
	return c.repoPath
}

// run executes a git command and returns trimmed stdout.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	return c.runInput(ctx, "", args...)
}

func (c *Client) runInput(ctx context.Context, stdin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.repoPath
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTimeout("git " + strings.Join(args, " ") + " timed out")
		}
		return "", core.ErrGit(core.CodeGitFailed,
			fmt.Sprintf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))).
			WithCause(err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentBranch returns the short symbolic name of HEAD, or "HEAD" when
// detached.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CurrentCommit returns the commit id of HEAD.
func (c *Client) CurrentCommit(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "HEAD")
}

// HeadMarker captures the identity of HEAD for before/after invariant
// checks: the full symbolic ref, or DETACHED@<sha> when detached.
func (c *Client) HeadMarker(ctx context.Context) (string, error) {
	if ref, err := c.run(ctx, "symbolic-ref", "-q", "HEAD"); err == nil && ref != "" {
		return ref, nil
	}
	sha, err := c.CurrentCommit(ctx)
	if err != nil {
		return "", err
	}
	return "DETACHED@" + sha, nil
}

// BranchExists checks for a local branch via show-ref.
func (c *Client) BranchExists(ctx context.Context, name string) bool {
	_, err := c.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// DeleteBranch force-deletes a local branch.
func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	_, err := c.run(ctx, "branch", "-D", name)
	return err
}

// UpdateRef points a ref at a commit.
func (c *Client) UpdateRef(ctx context.Context, ref, commit string) error {
	_, err := c.run(ctx, "update-ref", ref, commit)
	return err
}

// EmptyTree writes git's empty tree object and returns its id. Using
// mktree keeps this correct for both SHA-1 and SHA-256 repositories.
func (c *Client) EmptyTree(ctx context.Context) (string, error) {
	return c.runInput(ctx, "", "mktree")
}

// CommitTree creates a commit object for a tree with no parents.
func (c *Client) CommitTree(ctx context.Context, tree, message string) (string, error) {
	return c.run(ctx, "commit-tree", tree, "-m", message)
}

// Fetch fetches a remote; used by the on_failure/always fetch policy.
func (c *Client) Fetch(ctx context.Context, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	_, err := c.run(ctx, "fetch", remote)
	return err
}

// IsInsideWorkTree reports whether the client's directory is inside a
// git work tree.
func (c *Client) IsInsideWorkTree(ctx context.Context) bool {
	out, err := c.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// GitPath resolves a repository-internal path (e.g. info/exclude) for
// the current worktree.
func (c *Client) GitPath(ctx context.Context, rel string) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--git-path", rel)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(c.repoPath, out)
	}
	return out, nil
}

// GitDir returns the (possibly shared) git directory of the worktree.
func (c *Client) GitDir(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(c.repoPath, out)
	}
	return out, nil
}

// DiffFiles lists file paths changed between two revisions.
func (c *Client) DiffFiles(ctx context.Context, base, head string) ([]string, error) {
	out, err := c.run(ctx, "diff", "--name-only", base, head)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// ChangedFiles lists files touched on a session branch relative to its
// base: committed changes plus staged, unstaged and untracked paths.
func (c *Client) ChangedFiles(ctx context.Context, base string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	add := func(paths []string) {
		for _, p := range paths {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			files = append(files, p)
		}
	}

	if base != "" {
		committed, err := c.run(ctx, "diff", "--name-only", base+"...HEAD")
		if err != nil {
			return nil, err
		}
		add(splitLines(committed))
	}
	working, err := c.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	for _, line := range splitLines(working) {
		if len(line) > 3 {
			path := strings.TrimSpace(line[3:])
			// Renames report "old -> new".
			if idx := strings.Index(path, " -> "); idx >= 0 {
				path = path[idx+4:]
			}
			add([]string{path})
		}
	}
	return files, nil
}

// LsFiles lists tracked files under a path spec.
func (c *Client) LsFiles(ctx context.Context, pathspec string) ([]string, error) {
	args := []string{"ls-files"}
	if pathspec != "" {
		args = append(args, "--", pathspec)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// LsTree lists the entries of a tree-ish.
func (c *Client) LsTree(ctx context.Context, treeish string) ([]string, error) {
	out, err := c.run(ctx, "ls-tree", "--name-only", treeish)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
