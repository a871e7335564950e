package config

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/leeroybrun/edison-sub004/internal/core"
)

// Conventional directory names. Projects may override both via
// configuration or the EDISON_* environment variables.
const (
	DefaultConfigDirName     = ".edison"
	DefaultManagementDirName = ".project"
)

// EnvProjectRoot overrides project root detection entirely.
const EnvProjectRoot = "AGENTS_PROJECT_ROOT"

// Environment overrides with the highest precedence.
const (
	EnvProjectConfigDir = "EDISON_paths__project_config_dir"
	EnvUserConfigDir    = "EDISON_paths__user_config_dir"
	EnvManagementDir    = "EDISON_project_management_dir"
)

// Paths computes the authoritative locations of everything Edison
// writes: config dir, management root and the derived subtrees.
type Paths struct {
	ProjectRoot       string
	ConfigDirName     string
	ManagementDirName string
	UserConfigDir     string
	EvidenceSubdir    string
}

// NewPaths builds a Paths for a resolved project root, applying the
// EDISON_* environment overrides.
func NewPaths(projectRoot string) Paths {
	p := Paths{
		ProjectRoot:       projectRoot,
		ConfigDirName:     DefaultConfigDirName,
		ManagementDirName: DefaultManagementDirName,
		EvidenceSubdir:    "evidence",
	}
	if v := os.Getenv(EnvProjectConfigDir); v != "" {
		p.ConfigDirName = v
	}
	if v := os.Getenv(EnvManagementDir); v != "" {
		p.ManagementDirName = v
	}
	if v := os.Getenv(EnvUserConfigDir); v != "" {
		p.UserConfigDir = v
	} else if home, err := os.UserHomeDir(); err == nil {
		p.UserConfigDir = filepath.Join(home, ".config", "edison")
	}
	return p
}

// ConfigDir returns <project_root>/<config_dir>.
func (p Paths) ConfigDir() string {
	return filepath.Join(p.ProjectRoot, p.ConfigDirName)
}

// ManagementDir returns <project_root>/<management_dir>.
func (p Paths) ManagementDir() string {
	return filepath.Join(p.ProjectRoot, p.ManagementDirName)
}

// TasksDir returns the global task tree root.
func (p Paths) TasksDir() string {
	return filepath.Join(p.ManagementDir(), "tasks")
}

// QADir returns the global QA tree root.
func (p Paths) QADir() string {
	return filepath.Join(p.ManagementDir(), "qa")
}

// SessionsDir returns the sessions tree root.
func (p Paths) SessionsDir() string {
	return filepath.Join(p.ManagementDir(), "sessions")
}

// EvidenceDir returns the evidence root under the QA tree.
func (p Paths) EvidenceDir() string {
	return filepath.Join(p.QADir(), p.EvidenceSubdir)
}

// LogsDir returns the log directory.
func (p Paths) LogsDir() string {
	return filepath.Join(p.ManagementDir(), "logs")
}

// GeneratedDir returns the composed artifact output directory.
func (p Paths) GeneratedDir() string {
	return filepath.Join(p.ConfigDir(), "_generated")
}

// FunctionsDir returns the project custom template function directory.
func (p Paths) FunctionsDir() string {
	return filepath.Join(p.ConfigDir(), "functions")
}

// ParsersDir returns the project custom parser manifest directory.
func (p Paths) ParsersDir() string {
	return filepath.Join(p.ConfigDir(), "parsers")
}

// WorktreesDir returns the default base directory for session
// worktrees.
func (p Paths) WorktreesDir() string {
	return filepath.Join(p.ProjectRoot, ".worktrees")
}

// Resolver computes and caches the project root. The cache is
// invalidated when the process CWD leaves the cached root.
type Resolver struct {
	mu                sync.Mutex
	cachedRoot        string
	configDirName     string
	managementDirName string
	gitTimeout        time.Duration
}

// NewResolver creates a project root resolver.
func NewResolver() *Resolver {
	r := &Resolver{
		configDirName:     DefaultConfigDirName,
		managementDirName: DefaultManagementDirName,
		gitTimeout:        10 * time.Second,
	}
	if v := os.Getenv(EnvProjectConfigDir); v != "" {
		r.configDirName = v
	}
	if v := os.Getenv(EnvManagementDir); v != "" {
		r.managementDirName = v
	}
	return r
}

// ProjectRoot resolves the project root using, in order: the
// AGENTS_PROJECT_ROOT override, a CWD containing the management dir
// marker, and the git top-level. It fails closed when the resolved
// path is the config directory itself.
func (r *Resolver) ProjectRoot(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cwd, err := os.Getwd()
	if err != nil {
		return "", core.ErrPath(core.CodeRootNotFound, "cannot determine working directory").WithCause(err)
	}

	if r.cachedRoot != "" && within(cwd, r.cachedRoot) {
		return r.cachedRoot, nil
	}
	r.cachedRoot = ""

	root, err := r.detect(ctx, cwd)
	if err != nil {
		return "", err
	}
	if err := r.validateRoot(root); err != nil {
		return "", err
	}

	r.cachedRoot = root
	return root, nil
}

// Invalidate drops the cached root.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedRoot = ""
}

func (r *Resolver) detect(ctx context.Context, cwd string) (string, error) {
	if env := os.Getenv(EnvProjectRoot); env != "" {
		abs, err := filepath.Abs(env)
		if err != nil {
			return "", core.ErrPath(core.CodeRootNotFound, "invalid "+EnvProjectRoot).WithCause(err)
		}
		return abs, nil
	}

	if fi, err := os.Stat(filepath.Join(cwd, r.managementDirName)); err == nil && fi.IsDir() {
		return cwd, nil
	}

	if top, err := r.gitTopLevel(ctx, cwd); err == nil && top != "" {
		return top, nil
	}

	return "", core.ErrPath(core.CodeRootNotFound,
		"project root not found: no "+EnvProjectRoot+", no "+r.managementDirName+" marker, not a git repository").
		WithRemediation("run from inside an initialized project or set " + EnvProjectRoot)
}

func (r *Resolver) validateRoot(root string) error {
	if filepath.Base(root) == r.configDirName {
		return core.ErrPath(core.CodeRootIsConfigDir,
			"resolved project root is the config directory itself: "+root).
			WithRemediation("cd to the project root, not into " + r.configDirName)
	}
	return nil
}

func (r *Resolver) gitTopLevel(ctx context.Context, cwd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = cwd
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// within reports whether path is inside (or equal to) root.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
