// Package session drives the agent work-context lifecycle: creation,
// lazy worktree materialization, task claim/release/complete, archival
// and restore. All state lives in the shared management tree so every
// worktree observes the same sessions.
package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/leeroybrun/edison-sub004/internal/adapters/git"
	"github.com/leeroybrun/edison-sub004/internal/adapters/state"
	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/logging"
	"github.com/leeroybrun/edison-sub004/internal/statemachine"
)

// Service coordinates sessions, their claimed tasks and their
// worktrees.
type Service struct {
	paths    config.Paths
	cfg      *config.Config
	sessions *state.SessionRepository
	tasks    *state.TaskRepository
	qa       *state.QARepository

	sessionMachine *statemachine.Machine[*core.Session]
	taskMachine    *statemachine.Machine[*core.Task]
	qaMachine      *statemachine.Machine[*core.QARecord]

	// worktrees and shared are nil when the project is not a git
	// repository; every git-dependent step degrades to a no-op then.
	worktrees *git.Manager
	shared    *git.SharedState

	log *logging.Logger
}

// Option configures the service.
type Option func(*Service)

// WithGit wires worktree management against a client rooted at the
// primary checkout.
func WithGit(client *git.Client) Option {
	return func(s *Service) {
		s.worktrees = git.NewManager(client, s.paths, s.cfg, s.log)
		s.shared = git.NewSharedState(client, s.worktrees, s.paths, s.cfg, s.log)
	}
}

// NewService creates a session service with its repositories and
// machines.
func NewService(paths config.Paths, cfg *config.Config, log *logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.NewNop()
	}
	tasks := state.NewTaskRepository(paths, cfg, log)
	qa := state.NewQARepository(paths, cfg, log)
	sessions := state.NewSessionRepository(paths, cfg, log)

	s := &Service{
		paths:          paths,
		cfg:            cfg,
		sessions:       sessions,
		tasks:          tasks,
		qa:             qa,
		sessionMachine: statemachine.NewSessionMachine(sessions, cfg, log),
		taskMachine:    statemachine.NewTaskMachine(tasks, cfg, log),
		qaMachine:      statemachine.NewQAMachine(qa, cfg, log),
		log:            log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tasks exposes the task repository for callers composing higher-level
// flows.
func (s *Service) Tasks() *state.TaskRepository { return s.tasks }

// Sessions exposes the session repository.
func (s *Service) Sessions() *state.SessionRepository { return s.sessions }

// QA exposes the QA repository.
func (s *Service) QA() *state.QARepository { return s.qa }

// NewSessionID allocates a session id: a UTC timestamp plus a short
// random suffix.
func NewSessionID() string {
	return "sess-" + time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:6]
}

// Create allocates a session and writes its session.json. The worktree
// is not materialized here; EnsureWorktree does that on first use.
func (s *Service) Create(ctx context.Context, id, owner string) (*core.Session, error) {
	if id == "" {
		id = NewSessionID()
	}
	sess := core.NewSession(id, owner)
	sess.LogActivity("created", "session created for "+owner)
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.log.Info("session created", "session_id", id, "owner", owner)
	return sess, nil
}

// Get loads a session.
func (s *Service) Get(ctx context.Context, id string) (*core.Session, error) {
	return s.sessions.Get(ctx, id)
}

// EnsureWorktree materializes the session worktree if it does not
// exist or fails its health check. Shared paths are linked and the
// worktree is pinned to the session id.
func (s *Service) EnsureWorktree(ctx context.Context, sess *core.Session) error {
	if s.worktrees == nil {
		s.log.Debug("no git client configured, skipping worktree", "session_id", sess.ID)
		return nil
	}
	if sess.Git != nil {
		if err := s.worktrees.Verify(ctx, sess.Git.WorktreePath, sess.Git.BranchName); err == nil {
			return nil
		}
		s.log.Warn("existing worktree failed health check, recreating",
			"session_id", sess.ID, "path", sess.Git.WorktreePath)
	}

	gitRec, err := s.worktrees.Create(ctx, sess.ID)
	if err != nil {
		return err
	}
	if err := s.wireWorktree(ctx, gitRec.WorktreePath, sess.ID); err != nil {
		return err
	}

	sess.Git = gitRec
	sess.LogActivity("worktree", "materialized at "+gitRec.WorktreePath)
	return s.sessions.Save(ctx, sess)
}

// wireWorktree links shared state into a worktree and writes the
// .session-id pin.
func (s *Service) wireWorktree(ctx context.Context, worktreePath, sessionID string) error {
	root, err := s.shared.Root(ctx)
	if err != nil {
		return err
	}
	if err := s.shared.LinkSharedPaths(ctx, worktreePath, root); err != nil {
		return err
	}
	return WritePin(worktreePath, sessionID)
}

// VerifyWorktree runs the worktree health checks for a session.
func (s *Service) VerifyWorktree(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Git == nil {
		return core.ErrGit(core.CodeWorktreeInvalid, "session "+sessionID+" has no worktree")
	}
	if s.worktrees == nil {
		return core.ErrGit(core.CodeGitFailed, "no git client configured")
	}
	return s.worktrees.Verify(ctx, sess.Git.WorktreePath, sess.Git.BranchName)
}

// Archive retires a session: the worktree is removed (branch kept for
// restore) and the session directory moves to its archived state.
func (s *Service) Archive(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Git != nil && s.worktrees != nil {
		_ = s.worktrees.Remove(ctx, sess.Git.WorktreePath)
		_ = s.worktrees.Prune(ctx)
	}
	sess.LogActivity("archive", "session archived")
	return s.sessionMachine.Transition(ctx, sess, "done",
		statemachine.Options[*core.Session]{Reason: "archived"})
}

// Restore brings an archived session back: any leftover directory is
// deleted, the worktree is recreated through the standard path, and
// the restored location must match the predicted one.
func (s *Service) Restore(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if s.worktrees != nil {
		predicted := s.worktrees.PredictPath(sess.ID)
		if sess.Git != nil {
			_ = s.worktrees.Remove(ctx, sess.Git.WorktreePath)
			_ = os.RemoveAll(sess.Git.WorktreePath)
			_ = s.worktrees.Prune(ctx)
		}
		gitRec, err := s.worktrees.Create(ctx, sess.ID)
		if err != nil {
			return err
		}
		if gitRec.WorktreePath != predicted {
			return core.ErrGit(core.CodeWorktreeInvalid,
				fmt.Sprintf("restored worktree landed at %s, expected %s", gitRec.WorktreePath, predicted))
		}
		if err := s.wireWorktree(ctx, gitRec.WorktreePath, sess.ID); err != nil {
			return err
		}
		sess.Git = gitRec
	}

	sess.LogActivity("restore", "session restored from archive")
	return s.sessionMachine.Transition(ctx, sess, "wip",
		statemachine.Options[*core.Session]{Reason: "restored"})
}

// IsStale reports whether a session has been idle past the configured
// threshold.
func (s *Service) IsStale(sess *core.Session) bool {
	return time.Since(sess.UpdatedAt) > s.cfg.Session.StaleDuration()
}

// ListStale returns active sessions past the staleness threshold.
func (s *Service) ListStale(ctx context.Context) ([]*core.Session, error) {
	active, err := s.sessions.ListByState(ctx, s.cfg.Session.InitialState)
	if err != nil {
		return nil, err
	}
	var stale []*core.Session
	for _, sess := range active {
		if s.IsStale(sess) {
			stale = append(stale, sess)
		}
	}
	return stale, nil
}
