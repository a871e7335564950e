package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/fsutil"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

const sessionFileName = "session.json"

// SessionRepository persists sessions as session.json files in nested
// state directories: <sessions-root>/<state>/<session-id>/session.json.
type SessionRepository struct {
	root        string
	domain      config.EntityDomain
	lockTimeout time.Duration
	log         *logging.Logger
}

// NewSessionRepository creates a session repository.
func NewSessionRepository(paths config.Paths, cfg *config.Config, log *logging.Logger) *SessionRepository {
	if log == nil {
		log = logging.NewNop()
	}
	return &SessionRepository{
		root:        paths.SessionsDir(),
		domain:      cfg.Session.EntityDomain,
		lockTimeout: defaultLockTimeout,
		log:         log,
	}
}

// Dir returns the session's directory for a given state.
func (r *SessionRepository) Dir(sessionID, sessionState string) string {
	return filepath.Join(r.root, sessionState, sessionID)
}

// Create writes a new session.json in the initial state directory.
func (r *SessionRepository) Create(ctx context.Context, s *core.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.State == "" {
		s.State = r.domain.InitialState
	}
	if !r.domain.HasState(s.State) {
		return core.ErrPersistence(core.CodeUnknownState, "unknown session state "+s.State)
	}
	if _, _, found := r.locate(s.ID); found {
		return core.ErrPersistence(core.CodeRenameFailed, "session already exists: "+s.ID)
	}

	path := filepath.Join(r.Dir(s.ID, s.State), sessionFileName)
	return withFileLock(ctx, path, r.lockTimeout, func() error {
		if err := r.write(path, s); err != nil {
			return err
		}
		s.Path = path
		r.log.Debug("session created", "session_id", s.ID, "state", s.State)
		return nil
	})
}

// Get loads a session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*core.Session, error) {
	path, sessionState, found := r.locate(id)
	if !found {
		return nil, core.ErrNotFound("session", id).
			WithRemediation("list sessions or create one first")
	}
	return r.read(path, sessionState)
}

// Save rewrites an existing session.json atomically.
func (r *SessionRepository) Save(ctx context.Context, s *core.Session) error {
	path, sessionState, found := r.locate(s.ID)
	if !found {
		return core.ErrNotFound("session", s.ID)
	}
	s.State = sessionState
	s.UpdatedAt = time.Now().UTC()

	return withFileLock(ctx, path, r.lockTimeout, func() error {
		if err := r.write(path, s); err != nil {
			return err
		}
		s.Path = path
		return nil
	})
}

// Delete removes a session's whole directory tree.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	path, _, found := r.locate(id)
	if !found {
		return core.ErrNotFound("session", id)
	}
	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		return core.ErrPersistence(core.CodeRenameFailed, "deleting session "+id).WithCause(err)
	}
	return nil
}

// ListByState returns every readable session in a state.
func (r *SessionRepository) ListByState(ctx context.Context, sessionState string) ([]*core.Session, error) {
	if !r.domain.HasState(sessionState) {
		return nil, core.ErrPersistence(core.CodeUnknownState, "unknown session state "+sessionState)
	}
	ids, err := listSubdirs(filepath.Join(r.root, sessionState))
	if err != nil {
		return nil, core.ErrPersistence(core.CodeRenameFailed, "listing sessions").WithCause(err)
	}
	var sessions []*core.Session
	for _, id := range ids {
		s, err := r.read(filepath.Join(r.Dir(id, sessionState), sessionFileName), sessionState)
		if err != nil {
			r.log.Debug("skipping unreadable session", "session_id", id, "error", err)
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// ListAll returns every readable session across all states.
func (r *SessionRepository) ListAll(ctx context.Context) ([]*core.Session, error) {
	var sessions []*core.Session
	for _, sessionState := range r.domain.States {
		batch, err := r.ListByState(ctx, sessionState)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, batch...)
	}
	return sessions, nil
}

// Move renames the session directory into another state directory,
// carrying the scoped task and qa trees with it.
func (r *SessionRepository) Move(ctx context.Context, s *core.Session, toState string) error {
	if !r.domain.HasState(toState) {
		return core.ErrPersistence(core.CodeUnknownState, "unknown session state "+toState)
	}
	path, sessionState, found := r.locate(s.ID)
	if !found {
		return core.ErrNotFound("session", s.ID)
	}
	srcDir := filepath.Dir(path)
	dstDir := r.Dir(s.ID, toState)

	return withFileLock(ctx, path, r.lockTimeout, func() error {
		if err := os.MkdirAll(filepath.Dir(dstDir), 0o755); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed, "creating state directory").WithCause(err)
		}
		if err := os.Rename(srcDir, dstDir); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed,
				"moving session "+s.ID+" from "+sessionState+" to "+toState).WithCause(err)
		}
		s.State = toState
		s.Path = filepath.Join(dstDir, sessionFileName)
		return nil
	})
}

func (r *SessionRepository) locate(id string) (path, sessionState string, found bool) {
	for _, st := range r.domain.States {
		p := filepath.Join(r.Dir(id, st), sessionFileName)
		if fileIsRegular(p) {
			return p, st, true
		}
	}
	return "", "", false
}

func (r *SessionRepository) read(path, sessionState string) (*core.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ErrPersistence(core.CodeRenameFailed, "reading "+path).WithCause(err)
	}
	var s core.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter,
			"malformed session.json at "+path).WithCause(err).
			WithRemediation("fix or remove the corrupt session.json")
	}
	s.State = sessionState
	s.Path = path
	return &s, nil
}

func (r *SessionRepository) write(path string, s *core.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return core.ErrPersistence(core.CodeRenameFailed, "marshaling session "+s.ID).WithCause(err)
	}
	if err := fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return core.ErrPersistence(core.CodeRenameFailed, "writing session "+s.ID).WithCause(err)
	}
	return nil
}
