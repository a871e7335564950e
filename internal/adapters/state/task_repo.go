package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/fsutil"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// BodyRenderer produces the initial Markdown body for a newly created
// entity, typically backed by the composition engine.
type BodyRenderer interface {
	RenderBody(kind core.EntityKind, entity any) (string, error)
}

// TaskRepository persists tasks as Markdown documents under the global
// and session-scoped state trees.
type TaskRepository struct {
	store    *markdownStore
	domain   config.EntityDomain
	renderer BodyRenderer
	log      *logging.Logger
}

// TaskRepositoryOption configures the repository.
type TaskRepositoryOption func(*TaskRepository)

// WithTaskBodyRenderer sets the template renderer for new task bodies.
func WithTaskBodyRenderer(r BodyRenderer) TaskRepositoryOption {
	return func(repo *TaskRepository) { repo.renderer = r }
}

// NewTaskRepository creates a task repository.
func NewTaskRepository(paths config.Paths, cfg *config.Config, log *logging.Logger, opts ...TaskRepositoryOption) *TaskRepository {
	if log == nil {
		log = logging.NewNop()
	}
	repo := &TaskRepository{
		store:  newMarkdownStore(paths, cfg.Tasks, cfg.Session.EntityDomain, log),
		domain: cfg.Tasks,
		log:    log,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Create writes a new task file. State defaults to the configured
// initial state; the body comes from the task, the renderer or a
// minimal heading, in that order.
func (r *TaskRepository) Create(ctx context.Context, t *core.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.State == "" {
		t.State = r.domain.InitialState
	}
	if !r.domain.HasState(t.State) {
		return core.ErrPersistence(core.CodeUnknownState, "unknown task state "+t.State)
	}
	if len(t.StateHistory) == 0 {
		t.RecordTransition("", t.State, "created", nil)
	}
	if _, found := r.store.locate(t.ID); found {
		return core.ErrPersistence(core.CodeRenameFailed, "task already exists: "+t.ID).
			WithRemediation("use Save to update an existing task")
	}

	body := t.Body
	if body == "" && r.renderer != nil {
		rendered, err := r.renderer.RenderBody(core.KindTask, t)
		if err != nil {
			return err
		}
		body = rendered
	}
	if body == "" {
		body = "# " + t.Title + "\n"
	}
	t.Body = body

	path := r.store.pathFor(t.ID, t.State, t.SessionID)
	return withFileLock(ctx, path, r.store.lockTimeout, func() error {
		data, err := encodeFrontmatter(t, body)
		if err != nil {
			return err
		}
		if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed, "writing task "+t.ID).WithCause(err)
		}
		t.Path = path
		r.log.Debug("task created", "task_id", t.ID, "state", t.State)
		return nil
	})
}

// Get loads a task by id. Direct gets fail closed on legacy or
// malformed files.
func (r *TaskRepository) Get(ctx context.Context, id string) (*core.Task, error) {
	file, found := r.store.locate(id)
	if !found {
		return nil, core.ErrNotFound("task", id).
			WithRemediation("check the id or list tasks by state")
	}
	return r.decode(file)
}

// Save rewrites a task's frontmatter in place. The body on disk is
// preserved unless the task carries an explicit replacement.
func (r *TaskRepository) Save(ctx context.Context, t *core.Task) error {
	file, found := r.store.locate(t.ID)
	if !found {
		return core.ErrNotFound("task", t.ID)
	}

	body := t.Body
	if body == "" {
		if data, err := os.ReadFile(file.Path); err == nil {
			if _, diskBody, ok := decodeFrontmatter(data); ok {
				body = diskBody
			}
		}
	}
	t.State = file.State
	t.Touch()

	return withFileLock(ctx, file.Path, r.store.lockTimeout, func() error {
		data, err := encodeFrontmatter(t, body)
		if err != nil {
			return err
		}
		if err := fsutil.WriteFileAtomic(file.Path, data, 0o644); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed, "saving task "+t.ID).WithCause(err)
		}
		t.Path = file.Path
		t.Body = body
		return nil
	})
}

// Delete removes a task file and its lock sidecar.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	file, found := r.store.locate(id)
	if !found {
		return core.ErrNotFound("task", id)
	}
	if err := os.Remove(file.Path); err != nil {
		return core.ErrPersistence(core.CodeRenameFailed, "deleting task "+id).WithCause(err)
	}
	_ = os.Remove(file.Path + ".lock")
	return nil
}

// ListByState returns every readable task in a state. Malformed and
// legacy files are skipped.
func (r *TaskRepository) ListByState(ctx context.Context, taskState string) ([]*core.Task, error) {
	if !r.domain.HasState(taskState) {
		return nil, core.ErrPersistence(core.CodeUnknownState, "unknown task state "+taskState)
	}
	return r.decodeAll(r.store.listState(taskState)), nil
}

// ListAll returns every readable task across all states and trees.
func (r *TaskRepository) ListAll(ctx context.Context) ([]*core.Task, error) {
	return r.decodeAll(r.store.listAll()), nil
}

// FindBySession returns the tasks claimed by a session.
func (r *TaskRepository) FindBySession(ctx context.Context, sessionID string) ([]*core.Task, error) {
	var tasks []*core.Task
	for _, t := range r.decodeAll(r.store.listAll()) {
		if t.SessionID == sessionID {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// Move relocates a task file into another state directory within its
// current tree. The body travels with the file.
func (r *TaskRepository) Move(ctx context.Context, t *core.Task, toState string) error {
	if !r.domain.HasState(toState) {
		return core.ErrPersistence(core.CodeUnknownState, "unknown task state "+toState)
	}
	file, found := r.store.locate(t.ID)
	if !found {
		return core.ErrNotFound("task", t.ID)
	}

	var dst string
	if file.SessionID != "" {
		dst = r.store.sessionDir(file.SessionState, file.SessionID, toState)
	} else {
		dst = r.store.globalDir(toState)
	}
	dstPath := filepath.Join(dst, t.ID+".md")

	return withFileLock(ctx, file.Path, r.store.lockTimeout, func() error {
		if err := fsutil.MoveFile(file.Path, dstPath); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed,
				fmt.Sprintf("moving task %s to state %s", t.ID, toState)).WithCause(err)
		}
		_ = os.Remove(file.Path + ".lock")
		t.State = toState
		t.Path = dstPath
		return nil
	})
}

// Relocate moves a task file between the global tree and a session
// tree, keeping its state. Used when a session claims or releases a
// task.
func (r *TaskRepository) Relocate(ctx context.Context, t *core.Task, sessionID string) error {
	file, found := r.store.locate(t.ID)
	if !found {
		return core.ErrNotFound("task", t.ID)
	}
	dstPath := r.store.pathFor(t.ID, file.State, sessionID)
	if dstPath == file.Path {
		return nil
	}
	return withFileLock(ctx, file.Path, r.store.lockTimeout, func() error {
		if err := fsutil.MoveFile(file.Path, dstPath); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed, "relocating task "+t.ID).WithCause(err)
		}
		_ = os.Remove(file.Path + ".lock")
		t.SessionID = sessionID
		t.State = file.State
		t.Path = dstPath
		return nil
	})
}

func (r *TaskRepository) decode(file entityFile) (*core.Task, error) {
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, core.ErrPersistence(core.CodeRenameFailed, "reading "+file.Path).WithCause(err)
	}
	meta, body, ok := decodeFrontmatter(data)
	if !ok {
		return nil, legacyError(idFromPath(file.Path), file.Path)
	}

	var t core.Task
	if err := yaml.Unmarshal(meta, &t); err != nil {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter,
			"malformed frontmatter in "+file.Path).WithCause(err).
			WithRemediation("fix the YAML frontmatter block")
	}
	if t.ID == "" {
		t.ID = idFromPath(file.Path)
	}
	if t.SessionID == "" && file.SessionID != "" {
		t.SessionID = file.SessionID
	}
	t.State = file.State
	t.Body = body
	t.Path = file.Path
	return &t, nil
}

func (r *TaskRepository) decodeAll(files []entityFile) []*core.Task {
	var tasks []*core.Task
	for _, file := range files {
		t, err := r.decode(file)
		if err != nil {
			r.log.Debug("skipping unreadable task file", "path", file.Path, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}
