package state

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/fsutil"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// QARepository persists QA records. A QA record shadows its task: id
// `<task-id>-qa`, same tree layout under the qa subdir.
type QARepository struct {
	store    *markdownStore
	domain   config.EntityDomain
	renderer BodyRenderer
	log      *logging.Logger
}

// QARepositoryOption configures the repository.
type QARepositoryOption func(*QARepository)

// WithQABodyRenderer sets the template renderer for new QA bodies.
func WithQABodyRenderer(r BodyRenderer) QARepositoryOption {
	return func(repo *QARepository) { repo.renderer = r }
}

// NewQARepository creates a QA repository.
func NewQARepository(paths config.Paths, cfg *config.Config, log *logging.Logger, opts ...QARepositoryOption) *QARepository {
	if log == nil {
		log = logging.NewNop()
	}
	repo := &QARepository{
		store:  newMarkdownStore(paths, cfg.QA, cfg.Session.EntityDomain, log),
		domain: cfg.QA,
		log:    log,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Create writes a new QA record file.
func (r *QARepository) Create(ctx context.Context, q *core.QARecord) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if q.State == "" {
		q.State = r.domain.InitialState
	}
	if !r.domain.HasState(q.State) {
		return core.ErrPersistence(core.CodeUnknownState, "unknown qa state "+q.State)
	}
	if _, found := r.store.locate(q.ID); found {
		return core.ErrPersistence(core.CodeRenameFailed, "qa record already exists: "+q.ID)
	}

	body := q.Body
	if body == "" && r.renderer != nil {
		rendered, err := r.renderer.RenderBody(core.KindQA, q)
		if err != nil {
			return err
		}
		body = rendered
	}
	if body == "" {
		body = "# QA: " + q.TaskID + "\n"
	}
	q.Body = body

	path := r.store.pathFor(q.ID, q.State, q.SessionID)
	return withFileLock(ctx, path, r.store.lockTimeout, func() error {
		data, err := encodeFrontmatter(q, body)
		if err != nil {
			return err
		}
		if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed, "writing qa record "+q.ID).WithCause(err)
		}
		q.Path = path
		r.log.Debug("qa record created", "qa_id", q.ID, "state", q.State)
		return nil
	})
}

// Get loads a QA record by id, failing closed on legacy or malformed
// files.
func (r *QARepository) Get(ctx context.Context, id string) (*core.QARecord, error) {
	file, found := r.store.locate(id)
	if !found {
		return nil, core.ErrNotFound("qa record", id)
	}
	return r.decode(file)
}

// GetForTask loads the QA record shadowing a task.
func (r *QARepository) GetForTask(ctx context.Context, taskID string) (*core.QARecord, error) {
	return r.Get(ctx, core.QARecordID(taskID))
}

// Save rewrites frontmatter, preserving the on-disk body unless the
// record carries a replacement.
func (r *QARepository) Save(ctx context.Context, q *core.QARecord) error {
	file, found := r.store.locate(q.ID)
	if !found {
		return core.ErrNotFound("qa record", q.ID)
	}

	body := q.Body
	if body == "" {
		if data, err := os.ReadFile(file.Path); err == nil {
			if _, diskBody, ok := decodeFrontmatter(data); ok {
				body = diskBody
			}
		}
	}
	q.State = file.State
	q.Touch()

	return withFileLock(ctx, file.Path, r.store.lockTimeout, func() error {
		data, err := encodeFrontmatter(q, body)
		if err != nil {
			return err
		}
		if err := fsutil.WriteFileAtomic(file.Path, data, 0o644); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed, "saving qa record "+q.ID).WithCause(err)
		}
		q.Path = file.Path
		q.Body = body
		return nil
	})
}

// Delete removes a QA record file.
func (r *QARepository) Delete(ctx context.Context, id string) error {
	file, found := r.store.locate(id)
	if !found {
		return core.ErrNotFound("qa record", id)
	}
	if err := os.Remove(file.Path); err != nil {
		return core.ErrPersistence(core.CodeRenameFailed, "deleting qa record "+id).WithCause(err)
	}
	_ = os.Remove(file.Path + ".lock")
	return nil
}

// ListByState returns readable QA records in a state; unreadable files
// are skipped.
func (r *QARepository) ListByState(ctx context.Context, qaState string) ([]*core.QARecord, error) {
	if !r.domain.HasState(qaState) {
		return nil, core.ErrPersistence(core.CodeUnknownState, "unknown qa state "+qaState)
	}
	return r.decodeAll(r.store.listState(qaState)), nil
}

// ListAll returns every readable QA record.
func (r *QARepository) ListAll(ctx context.Context) ([]*core.QARecord, error) {
	return r.decodeAll(r.store.listAll()), nil
}

// Move relocates a QA record into another state directory.
func (r *QARepository) Move(ctx context.Context, q *core.QARecord, toState string) error {
	if !r.domain.HasState(toState) {
		return core.ErrPersistence(core.CodeUnknownState, "unknown qa state "+toState)
	}
	file, found := r.store.locate(q.ID)
	if !found {
		return core.ErrNotFound("qa record", q.ID)
	}

	var dst string
	if file.SessionID != "" {
		dst = r.store.sessionDir(file.SessionState, file.SessionID, toState)
	} else {
		dst = r.store.globalDir(toState)
	}
	dstPath := filepath.Join(dst, q.ID+".md")

	return withFileLock(ctx, file.Path, r.store.lockTimeout, func() error {
		if err := fsutil.MoveFile(file.Path, dstPath); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed, "moving qa record "+q.ID).WithCause(err)
		}
		_ = os.Remove(file.Path + ".lock")
		q.State = toState
		q.Path = dstPath
		return nil
	})
}

func (r *QARepository) decode(file entityFile) (*core.QARecord, error) {
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, core.ErrPersistence(core.CodeRenameFailed, "reading "+file.Path).WithCause(err)
	}
	meta, body, ok := decodeFrontmatter(data)
	if !ok {
		return nil, legacyError(idFromPath(file.Path), file.Path)
	}

	var q core.QARecord
	if err := yaml.Unmarshal(meta, &q); err != nil {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter,
			"malformed frontmatter in "+file.Path).WithCause(err).
			WithRemediation("fix the YAML frontmatter block")
	}
	if q.ID == "" {
		q.ID = idFromPath(file.Path)
	}
	if q.SessionID == "" && file.SessionID != "" {
		q.SessionID = file.SessionID
	}
	q.State = file.State
	q.Body = body
	q.Path = file.Path
	return &q, nil
}

func (r *QARepository) decodeAll(files []entityFile) []*core.QARecord {
	var records []*core.QARecord
	for _, file := range files {
		q, err := r.decode(file)
		if err != nil {
			r.log.Debug("skipping unreadable qa file", "path", file.Path, "error", err)
			continue
		}
		records = append(records, q)
	}
	return records
}
