package statemachine

import (
	"context"

	"github.com/leeroybrun/edison-sub004/internal/adapters/state"
	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// NewTaskMachine binds a machine to the task repository.
func NewTaskMachine(repo *state.TaskRepository, cfg *config.Config, log *logging.Logger) *Machine[*core.Task] {
	return NewMachine(
		core.KindTask,
		cfg.Tasks,
		func(t *core.Task) string { return t.ID },
		func(t *core.Task) string { return t.State },
		func(t *core.Task, from, to, reason string, violations []string) {
			t.RecordTransition(from, to, reason, violations)
		},
		repo.Save,
		repo.Move,
		log,
	)
}

// NewQAMachine binds a machine to the QA repository.
func NewQAMachine(repo *state.QARepository, cfg *config.Config, log *logging.Logger) *Machine[*core.QARecord] {
	return NewMachine(
		core.KindQA,
		cfg.QA,
		func(q *core.QARecord) string { return q.ID },
		func(q *core.QARecord) string { return q.State },
		func(q *core.QARecord, from, to, reason string, violations []string) {
			q.RecordTransition(from, to, reason, violations)
		},
		repo.Save,
		repo.Move,
		log,
	)
}

// NewSessionMachine binds a machine to the session repository. Sessions
// have no frontmatter history; transitions land in the activity log.
func NewSessionMachine(repo *state.SessionRepository, cfg *config.Config, log *logging.Logger) *Machine[*core.Session] {
	return NewMachine(
		core.KindSession,
		cfg.Session.EntityDomain,
		func(s *core.Session) string { return s.ID },
		func(s *core.Session) string { return s.State },
		func(s *core.Session, from, to, reason string, violations []string) {
			msg := from + " -> " + to
			if reason != "" {
				msg += ": " + reason
			}
			s.LogActivity("transition", msg)
		},
		repo.Save,
		repo.Move,
		log,
	)
}

// BuiltinTaskGuards is the named guard set that task configuration can
// attach to transitions via the tasks.guards table.
func BuiltinTaskGuards() map[string]Guard[*core.Task] {
	return map[string]Guard[*core.Task]{
		"claimed-by-session": {
			Name: "claimed-by-session",
			Check: func(_ context.Context, t *core.Task) (bool, string) {
				if t.SessionID == "" {
					return false, "task " + t.ID + " is not claimed by any session"
				}
				return true, ""
			},
		},
		"result-recorded": {
			Name: "result-recorded",
			Check: func(_ context.Context, t *core.Task) (bool, string) {
				if t.Result == "" {
					return false, "task " + t.ID + " has no recorded result"
				}
				return true, ""
			},
		},
		"has-title": {
			Name: "has-title",
			Check: func(_ context.Context, t *core.Task) (bool, string) {
				if t.Title == "" {
					return false, "task " + t.ID + " has no title"
				}
				return true, ""
			},
		},
	}
}

// BuiltinQAGuards is the named guard set for QA records.
func BuiltinQAGuards() map[string]Guard[*core.QARecord] {
	return map[string]Guard[*core.QARecord]{
		"round-started": {
			Name: "round-started",
			Check: func(_ context.Context, q *core.QARecord) (bool, string) {
				if q.Round < 1 {
					return false, "qa record " + q.ID + " has no active round"
				}
				return true, ""
			},
		},
		"has-validators": {
			Name: "has-validators",
			Check: func(_ context.Context, q *core.QARecord) (bool, string) {
				if len(q.Validators) == 0 {
					return false, "qa record " + q.ID + " lists no validators"
				}
				return true, ""
			},
		},
	}
}
