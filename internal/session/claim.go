package session

import (
	"context"
	"time"

	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/statemachine"
)

// CreateTask creates a task plus its shadow QA record, which waits in
// the QA initial state until the implementation completes.
func (s *Service) CreateTask(ctx context.Context, t *core.Task) error {
	if err := s.tasks.Create(ctx, t); err != nil {
		return err
	}
	qa := core.NewQARecord(t.ID, t.Title)
	if err := s.qa.Create(ctx, qa); err != nil {
		return err
	}
	return nil
}

// Claim takes ownership of a task for a session: the file relocates
// into the session-scoped tree and transitions to wip. A task owned by
// another session fails closed unless reclaim is set with a reason;
// the takeover is recorded in the state history.
func (s *Service) Claim(ctx context.Context, taskID, sessionID string, reclaim bool, reason string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if t.SessionID != "" && t.SessionID != sessionID {
		if !reclaim {
			return core.ErrPersistence(core.CodeSessionOwned,
				"task "+taskID+" is owned by session "+t.SessionID).
				WithRemediation("pass reclaim=true with a takeover reason to take over")
		}
		if reason == "" {
			return core.ErrPersistence(core.CodeSessionOwned,
				"reclaiming task "+taskID+" requires a takeover reason")
		}
		t.RecordTransition(t.State, t.State,
			"takeover from "+t.SessionID+" by "+sessionID+": "+reason, nil)
		s.log.Warn("task reclaimed",
			"task_id", taskID, "from", t.SessionID, "to", sessionID, "reason", reason)
	}

	now := time.Now().UTC()
	t.SessionID = sessionID
	t.ClaimedAt = &now
	t.MarkActive()
	if err := s.tasks.Save(ctx, t); err != nil {
		return err
	}
	if err := s.tasks.Relocate(ctx, t, sessionID); err != nil {
		return err
	}
	// A reclaimed task is already in wip; only fresh claims transition.
	if t.State != "wip" {
		if err := s.taskMachine.Transition(ctx, t, "wip",
			statemachine.Options[*core.Task]{Reason: "claimed by " + sessionID}); err != nil {
			return err
		}
	}

	sess.LogActivity("claim", "claimed task "+taskID)
	return s.sessions.Save(ctx, sess)
}

// Release gives a task back: the claim fields clear, the file moves
// back into the global tree and the task returns to todo.
func (s *Service) Release(ctx context.Context, taskID, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	t, err := s.owned(ctx, taskID, sessionID)
	if err != nil {
		return err
	}

	if err := s.taskMachine.Transition(ctx, t, "todo",
		statemachine.Options[*core.Task]{Reason: "released by " + sessionID}); err != nil {
		return err
	}
	if err := s.tasks.Relocate(ctx, t, ""); err != nil {
		return err
	}
	t.SessionID = ""
	t.ClaimedAt = nil
	if err := s.tasks.Save(ctx, t); err != nil {
		return err
	}

	sess.LogActivity("release", "released task "+taskID)
	return s.sessions.Save(ctx, sess)
}

// Complete marks a task done within its session and advances the shadow
// QA record out of its waiting state so validation can begin.
func (s *Service) Complete(ctx context.Context, taskID, sessionID, result string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	t, err := s.owned(ctx, taskID, sessionID)
	if err != nil {
		return err
	}

	if err := s.taskMachine.Transition(ctx, t, "done",
		statemachine.Options[*core.Task]{
			Reason: "completed by " + sessionID,
			Mutate: func(t *core.Task) error {
				if result != "" {
					t.Result = result
				}
				t.MarkActive()
				return nil
			},
		}); err != nil {
		return err
	}

	// The QA record stays in the global tree: setting its session_id
	// would claim it into the session's directory, but validation is not
	// owned by the implementing session. The implementer is recorded in
	// the transition history instead.
	if qa, err := s.qa.GetForTask(ctx, taskID); err == nil && qa.State == s.cfg.QA.InitialState {
		if err := s.qaMachine.Transition(ctx, qa, "todo",
			statemachine.Options[*core.QARecord]{Reason: "implementation complete by " + sessionID}); err != nil {
			return err
		}
	}

	sess.LogActivity("complete", "completed task "+taskID)
	return s.sessions.Save(ctx, sess)
}

// owned loads a task and checks the session owns it.
func (s *Service) owned(ctx context.Context, taskID, sessionID string) (*core.Task, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.SessionID != sessionID {
		return nil, core.ErrPersistence(core.CodeSessionOwned,
			"task "+taskID+" is not owned by session "+sessionID)
	}
	return t, nil
}
