package executor

import (
	"context"
	"sort"
	"time"

	"github.com/leeroybrun/edison-sub004/internal/adapters/state"
	"github.com/leeroybrun/edison-sub004/internal/core"
)

// EvaluateBundle checks a task cluster for round N: the root plus every
// descendant must have all of its blocking reports approving. When the
// cluster passes, the approval summary is written to the root's round
// directory and mirrored to every member.
func (e *Executor) EvaluateBundle(ctx context.Context, tasks *state.TaskRepository, rootID string, round int) (*core.BundleApproval, error) {
	members, err := e.descendants(ctx, tasks, rootID)
	if err != nil {
		return nil, err
	}

	approval := &core.BundleApproval{
		Approved:  true,
		RootTask:  rootID,
		Members:   members,
		Round:     round,
		Timestamp: time.Now().UTC(),
	}

	blocking := e.blockingValidators()
	for _, taskID := range append([]string{rootID}, members...) {
		seen := false
		for _, id := range blocking {
			report, err := e.evidence.LoadReport(taskID, round, id)
			if err != nil {
				if core.IsCategory(err, core.ErrCatNotFound) {
					continue
				}
				return nil, err
			}
			seen = true
			if report.Verdict != core.VerdictApprove {
				approval.Approved = false
			}
		}
		// A member with no blocking evidence at all cannot be approved.
		if !seen {
			approval.Approved = false
		}
	}

	if approval.Approved {
		if err := e.evidence.WriteBundleApproval(approval); err != nil {
			return nil, err
		}
		e.log.Info("bundle approved", "root", rootID, "round", round, "members", len(members))
	}
	return approval, nil
}

// descendants walks child edges breadth-first from the root.
func (e *Executor) descendants(ctx context.Context, tasks *state.TaskRepository, rootID string) ([]string, error) {
	root, err := tasks.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{rootID: true}
	queue := root.ChildIDs()
	var members []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		members = append(members, id)
		child, err := tasks.Get(ctx, id)
		if err != nil {
			if core.IsCategory(err, core.ErrCatNotFound) {
				continue
			}
			return nil, err
		}
		queue = append(queue, child.ChildIDs()...)
	}
	sort.Strings(members)
	return members, nil
}

func (e *Executor) blockingValidators() []string {
	var ids []string
	for _, v := range e.cfg.Validation.Validators {
		if v.Blocking {
			ids = append(ids, v.ID)
		}
	}
	return ids
}
