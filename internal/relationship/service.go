// Package relationship is the single source of truth for edge
// mutations between tasks. Every add and remove maintains the inverse
// edge on the other side and re-normalizes both edge lists.
package relationship

import (
	"context"

	"github.com/leeroybrun/edison-sub004/internal/adapters/state"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// Service mutates task relationship edges through the repository.
type Service struct {
	tasks *state.TaskRepository
	log   *logging.Logger
}

// NewService creates a relationship service.
func NewService(tasks *state.TaskRepository, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewNop()
	}
	return &Service{tasks: tasks, log: log}
}

// Add creates fromID --[rel]--> toID and the inverse edge on the other
// side. Adding a parent edge fails closed when the task already has a
// different parent unless force is set, in which case the old parent
// loses its child edge first.
func (s *Service) Add(ctx context.Context, fromID string, rel core.RelationType, toID string, force bool) error {
	if !core.ValidRelationTypes[rel] {
		return core.ErrConfig(core.CodeMissingKey, "unknown relation type "+string(rel))
	}
	if fromID == toID {
		return core.ErrConfig(core.CodeMissingKey, "self edges are not permitted: "+fromID)
	}

	from, err := s.tasks.Get(ctx, fromID)
	if err != nil {
		return err
	}
	to, err := s.tasks.Get(ctx, toID)
	if err != nil {
		return err
	}

	if rel == core.RelationParent {
		if current := from.ParentID(); current != "" && current != toID {
			if !force {
				return core.ErrConfig("PARENT_EXISTS",
					"task "+fromID+" already has parent "+current).
					WithRemediation("pass force to reparent")
			}
			if err := s.detachParent(ctx, from, current); err != nil {
				return err
			}
		}
	}

	from.Relationships = core.NormalizeEdges(fromID,
		append(from.Relationships, core.Relationship{Type: rel, Target: toID}))
	// The originating side is authoritative: fail closed here before
	// touching the other file.
	if err := s.tasks.Save(ctx, from); err != nil {
		return err
	}

	if inverse, ok := rel.Inverse(); ok {
		to.Relationships = core.NormalizeEdges(toID,
			append(to.Relationships, core.Relationship{Type: inverse, Target: fromID}))
		if err := s.tasks.Save(ctx, to); err != nil {
			return err
		}
	}

	s.log.Debug("edge added", "from", fromID, "type", string(rel), "to", toID, "force", force)
	return nil
}

// Remove deletes fromID --[rel]--> toID and its inverse.
func (s *Service) Remove(ctx context.Context, fromID string, rel core.RelationType, toID string) error {
	from, err := s.tasks.Get(ctx, fromID)
	if err != nil {
		return err
	}
	from.Relationships = core.NormalizeEdges(fromID,
		dropEdge(from.Relationships, rel, toID))
	if err := s.tasks.Save(ctx, from); err != nil {
		return err
	}

	inverse, ok := rel.Inverse()
	if !ok {
		return nil
	}
	to, err := s.tasks.Get(ctx, toID)
	if err != nil {
		// The authoritative side is already updated; a missing peer is
		// tolerable on removal.
		s.log.Warn("inverse peer not found on edge removal", "from", fromID, "to", toID, "error", err)
		return nil
	}
	to.Relationships = core.NormalizeEdges(toID,
		dropEdge(to.Relationships, inverse, fromID))
	return s.tasks.Save(ctx, to)
}

// Reparent is Add(child, parent, newParent, force).
func (s *Service) Reparent(ctx context.Context, childID, newParentID string, force bool) error {
	return s.Add(ctx, childID, core.RelationParent, newParentID, force)
}

// detachParent removes the old parent edge pair during a forced
// reparent.
func (s *Service) detachParent(ctx context.Context, child *core.Task, oldParentID string) error {
	child.Relationships = core.NormalizeEdges(child.ID,
		dropEdge(child.Relationships, core.RelationParent, oldParentID))

	oldParent, err := s.tasks.Get(ctx, oldParentID)
	if err != nil {
		s.log.Warn("old parent not found during reparent", "task", child.ID, "parent", oldParentID)
		return nil
	}
	oldParent.Relationships = core.NormalizeEdges(oldParentID,
		dropEdge(oldParent.Relationships, core.RelationChild, child.ID))
	return s.tasks.Save(ctx, oldParent)
}

func dropEdge(edges []core.Relationship, rel core.RelationType, target string) []core.Relationship {
	var out []core.Relationship
	for _, e := range edges {
		if e.Type == rel && e.Target == target {
			continue
		}
		out = append(out, e)
	}
	return out
}
