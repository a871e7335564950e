// Package statemachine applies guarded, config-driven state
// transitions to persisted entities. The transition tables come
// entirely from configuration; guards and actions are typed predicates
// and hooks registered per (from, to) pair. Everything fails closed
// before the first mutation.
package statemachine

import (
	"context"
	"fmt"
	"strings"

	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// Wildcard matches any state in a guard or action registration.
const Wildcard = "*"

// Guard is a pure predicate over an entity. It returns pass/fail plus a
// human-readable reason used in violation lists.
type Guard[E any] struct {
	Name  string
	Check func(ctx context.Context, e E) (bool, string)
}

// Action runs after all guards pass and before the entity mutates.
// An error aborts the transition.
type Action[E any] struct {
	Name string
	Run  func(ctx context.Context, e E) error
}

// Options tunes a single transition.
type Options[E any] struct {
	// Reason lands in the state_history entry.
	Reason string
	// Mutate is applied to the entity after actions succeed and before
	// persistence.
	Mutate func(e E) error
}

type edge struct {
	from string
	to   string
}

// Machine drives transitions for one entity kind. The accessor funcs
// bind it to a concrete entity type and its repository.
type Machine[E any] struct {
	kind    core.EntityKind
	domain  config.EntityDomain
	guards  map[edge][]Guard[E]
	actions map[edge][]Action[E]

	id     func(E) string
	state  func(E) string
	record func(e E, from, to, reason string, violations []string)
	save   func(ctx context.Context, e E) error
	move   func(ctx context.Context, e E, to string) error

	log *logging.Logger
}

// NewMachine builds a machine from accessors. Use the entity-specific
// constructors below instead of calling this directly.
func NewMachine[E any](
	kind core.EntityKind,
	domain config.EntityDomain,
	id func(E) string,
	state func(E) string,
	record func(E, string, string, string, []string),
	save func(context.Context, E) error,
	move func(context.Context, E, string) error,
	log *logging.Logger,
) *Machine[E] {
	if log == nil {
		log = logging.NewNop()
	}
	return &Machine[E]{
		kind:    kind,
		domain:  domain,
		guards:  make(map[edge][]Guard[E]),
		actions: make(map[edge][]Action[E]),
		id:      id,
		state:   state,
		record:  record,
		save:    save,
		move:    move,
		log:     log,
	}
}

// RegisterGuard attaches a guard to a (from, to) pair. Either side may
// be the wildcard.
func (m *Machine[E]) RegisterGuard(from, to string, g Guard[E]) {
	key := edge{from: from, to: to}
	m.guards[key] = append(m.guards[key], g)
}

// RegisterAction attaches an action to a (from, to) pair.
func (m *Machine[E]) RegisterAction(from, to string, a Action[E]) {
	key := edge{from: from, to: to}
	m.actions[key] = append(m.actions[key], a)
}

// ConfigureGuards wires named built-in guards onto transitions from a
// YAML table of the form {"from->to": ["guard-name", ...]}.
func (m *Machine[E]) ConfigureGuards(table map[string][]string, builtins map[string]Guard[E]) error {
	for key, names := range table {
		from, to, err := parseEdgeKey(key)
		if err != nil {
			return err
		}
		for _, name := range names {
			g, ok := builtins[name]
			if !ok {
				return core.ErrConfig(core.CodeMissingKey,
					fmt.Sprintf("unknown guard %q for transition %s", name, key))
			}
			m.RegisterGuard(from, to, g)
		}
	}
	return nil
}

// Transition moves an entity to a target state: target validation,
// guard evaluation, action execution, mutator, state_history append,
// persistence, file move. Any failure before persistence leaves the
// entity untouched on disk.
func (m *Machine[E]) Transition(ctx context.Context, e E, to string, opts Options[E]) error {
	from := m.state(e)
	entityID := m.id(e)

	if !m.domain.HasState(to) {
		return &core.TransitionError{
			Kind: m.kind, EntityID: entityID, From: from, To: to,
			Cause: core.ErrPersistence(core.CodeUnknownState, "state "+to+" is not defined"),
		}
	}
	if !m.domain.Allows(from, to) {
		return &core.TransitionError{
			Kind: m.kind, EntityID: entityID, From: from, To: to,
			Violations: []string{fmt.Sprintf("transition %s -> %s is not permitted by configuration", from, to)},
		}
	}

	if violations := m.checkGuards(ctx, e, from, to); len(violations) > 0 {
		return &core.TransitionError{
			Kind: m.kind, EntityID: entityID, From: from, To: to,
			Violations: violations,
		}
	}

	for _, a := range m.actionsFor(from, to) {
		if err := a.Run(ctx, e); err != nil {
			return &core.TransitionError{
				Kind: m.kind, EntityID: entityID, From: from, To: to,
				Cause: core.ErrPersistence(core.CodeActionFailed, "action "+a.Name+" failed").WithCause(err),
			}
		}
	}

	if opts.Mutate != nil {
		if err := opts.Mutate(e); err != nil {
			return &core.TransitionError{
				Kind: m.kind, EntityID: entityID, From: from, To: to, Cause: err,
			}
		}
	}

	m.record(e, from, to, opts.Reason, nil)
	if err := m.save(ctx, e); err != nil {
		return &core.TransitionError{Kind: m.kind, EntityID: entityID, From: from, To: to, Cause: err}
	}
	if err := m.move(ctx, e, to); err != nil {
		return &core.TransitionError{Kind: m.kind, EntityID: entityID, From: from, To: to, Cause: err}
	}

	m.log.Info("state transition",
		"kind", string(m.kind), "entity_id", entityID, "from", from, "to", to, "reason", opts.Reason)
	return nil
}

func (m *Machine[E]) checkGuards(ctx context.Context, e E, from, to string) []string {
	var violations []string
	for _, key := range []edge{
		{from, to},
		{Wildcard, to},
		{from, Wildcard},
		{Wildcard, Wildcard},
	} {
		for _, g := range m.guards[key] {
			ok, reason := g.Check(ctx, e)
			if !ok {
				if reason == "" {
					reason = "guard " + g.Name + " failed"
				}
				violations = append(violations, reason)
			}
		}
	}
	return violations
}

func (m *Machine[E]) actionsFor(from, to string) []Action[E] {
	var actions []Action[E]
	for _, key := range []edge{
		{from, to},
		{Wildcard, to},
		{from, Wildcard},
		{Wildcard, Wildcard},
	} {
		actions = append(actions, m.actions[key]...)
	}
	return actions
}

func parseEdgeKey(key string) (string, string, error) {
	from, to, ok := strings.Cut(key, "->")
	if !ok {
		return "", "", core.ErrConfig(core.CodeMissingKey, "guard table key must be \"from->to\", got "+key)
	}
	return strings.TrimSpace(from), strings.TrimSpace(to), nil
}
