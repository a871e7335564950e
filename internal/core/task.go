package core

import "time"

// EntityKind discriminates the three persisted entity kinds.
type EntityKind string

const (
	KindTask    EntityKind = "task"
	KindQA      EntityKind = "qa"
	KindSession EntityKind = "session"
)

// Metadata carries creation/update bookkeeping shared by all entities.
type Metadata struct {
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
	CreatedBy string    `yaml:"created_by,omitempty"`
}

// StateChange is one entry in an entity's append-only transition log.
type StateChange struct {
	From       string    `yaml:"from"`
	To         string    `yaml:"to"`
	Timestamp  time.Time `yaml:"timestamp"`
	Reason     string    `yaml:"reason,omitempty"`
	Violations []string  `yaml:"violations,omitempty"`
}

// Task is a unit of engineering work tracked on disk as markdown with
// YAML frontmatter. State is never stored in the frontmatter: it is
// always derived from the directory the file lives in.
type Task struct {
	ID             string         `yaml:"id"`
	Title          string         `yaml:"title"`
	Description    string         `yaml:"description,omitempty"`
	SessionID      string         `yaml:"session_id,omitempty"`
	Metadata       Metadata       `yaml:"metadata"`
	StateHistory   []StateChange  `yaml:"state_history,omitempty"`
	Relationships  []Relationship `yaml:"relationships,omitempty"`
	ClaimedAt      *time.Time     `yaml:"claimed_at,omitempty"`
	LastActive     *time.Time     `yaml:"last_active,omitempty"`
	ContinuationID string         `yaml:"continuation_id,omitempty"`
	Result         string         `yaml:"result,omitempty"`
	DelegatedTo    string         `yaml:"delegated_to,omitempty"`
	Integration    map[string]any `yaml:"integration,omitempty"`

	// State is derived from the containing directory on load and is
	// never written to frontmatter.
	State string `yaml:"-"`
	// Body is the free-form markdown below the frontmatter, preserved
	// verbatim across saves.
	Body string `yaml:"-"`
	// Path is the on-disk location the entity was loaded from.
	Path string `yaml:"-"`
}

// NewTask creates a task with required fields and timestamps.
func NewTask(id, title string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:    id,
		Title: title,
		Metadata: Metadata{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Validate checks task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrConfig("TASK_ID_REQUIRED", "task id cannot be empty")
	}
	if t.Title == "" {
		return ErrConfig("TASK_TITLE_REQUIRED", "task title cannot be empty")
	}
	return nil
}

// ParentID returns the target of the single parent edge, or "".
// This is a read-only projection over the canonical edge list.
func (t *Task) ParentID() string {
	for _, e := range t.Relationships {
		if e.Type == RelationParent {
			return e.Target
		}
	}
	return ""
}

// ChildIDs returns the targets of all child edges.
func (t *Task) ChildIDs() []string {
	return EdgesOfType(t.Relationships, RelationChild)
}

// BundleRoot returns the target of the bundle_root edge, or "".
func (t *Task) BundleRoot() string {
	for _, e := range t.Relationships {
		if e.Type == RelationBundleRoot {
			return e.Target
		}
	}
	return ""
}

// HasEdge reports whether the exact edge is present.
func (t *Task) HasEdge(rel RelationType, target string) bool {
	for _, e := range t.Relationships {
		if e.Type == rel && e.Target == target {
			return true
		}
	}
	return false
}

// Touch updates the entity's updated_at timestamp.
func (t *Task) Touch() {
	t.Metadata.UpdatedAt = time.Now().UTC()
}

// RecordTransition appends an entry to the state history log.
func (t *Task) RecordTransition(from, to, reason string, violations []string) {
	t.StateHistory = append(t.StateHistory, StateChange{
		From:       from,
		To:         to,
		Timestamp:  time.Now().UTC(),
		Reason:     reason,
		Violations: violations,
	})
}

// MarkActive stamps last_active with the current time.
func (t *Task) MarkActive() {
	now := time.Now().UTC()
	t.LastActive = &now
}
