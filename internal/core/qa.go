package core

import (
	"fmt"
	"time"
)

// QASuffix is appended to a task id to form its QA record id.
const QASuffix = "-qa"

// QARecordID returns the conventional QA record id for a task.
func QARecordID(taskID string) string {
	return taskID + QASuffix
}

// RoundEntry is one entry in a QA record's round history.
type RoundEntry struct {
	Round  int       `yaml:"round"`
	Status string    `yaml:"status"`
	Date   time.Time `yaml:"date"`
	Notes  string    `yaml:"notes,omitempty"`
}

// QARecord is the validation brief for a task. Like Task it is stored
// as markdown with YAML frontmatter and derives its state from the
// containing directory.
type QARecord struct {
	ID             string        `yaml:"id"`
	TaskID         string        `yaml:"task_id"`
	Title          string        `yaml:"title,omitempty"`
	SessionID      string        `yaml:"session_id,omitempty"`
	ValidatorOwner string        `yaml:"validator_owner,omitempty"`
	Round          int           `yaml:"round"`
	RoundHistory   []RoundEntry  `yaml:"round_history,omitempty"`
	Validators     []string      `yaml:"validators,omitempty"`
	Evidence       []string      `yaml:"evidence,omitempty"`
	Metadata       Metadata      `yaml:"metadata"`
	StateHistory   []StateChange `yaml:"state_history,omitempty"`

	State string `yaml:"-"`
	Body  string `yaml:"-"`
	Path  string `yaml:"-"`
}

// NewQARecord creates a QA record for a task, starting at round 1.
func NewQARecord(taskID, title string) *QARecord {
	now := time.Now().UTC()
	return &QARecord{
		ID:     QARecordID(taskID),
		TaskID: taskID,
		Title:  title,
		Round:  1,
		Metadata: Metadata{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Validate checks QA record invariants.
func (q *QARecord) Validate() error {
	if q.ID == "" {
		return ErrConfig("QA_ID_REQUIRED", "qa record id cannot be empty")
	}
	if q.TaskID == "" {
		return ErrConfig("QA_TASK_REQUIRED", "qa record must reference a task")
	}
	if q.Round < 1 {
		return ErrConfig("QA_ROUND_INVALID", fmt.Sprintf("round must be 1-indexed, got %d", q.Round))
	}
	return nil
}

// AdvanceRound closes the current round with a status and moves to the
// next one.
func (q *QARecord) AdvanceRound(status, notes string) {
	q.RoundHistory = append(q.RoundHistory, RoundEntry{
		Round:  q.Round,
		Status: status,
		Date:   time.Now().UTC(),
		Notes:  notes,
	})
	q.Round++
	q.Touch()
}

// Touch updates the record's updated_at timestamp.
func (q *QARecord) Touch() {
	q.Metadata.UpdatedAt = time.Now().UTC()
}

// RecordTransition appends an entry to the state history log.
func (q *QARecord) RecordTransition(from, to, reason string, violations []string) {
	q.StateHistory = append(q.StateHistory, StateChange{
		From:       from,
		To:         to,
		Timestamp:  time.Now().UTC(),
		Reason:     reason,
		Violations: violations,
	})
}
