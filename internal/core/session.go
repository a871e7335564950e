package core

import "time"

// SessionGit holds the git materialization of a session, if any.
type SessionGit struct {
	WorktreePath string `json:"worktreePath,omitempty"`
	BranchName   string `json:"branchName,omitempty"`
	BaseBranch   string `json:"baseBranch,omitempty"`
}

// ActivityEntry is one line in a session's activity log.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}

// Session is an agent work context, persisted as session.json inside
// its state directory. State is derived from the directory, not from
// the JSON payload.
type Session struct {
	ID        string          `json:"id"`
	Owner     string          `json:"owner,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Activity  []ActivityEntry `json:"activity,omitempty"`
	Git       *SessionGit     `json:"git,omitempty"`

	State string `json:"-"`
	Path  string `json:"-"`
}

// NewSession creates a session with timestamps.
func NewSession(id, owner string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LogActivity appends an entry to the activity log and touches the
// session.
func (s *Session) LogActivity(kind, message string) {
	s.Activity = append(s.Activity, ActivityEntry{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Message:   message,
	})
	s.UpdatedAt = time.Now().UTC()
}

// Validate checks session invariants.
func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrConfig("SESSION_ID_REQUIRED", "session id cannot be empty")
	}
	return nil
}
