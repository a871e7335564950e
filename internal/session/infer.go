package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/fsutil"
)

// EnvSessionID is the ambient session id override.
const EnvSessionID = "AGENTS_SESSION"

// PinFileName is the per-worktree pinning file holding a session id.
const PinFileName = ".session-id"

// maxAncestryDepth bounds the parent-process walk.
const maxAncestryDepth = 16

// WritePin records the session id inside a worktree.
func WritePin(dir, sessionID string) error {
	return fsutil.WriteFileAtomic(filepath.Join(dir, PinFileName), []byte(sessionID+"\n"), 0o644)
}

// ReadPin reads a pinning file from a directory, or "" when absent.
func ReadPin(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, PinFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// InferSessionID resolves the session for the current invocation, in
// order: the AGENTS_SESSION environment variable, a .session-id pin
// found walking up from startDir, and the process ancestry matched
// against the recognized agent binaries (picking that agent's newest
// active session).
func (s *Service) InferSessionID(ctx context.Context, startDir string) (string, error) {
	if id := os.Getenv(EnvSessionID); id != "" {
		return id, nil
	}

	if id := findPin(startDir, s.paths.ProjectRoot); id != "" {
		return id, nil
	}

	if agent := ancestorAgent(s.cfg.Session.RecognizedAgents); agent != "" {
		if id := s.newestSessionFor(ctx, agent); id != "" {
			return id, nil
		}
	}

	return "", core.ErrNotFound("session", "no inferable session").
		WithRemediation("set " + EnvSessionID + " or run from inside a session worktree")
}

// findPin walks from startDir up to (and including) stopDir looking
// for a pinning file.
func findPin(startDir, stopDir string) string {
	dir := filepath.Clean(startDir)
	stop := filepath.Clean(stopDir)
	for {
		if id := ReadPin(dir); id != "" {
			return id
		}
		if dir == stop {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ancestorAgent walks the parent-process chain and returns the first
// recognized agent binary name. The recognized set is configuration,
// not code.
func ancestorAgent(recognized []string) string {
	if len(recognized) == 0 {
		return ""
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ""
	}
	for depth := 0; depth < maxAncestryDepth; depth++ {
		p, err = p.Parent()
		if err != nil || p == nil {
			return ""
		}
		name, err := p.Name()
		if err != nil {
			continue
		}
		name = strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
		for _, agent := range recognized {
			if name == strings.ToLower(agent) {
				return agent
			}
		}
	}
	return ""
}

// newestSessionFor picks the most recently updated active session
// owned by an agent.
func (s *Service) newestSessionFor(ctx context.Context, agent string) string {
	active, err := s.sessions.ListByState(ctx, s.cfg.Session.InitialState)
	if err != nil {
		return ""
	}
	var newest *core.Session
	for _, sess := range active {
		if sess.Owner != agent {
			continue
		}
		if newest == nil || sess.UpdatedAt.After(newest.UpdatedAt) {
			newest = sess
		}
	}
	if newest == nil {
		return ""
	}
	return newest.ID
}
