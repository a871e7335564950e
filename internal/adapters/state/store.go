package state

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

// entityFile is a located entity document. State comes from the parent
// directory name, never from file content.
type entityFile struct {
	Path         string
	State        string
	SessionState string
	SessionID    string
}

// markdownStore handles the directory layout shared by the task and QA
// repositories: a global tree plus one tree per session. Lookups search
// the global tree first, then every session tree.
type markdownStore struct {
	mgmtRoot      string
	sessionsRoot  string
	subdir        string
	states        []string
	sessionStates []string
	lockTimeout   time.Duration
	log           *logging.Logger
}

func newMarkdownStore(paths config.Paths, domain config.EntityDomain, sessionDomain config.EntityDomain, log *logging.Logger) *markdownStore {
	if log == nil {
		log = logging.NewNop()
	}
	return &markdownStore{
		mgmtRoot:      paths.ManagementDir(),
		sessionsRoot:  paths.SessionsDir(),
		subdir:        domain.Subdir,
		states:        domain.States,
		sessionStates: sessionDomain.States,
		lockTimeout:   defaultLockTimeout,
		log:           log,
	}
}

func (s *markdownStore) globalDir(state string) string {
	return filepath.Join(s.mgmtRoot, s.subdir, state)
}

func (s *markdownStore) sessionDir(sessionState, sessionID, state string) string {
	return filepath.Join(s.sessionsRoot, sessionState, sessionID, s.subdir, state)
}

// pathFor computes where an entity belongs given its state and optional
// session. An unknown session falls back to the global tree.
func (s *markdownStore) pathFor(id, state, sessionID string) string {
	if sessionID != "" {
		if sessionState, ok := s.sessionHome(sessionID); ok {
			return filepath.Join(s.sessionDir(sessionState, sessionID, state), id+".md")
		}
	}
	return filepath.Join(s.globalDir(state), id+".md")
}

// sessionHome finds which session-state directory holds a session.
func (s *markdownStore) sessionHome(sessionID string) (string, bool) {
	for _, sessionState := range s.sessionStates {
		dir := filepath.Join(s.sessionsRoot, sessionState, sessionID)
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return sessionState, true
		}
	}
	return "", false
}

// locate finds an entity by id, global tree first.
func (s *markdownStore) locate(id string) (entityFile, bool) {
	name := id + ".md"
	for _, state := range s.states {
		path := filepath.Join(s.globalDir(state), name)
		if fileIsRegular(path) {
			return entityFile{Path: path, State: state}, true
		}
	}
	for _, sessionState := range s.sessionStates {
		sessionIDs, err := listSubdirs(filepath.Join(s.sessionsRoot, sessionState))
		if err != nil {
			continue
		}
		for _, sessionID := range sessionIDs {
			for _, state := range s.states {
				path := filepath.Join(s.sessionDir(sessionState, sessionID, state), name)
				if fileIsRegular(path) {
					return entityFile{Path: path, State: state, SessionState: sessionState, SessionID: sessionID}, true
				}
			}
		}
	}
	return entityFile{}, false
}

// listState enumerates every entity file in one state across the global
// and all session trees.
func (s *markdownStore) listState(state string) []entityFile {
	var files []entityFile
	files = append(files, readEntityDir(s.globalDir(state), state, "", "")...)

	for _, sessionState := range s.sessionStates {
		sessionIDs, err := listSubdirs(filepath.Join(s.sessionsRoot, sessionState))
		if err != nil {
			continue
		}
		for _, sessionID := range sessionIDs {
			dir := s.sessionDir(sessionState, sessionID, state)
			files = append(files, readEntityDir(dir, state, sessionState, sessionID)...)
		}
	}
	return files
}

func (s *markdownStore) listAll() []entityFile {
	var files []entityFile
	for _, state := range s.states {
		files = append(files, s.listState(state)...)
	}
	return files
}

func readEntityDir(dir, state, sessionState, sessionID string) []entityFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []entityFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		files = append(files, entityFile{
			Path:         filepath.Join(dir, entry.Name()),
			State:        state,
			SessionState: sessionState,
			SessionID:    sessionID,
		})
	}
	return files
}

func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func fileIsRegular(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// idFromPath strips the .md extension from a located file.
func idFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".md")
}

// legacyError is the fail-closed result for files without frontmatter.
func legacyError(id, path string) error {
	return core.ErrPersistence(core.CodeLegacyFormat,
		"file has no frontmatter: "+path).
		WithDetail("id", id).
		WithRemediation("add a '---' delimited YAML frontmatter block or re-create the entity")
}
