// Package evidence owns the per-task evidence tree: dense monotonic
// round directories, command captures, validator reports and bundle
// approvals.
package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leeroybrun/edison-sub004/internal/config"
	"github.com/leeroybrun/edison-sub004/internal/core"
	"github.com/leeroybrun/edison-sub004/internal/fsutil"
	"github.com/leeroybrun/edison-sub004/internal/logging"
)

const (
	roundPrefix        = "round-"
	implReportName     = "implementation-report.md"
	bundleApprovalName = "bundle-approved.yml"
)

// Service allocates rounds and persists evidence artifacts.
type Service struct {
	root string
	log  *logging.Logger
}

// NewService creates an evidence service rooted at the configured
// evidence directory.
func NewService(paths config.Paths, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewNop()
	}
	return &Service{root: paths.EvidenceDir(), log: log}
}

// TaskDir returns the evidence directory of a task.
func (s *Service) TaskDir(taskID string) string {
	return filepath.Join(s.root, taskID)
}

// RoundDir returns the directory of one round.
func (s *Service) RoundDir(taskID string, round int) string {
	return filepath.Join(s.TaskDir(taskID), fmt.Sprintf("%s%d", roundPrefix, round))
}

// CurrentRound returns the highest existing round for a task, or 0
// when no round exists yet.
func (s *Service) CurrentRound(taskID string) (int, error) {
	rounds, err := s.rounds(taskID)
	if err != nil {
		return 0, err
	}
	if len(rounds) == 0 {
		return 0, nil
	}
	return rounds[len(rounds)-1], nil
}

// EnsureRound creates the directory for a round. Rounds are dense and
// monotonic: round N requires rounds 1..N-1 to exist already.
func (s *Service) EnsureRound(taskID string, round int) (string, error) {
	if round < 1 {
		return "", core.ErrValidator(core.CodeRoundGap,
			fmt.Sprintf("rounds are 1-indexed, got %d", round))
	}
	current, err := s.CurrentRound(taskID)
	if err != nil {
		return "", err
	}
	if round > current+1 {
		return "", core.ErrValidator(core.CodeRoundGap,
			fmt.Sprintf("round %d for task %s requires rounds 1..%d to exist, found %d",
				round, taskID, round-1, current)).
			WithRemediation("start the next round instead of skipping ahead")
	}
	dir := s.RoundDir(taskID, round)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", core.ErrPersistence(core.CodeRenameFailed, "creating round directory").WithCause(err)
	}
	return dir, nil
}

// StartNextRound allocates the round after the current one.
func (s *Service) StartNextRound(taskID string) (int, error) {
	current, err := s.CurrentRound(taskID)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if _, err := s.EnsureRound(taskID, next); err != nil {
		return 0, err
	}
	return next, nil
}

// rounds lists the existing round numbers in ascending order and
// verifies density.
func (s *Service) rounds(taskID string) ([]int, error) {
	entries, err := os.ReadDir(s.TaskDir(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.ErrPersistence(core.CodeRenameFailed, "listing evidence rounds").WithCause(err)
	}
	var rounds []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), roundPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), roundPrefix))
		if err != nil || n < 1 {
			continue
		}
		rounds = append(rounds, n)
	}
	sort.Ints(rounds)
	for i, n := range rounds {
		if n != i+1 {
			return nil, core.ErrValidator(core.CodeRoundGap,
				fmt.Sprintf("evidence rounds for task %s are not dense: missing round %d", taskID, i+1))
		}
	}
	return rounds, nil
}

// ReportPath returns the canonical report location for a validator in
// a round.
func (s *Service) ReportPath(taskID string, round int, validatorID string) string {
	return filepath.Join(s.RoundDir(taskID, round), "validator-"+validatorID+"-report.md")
}

// CommandCapturePath returns where an engine's raw output capture
// lives.
func (s *Service) CommandCapturePath(taskID string, round int, validatorID string) string {
	return filepath.Join(s.RoundDir(taskID, round), "command-"+validatorID+".txt")
}

// ImplementationReportPath returns the implementation report location
// for a round.
func (s *Service) ImplementationReportPath(taskID string, round int) string {
	return filepath.Join(s.RoundDir(taskID, round), implReportName)
}

// DelegationInstructionsPath returns where delegation instructions for
// a validator are written.
func (s *Service) DelegationInstructionsPath(taskID string, round int, validatorID string) string {
	return filepath.Join(s.RoundDir(taskID, round), "delegation-"+validatorID+".md")
}

// WriteCommandCapture stores an engine's raw stdout/stderr.
func (s *Service) WriteCommandCapture(taskID string, round int, validatorID string, output []byte) error {
	if _, err := s.EnsureRound(taskID, round); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.CommandCapturePath(taskID, round, validatorID), output, 0o644)
}

// WriteReport persists a validator report as frontmatter + body.
func (s *Service) WriteReport(report *core.ValidatorReport) error {
	if _, err := s.EnsureRound(report.TaskID, report.Round); err != nil {
		return err
	}
	data, err := encodeReport(report)
	if err != nil {
		return err
	}
	path := s.ReportPath(report.TaskID, report.Round, report.ValidatorID)
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return core.ErrPersistence(core.CodeRenameFailed, "writing validator report").WithCause(err)
	}
	s.log.Debug("validator report written",
		"task_id", report.TaskID, "round", report.Round, "validator", report.ValidatorID)
	return nil
}

// LoadReport reads a validator report for a round, if present.
func (s *Service) LoadReport(taskID string, round int, validatorID string) (*core.ValidatorReport, error) {
	data, err := os.ReadFile(s.ReportPath(taskID, round, validatorID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("validator report", validatorID)
		}
		return nil, core.ErrPersistence(core.CodeRenameFailed, "reading validator report").WithCause(err)
	}
	return decodeReport(data)
}

// WriteBundleApproval writes the approval summary to the bundle root's
// round directory and mirrors it into every member's round directory.
func (s *Service) WriteBundleApproval(approval *core.BundleApproval) error {
	data, err := yaml.Marshal(approval)
	if err != nil {
		return core.ErrPersistence(core.CodeRenameFailed, "encoding bundle approval").WithCause(err)
	}
	targets := append([]string{approval.RootTask}, approval.Members...)
	for _, taskID := range targets {
		if _, err := s.EnsureRound(taskID, approval.Round); err != nil {
			return err
		}
		path := filepath.Join(s.RoundDir(taskID, approval.Round), bundleApprovalName)
		if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
			return core.ErrPersistence(core.CodeRenameFailed,
				"writing bundle approval for "+taskID).WithCause(err)
		}
	}
	return nil
}

// LoadBundleApproval reads the approval summary from a task's round
// directory.
func (s *Service) LoadBundleApproval(taskID string, round int) (*core.BundleApproval, error) {
	data, err := os.ReadFile(filepath.Join(s.RoundDir(taskID, round), bundleApprovalName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("bundle approval", taskID)
		}
		return nil, core.ErrPersistence(core.CodeRenameFailed, "reading bundle approval").WithCause(err)
	}
	var approval core.BundleApproval
	if err := yaml.Unmarshal(data, &approval); err != nil {
		return nil, core.ErrPersistence(core.CodeInvalidFrontmatter,
			"malformed bundle approval for "+taskID).WithCause(err)
	}
	return &approval, nil
}
