package cmd

import (
	"github.com/spf13/cobra"

	"github.com/leeroybrun/edison-sub004/internal/executor"
)

var (
	validateSession string
	validateWave    string
	validateRound   int
	validateFilter  []string
	validateExtras  []string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run wave-based validation",
}

var validateRunCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Execute the validator waves for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		exec, err := a.executor()
		if err != nil {
			return err
		}

		req := executor.Request{
			TaskID:           args[0],
			SessionID:        validateSession,
			Round:            validateRound,
			Wave:             validateWave,
			ValidatorsFilter: validateFilter,
			ExtraValidators:  validateExtras,
		}
		if validateSession != "" {
			if sess, err := a.sessions.Get(c.Context(), validateSession); err == nil && sess.Git != nil {
				req.WorktreePath = sess.Git.WorktreePath
			}
		}

		result, err := exec.Run(c.Context(), req)
		if err != nil {
			return err
		}

		a.printf("round %d: %s (%d passed, %d failed, %d pending)\n",
			result.Round, result.Status, result.Passed, result.Failed, result.Pending)
		for _, wave := range result.Waves {
			for _, r := range wave.Results {
				marker := " "
				if r.Reused {
					marker = "="
				}
				a.printf("  [%s] %s%s: %s\n", wave.Wave, marker, r.ValidatorID, r.Verdict)
			}
			if len(wave.DelegatedBlocking) > 0 {
				a.printf("  [%s] awaiting delegated: %v\n", wave.Wave, wave.DelegatedBlocking)
			}
		}
		return nil
	},
}

var validateBundleCmd = &cobra.Command{
	Use:   "bundle <root-task-id>",
	Short: "Evaluate bundle approval for a task cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		exec, err := a.executor()
		if err != nil {
			return err
		}
		round := validateRound
		if round == 0 {
			if round, err = a.evidence.CurrentRound(args[0]); err != nil {
				return err
			}
		}
		approval, err := exec.EvaluateBundle(c.Context(), a.sessions.Tasks(), args[0], round)
		if err != nil {
			return err
		}
		if approval.Approved {
			a.printf("bundle %s approved in round %d (%d members)\n",
				approval.RootTask, approval.Round, len(approval.Members))
		} else {
			a.printf("bundle %s not approved in round %d\n", approval.RootTask, approval.Round)
		}
		return nil
	},
}

func init() {
	validateRunCmd.Flags().StringVar(&validateSession, "session", "", "session whose worktree provides the file context")
	validateRunCmd.Flags().StringVar(&validateWave, "wave", "", "run a single wave")
	validateRunCmd.Flags().IntVar(&validateRound, "round", 0, "evidence round (default: current)")
	validateRunCmd.Flags().StringSliceVar(&validateFilter, "validators", nil, "explicit validator ids to include")
	validateRunCmd.Flags().StringSliceVar(&validateExtras, "extra", nil, "additional validator ids")
	validateBundleCmd.Flags().IntVar(&validateRound, "round", 0, "evidence round (default: current)")
	validateCmd.AddCommand(validateRunCmd, validateBundleCmd)
	rootCmd.AddCommand(validateCmd)
}
