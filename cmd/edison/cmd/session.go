package cmd

import (
	"github.com/spf13/cobra"
)

var (
	sessionAgent    string
	sessionWorktree bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage agent sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create [id]",
	Short: "Create a session, optionally materializing its worktree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		sess, err := a.sessions.Create(c.Context(), id, sessionAgent)
		if err != nil {
			return err
		}
		if sessionWorktree {
			if err := a.sessions.EnsureWorktree(c.Context(), sess); err != nil {
				return err
			}
		}
		a.printf("created session %s\n", sess.ID)
		if sess.Git != nil {
			a.printf("worktree %s on %s\n", sess.Git.WorktreePath, sess.Git.BranchName)
		}
		return nil
	},
}

var sessionArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Remove a session's worktree and mark it done",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		if err := a.sessions.Archive(c.Context(), args[0]); err != nil {
			return err
		}
		a.printf("archived session %s\n", args[0])
		return nil
	},
}

var sessionRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Recreate an archived session's worktree at its original path",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		if err := a.sessions.Restore(c.Context(), args[0]); err != nil {
			return err
		}
		a.printf("restored session %s\n", args[0])
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionAgent, "agent", "", "owning agent binary name")
	sessionCreateCmd.Flags().BoolVar(&sessionWorktree, "worktree", false,
		"materialize the git worktree immediately instead of lazily")
	sessionCmd.AddCommand(sessionCreateCmd, sessionArchiveCmd, sessionRestoreCmd)
	rootCmd.AddCommand(sessionCmd)
}
