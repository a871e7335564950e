package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/leeroybrun/edison-sub004/internal/core"
)

var (
	taskSession string
	taskReclaim bool
	taskReason  string
	taskResult  string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks and their lifecycle",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <id> <title>",
	Short: "Create a task with its waiting QA record",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		t := core.NewTask(args[0], args[1])
		if err := a.sessions.CreateTask(c.Context(), t); err != nil {
			return err
		}
		a.printf("created task %s in %s\n", t.ID, t.State)
		return nil
	},
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <task-id>",
	Short: "Claim a task into a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		sid, err := resolveSessionID(c.Context(), a)
		if err != nil {
			return err
		}
		if err := a.sessions.Claim(c.Context(), args[0], sid, taskReclaim, taskReason); err != nil {
			return err
		}
		a.printf("claimed %s into %s\n", args[0], sid)
		return nil
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a claimed task done and advance its QA record",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		sid, err := resolveSessionID(c.Context(), a)
		if err != nil {
			return err
		}
		if err := a.sessions.Complete(c.Context(), args[0], sid, taskResult); err != nil {
			return err
		}
		a.printf("completed %s\n", args[0])
		return nil
	},
}

var taskReleaseCmd = &cobra.Command{
	Use:   "release <task-id>",
	Short: "Return a claimed task to the global todo pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := newApp(c.Context())
		if err != nil {
			return err
		}
		sid, err := resolveSessionID(c.Context(), a)
		if err != nil {
			return err
		}
		if err := a.sessions.Release(c.Context(), args[0], sid); err != nil {
			return err
		}
		a.printf("released %s\n", args[0])
		return nil
	},
}

// resolveSessionID prefers the --session flag, then the inference
// chain (environment, pin file, process ancestry).
func resolveSessionID(ctx context.Context, a *app) (string, error) {
	if taskSession != "" {
		return taskSession, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return a.sessions.InferSessionID(ctx, cwd)
}

func init() {
	for _, c := range []*cobra.Command{taskClaimCmd, taskCompleteCmd, taskReleaseCmd} {
		c.Flags().StringVar(&taskSession, "session", "", "session id (default: inferred)")
	}
	taskClaimCmd.Flags().BoolVar(&taskReclaim, "reclaim", false,
		"take over a task owned by another session")
	taskClaimCmd.Flags().StringVar(&taskReason, "reason", "", "takeover reason (required with --reclaim)")
	taskCompleteCmd.Flags().StringVar(&taskResult, "result", "", "completion result summary")
	taskCmd.AddCommand(taskCreateCmd, taskClaimCmd, taskCompleteCmd, taskReleaseCmd)
	rootCmd.AddCommand(taskCmd)
}
