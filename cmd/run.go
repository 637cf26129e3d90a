// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/operator"
)

var (
	runStartURL    string
	runResumeID    string
	runShowPrompts bool
)

var runCmd = &cobra.Command{
	Use:   "run [objective]",
	Short: "Run one browsing task and stream progress to the terminal.",
	Long: `Run starts a browser, hands the objective to the configured model and
executes its actions until the model declares the task done, fails it, or the
step budget runs out. Progress events stream to the terminal as they happen.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && runResumeID == "" {
			return fmt.Errorf("an objective argument or --resume is required")
		}

		ctx := cmd.Context()
		logger := observability.GetLogger()

		llm, err := llmclient.New(cfg.LLM, logger)
		if err != nil {
			return err
		}

		st, closeStore, err := newTaskStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		var task schemas.Task
		resume := runResumeID != ""
		if resume {
			task, err = st.LoadTask(ctx, runResumeID)
			if err != nil {
				return fmt.Errorf("cannot resume task %s: %w", runResumeID, err)
			}
		} else {
			now := time.Now().UTC()
			task = schemas.Task{
				ID:        uuid.New().String(),
				Objective: args[0],
				StartURL:  runStartURL,
				Status:    schemas.TaskRunning,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}

		term := operator.NewTerminal(os.Stdout, runShowPrompts, logger)
		// An interrupt counts as the operator leaving; the loop stops between
		// actions and still emits its terminal event.
		stop := context.AfterFunc(ctx, term.Close)
		defer stop()

		fmt.Printf("Task %s: %s\n", task.ID, task.Objective)
		return runTask(ctx, cfg, llm, st, term, task, resume, logger)
	},
}

func init() {
	runCmd.Flags().StringVar(&runStartURL, "url", "", "page to open before the first step")
	runCmd.Flags().StringVar(&runResumeID, "resume", "", "resume a previously persisted task by id")
	runCmd.Flags().BoolVar(&runShowPrompts, "show-prompts", false, "print every outgoing prompt")
	rootCmd.AddCommand(runCmd)
}
