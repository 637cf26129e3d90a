// File: cmd/tasks.go
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/webpilot/internal/observability"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and manage persisted tasks.",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted tasks, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, closeStore, err := newTaskStore(ctx, cfg, observability.GetLogger())
		if err != nil {
			return err
		}
		defer closeStore()

		tasks, err := st.ListTasks(ctx)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tOBJECTIVE")
		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				task.ID, task.Status, task.CreatedAt.Format("2006-01-02 15:04"), task.Objective)
		}
		return w.Flush()
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete [task-id]",
	Short: "Delete one task and its conversation state.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, closeStore, err := newTaskStore(ctx, cfg, observability.GetLogger())
		if err != nil {
			return err
		}
		defer closeStore()

		if err := st.DeleteTask(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted task %s.\n", args[0])
		return nil
	},
}

var tasksClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all persisted tasks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, closeStore, err := newTaskStore(ctx, cfg, observability.GetLogger())
		if err != nil {
			return err
		}
		defer closeStore()

		if err := st.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Println("All tasks deleted.")
		return nil
	},
}

func init() {
	tasksCmd.AddCommand(tasksListCmd, tasksDeleteCmd, tasksClearCmd)
	rootCmd.AddCommand(tasksCmd)
}
