package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/m365mcp/m365-cache/pkg/queue"
	"github.com/m365mcp/m365-cache/pkg/types"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect the background task queue",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetString("account")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		store, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		q := queue.New(store)
		tasks, err := q.List(accountID, types.TaskStatus(status), limit)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}

		fmt.Printf("%-36s %-10s %-22s %-4s %-6s %s\n",
			"ID", "STATUS", "OPERATION", "PRI", "RETRY", "CREATED")
		for _, task := range tasks {
			fmt.Printf("%-36s %-10s %-22s %-4d %-6d %s\n",
				task.ID, task.Status, task.Operation,
				task.Priority, task.RetryCount,
				task.CreatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the full state of one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		q := queue.New(store)
		task, err := q.GetStatus(args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(task, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	tasksListCmd.Flags().String("account", "", "Filter by account")
	tasksListCmd.Flags().String("status", "", "Filter by status (queued, running, completed, failed)")
	tasksListCmd.Flags().Int("limit", 50, "Maximum tasks to show")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksStatusCmd)
}
