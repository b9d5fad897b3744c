package main

import (
	"fmt"
	"strings"

	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and manage tasks",
}

func init() {
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskClaimCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskFailCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskArchiveCmd)

	taskCreateCmd.Flags().String("title", "", "Task title (required)")
	taskCreateCmd.Flags().String("description", "", "Task description")
	taskCreateCmd.Flags().Int("priority", 0, "Task priority (higher claims first)")
	taskCreateCmd.Flags().StringSlice("capabilities", nil, "Capabilities an agent must have to claim this task")
	taskCreateCmd.Flags().String("parent", "", "Parent task ID")
	taskCreateCmd.Flags().StringSlice("depends-on", nil, "Task IDs that must complete first")
	_ = taskCreateCmd.MarkFlagRequired("title")

	taskListCmd.Flags().String("status", "", "Filter by status (pending, claimed, in-progress, completed, failed, cancelled, ...)")

	taskClaimCmd.Flags().String("agent", "", "Agent ID claiming the task (required)")
	_ = taskClaimCmd.MarkFlagRequired("agent")

	taskUpdateCmd.Flags().String("status", "", "New status")
	taskUpdateCmd.Flags().String("progress", "", "Free-form progress note")

	taskCompleteCmd.Flags().String("result", "", "Result summary")
	taskFailCmd.Flags().String("error", "", "Failure reason")
}

func apiAddr(cmd *cobra.Command) string {
	addr, _ := cmd.Flags().GetString("api-addr")
	return addr
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new task",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetInt("priority")
		caps, _ := cmd.Flags().GetStringSlice("capabilities")
		parent, _ := cmd.Flags().GetString("parent")
		dependsOn, _ := cmd.Flags().GetStringSlice("depends-on")

		c := clientFor(apiAddr(cmd))
		var created types.Task
		err := c.post("/tasks", types.Task{
			Title:                title,
			Description:          description,
			Priority:             priority,
			RequiredCapabilities: caps,
			ParentID:             parent,
			DependsOn:            dependsOn,
		}, &created)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Task created: %s\n", created.ID)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		path := "/tasks"
		if status != "" {
			path += "?status=" + queryEscape(status)
		}

		c := clientFor(apiAddr(cmd))
		var tasks []*types.Task
		if err := c.get(path, &tasks); err != nil {
			return err
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}

		fmt.Printf("%-36s %-14s %-8s %s\n", "ID", "STATUS", "PRIORITY", "TITLE")
		for _, t := range tasks {
			fmt.Printf("%-36s %-14s %-8d %s\n", t.ID, t.Status, t.Priority, truncate(t.Title, 40))
		}
		return nil
	},
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim ID",
	Short: "Claim a task on behalf of an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		c := clientFor(apiAddr(cmd))
		var task types.Task
		if err := c.post("/tasks/"+args[0]+"/claim", map[string]string{"agent_id": agentID}, &task); err != nil {
			return err
		}
		fmt.Printf("✓ Task claimed: %s (agent %s)\n", task.ID, agentID)
		return nil
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Update a task's status or progress note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := map[string]interface{}{}
		if status, _ := cmd.Flags().GetString("status"); status != "" {
			patch["status"] = types.TaskStatus(status)
		}
		if progress, _ := cmd.Flags().GetString("progress"); progress != "" {
			patch["progress"] = progress
		}

		c := clientFor(apiAddr(cmd))
		var task types.Task
		if err := c.post("/tasks/"+args[0]+"/update", patch, &task); err != nil {
			return err
		}
		fmt.Printf("✓ Task updated: %s\n", task.ID)
		return nil
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete ID",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, _ := cmd.Flags().GetString("result")
		c := clientFor(apiAddr(cmd))
		var task types.Task
		if err := c.post("/tasks/"+args[0]+"/complete", map[string]string{"result": result}, &task); err != nil {
			return err
		}
		fmt.Printf("✓ Task completed: %s\n", task.ID)
		return nil
	},
}

var taskFailCmd = &cobra.Command{
	Use:   "fail ID",
	Short: "Mark a task failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("error")
		c := clientFor(apiAddr(cmd))
		var task types.Task
		if err := c.post("/tasks/"+args[0]+"/fail", map[string]string{"error": reason}, &task); err != nil {
			return err
		}
		fmt.Printf("✓ Task failed: %s\n", task.ID)
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(apiAddr(cmd))
		var task types.Task
		if err := c.post("/tasks/"+args[0]+"/cancel", nil, &task); err != nil {
			return err
		}
		fmt.Printf("✓ Task cancelled: %s\n", task.ID)
		return nil
	},
}

var taskArchiveCmd = &cobra.Command{
	Use:   "archive ID",
	Short: "Archive a terminal task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(apiAddr(cmd))
		var task types.Task
		if err := c.post("/tasks/"+args[0]+"/archive", nil, &task); err != nil {
			return err
		}
		fmt.Printf("✓ Task archived: %s\n", task.ID)
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-1]) + "…"
}
