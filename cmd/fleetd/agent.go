package main

import (
	"fmt"

	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Register and manage agents",
}

func init() {
	agentCmd.AddCommand(agentRegisterCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentHeartbeatCmd)
	agentCmd.AddCommand(agentDeregisterCmd)

	agentRegisterCmd.Flags().String("name", "", "Agent display name (required)")
	agentRegisterCmd.Flags().String("tool-type", "", "Agent tool type, e.g. claude-code")
	agentRegisterCmd.Flags().String("model", "", "Model identifier the agent is running")
	agentRegisterCmd.Flags().StringSlice("capabilities", nil, "Capabilities this agent offers")
	agentRegisterCmd.Flags().String("working-directory", "", "Agent's working directory")
	agentRegisterCmd.Flags().Int("max-concurrent-jobs", 1, "Maximum concurrent tasks this agent accepts")
	_ = agentRegisterCmd.MarkFlagRequired("name")

	agentListCmd.Flags().String("status", "", "Filter by status (idle, busy, waiting, offline)")

	agentHeartbeatCmd.Flags().String("status", "idle", "Current agent status")
	agentHeartbeatCmd.Flags().String("current-task", "", "Task ID the agent is currently working on")
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new agent on this node",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		toolType, _ := cmd.Flags().GetString("tool-type")
		model, _ := cmd.Flags().GetString("model")
		caps, _ := cmd.Flags().GetStringSlice("capabilities")
		workingDir, _ := cmd.Flags().GetString("working-directory")
		maxJobs, _ := cmd.Flags().GetInt("max-concurrent-jobs")

		c := clientFor(apiAddr(cmd))
		var created types.Agent
		err := c.post("/agents", types.Agent{
			Name:              name,
			ToolType:          toolType,
			Model:             model,
			Capabilities:      caps,
			WorkingDirectory:  workingDir,
			MaxConcurrentJobs: maxJobs,
		}, &created)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Agent registered: %s (%s)\n", created.ID, created.Name)
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		path := "/agents"
		if status != "" {
			path += "?status=" + queryEscape(status)
		}

		c := clientFor(apiAddr(cmd))
		var agents []*types.Agent
		if err := c.get(path, &agents); err != nil {
			return err
		}

		if len(agents) == 0 {
			fmt.Println("No agents found")
			return nil
		}

		fmt.Printf("%-36s %-20s %-8s %s\n", "ID", "NAME", "STATUS", "CURRENT TASK")
		for _, a := range agents {
			fmt.Printf("%-36s %-20s %-8s %s\n", a.ID, truncate(a.Name, 20), a.Status, a.CurrentTaskID)
		}
		return nil
	},
}

var agentHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat ID",
	Short: "Send a liveness heartbeat for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		currentTask, _ := cmd.Flags().GetString("current-task")

		c := clientFor(apiAddr(cmd))
		var agent types.Agent
		err := c.post("/agents/"+args[0]+"/heartbeat", map[string]string{
			"status":          status,
			"current_task_id": currentTask,
		}, &agent)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Heartbeat recorded: %s (%s)\n", agent.ID, agent.Status)
		return nil
	},
}

var agentDeregisterCmd = &cobra.Command{
	Use:   "deregister ID",
	Short: "Deregister an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFor(apiAddr(cmd))
		if err := c.post("/agents/"+args[0]+"/deregister", nil, nil); err != nil {
			return err
		}
		fmt.Printf("✓ Agent deregistered: %s\n", args[0])
		return nil
	},
}
