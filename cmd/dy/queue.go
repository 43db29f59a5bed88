package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/dockyard/internal/fleet"
	"github.com/zulandar/dockyard/internal/queue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage robot command queues",
	}

	cmd.AddCommand(newQueueAddCmd())
	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueClearCmd())
	return cmd
}

func newQueueAddCmd() *cobra.Command {
	var (
		configPath string
		req        fleet.SubmitRequest
	)

	cmd := &cobra.Command{
		Use:   "add <robot_id> <command>",
		Short: "Queue a command for a robot",
		Long:  "Appends a PENDING command to the robot's queue. The robot receives it on its next poll.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.RobotID, req.Command = args[0], args[1]
			return runQueueAdd(cmd, configPath, req)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&req.Payload, "payload", "", "opaque payload delivered with the command")
	cmd.Flags().StringVar(&req.Detail, "detail", "", "operator note stored on the command")
	cmd.Flags().StringVar(&req.Src, "src", "MANUAL", "command origin (MANUAL, AUTO or SERVER)")
	return cmd
}

func runQueueAdd(cmd *cobra.Command, configPath string, req fleet.SubmitRequest) error {
	cfg, gormDB, closeDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB()
	svc, closeFleet := openFleet(cfg, gormDB)
	defer closeFleet()

	c, err := svc.Submit(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued command %d: %s for %s (src=%s)\n", c.ID, c.Command, c.RobotID, c.Origin)
	return nil
}

func newQueueListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list <robot_id>",
		Short: "List a robot's commands, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := queue.ListFilter{Limit: limit}
			if status != "" {
				f.Statuses = strings.Split(status, ",")
			}
			return runQueueList(cmd, configPath, args[0], f)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&status, "status", "", "comma-separated statuses to include")
	cmd.Flags().IntVar(&limit, "limit", queue.DefaultListLimit, "maximum number of commands")
	return cmd
}

func runQueueList(cmd *cobra.Command, configPath, robotID string, f queue.ListFilter) error {
	cfg, gormDB, closeDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB()
	svc, closeFleet := openFleet(cfg, gormDB)
	defer closeFleet()

	cmds, err := svc.ListCommands(cmd.Context(), robotID, f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(cmds) == 0 {
		fmt.Fprintln(out, "No commands found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tSTATUS\tSRC\tAUTO\tCREATED\tDETAIL")
	for _, c := range cmds {
		auto := "no"
		if c.IsAuto {
			auto = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Command, c.Status, c.Origin, auto, formatTime(&c.CreatedAt), orDash(truncate(c.Detail, 40)))
	}
	w.Flush()
	return nil
}

func newQueueClearCmd() *cobra.Command {
	var (
		configPath string
		mode       string
	)

	cmd := &cobra.Command{
		Use:   "clear <robot_id>",
		Short: "Cancel a robot's outstanding commands",
		Long:  "Cancels PENDING commands, or PENDING and RUNNING commands with --mode ALL.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueClear(cmd, configPath, args[0], mode)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&mode, "mode", queue.ClearPending, "PENDING or ALL")
	return cmd
}

func runQueueClear(cmd *cobra.Command, configPath, robotID, mode string) error {
	cfg, gormDB, closeDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB()
	svc, closeFleet := openFleet(cfg, gormDB)
	defer closeFleet()

	n, err := svc.ClearQueue(cmd.Context(), robotID, mode)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d command(s) for %s\n", n, robotID)
	return nil
}
