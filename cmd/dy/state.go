package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/dockyard/internal/models"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect reported robot state",
	}

	cmd.AddCommand(newStateShowCmd())
	cmd.AddCommand(newStateListCmd())
	return cmd
}

func newStateShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <robot_id>",
		Short: "Show one robot's latest snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateShow(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStateShow(cmd *cobra.Command, configPath, robotID string) error {
	cfg, gormDB, closeDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB()
	svc, closeFleet := openFleet(cfg, gormDB)
	defer closeFleet()

	st, err := svc.PullSnapshot(cmd.Context(), robotID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Robot:     %s\n", st.RobotID)
	fmt.Fprintf(out, "FSM:       %s\n", st.FSMState)
	fmt.Fprintf(out, "Task:      %s\n", st.TaskState)
	fmt.Fprintf(out, "Battery:   %s\n", formatFloat(st.BatteryPct, 1))
	fmt.Fprintf(out, "Dock:      %s / %s\n", st.DockState, st.DockingState)
	fmt.Fprintf(out, "Pose:      %s\n", formatPose(st.Current()))
	fmt.Fprintf(out, "Goal:      %s\n", formatPose(st.Goal()))
	fmt.Fprintf(out, "Updated:   %s\n", formatTime(&st.UpdatedAt))
	if st.CooldownUntil != nil {
		fmt.Fprintf(out, "Cooldown:  %s\n", formatTime(st.CooldownUntil))
	}
	return nil
}

func newStateListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every robot's latest snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateList(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStateList(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, closeDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB()
	svc, closeFleet := openFleet(cfg, gormDB)
	defer closeFleet()

	states, err := svc.ListSnapshots(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(states) == 0 {
		fmt.Fprintln(out, "No robots have reported state.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROBOT\tFSM\tTASK\tBATTERY\tDOCK\tUPDATED")
	for _, st := range states {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(st.RobotID, 24), st.FSMState, st.TaskState,
			formatFloat(st.BatteryPct, 1), st.DockState, formatTime(&st.UpdatedAt))
	}
	w.Flush()
	return nil
}

func formatPose(p *models.Pose) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("x=%.2f y=%.2f yaw=%.2f", p.X, p.Y, p.Yaw)
}
