package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/dockyard/internal/eventlog"
)

func newEventsCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		robotID    string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, configPath, limit, robotID)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", eventlog.DefaultLimit, "maximum number of events")
	cmd.Flags().StringVar(&robotID, "robot", "", "only events mentioning this robot")
	return cmd
}

func runEvents(cmd *cobra.Command, configPath string, limit int, robotID string) error {
	cfg, gormDB, closeDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB()
	svc, closeFleet := openFleet(cfg, gormDB)
	defer closeFleet()

	events, err := svc.RecentEvents(cmd.Context(), limit, robotID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "No events.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tSRC\tLEVEL\tEVENT\tDETAIL")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID, formatTime(&ev.CreatedAt), ev.Source, ev.Level, ev.Type, orDash(truncate(ev.Detail, 60)))
	}
	w.Flush()
	return nil
}
