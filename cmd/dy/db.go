package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/dockyard/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBCheckCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Reconcile the database schema",
		Long:  "Creates missing tables, columns and indexes. Existing columns are never altered or dropped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, closeDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	report, err := db.Reconcile(cmd.Context(), gormDB)
	if err != nil {
		return err
	}
	if report.Empty() {
		fmt.Fprintf(out, "Schema up to date (%s)\n", cfg.Database.Driver)
		return nil
	}
	printReport(out, "Created", report)
	return nil
}

func newDBCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity and pending schema changes",
		Long:  "Pings the database and reports what db migrate would change. Exits non-zero when changes are pending.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBCheck(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBCheck(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, closeDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	if err := db.Ping(ctx, gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	plan, err := db.Plan(ctx, gormDB)
	if err != nil {
		return err
	}
	if plan.Empty() {
		fmt.Fprintln(out, "Schema up to date")
		return nil
	}
	printReport(out, "Pending", plan)
	return fmt.Errorf("schema drift: run 'dy db migrate'")
}

func printReport(out io.Writer, verb string, r db.Report) {
	for _, t := range r.Tables {
		fmt.Fprintf(out, "%s table   %s\n", verb, t)
	}
	for _, c := range r.Columns {
		fmt.Fprintf(out, "%s column  %s\n", verb, c)
	}
	for _, i := range r.Indexes {
		fmt.Fprintf(out, "%s index   %s\n", verb, i)
	}
}
