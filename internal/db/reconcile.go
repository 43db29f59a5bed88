package db

import (
	"context"
	"fmt"

	"github.com/zulandar/dockyard/internal/fault"
	"github.com/zulandar/dockyard/internal/models"
	"gorm.io/gorm"
)

// Entity is one table the service owns, together with the named indexes
// that must exist on it.
type Entity struct {
	Model   any
	Indexes []string
}

// Entities returns every table the service reads or writes.
func Entities() []Entity {
	return []Entity{
		{Model: &models.RobotState{}},
		{Model: &models.Command{}, Indexes: []string{
			"idx_cmd_robot_status_created",
			"idx_cmd_robot_available",
			"idx_cmd_robot_created",
		}},
		{Model: &models.Event{}, Indexes: []string{
			"idx_event_created",
			"idx_event_src_created",
		}},
		{Model: &models.ArmState{}},
	}
}

// Report lists what a reconcile pass created (or, for a plan, would create).
type Report struct {
	Tables  []string
	Columns []string // table.column
	Indexes []string // table.index
}

// Empty reports whether the schema already matched.
func (r Report) Empty() bool {
	return len(r.Tables) == 0 && len(r.Columns) == 0 && len(r.Indexes) == 0
}

// Reconcile brings the live schema up to the declared entities. It only ever
// adds: missing tables, missing columns, missing indexes. Existing columns
// are never altered or dropped, so running it against a database shared with
// older writers is safe. Re-running on a converged schema is a no-op.
func Reconcile(ctx context.Context, db *gorm.DB) (Report, error) {
	return reconcile(db.WithContext(ctx), true)
}

// Plan reports what Reconcile would change without changing anything.
func Plan(ctx context.Context, db *gorm.DB) (Report, error) {
	return reconcile(db.WithContext(ctx), false)
}

func reconcile(db *gorm.DB, apply bool) (Report, error) {
	var rep Report
	m := db.Migrator()

	for _, e := range Entities() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(e.Model); err != nil {
			return rep, fault.Internal("db: parse model", err)
		}
		table := stmt.Schema.Table

		if !m.HasTable(e.Model) {
			rep.Tables = append(rep.Tables, table)
			if apply {
				if err := m.CreateTable(e.Model); err != nil {
					return rep, fault.SchemaDrift("db: reconcile", err, "create table %s", table)
				}
			}
			continue
		}

		for _, f := range stmt.Schema.Fields {
			if f.DBName == "" || f.IgnoreMigration {
				continue
			}
			if m.HasColumn(e.Model, f.DBName) {
				continue
			}
			rep.Columns = append(rep.Columns, table+"."+f.DBName)
			if apply {
				if err := m.AddColumn(e.Model, f.DBName); err != nil {
					return rep, fault.SchemaDrift("db: reconcile", err, "add column %s.%s", table, f.DBName)
				}
			}
		}

		for _, idx := range e.Indexes {
			if m.HasIndex(e.Model, idx) {
				continue
			}
			rep.Indexes = append(rep.Indexes, table+"."+idx)
			if apply {
				if err := m.CreateIndex(e.Model, idx); err != nil {
					return rep, fault.SchemaDrift("db: reconcile", err, "create index %s.%s", table, idx)
				}
			}
		}
	}
	return rep, nil
}

// Ping verifies the connection with the caller's deadline.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: ping: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return Classify("db: ping", err)
	}
	return nil
}
