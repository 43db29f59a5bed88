package db_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/dockyard/internal/config"
	"github.com/zulandar/dockyard/internal/db"
	"github.com/zulandar/dockyard/internal/db/dbtest"
	"github.com/zulandar/dockyard/internal/fault"
	"github.com/zulandar/dockyard/internal/models"
	"gorm.io/gorm"
)

func mysqlConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:         "mysql",
		Host:           "10.0.0.5",
		Port:           3307,
		User:           "fleet",
		Password:       "pw",
		Name:           "tasho_server",
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
	}
}

func TestDSN(t *testing.T) {
	dsn := db.DSN(mysqlConfig())

	for _, want := range []string{
		"fleet:pw@tcp(10.0.0.5:3307)/tasho_server?",
		"parseTime=true",
		"timeout=2s",
		"readTimeout=3s",
		"writeTimeout=3s",
		"charset=utf8mb4",
		"clientFoundRows=true",
	} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}

func TestDSN_RoundTrip(t *testing.T) {
	parsed, err := mysql.ParseDSN(db.DSN(mysqlConfig()))
	if err != nil {
		t.Fatalf("ParseDSN: %v", err)
	}
	if parsed.Addr != "10.0.0.5:3307" || parsed.DBName != "tasho_server" {
		t.Errorf("parsed = %s / %s", parsed.Addr, parsed.DBName)
	}
	if parsed.ReadTimeout != 3*time.Second {
		t.Errorf("ReadTimeout = %s", parsed.ReadTimeout)
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{"file", config.DatabaseConfig{Path: "dy.db", OpTimeout: 2 * time.Second}, "dy.db?_busy_timeout=2000"},
		{"default timeout", config.DatabaseConfig{Path: "dy.db"}, "dy.db?_busy_timeout=3000"},
		{"memory", config.DatabaseConfig{Path: ":memory:"}, ":memory:"},
		{"uri", config.DatabaseConfig{Path: "file:x?mode=memory"}, "file:x?mode=memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := db.SQLiteDSN(tt.cfg); got != tt.want {
				t.Errorf("SQLiteDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := db.Connect(config.DatabaseConfig{Driver: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Fatalf("err = %v", err)
	}
}

func TestConnect_SQLite(t *testing.T) {
	g, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := db.Ping(context.Background(), g); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"deadline", context.DeadlineExceeded, fault.KindUnavailable},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), fault.KindUnavailable},
		{"invalid conn", mysql.ErrInvalidConn, fault.KindUnavailable},
		{"net error", &net.OpError{Op: "dial", Err: timeoutErr{}}, fault.KindUnavailable},
		{"gone away", &mysql.MySQLError{Number: 2006, Message: "gone away"}, fault.KindUnavailable},
		{"not found", gorm.ErrRecordNotFound, fault.KindNotFound},
		{"syntax", &mysql.MySQLError{Number: 1064, Message: "syntax"}, fault.KindInternal},
		{"plain", errors.New("boom"), fault.KindInternal},
		{"already classified", fault.Conflict("x", "y"), fault.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := db.Classify("db: op", tt.err)
			if fault.KindOf(got) != tt.want {
				t.Errorf("Classify(%v) kind = %v, want %v", tt.err, fault.KindOf(got), tt.want)
			}
		})
	}
	if db.Classify("db: op", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestReconcile_FreshDatabase(t *testing.T) {
	g := dbtest.OpenRaw(t)

	rep, err := db.Reconcile(context.Background(), g)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(rep.Tables) != 4 {
		t.Errorf("created tables = %v, want 4", rep.Tables)
	}
	for _, table := range []string{"robot_states", "commands", "events", "arm_states"} {
		if !g.Migrator().HasTable(table) {
			t.Errorf("table %s missing", table)
		}
	}
	if !g.Migrator().HasIndex(&models.Command{}, "idx_cmd_robot_available") {
		t.Error("idx_cmd_robot_available missing")
	}

	again, err := db.Reconcile(context.Background(), g)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if !again.Empty() {
		t.Errorf("second pass should be a no-op, got %+v", again)
	}
}

func TestReconcile_LegacyTableGainsColumns(t *testing.T) {
	g := dbtest.OpenRaw(t)

	legacy := `CREATE TABLE commands (
		id integer PRIMARY KEY AUTOINCREMENT,
		robot_id varchar(64) NOT NULL,
		command varchar(64) NOT NULL,
		status varchar(16) NOT NULL DEFAULT 'PENDING',
		created_at datetime,
		extra_legacy varchar(10)
	)`
	if err := g.Exec(legacy).Error; err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if err := g.Exec(`INSERT INTO commands (robot_id, command, status, created_at) VALUES ('r1', 'CHARGE', 'PENDING', '2026-01-01 00:00:00')`).Error; err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}

	plan, err := db.Plan(context.Background(), g)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !containsStr(plan.Columns, "commands.available_at") {
		t.Errorf("plan columns = %v, want commands.available_at", plan.Columns)
	}
	if g.Migrator().HasColumn(&models.Command{}, "available_at") {
		t.Fatal("Plan must not modify the schema")
	}

	if _, err := db.Reconcile(context.Background(), g); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	for _, col := range []string{"payload", "args_json", "detail", "src", "is_auto", "available_at", "claimed_at", "done_at"} {
		if !g.Migrator().HasColumn(&models.Command{}, col) {
			t.Errorf("column %s not added", col)
		}
	}
	if !g.Migrator().HasColumn(&models.Command{}, "extra_legacy") {
		t.Error("unknown legacy column must be left alone")
	}

	var cmd models.Command
	if err := g.First(&cmd).Error; err != nil {
		t.Fatalf("read legacy row: %v", err)
	}
	if cmd.Command != "CHARGE" || cmd.AvailableAt != nil {
		t.Errorf("legacy row = %+v", cmd)
	}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
