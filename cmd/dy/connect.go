package main

import (
	"fmt"

	"github.com/zulandar/dockyard/internal/config"
	"github.com/zulandar/dockyard/internal/db"
	"github.com/zulandar/dockyard/internal/eventlog"
	"github.com/zulandar/dockyard/internal/fleet"
	"github.com/zulandar/dockyard/internal/logging"
	"github.com/zulandar/dockyard/internal/queue"
	"github.com/zulandar/dockyard/internal/state"
	"gorm.io/gorm"
)

// connectFromConfig loads the config file and opens the configured store.
// The returned func closes the pool.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	closeDB := func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return cfg, gormDB, closeDB, nil
}

// openFleet wires the fleet service over gormDB for one-shot CLI commands.
// The returned func flushes the event log.
func openFleet(cfg *config.Config, gormDB *gorm.DB) (*fleet.Service, func()) {
	events := eventlog.New(gormDB, eventlog.Options{
		WriteTimeout: cfg.Database.OpTimeout,
		Logger:       logging.New("eventlog"),
	})
	states := state.New(gormDB, cfg.Database.OpTimeout, nil)
	q := queue.New(gormDB, queue.Options{OpTimeout: cfg.Database.OpTimeout})
	return fleet.New(states, q, events, nil), events.Close
}
