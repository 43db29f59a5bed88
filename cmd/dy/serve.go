package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/dockyard/internal/api"
	"github.com/zulandar/dockyard/internal/arm"
	"github.com/zulandar/dockyard/internal/config"
	"github.com/zulandar/dockyard/internal/db"
	"github.com/zulandar/dockyard/internal/digest"
	"github.com/zulandar/dockyard/internal/eventlog"
	"github.com/zulandar/dockyard/internal/fleet"
	"github.com/zulandar/dockyard/internal/logging"
	"github.com/zulandar/dockyard/internal/metrics"
	"github.com/zulandar/dockyard/internal/models"
	"github.com/zulandar/dockyard/internal/mqtt"
	"github.com/zulandar/dockyard/internal/policy"
	"github.com/zulandar/dockyard/internal/queue"
	"github.com/zulandar/dockyard/internal/state"
	"github.com/zulandar/dockyard/internal/telegraph"
	"github.com/zulandar/dockyard/internal/telegraph/discord"
	"github.com/zulandar/dockyard/internal/telegraph/slack"
)

// Lifecycle audit events.
const (
	eventServerStart = "SERVER_START"
	eventServerStop  = "SERVER_STOP"
	eventSchemaOK    = "SCHEMA_OK"
	eventSchemaFail  = "SCHEMA_FAIL"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Dockyard HTTP API and auto-policy engine",
		Long:  "Reconciles the schema, then serves the robot and arm API, runs the auto-policy engine and the optional digest until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logging.Setup(cfg.Log, cmd.ErrOrStderr()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// closer is a mirror that holds a connection.
type closer interface {
	Close() error
}

// runServe wires every component and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config) error {
	log := logging.New("serve")

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	var m *metrics.Metrics
	if cfg.Metrics.IsEnabled() {
		if m, err = metrics.New(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	events := eventlog.New(gormDB, eventlog.Options{
		WriteTimeout: cfg.Database.OpTimeout,
		Logger:       logging.New("eventlog"),
		Metrics:      m,
	})
	var closers []closer
	defer func() { shutdownEvents(events, closers, log) }()

	report, err := db.Reconcile(ctx, gormDB)
	if err != nil {
		events.Record(ctx, eventlog.SourceServer, models.LevelError, eventSchemaFail, err.Error())
		return err
	}
	events.Record(ctx, eventlog.SourceServer, models.LevelInfo, eventSchemaOK,
		fmt.Sprintf("tables=%d columns=%d indexes=%d", len(report.Tables), len(report.Columns), len(report.Indexes)))
	log.Info().Strs("tables", report.Tables).Strs("columns", report.Columns).Strs("indexes", report.Indexes).Msg("schema reconciled")

	closers = attachMirrors(cfg, events, log)

	opTimeout := cfg.Database.OpTimeout
	states := state.New(gormDB, opTimeout, nil)
	q := queue.New(gormDB, queue.Options{OpTimeout: opTimeout, Metrics: m})
	svc := fleet.New(states, q, events, m)
	arms := arm.New(gormDB, q, arm.Options{Events: events, OpTimeout: opTimeout})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if cfg.Policy.IsEnabled() {
		engine, err := policy.New(policy.Config{
			Tick:             cfg.Policy.Tick,
			TriggerAfter:     cfg.Policy.TriggerAfter,
			Cooldown:         cfg.Policy.Cooldown,
			BatteryThreshold: cfg.Policy.BatteryThreshold,
		}, policy.Options{
			States:  states,
			Queue:   q,
			Events:  events,
			Logger:  logging.New("policy"),
			Metrics: m,
		})
		if err != nil {
			return err
		}
		runLogged(&wg, log, "policy engine", func() error { return engine.Run(ctx) })
	} else {
		log.Info().Msg("auto-policy engine disabled")
	}

	if cfg.Digest.Schedule != "" {
		sched, err := digest.New(cfg.Digest.Schedule, digest.Options{
			Queue:            q,
			States:           states,
			Events:           events,
			BatteryThreshold: cfg.Policy.Threshold(),
			Logger:           logging.New("digest"),
		})
		if err != nil {
			return err
		}
		runLogged(&wg, log, "digest scheduler", func() error { return sched.Run(ctx) })
	}

	events.Record(ctx, eventlog.SourceServer, models.LevelInfo, eventServerStart,
		fmt.Sprintf("version=%s addr=%s:%d driver=%s", Version, cfg.Server.Host, cfg.Server.Port, cfg.Database.Driver))

	err = api.Start(ctx, api.StartOpts{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Fleet:   svc,
		Arm:     arms,
		Metrics: m,
		Logger:  logging.New("api"),
	})
	cancel()
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	events.Record(stopCtx, eventlog.SourceServer, models.LevelInfo, eventServerStop, "shutdown")
	return err
}

// attachMirrors adds the configured MQTT and chat mirrors to events. A mirror
// that fails to start is logged and skipped; the server runs without it.
func attachMirrors(cfg *config.Config, events *eventlog.Log, log zerolog.Logger) []closer {
	var closers []closer

	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.New(cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt mirror disabled")
		} else {
			events.AddMirror(pub)
			closers = append(closers, closeFunc(pub.Close))
			log.Info().Str("broker", cfg.MQTT.Broker).Msg("mqtt mirror enabled")
		}
	}

	if sc := cfg.Telegraph.Slack; sc.Enabled() {
		adapter, err := slack.New(slack.AdapterOpts{BotToken: sc.BotToken, ChannelID: sc.ChannelID})
		closers = appendNotifier(closers, events, log, "slack", adapter, err, cfg.Telegraph.MinLevel)
	}
	if dc := cfg.Telegraph.Discord; dc.Enabled() {
		adapter, err := discord.New(discord.AdapterOpts{
			BotToken:  dc.BotToken,
			ChannelID: dc.ChannelID,
			Logger:    logging.New("discord"),
		})
		closers = appendNotifier(closers, events, log, "discord", adapter, err, cfg.Telegraph.MinLevel)
	}
	return closers
}

func appendNotifier(closers []closer, events *eventlog.Log, log zerolog.Logger, platform string, adapter telegraph.Adapter, err error, minLevel string) []closer {
	if err == nil {
		var n *telegraph.Notifier
		if n, err = telegraph.NewNotifier(platform, adapter, minLevel); err == nil {
			events.AddMirror(n)
			log.Info().Str("platform", platform).Str("min_level", minLevel).Msg("chat alerts enabled")
			return append(closers, n)
		}
	}
	log.Warn().Err(err).Str("platform", platform).Msg("chat alerts disabled")
	return closers
}

// runLogged runs a background loop on wg and logs the error it stops with.
func runLogged(wg *sync.WaitGroup, log zerolog.Logger, name string, run func() error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(); err != nil {
			log.Error().Err(err).Msg(name + " stopped")
		}
	}()
}

// shutdownEvents drains in-flight mirror deliveries, then closes the mirrors.
func shutdownEvents(events *eventlog.Log, closers []closer, log zerolog.Logger) {
	events.Close()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("close mirror")
		}
	}
}

// closeFunc adapts a func() to closer.
type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}
