package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/coordinator"
	"github.com/mtzanidakis/swarmlab/internal/demo"
	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/monitor"
	"github.com/mtzanidakis/swarmlab/internal/natsbus"
	"github.com/mtzanidakis/swarmlab/internal/notify"
	"github.com/mtzanidakis/swarmlab/internal/scheduler"
	"github.com/mtzanidakis/swarmlab/internal/store"
	"github.com/mtzanidakis/swarmlab/internal/web"
)

var (
	jsonOutput  bool
	keepServing bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch the swarm demo and print the final report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the final report as JSON")
	runCmd.Flags().BoolVar(&keepServing, "serve", false, "keep the web server up after the report until interrupted")
}

func runDemo(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logLevel.Set(parseLevel(cfg.Log.Level))

	slog.Info("starting swarmlab", "version", version)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	coord := coordinator.New(cfg.Coordinator)
	mon := monitor.New(cfg.Monitor, nil)
	exporter := monitor.NewExporter()
	mon.SetExporter(exporter)

	// Embedded NATS
	var client *natsbus.Client
	if cfg.NATS.Enabled {
		bus, err := natsbus.New(cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer bus.Close()

		client, err = natsbus.NewClient(bus)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer client.Close()

		coord.Events().SetPublisher(client)
		mon.Events().SetPublisher(client)
		slog.Info("nats started", "data_dir", cfg.NATS.DataDir)
	}

	// Telegram notifications
	if cfg.Telegram.Token != "" {
		n, err := notify.New(cfg.Telegram)
		if err != nil {
			return fmt.Errorf("init telegram notifier: %w", err)
		}
		mon.Events().Subscribe(n.HandleEvent)
		slog.Info("telegram notifier enabled", "chat", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram token not set, notifications disabled")
	}

	d := demo.New(cfg.Demo, coord, mon)
	d.OnEmergency(func(em demo.Emergency) error {
		id, err := db.SaveSnapshot(store.KindEmergency, em)
		if err != nil {
			return err
		}
		slog.Warn("emergency state saved", "snapshot", id)
		return nil
	})

	// Checkpoints
	var sched *scheduler.Scheduler
	if cfg.Checkpoint.Enabled {
		sched, err = scheduler.New(cfg.Checkpoint, func(context.Context) error {
			_, err := db.SaveSnapshot(store.KindCheckpoint, mon.SaveEmergencySnapshot(d.Fleet(), d.Metrics()))
			return err
		})
		if err != nil {
			return fmt.Errorf("init checkpoint scheduler: %w", err)
		}
		go sched.Start(ctx)
	}

	// Web UI
	if cfg.Web.Enabled {
		srv := web.NewServer(coord, mon, cfg.Web, web.Options{
			Exporter: exporter,
			Store:    db,
			NATS:     client,
			Version:  version,
		})
		if client == nil {
			forward := func(ev events.Event) { srv.Hub().Broadcast(ev) }
			coord.Events().Subscribe(forward)
			mon.Events().Subscribe(forward)
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	go watchReload(ctx, cfg, sched)

	report, err := d.Launch(ctx)
	if err != nil {
		return fmt.Errorf("demo: %w", err)
	}

	id, err := db.SaveSnapshot(store.KindReport, report)
	if err != nil {
		slog.Error("failed to save final report", "error", err)
	} else {
		slog.Info("final report saved", "snapshot", id)
	}

	if err := printReport(report); err != nil {
		return err
	}

	if keepServing && cfg.Web.Enabled {
		slog.Info("serving until interrupted")
		<-ctx.Done()
	}
	return nil
}

// watchReload re-reads the config on SIGHUP and applies the reloadable
// parts.
func watchReload(ctx context.Context, current *config.Config, sched *scheduler.Scheduler) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next, err := config.Load()
		if err != nil {
			slog.Error("config reload failed", "error", err)
			continue
		}
		diff := config.Diff(current, next)
		for _, field := range diff.NonReloadable {
			slog.Warn("config change needs a restart", "section", field)
		}
		if diff.LogLevelChanged {
			logLevel.Set(parseLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.CheckpointChanged && sched != nil {
			if err := sched.Reschedule(diff.NewCheckpoint.Schedule); err != nil {
				slog.Error("checkpoint reschedule failed", "error", err)
			}
		}
		current = next
	}
}

func printReport(r monitor.Report) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	s := r.Summary
	fmt.Printf("Run finished in %s\n", s.Duration.Round(time.Millisecond))
	fmt.Printf("  swarms %d, agents %d\n", s.Swarms, s.TotalAgents)
	fmt.Printf("  tasks completed %d, messages %d, syncs %d, recoveries %d\n",
		s.TasksCompleted, s.MessagesExchanged, s.SwarmSyncs, s.ErrorsRecovered)
	fmt.Println()
	for _, row := range r.Swarms {
		fmt.Printf("  %-10s %-26s %3d/%-3d  efficiency %5.1f%%  health %5.1f\n",
			row.SwarmID, row.Mission, row.TasksCompleted, row.TasksAssigned, row.Efficiency, row.Health)
	}
	if len(r.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, rec := range r.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	}
	return nil
}
