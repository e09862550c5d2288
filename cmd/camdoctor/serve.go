package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/camdoctor/camdoctor/internal/agent"
	"github.com/camdoctor/camdoctor/internal/config"
	"github.com/camdoctor/camdoctor/internal/engine"
	"github.com/camdoctor/camdoctor/internal/metrics"
	"github.com/camdoctor/camdoctor/internal/natsbus"
	"github.com/camdoctor/camdoctor/internal/remote"
	"github.com/camdoctor/camdoctor/internal/scheduler"
	"github.com/camdoctor/camdoctor/internal/store"
	"github.com/camdoctor/camdoctor/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agents, the gateway API, the event bus and scheduled watches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Web.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Override the web port")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting camdoctor", "version", version)

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	var bus *natsbus.Bus
	var client *natsbus.Client
	if cfg.NATS.Enabled {
		bus, err = natsbus.New(cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer bus.Close()
		client, err = bus.Connect("camdoctor")
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer client.Close()
		slog.Info("nats started", "port", bus.Port())
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	reg := loadRegistry(cfg.Registry.Path)
	catalog := agent.Defaults(newGenerator(cfg.LLM), db)
	eng := engine.New(catalog, reg,
		engine.WithMetrics(metrics.MustNewMetrics(promReg)),
		engine.WithRemote(remote.NewClient(cfg.Remote)),
	)

	sched := scheduler.New(db, eng, client, cfg.Scheduler, cfg.Watches)
	if err := sched.Sync(); err != nil {
		return fmt.Errorf("sync watches: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})

	if cfg.Web.Enabled {
		srv := web.NewServer(eng, catalog, reg, db, db, bus, promReg, cfg.Web, version)
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		})
	} else {
		slog.Warn("web server disabled")
	}

	err = g.Wait()
	slog.Info("shutting down")
	return err
}
