package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/drs"
	"github.com/limiquantix/consolidator/internal/repository/etcd"
	"github.com/limiquantix/consolidator/internal/repository/memory"
	"github.com/limiquantix/consolidator/internal/repository/postgres"
	"github.com/limiquantix/consolidator/internal/repository/redis"
	"github.com/limiquantix/consolidator/internal/server"
	"github.com/limiquantix/consolidator/internal/simulation"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the consolidation loop continuously and serve its API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

// recordStore is what both the engine and the API need from a repository.
type recordStore interface {
	drs.RecordRepository
	server.MigrationLister
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	server.Version = version

	logger.Info("Starting consolidator",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("environment", cfg.DRS.Environment),
	)

	sc, err := simulation.ScenarioFromConfig(cfg.Simulation)
	if err != nil {
		return err
	}
	if cfg.DRS.Environment != "" {
		sc.Name = cfg.DRS.Environment
	}
	dc, policy, err := newEnvironment(sc, cfg.Consolidation, cfg.Scheduler, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		simulation.NewCollector(dc),
	)
	metrics, err := drs.NewMetrics(registry)
	if err != nil {
		return err
	}

	stream := server.NewStreamHandler(logger)
	engineOpts := []drs.Option{drs.WithMetrics(metrics)}
	serverOpts := []server.ServerOption{
		server.WithHosts(dc),
		server.WithMetrics(registry),
		server.WithStream(stream),
	}

	// Record store
	var records recordStore
	if cfg.Database.Enabled {
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		records = postgres.NewMigrationRepository(db, logger)
		serverOpts = append(serverOpts, server.WithPostgreSQL(db))
	} else {
		records = memory.NewMigrationRepository()
	}
	engineOpts = append(engineOpts, drs.WithRecordRepository(records))
	serverOpts = append(serverOpts, server.WithRecords(records))

	// With Redis every replica relays the leader's events to its own stream
	// clients, so the engine must not also broadcast locally.
	if cfg.Redis.Enabled {
		cache, err := redis.NewCache(cfg.Redis, logger)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, drs.WithPublisher(cache))
		serverOpts = append(serverOpts, server.WithRedis(cache))
	} else {
		engineOpts = append(engineOpts, drs.WithBroadcaster(stream))
	}

	if cfg.Etcd.Enabled {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			return err
		}
		hostname, _ := os.Hostname()
		leader := client.CampaignForLeader(ctx, cfg.DRS.Environment, fmt.Sprintf("%s/%d", hostname, os.Getpid()), func(isLeader bool) {
			if isLeader {
				logger.Info("This instance is now the leader")
			} else {
				logger.Info("This instance is now a follower")
			}
		})
		engineOpts = append(engineOpts, drs.WithLeaderChecker(leader))
		if cfg.DRS.Lock {
			engineOpts = append(engineOpts, drs.WithLocker(client))
		}
		serverOpts = append(serverOpts, server.WithEtcd(client), server.WithLeader(leader))
	}

	engine := drs.NewEngine(cfg.DRS, dc, policy, logger, engineOpts...)
	serverOpts = append(serverOpts, server.WithEngine(engine, policy.Description()))

	srv := server.New(cfg, logger, serverOpts...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Start(ctx)
	}()

	err = srv.Run(ctx)
	wg.Wait()
	if err != nil {
		return err
	}

	simulation.Summarize(dc.Stats(), policy.Description()).Print(os.Stderr)
	logger.Info("Goodbye!")
	return nil
}
