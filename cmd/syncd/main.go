// Command syncd runs the Supervisor and DDL Consumer until a SIGINT/SIGTERM
// cancels the root context.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mssqlsync/syncd/internal/config"
	"github.com/mssqlsync/syncd/internal/ddlconsumer"
	"github.com/mssqlsync/syncd/internal/mssqlconn"
	"github.com/mssqlsync/syncd/internal/state"
	"github.com/mssqlsync/syncd/internal/supervisor"
)

const ddlQueueName = "SyncDDLQueue"

func main() {
	if err := run(); err != nil {
		logrus.Errorf("syncd: %v", err)
		os.Exit(1)
	}
}

func run() error {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	connCfg := &mssqlconn.Config{MaxOpenConnections: cfg.MaxConnections, MaxRetries: 5}
	primary, err := mssqlconn.Open(cfg.PrimaryURL, connCfg)
	if err != nil {
		return fmt.Errorf("opening primary connection: %w", err)
	}
	defer primary.Close()

	replica, err := mssqlconn.Open(cfg.ReplicaURL, connCfg)
	if err != nil {
		return fmt.Errorf("opening replica connection: %w", err)
	}
	defer replica.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := state.Open(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	tableState := state.New(store)
	if err := tableState.PublishConfig(ctx, "primary_url", config.SanitizeURL(cfg.PrimaryURL)); err != nil {
		logger.Warnf("publishing sanitized primary url: %v", err)
	}
	if err := tableState.PublishConfig(ctx, "replica_url", config.SanitizeURL(cfg.ReplicaURL)); err != nil {
		logger.Warnf("publishing sanitized replica url: %v", err)
	}

	sup := supervisor.New(primary, replica, tableState, int64(cfg.SyncThreads), logger)
	sup.TickInterval = cfg.TickInterval

	consumer := ddlconsumer.New(primary, replica, tableState, ddlQueueName, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(ctx) })
	g.Go(func() error { return consumer.Run(ctx) })

	logger.Infof("syncd started: sync-threads=%d tick-interval=%s", cfg.SyncThreads, cfg.TickInterval)
	return g.Wait()
}
