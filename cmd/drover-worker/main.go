// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/drover-build/drover/coordinator"
	"github.com/drover-build/drover/delivery"
	"github.com/drover-build/drover/lib/config"
	"github.com/drover-build/drover/lib/schema/timeline"
	"github.com/drover-build/drover/lib/version"
)

// drainTimeout bounds the delivery drain after the last step. The
// time is generous because the drain may still be uploading log
// pages for everything that just ran.
const drainTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		jobPath    string
		logLevel   string
	)
	flagSet := pflag.NewFlagSet("drover-worker", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to drover.yaml (default: $DROVER_CONFIG)")
	flagSet.StringVar(&jobPath, "job", "", "path to the leased job file (required)")
	flagSet.StringVar(&logLevel, "log-level", "info", "worker log level: debug, info, warn, error")

	// Handle --version before flag parsing to match other Drover
	// binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Println("drover-worker " + version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if jobPath == "" {
		return fmt.Errorf("--job is required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	job, err := LoadJob(jobPath)
	if err != nil {
		return err
	}
	if job.Worker == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolving worker name: %w", err)
		}
		job.Worker = hostname
	}
	identity, err := job.Identity()
	if err != nil {
		return fmt.Errorf("invalid job file %s: %w", jobPath, err)
	}
	masker, err := job.Masker()
	if err != nil {
		return fmt.Errorf("building secret masker: %w", err)
	}

	client, err := coordinator.New(cfg.Coordinator.URL, cfg.Coordinator.TokenPath, cfg.Coordinator.RequestTimeout.Std())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channel, err := delivery.NewChannel(delivery.ChannelConfig{
		Coordinator:      client,
		Identity:         identity,
		Logger:           logger,
		Masker:           masker,
		ConsoleInterval:  cfg.Delivery.ConsoleFlushInterval.Std(),
		LogInterval:      cfg.Delivery.LogFlushInterval.Std(),
		TimelineInterval: cfg.Delivery.TimelineFlushInterval.Std(),
		LeaseInterval:    cfg.Delivery.LeaseInterval.Std(),
		IssueCap:         cfg.Delivery.IssueCap,
	})
	if err != nil {
		return err
	}
	channel.Start(ctx)

	logger.Info("job leased",
		"job", identity.Job,
		"plan", identity.Plan,
		"build", identity.Build,
		"steps", len(job.Steps),
		"worker", identity.Worker,
	)

	runner := &jobRunner{
		channel:    channel,
		logger:     logger,
		identity:   identity,
		stagingDir: filepath.Join(cfg.Staging.Root, identity.Job.String()),
		pageSize:   cfg.Delivery.PageSizeBytes,
		variables:  job.Variables,
	}
	result := runner.Run(ctx, job)

	// Drain on a fresh context: cancellation stops step execution,
	// not result delivery.
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := channel.Close(drainCtx); err != nil {
		logger.Warn("delivery drain incomplete", "error", err)
	}

	renewed, failedRenewals := channel.LeaseStats()
	logger.Info("job finished",
		"job", identity.Job,
		"result", result,
		"lease_renewals", renewed,
		"lease_failures", failedRenewals,
	)

	if result == timeline.ResultFailed || result == timeline.ResultCanceled {
		return fmt.Errorf("job finished %s", result)
	}
	return nil
}
