// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dpibridge/dpibridge/internal/bridge"
	"github.com/dpibridge/dpibridge/internal/observability"
)

// runConfig holds configuration for the run command.
type runConfig struct {
	maxCycles  int64
	idleCycles int64
}

// Validate checks that the configuration is valid.
func (cfg *runConfig) Validate() error {
	if cfg.maxCycles <= 0 {
		return oops.In("run").Errorf("max-cycles must be positive, got %d", cfg.maxCycles)
	}
	if cfg.idleCycles < 0 {
		return oops.In("run").Errorf("idle-cycles must not be negative, got %d", cfg.idleCycles)
	}
	return nil
}

// runStats summarises a run.
type runStats struct {
	Cycles int64
	Writes int
	Reads  int
}

func newRunCmd(g *globalOptions) *cobra.Command {
	cfg := &runConfig{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the APB script against an in-memory register file",
		Long: `Poll get_transaction once per cycle. Writes update an in-memory
register file; reads send the stored value back through send_read_data.
The run ends after max-cycles, or after idle-cycles consecutive empty polls.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runSimulation(cmd, g, cfg)
		},
	}

	cmd.Flags().Int64Var(&cfg.maxCycles, "max-cycles", 1000, "maximum number of cycles to simulate")
	cmd.Flags().Int64Var(&cfg.idleCycles, "idle-cycles", 16, "stop after this many empty polls in a row (0 = never)")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")

	return cmd
}

func runSimulation(cmd *cobra.Command, g *globalOptions, rc *runConfig) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig(cmd, g)
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	reg := observability.NewRegistry()
	if cfg.Metrics.Addr != "" {
		metrics = observability.NewMetrics(reg)
	}
	b := bridge.New(*cfg, bridge.WithLogger(logger), bridge.WithMetrics(metrics))

	if cfg.Metrics.Addr != "" {
		srv := observability.NewServer(cfg.Metrics.Addr, reg, b, observability.WithServerLogger(logger))
		if _, err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	if err := b.Initialize(ctx); err != nil {
		return err
	}
	defer b.Finalize(ctx)

	stats := simulate(ctx, b, rc)
	logger.InfoContext(ctx, "run complete",
		"cycles", stats.Cycles,
		"writes", stats.Writes,
		"reads", stats.Reads)
	fmt.Fprintf(cmd.OutOrStdout(), "cycles=%d writes=%d reads=%d\n", stats.Cycles, stats.Writes, stats.Reads)
	return nil
}

// simulate is the register-file model: one poll per cycle until the cycle
// budget runs out, the driver goes quiet or ctx is cancelled.
func simulate(ctx context.Context, b *bridge.Bridge, rc *runConfig) runStats {
	regs := make(map[int64]int64)
	var (
		stats runStats
		idle  int64
	)

	for cycle := int64(0); cycle < rc.maxCycles; cycle++ {
		if ctx.Err() != nil {
			break
		}
		stats.Cycles = cycle + 1

		txn, ok := b.GetTransaction(ctx, cycle)
		if !ok {
			idle++
			if rc.idleCycles > 0 && idle >= rc.idleCycles {
				break
			}
			continue
		}
		idle = 0

		if txn.IsWrite {
			regs[txn.Addr] = txn.Data
			stats.Writes++
			continue
		}
		b.SendReadData(ctx, cycle, regs[txn.Addr])
		stats.Reads++
	}
	return stats
}
