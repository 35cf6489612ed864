// Command perfoscope-bench drives a synthetic multi-rank, multi-thread
// workload through the perfoscope facade so the measurement and
// persistence layers can be exercised end to end outside of a test
// binary. It is not part of the core library: it is the one place in
// this module allowed to read its configuration from the environment.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/anupzope-go/perfoscope"
	"github.com/anupzope-go/perfoscope/internal/collective/inprocess"
	"github.com/anupzope-go/perfoscope/internal/config"
)

func buildCoreConfig(wc workloadConfig) config.Config {
	cfg := config.DefaultConfig
	cfg.Profile = wc.Profile
	cfg.Categories = wc.Categories
	cfg.Events = wc.Events
	cfg.DBPath = wc.DBPath
	cfg.HardwareCounters = wc.HardwareCounters
	return cfg
}

// runRank drives one simulated rank's full facade lifecycle: Init, a
// burst of Start/Stop pairs per thread per iteration feeding AddRunData,
// then Finalize.
func runRank(ctx context.Context, rank int, world *inprocess.World, wc workloadConfig, cfg config.Config) error {
	p := perfoscope.New()
	if err := p.Init(ctx, cfg, world.Rank(rank)); err != nil {
		return err
	}

	for iter := 0; iter < wc.Iterations; iter++ {
		for thread := 0; thread < wc.Threads; thread++ {
			st, err := p.Thread(thread)
			if err != nil {
				return err
			}
			for ci := range wc.Categories {
				if err := st.Start(); err != nil {
					return err
				}
				if err := st.Stop(ci); err != nil {
					return err
				}
			}
		}
		if err := p.AddRunData(ctx, int64(iter)); err != nil {
			return err
		}
	}

	return p.Finalize(ctx)
}

func run() error {
	wc, err := loadWorkloadConfig()
	if err != nil {
		return err
	}
	cfg := buildCoreConfig(wc)

	world := inprocess.NewWorld(wc.Ranks)
	errs := make([]error, wc.Ranks)
	var wg sync.WaitGroup
	wg.Add(wc.Ranks)
	for rank := 0; rank < wc.Ranks; rank++ {
		go func(rank int) {
			defer wg.Done()
			errs[rank] = runRank(context.Background(), rank, world, wc, cfg)
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			slog.Error("rank failed", "rank", rank, "err", err)
			return err
		}
	}
	slog.Info("workload complete", "ranks", wc.Ranks, "threads", wc.Threads, "iterations", wc.Iterations, "db_path", cfg.DBPath)
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("bench failed", "err", err)
		os.Exit(1)
	}
}
