package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/config"
	"github.com/MeKo-Tech/platewatch/internal/pipeline"
)

// buildOrchestrator creates an uninitialized orchestrator from cfg.
func buildOrchestrator(cfg *config.Config) (*alpr.Orchestrator, error) {
	orch, err := alpr.NewBuilderFromConfig(cfg.ToALPRConfig()).
		WithLogger(slog.Default()).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build ALPR pipeline: %w", err)
	}
	return orch, nil
}

// startManager starts a manager around orch and loads the engines on its
// worker. The caller must Close the returned manager.
func startManager(ctx context.Context, cfg *config.Config, orch *alpr.Orchestrator,
	observer pipeline.Observer,
) (*pipeline.Manager, error) {
	opts := cfg.ToManagerOptions()
	opts.Observer = observer
	opts.Logger = slog.Default()

	mgr, err := pipeline.New(orch, opts)
	if err != nil {
		return nil, err
	}
	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	return mgr, nil
}

// initManager loads the engines and logs how long it took.
func initManager(ctx context.Context, mgr *pipeline.Manager) error {
	start := time.Now()
	if err := mgr.Init(ctx); err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}
	slog.Info("Models loaded", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// waitIdle blocks until no frame is in flight or ctx is done.
func waitIdle(ctx context.Context, mgr *pipeline.Manager) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for mgr.Busy() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
