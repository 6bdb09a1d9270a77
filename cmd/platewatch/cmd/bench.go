package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/MeKo-Tech/platewatch/internal/common"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/spf13/cobra"
)

// benchCmd measures per-frame latency on real images.
var benchCmd = &cobra.Command{
	Use:   "bench <file>...",
	Short: "Measure per-frame inference latency",
	Long: `Run each image through detection and recognition repeatedly and print
latency percentiles and allocation totals.

Examples:
  platewatch bench car.jpg
  platewatch bench frames/*.jpg --iterations 50 --gpu`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyModelFlags(cmd, cfg)

		iterations, _ := cmd.Flags().GetInt("iterations")
		if iterations <= 0 {
			return errors.New("iterations must be positive")
		}
		warmup, _ := cmd.Flags().GetInt("warmup")
		cfg.ALPR.WarmupIterations = warmup

		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}
		ctx := context.Background()
		load := common.NewNamedTimer("model load")
		if err := orch.Init(ctx); err != nil {
			return fmt.Errorf("failed to load models: %w", err)
		}
		load.Stop()
		defer func() { _ = orch.Close() }()

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "%s (backend %s, warmup %d)\n", load, orch.Library().Name(), warmup)

		var failed int
		for _, path := range args {
			data, err := imgsrc.ReadImageFile(path)
			if err != nil {
				return err
			}
			lib := orch.Library()
			res := common.RunBenchmark(filepath.Base(path), iterations, func() error {
				frame, err := lib.Decode(data)
				if err != nil {
					return err
				}
				defer func() { _ = frame.Release() }()
				_, err = orch.Predict(ctx, imgsrc.Matrix{Image: frame})
				return err
			})
			if res.Error != nil {
				failed++
			}
			_, _ = fmt.Fprintln(out, res.String())
		}

		stats := orch.Stats()
		_, _ = fmt.Fprintf(out, "frames %d, detections %d, recognized %d, recognition failures %d\n",
			stats.Frames, stats.Detections, stats.Recognized, stats.RecognitionFailures)
		if failed > 0 {
			return fmt.Errorf("%d of %d benchmarks failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)
	addModelFlags(benchCmd)
	benchCmd.Flags().IntP("iterations", "n", 20, "runs per image")
	benchCmd.Flags().Int("warmup", 2, "warmup runs per model before measuring")
}
