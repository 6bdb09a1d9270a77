package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/common"
	"github.com/MeKo-Tech/platewatch/internal/config"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
)

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image <file>...",
	Short: "Detect and read plates in image files",
	Long: `Process one or more image files and print every plate found.

Supported formats: JPEG, PNG, BMP, WEBP

Examples:
  platewatch image car.jpg
  platewatch image frames/*.png --format json
  platewatch image car.jpg --overlay-dir out/`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input files provided")
		}

		cfg := GetConfig()
		applyModelFlags(cmd, cfg)

		format := cfg.Output.Format
		if cmd.Flags().Changed("format") {
			format, _ = cmd.Flags().GetString("format")
		}
		minDetConf := cfg.Output.MinDetConfidence
		if cmd.Flags().Changed("min-det-conf") {
			minDetConf, _ = cmd.Flags().GetFloat64("min-det-conf")
		}
		outputFile, _ := cmd.Flags().GetString("output")
		overlayDir, _ := cmd.Flags().GetString("overlay-dir")
		showTimings, _ := cmd.Flags().GetBool("timings")

		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := orch.Init(ctx); err != nil {
			return fmt.Errorf("failed to load models: %w", err)
		}
		defer func() { _ = orch.Close() }()

		reports := make([]*alpr.FrameReport, 0, len(args))
		for i, path := range args {
			rep, stages, err := processImageFile(ctx, orch, path, uint64(i+1), minDetConf)
			if err != nil {
				return err
			}
			if showTimings {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", path, stages.String())
			}
			if overlayDir != "" {
				if err := writeOverlay(path, overlayDir, rep); err != nil {
					return err
				}
			}
			reports = append(reports, rep)
		}

		out, err := alpr.Format(format, cfg.Output.ConfidencePrecision, reports...)
		if err != nil {
			return err
		}
		if outputFile != "" {
			if err := os.WriteFile(outputFile, []byte(out), 0o644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			return nil
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
		if !strings.HasSuffix(out, "\n") {
			_, _ = fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

// processImageFile runs one file through orch. A frame-level failure is
// reported as an empty report so the remaining files still run.
func processImageFile(ctx context.Context, orch *alpr.Orchestrator, path string, id uint64,
	minDetConf float64,
) (*alpr.FrameReport, *common.Stages, error) {
	stages := &common.Stages{}

	stages.Start("read")
	data, err := imgsrc.ReadImageFile(path)
	if err != nil {
		return nil, nil, err
	}

	stages.Start("decode")
	frame, err := orch.Library().Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	stages.Start("predict")
	results, err := orch.Predict(ctx, imgsrc.Matrix{Image: frame})
	stages.Stop()
	if rerr := frame.Release(); rerr != nil {
		slog.Warn("Failed to release frame", "file", path, "error", rerr)
	}
	if err != nil {
		slog.Error("Frame failed", "file", path, "error", err)
	}

	rep := alpr.NewFrameReport(id, results, stages.Get("predict"), minDetConf)
	rep.Source = path
	return rep, stages, nil
}

// writeOverlay saves <dir>/<name>_overlay.png with the plates drawn in.
func writeOverlay(path, dir string, rep *alpr.FrameReport) error {
	img, _, err := imgsrc.LoadImageFile(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create overlay dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dst := filepath.Join(dir, base+"_overlay.png")
	if err := imaging.Save(alpr.RenderOverlay(img, rep, alpr.DefaultOverlayStyle()), dst); err != nil {
		return fmt.Errorf("failed to save overlay: %w", err)
	}
	slog.Debug("Overlay written", "file", dst)
	return nil
}

// applyModelFlags copies model-related flags that were set onto cfg.
func applyModelFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("det-model") {
		cfg.ALPR.Detector.ModelPath, _ = cmd.Flags().GetString("det-model")
	}
	if cmd.Flags().Changed("rec-model") {
		cfg.ALPR.Recognizer.ModelPath, _ = cmd.Flags().GetString("rec-model")
	}
	if cmd.Flags().Changed("alphabet") {
		cfg.ALPR.Recognizer.AlphabetPath, _ = cmd.Flags().GetString("alphabet")
	}
	if cmd.Flags().Changed("score-threshold") {
		cfg.ALPR.Detector.ScoreThreshold, _ = cmd.Flags().GetFloat64("score-threshold")
	}
	if cmd.Flags().Changed("backend") {
		cfg.ALPR.ImageBackend, _ = cmd.Flags().GetString("backend")
	}
	if cmd.Flags().Changed("gpu") {
		cfg.GPU.Enabled, _ = cmd.Flags().GetBool("gpu")
	}
}

// addModelFlags registers the flags read by applyModelFlags.
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("det-model", "", "override detection model path")
	cmd.Flags().String("rec-model", "", "override recognition model path")
	cmd.Flags().String("alphabet", "", "override recognizer alphabet file")
	cmd.Flags().Float64("score-threshold", 0, "minimum detector score (0..1, default from config)")
	cmd.Flags().String("backend", imgsrc.BackendRaster, "image backend: raster or opencv")
	cmd.Flags().Bool("gpu", false, "run inference on CUDA")
}

func init() {
	rootCmd.AddCommand(imageCmd)
	addModelFlags(imageCmd)
	imageCmd.Flags().StringP("format", "f", "text", "output format: text, json, csv")
	imageCmd.Flags().StringP("output", "o", "", "write results to file instead of stdout")
	imageCmd.Flags().Float64("min-det-conf", 0, "hide plates below this detection confidence")
	imageCmd.Flags().String("overlay-dir", "", "write images with plates drawn to this directory")
	imageCmd.Flags().Bool("timings", false, "print per-stage timings to stderr")
}
