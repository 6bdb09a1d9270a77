package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/capture"
	"github.com/MeKo-Tech/platewatch/internal/config"
	"github.com/MeKo-Tech/platewatch/internal/pipeline"
	"github.com/spf13/cobra"
)

// streamCmd replays a directory of frames through the live pipeline.
var streamCmd = &cobra.Command{
	Use:   "stream <dir>",
	Short: "Replay a directory of frames through the real-time pipeline",
	Long: `Feed the images of a directory, in name order, into the pipeline at a
fixed frame rate, as a camera would. Frames that arrive while the previous
frame is still being processed are dropped.

Each processed frame is printed as soon as its result is ready.

Examples:
  platewatch stream ./frames --fps 15
  platewatch stream ./frames --loop --format json`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyModelFlags(cmd, cfg)

		format := cfg.Output.Format
		if cmd.Flags().Changed("format") {
			format, _ = cmd.Flags().GetString("format")
		}
		fps := cfg.Pipeline.FPS
		if cmd.Flags().Changed("fps") {
			fps, _ = cmd.Flags().GetFloat64("fps")
		}
		loop, _ := cmd.Flags().GetBool("loop")
		maxFrames, _ := cmd.Flags().GetInt("max-frames")
		quiet, _ := cmd.Flags().GetBool("quiet")

		src, err := capture.NewDirectorySource(args[0], loop)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		console := pipeline.NewConsoleObserver(cmd.ErrOrStderr(), "")
		observers := pipeline.NewMultiObserver(pipeline.NewLogObserver(slog.Default(), slog.LevelDebug))
		if !quiet {
			observers.Add(console)
		}

		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = orch.Close() }()

		mgr, err := startManager(ctx, cfg, orch, observers)
		if err != nil {
			return err
		}
		defer func() { _ = mgr.Close() }()

		var printer sync.WaitGroup
		printer.Add(1)
		go func() {
			defer printer.Done()
			printEvents(cmd.OutOrStdout(), mgr.Events(), format, cfg.Output)
		}()

		if err := initManager(ctx, mgr); err != nil {
			return err
		}

		loopRunner := &capture.Loop{
			Source:    src,
			Library:   orch.Library(),
			Manager:   mgr,
			Pacer:     pipeline.NewPacer(fps),
			MaxFrames: maxFrames,
			Logger:    slog.Default(),
		}
		stats, runErr := loopRunner.Run(ctx)

		waitIdle(ctx, mgr)
		_ = mgr.Close()
		printer.Wait()
		if !quiet {
			console.Finish()
		}

		slog.Info("Stream finished",
			"read", stats.Read,
			"accepted", stats.Accepted,
			"dropped", stats.Dropped,
			"decode_errors", stats.DecodeErrors)

		if runErr != nil && ctx.Err() == nil {
			return runErr
		}
		return nil
	},
}

// printEvents writes one entry per frame event until events is closed.
// JSON output is one object per line.
func printEvents(w io.Writer, events <-chan pipeline.Event, format string, out config.OutputConfig) {
	for ev := range events {
		switch e := ev.(type) {
		case pipeline.FrameProcessed:
			rep := alpr.NewFrameReport(e.FrameID, e.Results, e.Duration, out.MinDetConfidence)
			writeFrameReport(w, rep, format, out.ConfidencePrecision)
		case pipeline.ErrorEvent:
			if e.Init {
				continue
			}
			_, _ = fmt.Fprintf(w, "frame %d: error: %v\n", e.FrameID, e.Err)
		}
	}
}

func writeFrameReport(w io.Writer, rep *alpr.FrameReport, format string, precision int) {
	switch format {
	case "json":
		b, err := json.Marshal(rep)
		if err != nil {
			slog.Error("Failed to encode frame report", "frame_id", rep.FrameID, "error", err)
			return
		}
		_, _ = fmt.Fprintln(w, string(b))
	default:
		text, err := alpr.ToText(precision, rep)
		if err != nil {
			slog.Error("Failed to format frame report", "frame_id", rep.FrameID, "error", err)
			return
		}
		_, _ = fmt.Fprint(w, text)
	}
}

func init() {
	rootCmd.AddCommand(streamCmd)
	addModelFlags(streamCmd)
	streamCmd.Flags().StringP("format", "f", "text", "output format: text or json (one object per line)")
	streamCmd.Flags().Float64("fps", 0, "frames per second to feed (0 feeds as fast as possible)")
	streamCmd.Flags().Bool("loop", false, "restart from the first frame after the last one")
	streamCmd.Flags().Int("max-frames", 0, "stop after this many frames (0 means no limit)")
	streamCmd.Flags().BoolP("quiet", "q", false, "do not print the status line")
}
