package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/config"
	"github.com/MeKo-Tech/platewatch/internal/pipeline"
	"github.com/MeKo-Tech/platewatch/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the plate recognition API",
	Long: `Start an HTTP server that runs uploaded frames through the pipeline.

The server provides the following endpoints:
  POST /alpr/image  - Process one uploaded image (multipart field "image")
  GET  /alpr/stream - WebSocket; send encoded frames as binary messages
  GET  /health      - Health check endpoint
  GET  /models      - List models and engine status
  GET  /metrics     - Prometheus metrics

Examples:
  platewatch serve
  platewatch serve --port 8080
  platewatch serve --host 0.0.0.0 --port 3000 --rate-limit 60`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyModelFlags(cmd, cfg)
		applyServerFlags(cmd, cfg)

		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		orch, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = orch.Close() }()

		observer := pipeline.NewMultiObserver(
			server.MetricsObserver{},
			pipeline.NewLogObserver(slog.Default(), slog.LevelInfo).WithInterval(100),
		)
		mgr, err := startManager(ctx, cfg, orch, observer)
		if err != nil {
			return err
		}
		defer func() { _ = mgr.Close() }()

		alprServer, err := server.NewServer(serverConfig(cfg), server.Deps{
			Manager: mgr,
			Library: orch.Library(),
			Engine:  orch,
			Logger:  slog.Default(),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		if err := initManager(ctx, mgr); err != nil {
			return err
		}

		host, port := cfg.Server.Host, cfg.Server.Port
		timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           alprServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout + 5*time.Second,
		}

		go func() {
			slog.Info("Starting plate recognition server", "host", host, "port", port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		// Closing the manager ends the event stream, which fails any
		// request still waiting for a frame.
		_ = mgr.Close()
		<-alprServer.Router().Done()

		slog.Info("Graceful shutdown completed", "pipeline", mgr.Stats())
		return nil
	},
}

// applyServerFlags copies server flags that were set onto cfg.
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("overlay-enable") {
		cfg.Server.OverlayEnabled, _ = f.GetBool("overlay-enable")
	}
	if f.Changed("rate-limit") {
		cfg.Server.RateLimitPerMinute, _ = f.GetInt("rate-limit")
	}
	if f.Changed("max-data-per-day") {
		cfg.Server.MaxDataPerDayMB, _ = f.GetInt("max-data-per-day")
	}
	if f.Changed("min-det-conf") {
		cfg.Output.MinDetConfidence, _ = f.GetFloat64("min-det-conf")
	}
	if f.Changed("frame-timeout") {
		cfg.Pipeline.TimeoutSec, _ = f.GetInt("frame-timeout")
	}
}

// serverConfig maps the configuration onto server settings.
func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		CORSOrigin:        cfg.Server.CORSOrigin,
		MaxUploadMB:       int64(cfg.Server.MaxUploadMB),
		TimeoutSec:        cfg.Server.TimeoutSec,
		MinDetConfidence:  cfg.Output.MinDetConfidence,
		OverlayEnabled:    cfg.Server.OverlayEnabled,
		RequestsPerMinute: cfg.Server.RateLimitPerMinute,
		MaxDataPerDayMB:   int64(cfg.Server.MaxDataPerDayMB),
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addModelFlags(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("frame-timeout", 0, "per-frame inference timeout in seconds (0 disables)")
	serveCmd.Flags().Float64("min-det-conf", 0, "hide plates below this detection confidence")
	serveCmd.Flags().Bool("overlay-enable", true, "allow format=overlay image responses")
	serveCmd.Flags().Int("rate-limit", 0, "maximum requests per minute per client (0 disables)")
	serveCmd.Flags().Int("max-data-per-day", 0, "maximum upload volume per client per day in MB (0 disables)")
}
