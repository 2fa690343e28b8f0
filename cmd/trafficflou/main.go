// Command trafficflou runs the session orchestration engine against a
// configured target, serving health and metrics over HTTP until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/trafficflou/trafficflou"
	"github.com/trafficflou/trafficflou/config"
	"github.com/trafficflou/trafficflou/logging"
	"github.com/trafficflou/trafficflou/status"
)

var version = "dev"

var (
	configPath   string
	targetFlag   string
	rampInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "trafficflou",
	Short: "Synthetic traffic session orchestration engine",
	Long: `trafficflou schedules concurrent simulated visitor sessions against a
target site: rotating egress identities under cooldown constraints,
behavior plans from a static or AI-backed policy, pluggable execution
drivers, and telemetry batched to configured sinks. Error and latency
signal feeds back into admission control.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the engine and serve status endpoints",
	RunE:  runEngine,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func main() {
	// Ambient credentials (OPENAI_API_KEY, ANTHROPIC_API_KEY) may live in a
	// local .env during development.
	_ = godotenv.Load()

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to yaml config")
	runCmd.Flags().StringVarP(&targetFlag, "target", "t", "", "target URL (overrides config)")
	runCmd.Flags().DurationVar(&rampInterval, "ramp-interval", 0, "advance the rate ramp one phase per interval (0 disables)")
	rootCmd.AddCommand(runCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runEngine(cmd *cobra.Command, _ []string) error {
	if targetFlag != "" {
		if err := os.Setenv("TRAFFICFLOU_TARGET", targetFlag); err != nil {
			return err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  parseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	})

	tf, err := trafficflou.FromConfig(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tf.Start(ctx); err != nil {
		return err
	}
	logger.Info("engine running", "target", cfg.Target, "provider", cfg.Policy.Provider, "driver", cfg.Driver.Name)

	var srv *status.Server
	if cfg.Status.Enabled {
		srv = status.New(tf.Engine(), func(o *status.Options) {
			o.Addr = cfg.Status.Addr
			o.Logger = logger
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Error("status server", "error", err)
			}
		}()
	}

	if rampInterval > 0 {
		go rampPhases(ctx, tf, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := tf.Stop(shutdownCtx); err != nil {
		return err
	}

	snap := tf.Snapshot()
	logger.Info("final report",
		"admitted", snap.Admitted,
		"completed", snap.Completed,
		"failed", snap.Failed,
		"aborted", snap.Aborted,
		"success_rate", snap.SuccessRate,
		"average_latency", snap.AverageLatency,
		"peak_rate", snap.Rate.PeakRate,
		"telemetry_drops", snap.TelemetryDrops,
	)
	return nil
}

func rampPhases(ctx context.Context, tf *trafficflou.TrafficFlou, logger logging.Logger) {
	ticker := time.NewTicker(rampInterval)
	defer ticker.Stop()
	phase := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			phase++
			tf.SetPhase(phase)
			logger.Info("rate phase advanced", "phase", phase)
		}
	}
}

func parseLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
