package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/adaptivebreaker/internal/config"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/breaker"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/livefeed"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/persistence/redissink"
)

var (
	cfgFile string
	rootCmd *cobra.Command
)

func main() {
	rootCmd = &cobra.Command{
		Use:     "breakerdemo",
		Short:   "Adaptive ML circuit breaker demo",
		Long:    "Runs a synthetic flaky operation behind an adaptive, ML-driven circuit breaker and reports how it adapts.",
		Version: "dev",
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("breakerdemo: fatal error")
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive a synthetic flaky operation through the breaker",
		RunE:  runDemo,
	}
	cmd.Flags().Duration("duration", 5*time.Minute, "How long to run")
	cmd.Flags().Float64("baseline-failure-rate", 0.1, "Baseline failure probability of the synthetic operation")
	return cmd
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configureLogging(cfg.Logging)

	duration, _ := cmd.Flags().GetDuration("duration")
	baselineFailureRate, _ := cmd.Flags().GetFloat64("baseline-failure-rate")

	registry := prometheus.NewRegistry()
	settings := breaker.Settings{
		Name:                    cfg.Breaker.Name,
		MLEnabled:               cfg.Breaker.MLEnabled,
		MinCalls:                cfg.Breaker.MinCalls,
		HalfOpenCalls:           cfg.Breaker.HalfOpenCalls,
		InitialFailureThreshold: cfg.Breaker.InitialFailureThreshold,
		InitialWindow:           cfg.Breaker.InitialWindow,
		InitialWaitMs:           cfg.Breaker.InitialWaitMs,
		ReconfigMinIntervalMs:   cfg.Breaker.ReconfigMinIntervalMs,
		SignificantChange:       cfg.Breaker.SignificantChange,
		TrainingInterval:        cfg.Breaker.TrainingInterval,
		Registry:                registry,
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.Timeout,
		})
		sink := redissink.New(client)
		settings.MetricSink = sink
		settings.ModelSink = sink
	}

	orch := breaker.New(settings)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var feed *livefeed.Feed
	if cfg.Live.Enabled {
		feed = livefeed.New(orch, cfg.Live.ReportPeriod, log.Logger)
		feed.Start(sigCtx)
		defer feed.Stop()
		log.Info().Str("listen", cfg.Live.Listen).Str("path", cfg.Live.Path).Msg("live feed ready, wire Feed.Handler into your own http.Server to serve it")
	}

	rng := rand.New(rand.NewSource(1))
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var total, rejected int

	for {
		select {
		case <-sigCtx.Done():
			log.Info().Int("total", total).Int("rejected", rejected).Msg("breakerdemo: shutting down")
			return orch.Shutdown(context.Background())
		case <-ticker.C:
			total++
			_, err := breaker.Execute(orch, func() (struct{}, error) {
				return struct{}{}, syntheticCall(rng, baselineFailureRate, total)
			})
			if err == breaker.ErrBreakerOpen {
				rejected++
			}
		}
	}
}

// syntheticCall simulates an operation whose failure rate spikes for a
// window of calls, to exercise the breaker's reconfiguration path.
func syntheticCall(rng *rand.Rand, baseline float64, call int) error {
	failureRate := baseline
	if (call/500)%3 == 1 {
		failureRate = 0.8
	}
	if rng.Float64() < failureRate {
		return fmt.Errorf("synthetic failure")
	}
	return nil
}

func configureLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
