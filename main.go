package main

import (
	"context"
	"fmt"
	"github.com/elmanelman/sql-grader/config"
	"github.com/elmanelman/sql-grader/judge"
	"github.com/elmanelman/sql-grader/xqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	configPath := config.DefaultConfigFile

	cmd := &cobra.Command{
		Use:          "sql-grader",
		Short:        "Grade SQL submissions pulled from xqueue",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", configPath, "path to the JSON configuration file")
	return cmd
}

func run(configPath string) error {
	cfg := config.Default()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	logger, err := cfg.LoggerConfig.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	if cfg.MetricsAddr != "" {
		if err := registerMetrics(prometheus.DefaultRegisterer); err != nil {
			return err
		}
		startMetricsServer(cfg.MetricsAddr, logger)
	}

	client, err := xqueue.New(context.Background(), cfg.XQueue, logger)
	if err != nil {
		return err
	}

	wg := new(sync.WaitGroup)
	daemon := judge.NewDaemon(logger, client, judge.NewDispatcher(&cfg, logger), cfg.PollInterval(), wg)
	setupSigtermHandler(daemon, logger)
	daemon.Start()

	wg.Wait()
	return nil
}

func registerMetrics(reg prometheus.Registerer) error {
	if err := judge.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("register grader metrics: %w", err)
	}
	if err := xqueue.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("register xqueue metrics: %w", err)
	}
	return nil
}

func startMetricsServer(addr string, logger *zap.Logger) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func setupSigtermHandler(daemon *judge.Daemon, logger *zap.Logger) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-c
		logger.Info("shutting down", zap.String("signal", sig.String()))
		daemon.Stop()
	}()
}
