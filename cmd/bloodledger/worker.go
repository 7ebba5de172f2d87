package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"bloodledger/internal/events"
)

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process relayed ledger events and serve /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			processor, err := events.NewProcessor(a.logger, prometheus.DefaultRegisterer, nil)
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("metrics server stopped", "addr", cfg.MetricsAddr, "error", err)
				}
			}()

			server := asynq.NewServer(cfg.RedisOpt(), asynq.Config{
				Concurrency: cfg.WorkerConcurrency,
				Queues:      map[string]int{cfg.RelayQueue: 1},
				Logger:      newAsynqLogger(a.logger),
			})
			go func() {
				<-ctx.Done()
				server.Shutdown()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("relay worker starting", "queue", cfg.RelayQueue, "concurrency", cfg.WorkerConcurrency, "metrics_addr", cfg.MetricsAddr)
			return server.Run(processor.Handler())
		},
	}
}
