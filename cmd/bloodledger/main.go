package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"bloodledger/internal/config"
	"bloodledger/internal/core"
	"bloodledger/internal/events"
	"bloodledger/internal/infra/ledger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bloodledger: %v\n", err)
		os.Exit(1)
	}
}

// execute runs one invocation and releases the ledger and broker connections
// it opened, whether or not the command succeeded.
func execute(ctx context.Context, out io.Writer, args []string) (err error) {
	a := &app{out: out}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	out    io.Writer
	cfg    *config.Config
	logger *slog.Logger
	trace  bool

	ledger  core.LocalLedger
	relay   *asynq.Client
	metrics *prometheus.Registry
	svc     *core.Service
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bloodledger",
		Short: "Blood unit custody ledger",
		Long: `bloodledger records blood units and donation/receipt processes on a local ledger
and moves units through READY, UNDER_TRANSPORTATION, DELIVERED and USED.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&a.trace, "trace", false, "Write one JSON trace line per operation to stderr")
	cmd.AddCommand(
		newBloodCmd(a),
		newProcessCmd(a),
		newWorkerCmd(a),
	)
	return cmd
}

// loadConfig reads the environment once per invocation.
func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(os.Stderr)
	return cfg, nil
}

// service opens the configured ledger and wires committed events to the log
// and, when enabled, to the relay queue.
func (a *app) service(ctx context.Context) (*core.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	hub := events.NewHub(a.logger)
	hub.Add("log", events.NewLogSink(a.logger, slog.LevelInfo))
	if cfg.RelayEnabled {
		a.relay = asynq.NewClient(cfg.RedisOpt())
		hub.Add("relay", events.NewRelaySink(a.relay, events.WithQueue(cfg.RelayQueue)))
	}
	l, err := core.OpenLedger(ctx, ledger.WithPublisher(hub))
	if err != nil {
		return nil, err
	}
	a.ledger = l
	opts := []core.Option{
		core.WithLogger(a.logger),
		core.WithDefaultOwner(cfg.DefaultOwner),
	}
	if cfg.MetricsTextfile != "" {
		a.metrics = prometheus.NewRegistry()
		recorder, err := core.NewPrometheusMetricsRecorder(a.metrics)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(recorder))
	}
	if a.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(os.Stderr)))
	}
	a.svc = core.NewService(l, opts...)
	return a.svc, nil
}

func (a *app) close() error {
	var firstErr error
	if a.metrics != nil {
		if err := prometheus.WriteToTextfile(a.cfg.MetricsTextfile, a.metrics); err != nil {
			firstErr = fmt.Errorf("write metrics: %w", err)
		}
	}
	if a.relay != nil {
		if err := a.relay.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
