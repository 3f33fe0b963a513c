package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/config"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/execution"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/inventory"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/invoke"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/metrics"
	"github.com/arthur-debert/vmbatch/pkg/vmbatch/watcher"
)

// runtime is everything a command needs to run a batch.
type runtime struct {
	cfg      *config.Config
	logger   zerolog.Logger
	verbose  int
	out      io.Writer
	errOut   io.Writer
	endpoint *inventory.Endpoint
	invoker  invoke.Invoker[*inventory.Machine]
	executor *execution.Executor
	recorder *metrics.Recorder
	shutdown []func(context.Context) error
}

func newRuntime(cmd *cobra.Command, opts *globalOptions) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.inventoryPath != "" {
		cfg.Inventory = opts.inventoryPath
	}

	level := vmbatch.LevelForVerbosity(opts.verbose)
	if opts.verbose == 0 {
		if level, err = vmbatch.LogLevelFromString(cfg.Log.Level); err != nil {
			return nil, err
		}
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  vmbatch.NewLogger(cmd.ErrOrStderr(), level),
		verbose: opts.verbose,
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
	}

	if err := rt.setupMetrics(); err != nil {
		return nil, err
	}

	f, err := inventory.Load(cfg.Inventory)
	if err != nil {
		return nil, err
	}
	rt.endpoint, err = inventory.NewEndpoint(f,
		inventory.WithStepInterval(cfg.Endpoint.StepInterval),
		inventory.WithLogger(rt.component("endpoint")),
	)
	if err != nil {
		return nil, err
	}

	rt.invoker = invoke.Chain[*inventory.Machine](rt.endpoint,
		invoke.WithRateLimit[*inventory.Machine](invoke.NewLimiter(cfg.Invoke.RateLimit, cfg.Invoke.Burst)),
		invoke.WithRetry[*inventory.Machine](invoke.RetryPolicy{
			MaxRetries:      cfg.Invoke.Retry.MaxRetries,
			InitialInterval: cfg.Invoke.Retry.InitialInterval,
			MaxElapsed:      cfg.Invoke.Retry.MaxElapsed,
		}, rt.component("invoke")),
	)

	rt.executor = execution.NewExecutor(rt.component("executor"),
		execution.WithTracer(otel.Tracer("vmbatch/execution")),
		execution.WithMetrics(rt.recorder),
	)
	return rt, nil
}

// setupMetrics serves /metrics when an address is configured. Otherwise the
// recorder writes to a no-op provider.
func (rt *runtime) setupMetrics() error {
	if rt.cfg.Metrics.Addr == "" {
		rec, err := metrics.New(noop.NewMeterProvider())
		rt.recorder = rec
		return err
	}

	mp, handler, err := metrics.NewPrometheusProvider()
	if err != nil {
		return err
	}
	if rt.recorder, err = metrics.New(mp); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              rt.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error().Err(err).Str("addr", srv.Addr).Msg("metrics server failed")
		}
	}()
	rt.logger.Info().Str("addr", srv.Addr).Msg("serving metrics")

	rt.shutdown = append(rt.shutdown, srv.Shutdown, mp.Shutdown)
	return nil
}

func (rt *runtime) component(name string) core.Logger {
	return vmbatch.ComponentLogger(rt.logger, name)
}

// sinks are the console channels of a foreground run.
func (rt *runtime) sinks() watcher.Sinks {
	return watcher.ConsoleSinks(rt.out, rt.errOut, rt.verbose > 0)
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, fn := range rt.shutdown {
		if err := fn(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("shutdown failed")
		}
	}
}
