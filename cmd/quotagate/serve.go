package main

import (
	"context"
	"net"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/quotagate/config"
	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/metrics"
	"github.com/vinayprograms/quotagate/ratelimit"
	"github.com/vinayprograms/quotagate/server"
	"github.com/vinayprograms/quotagate/shutdown"
	"github.com/vinayprograms/quotagate/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP server",
		Long: `Run the admin HTTP server.

Routes: GET /healthz, GET /status, GET /status/{service},
POST /reset/{service}, GET /metrics. SIGINT or SIGTERM shuts down
the listener, then the engine, then trace export.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return a.serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context, cfg *config.Root) error {
	log := a.newLogger(cfg)

	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout:         cfg.Server.ShutdownTimeout(),
		ContinueOnError: true,
		Logger:          log,
	})
	coord.RegisterFuncWithPhase("logger", func(context.Context) error {
		_ = log.Sync()
		return nil
	}, shutdown.PhaseFlush)

	tracer := telemetry.GetTracer()
	if pc := cfg.Telemetry.ProviderConfig(a.version); pc.Enabled() {
		provider, err := telemetry.InitProvider(ctx, pc)
		if err != nil {
			return errors.Wrap(err, "starting trace export")
		}
		tracer = provider.Tracer()
		coord.RegisterFuncWithPhase("telemetry", provider.Shutdown, shutdown.PhaseFlush)
		log.Info("trace_export_enabled", map[string]interface{}{
			"endpoint": pc.Endpoint,
			"protocol": pc.Protocol,
		})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	e, err := a.newEngine(cfg,
		ratelimit.WithLogger(log),
		ratelimit.WithObserver(m),
		ratelimit.WithTracer(tracer),
	)
	if err != nil {
		return err
	}
	reg.MustRegister(metrics.NewStatusCollector(e))
	coord.RegisterFuncWithPhase("engine", func(context.Context) error {
		return e.Close()
	}, shutdown.PhaseEngine)

	opts := []server.Option{
		server.WithLogger(log),
		server.WithMetrics(m, reg),
		server.WithResetLimit(cfg.Server.ResetPerMinute),
		server.WithReadTimeout(cfg.Server.ReadTimeout()),
		server.WithVersion(a.version),
	}
	if cfg.Server.AccessLog {
		opts = append(opts, server.WithAccessLog(a.accessLogger(cfg)))
	}
	srv := server.New(e, opts...)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		_ = coord.ShutdownWithTimeout(0)
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "listening on "+cfg.Server.Addr)
	}
	coord.RegisterFuncWithPhase("http", srv.Shutdown, shutdown.PhaseListeners)
	if a.onListen != nil {
		a.onListen(ln.Addr().String())
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	coord.HandleSignals()

	select {
	case err := <-serveErr:
		_ = coord.ShutdownWithTimeout(0)
		return err
	case <-ctx.Done():
		_ = coord.ShutdownWithTimeout(0)
	case <-coord.Done():
	}
	<-coord.Done()
	if err := <-serveErr; err != nil {
		return err
	}
	return coord.Err()
}

// accessLogger builds the zerolog writer for per-request lines.
func (a *app) accessLogger(cfg *config.Root) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(a.errOut).With().Timestamp().Str("component", "access").Logger().Level(lvl)
}
