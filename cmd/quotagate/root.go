package main

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/quotagate/config"
	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/logging"
	"github.com/vinayprograms/quotagate/ratelimit"
)

// app carries what every subcommand shares.
type app struct {
	out     io.Writer
	errOut  io.Writer
	version string
	commit  string

	cfgPath string
	format  string

	// onListen reports the bound admin address once serve is listening.
	onListen func(addr string)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "quotagate",
		Short:         "Per-service rate limiting, queuing and retry",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       a.version + " (" + a.commit + ")",
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "config file (.toml, .yaml); built-in limits when empty")
	root.PersistentFlags().StringVarP(&a.format, "output", "o", "table", "output format: table|json")

	root.AddCommand(
		newLimitsCmd(a),
		newStatusCmd(a),
		newServeCmd(a),
		newSimulateCmd(a),
		newCompleteCmd(a),
	)
	return root
}

// loadConfig reads --config, or the defaults plus environment overrides.
func (a *app) loadConfig() (*config.Root, error) {
	if a.cfgPath != "" {
		return config.Load(a.cfgPath)
	}
	cfg := config.Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// outputFormat validates --output.
func (a *app) outputFormat() (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(a.format)); f {
	case "table", "json":
		return f, nil
	default:
		return "", errors.InvalidInput("unsupported output format: " + a.format)
	}
}

// newLogger builds the process logger for cfg. Logs go to stderr so table
// and JSON output on stdout stay clean.
func (a *app) newLogger(cfg *config.Root) *logging.Logger {
	if cfg.Logging.Format == "json" {
		return logging.NewJSON(a.errOut, cfg.LogLevel())
	}
	log := logging.New()
	log.SetLevel(cfg.LogLevel())
	return log
}

// newEngine builds an engine over cfg's limits.
func (a *app) newEngine(cfg *config.Root, opts ...ratelimit.EngineOption) (*ratelimit.Engine, error) {
	configs, err := cfg.EngineConfigs()
	if err != nil {
		return nil, err
	}
	return ratelimit.NewEngine(configs, opts...)
}

// service resolves a --service flag against the configured limits.
func service(cfg *config.Root, name string) (ratelimit.Service, error) {
	configs, err := cfg.EngineConfigs()
	if err != nil {
		return "", err
	}
	svc := ratelimit.Service(strings.TrimSpace(name))
	if _, ok := configs[svc]; !ok {
		return "", errors.NotFound("unknown service "+string(svc), errors.WithService(string(svc)))
	}
	return svc, nil
}
