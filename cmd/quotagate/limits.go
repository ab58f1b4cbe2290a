package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/quotagate/config"
	"github.com/vinayprograms/quotagate/ratelimit"
)

type limitRow struct {
	Service        string `json:"service"`
	MaxRequests    int    `json:"max_requests"`
	WindowMS       int64  `json:"window_ms"`
	MaxConcurrent  int    `json:"max_concurrent"`
	CooldownMS     int64  `json:"cooldown_ms"`
	QueueTimeoutMS int64  `json:"queue_timeout_ms"`
	UseBackoff     bool   `json:"use_backoff"`
	BackoffMS      int64  `json:"backoff_ms"`
	MaxBackoffMS   int64  `json:"max_backoff_ms"`
}

func newLimitRow(svc ratelimit.Service, c ratelimit.Config) limitRow {
	l := config.FromConfig(c)
	return limitRow{
		Service:        string(svc),
		MaxRequests:    l.MaxRequests,
		WindowMS:       l.WindowMS,
		MaxConcurrent:  l.MaxConcurrent,
		CooldownMS:     l.CooldownMS,
		QueueTimeoutMS: c.QueueTimeout().Milliseconds(),
		UseBackoff:     l.UseBackoff,
		BackoffMS:      l.BackoffMS,
		MaxBackoffMS:   l.MaxBackoffMS,
	}
}

func newLimitsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Print the effective per-service limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.outputFormat()
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			configs, err := cfg.EngineConfigs()
			if err != nil {
				return err
			}

			if format == "json" {
				rows := make([]limitRow, 0, len(configs))
				for _, svc := range ratelimit.SortedServices(configs) {
					rows = append(rows, newLimitRow(svc, configs[svc]))
				}
				return writeJSON(a.out, rows)
			}

			t := newTable(a.out)
			t.AppendHeader(table.Row{"Service", "Requests", "Window", "Concurrent", "Cooldown", "Queue timeout", "Backoff", "Max backoff"})
			for _, svc := range ratelimit.SortedServices(configs) {
				c := configs[svc]
				backoff, maxBackoff := "off", "-"
				if c.UseBackoff {
					backoff, maxBackoff = dur(c.Backoff), dur(c.MaxBackoff)
				}
				t.AppendRow(table.Row{
					string(svc),
					c.MaxRequests,
					c.Window.String(),
					concurrency(c.MaxConcurrent),
					dur(c.Cooldown),
					dur(c.QueueTimeout()),
					backoff,
					maxBackoff,
				})
			}
			t.Render()
			return nil
		},
	}
}
