package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/ratelimit"
)

type simulateOptions struct {
	service   string
	items     int
	every     int
	work      time.Duration
	batchSize int
	delay     time.Duration
	retries   int
}

type simulateRow struct {
	Item    int    `json:"item"`
	Success bool   `json:"success"`
	Elapsed string `json:"elapsed"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

type simulateReport struct {
	Service   string        `json:"service"`
	Items     int           `json:"items"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Attempts  int64         `json:"attempts"`
	Retries   int64         `json:"retries"`
	Elapsed   string        `json:"elapsed"`
	Results   []simulateRow `json:"results"`
}

func newSimulateCmd(a *app) *cobra.Command {
	o := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a synthetic batch through one service's limits",
		Long: `Run a synthetic batch through one service's limits.

Every --rate-limit-every'th attempt fails with RATE_LIMITED so the retry
path can be observed. Services without backoff surface those failures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.outputFormat()
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			svc, err := service(cfg, o.service)
			if err != nil {
				return err
			}
			log := a.newLogger(cfg)
			defer func() { _ = log.Sync() }()

			e, err := a.newEngine(cfg, ratelimit.WithLogger(log))
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := simulate(cmd.Context(), e, svc, o)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(a.out, report)
			}
			renderSimulation(a, report)
			return nil
		},
	}
	cmd.Flags().StringVarP(&o.service, "service", "s", string(ratelimit.ServiceFeedFetch), "service to exercise")
	cmd.Flags().IntVarP(&o.items, "items", "n", 20, "number of batch items")
	cmd.Flags().IntVar(&o.every, "rate-limit-every", 0, "fail every k-th attempt with RATE_LIMITED (0 disables)")
	cmd.Flags().DurationVar(&o.work, "work", 10*time.Millisecond, "simulated duration of one call")
	cmd.Flags().IntVar(&o.batchSize, "batch-size", 0, "items per chunk (default from the service's limits)")
	cmd.Flags().DurationVar(&o.delay, "delay", -1, "pause between chunks (default from the service's limits)")
	cmd.Flags().IntVar(&o.retries, "retries", 3, "retries per item")
	return cmd
}

// simulate runs o.items synthetic calls through RunBatch.
func simulate(ctx context.Context, e *ratelimit.Engine, svc ratelimit.Service, o simulateOptions) (*simulateReport, error) {
	if o.items <= 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("items must be positive, got %d", o.items))
	}
	if o.every < 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("rate-limit-every must not be negative, got %d", o.every))
	}

	var attempts, retries atomic.Int64
	items := make([]int, o.items)
	for i := range items {
		items[i] = i + 1
	}

	call := func(ctx context.Context, item int) (time.Duration, error) {
		start := time.Now()
		n := attempts.Add(1)
		if err := sleep(ctx, o.work); err != nil {
			return 0, err
		}
		if o.every > 0 && n%int64(o.every) == 0 {
			return 0, errors.RateLimited(fmt.Sprintf("synthetic 429 on attempt %d", n),
				errors.WithService(string(svc)))
		}
		return time.Since(start), nil
	}

	opts := []ratelimit.BatchOption{
		ratelimit.WithCallOptions(
			ratelimit.WithRetries(o.retries),
			ratelimit.WithOnRetry(func(int, error) { retries.Add(1) }),
		),
	}
	if o.batchSize > 0 {
		opts = append(opts, ratelimit.WithBatchSize(o.batchSize))
	}
	if o.delay >= 0 {
		opts = append(opts, ratelimit.WithBatchDelay(o.delay))
	}

	start := time.Now()
	results, err := ratelimit.RunBatch(ctx, e, svc, items, call, opts...)
	if err != nil {
		return nil, err
	}

	report := &simulateReport{
		Service: string(svc),
		Items:   o.items,
		Results: make([]simulateRow, len(results)),
	}
	for i, r := range results {
		row := simulateRow{Item: i + 1, Success: r.Success, Elapsed: r.Result.Round(time.Millisecond).String()}
		if r.Success {
			report.Succeeded++
		} else {
			report.Failed++
			row.Error = r.Err.Error()
			row.Code = errors.Code(r.Err).String()
		}
		report.Results[i] = row
	}
	report.Attempts = attempts.Load()
	report.Retries = retries.Load()
	report.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return report, nil
}

func renderSimulation(a *app, r *simulateReport) {
	t := newTable(a.out)
	t.SetTitle("Simulation: " + r.Service)
	t.AppendHeader(table.Row{"Item", "Result", "Call time", "Error"})
	for _, row := range r.Results {
		result := "ok"
		if !row.Success {
			result = row.Code
		}
		t.AppendRow(table.Row{row.Item, result, row.Elapsed, row.Error})
	}
	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d/%d ok", r.Succeeded, r.Items),
		r.Elapsed,
		fmt.Sprintf("%d attempts, %d retries", r.Attempts, r.Retries),
	})
	t.Render()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
