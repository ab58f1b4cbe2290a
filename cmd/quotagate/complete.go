package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/quotagate/credentials"
	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/llm"
	"github.com/vinayprograms/quotagate/ratelimit"
)

type completeOptions struct {
	provider  string
	model     string
	prompt    string
	system    string
	maxTokens int
	retries   int
	timeout   time.Duration
}

// providerFactory is swapped in tests.
var providerFactory = llm.NewProvider

func newCompleteCmd(a *app) *cobra.Command {
	o := completeOptions{}
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Send one prompt through the ai-completion limits",
		Long: `Send one prompt through the ai-completion limits.

API keys come from credentials.toml ([anthropic], [openai], [google] or [llm])
or from ANTHROPIC_API_KEY, OPENAI_API_KEY and GOOGLE_API_KEY.`,
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
			log := a.newLogger(cfg)
			defer func() { _ = log.Sync() }()

			creds, path, err := credentials.Load()
			if err != nil {
				return err
			}
			if path != "" {
				log.Debug("credentials_loaded", map[string]interface{}{"path": path})
			}

			provider := strings.ToLower(strings.TrimSpace(o.provider))
			if provider == "" {
				provider = llm.InferProviderFromModel(o.model)
			}
			p, err := providerFactory(llm.ProviderConfig{
				Provider:  provider,
				Model:     o.model,
				APIKey:    creds.GetAPIKey(provider),
				BaseURL:   creds.GetBaseURL(provider),
				MaxTokens: o.maxTokens,
			})
			if err != nil {
				return err
			}

			e, err := a.newEngine(cfg, ratelimit.WithLogger(log))
			if err != nil {
				return err
			}
			defer e.Close()

			limited := llm.NewLimitedProvider(p, e, ratelimit.ServiceAICompletion,
				ratelimit.WithRetries(o.retries),
				ratelimit.WithOnRetry(func(attempt int, err error) {
					fmt.Fprintf(a.errOut, "retry %d: %v\n", attempt, err)
				}),
			).Named(provider)

			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			start := time.Now()
			resp, err := limited.Chat(ctx, llm.UserPrompt(o.system, o.prompt))
			if err != nil {
				return err
			}

			if format == "json" {
				return writeJSON(a.out, resp)
			}
			fmt.Fprintln(a.out, strings.TrimSpace(resp.Content))
			fmt.Fprintln(a.out)
			t := newTable(a.out)
			t.AppendHeader(table.Row{"Model", "Stop", "Input tokens", "Output tokens", "Elapsed"})
			t.AppendRow(table.Row{resp.Model, resp.StopReason, resp.InputTokens, resp.OutputTokens,
				time.Since(start).Round(time.Millisecond).String()})
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVarP(&o.provider, "provider", "p", "", "anthropic|openai|google (inferred from --model when empty)")
	cmd.Flags().StringVarP(&o.model, "model", "m", "", "model name")
	cmd.Flags().StringVar(&o.prompt, "prompt", "", "user prompt")
	cmd.Flags().StringVar(&o.system, "system", "", "system prompt")
	cmd.Flags().IntVar(&o.maxTokens, "max-tokens", 1024, "completion token cap")
	cmd.Flags().IntVar(&o.retries, "retries", 3, "retries after a rate limit")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 2*time.Minute, "overall deadline including retries")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("prompt")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(o.prompt) == "" {
			return errors.InvalidInput("prompt must not be empty")
		}
		return nil
	}
	return cmd
}
