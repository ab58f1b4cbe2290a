package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/server"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		svcName string
		remote  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bucket, slot and queue state per service",
		Long: `Show bucket, slot and queue state per service.

Without --server the snapshot comes from a fresh in-process engine, which is
useful for checking capacity after config changes. With --server it is read
from a running "quotagate serve".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.outputFormat()
			if err != nil {
				return err
			}

			var rows []server.ServiceStatus
			if remote != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				rows, err = fetchStatus(ctx, remote, svcName)
			} else {
				rows, err = a.localStatus(svcName)
			}
			if err != nil {
				return err
			}

			if format == "json" {
				return writeJSON(a.out, rows)
			}
			t := newTable(a.out)
			t.AppendHeader(table.Row{"Service", "Tokens", "In flight", "Queued", "Cooldown"})
			for _, st := range rows {
				t.AppendRow(table.Row{
					st.Service,
					fmt.Sprintf("%d/%d", st.AvailableTokens, st.MaxTokens),
					fmt.Sprintf("%d/%s", st.InFlight, concurrency(st.MaxConcurrent)),
					st.QueueLength,
					dur(time.Duration(st.CooldownMS) * time.Millisecond),
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVarP(&svcName, "service", "s", "", "only this service")
	cmd.Flags().StringVar(&remote, "server", "", "admin server base URL, e.g. http://localhost:9090")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "remote request timeout")
	return cmd
}

func (a *app) localStatus(svcName string) ([]server.ServiceStatus, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	e, err := a.newEngine(cfg)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	if svcName != "" {
		svc, err := service(cfg, svcName)
		if err != nil {
			return nil, err
		}
		st, err := e.Status(svc)
		if err != nil {
			return nil, err
		}
		return []server.ServiceStatus{server.NewServiceStatus(st)}, nil
	}

	all := e.StatusAll()
	rows := make([]server.ServiceStatus, 0, len(all))
	for _, svc := range e.Services() {
		rows = append(rows, server.NewServiceStatus(all[svc]))
	}
	return rows, nil
}

// fetchStatus reads GET /status or /status/{service} from a running server.
func fetchStatus(ctx context.Context, base, svcName string) ([]server.ServiceStatus, error) {
	url := strings.TrimRight(base, "/") + "/status"
	if svcName != "" {
		url += "/" + svcName
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "building status request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "querying "+url)
	}
	defer resp.Body.Close()

	var envelope struct {
		Status string          `json:"status"`
		Error  string          `json:"error"`
		Code   string          `json:"code"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUpstream, "decoding status response")
	}
	if resp.StatusCode != http.StatusOK {
		code := errors.ErrorCode(envelope.Code)
		if code == "" {
			code = errors.ErrCodeUpstream
		}
		return nil, errors.New(code, envelope.Error, errors.WithService(svcName))
	}

	if svcName != "" {
		var st server.ServiceStatus
		if err := json.Unmarshal(envelope.Data, &st); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeUpstream, "decoding status response")
		}
		return []server.ServiceStatus{st}, nil
	}
	var rows []server.ServiceStatus
	if err := json.Unmarshal(envelope.Data, &rows); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUpstream, "decoding status response")
	}
	return rows, nil
}
