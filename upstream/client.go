// Package upstream is the HTTP collaborator used for platform posting and feed
// fetching. Every request runs under the rate-limit engine for its service;
// non-2xx responses become structured errors so a 429 is retried with backoff
// and everything else surfaces on first occurrence.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/vinayprograms/quotagate/credentials"
	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/logging"
	"github.com/vinayprograms/quotagate/ratelimit"
	"github.com/vinayprograms/quotagate/telemetry"
)

// DefaultMaxBody bounds how much of a response body is read.
const DefaultMaxBody = 4 << 20

// RequestFunc builds a fresh request for one attempt. It is called again on
// every retry so request bodies are never reused.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Response is a successful upstream reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client sends HTTP requests through a ratelimit.Engine.
type Client struct {
	engine    *ratelimit.Engine
	http      *http.Client
	creds     *credentials.Credentials
	tracer    *telemetry.Tracer
	logger    *logging.Logger
	callOpts  []ratelimit.CallOption
	userAgent string
	maxBody   int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCredentials attaches a bearer token per service and resolves
// relative URLs against the service's base_url.
func WithCredentials(creds *credentials.Credentials) Option {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithTracer sets the tracer used for HTTP spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.WithComponent("upstream")
		}
	}
}

// WithCallOptions sets engine call options applied to every request.
func WithCallOptions(opts ...ratelimit.CallOption) Option {
	return func(c *Client) {
		c.callOpts = append(c.callOpts, opts...)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithMaxBody bounds the bytes read from each response.
func WithMaxBody(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// New creates a client bound to engine.
func New(engine *ratelimit.Engine, opts ...Option) *Client {
	c := &Client{
		engine:    engine,
		http:      &http.Client{Timeout: 30 * time.Second},
		tracer:    telemetry.GetTracer(),
		logger:    logging.Nop(),
		userAgent: "quotagate",
		maxBody:   DefaultMaxBody,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs build through the engine for service and returns the 2xx response.
func (c *Client) Do(ctx context.Context, service ratelimit.Service, build RequestFunc, opts ...ratelimit.CallOption) (*Response, error) {
	callOpts := append(append([]ratelimit.CallOption{}, c.callOpts...), opts...)
	return ratelimit.AcquireAndRun(ctx, c.engine, service, func(ctx context.Context) (*Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "build request",
				errors.WithService(string(service)))
		}
		return c.send(ctx, service, req)
	}, callOpts...)
}

func (c *Client) send(ctx context.Context, service ratelimit.Service, req *http.Request) (*Response, error) {
	ctx, span := c.tracer.StartHTTPSpan(ctx, string(service), req.Method, req.URL.String())
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if req.Header.Get("Authorization") == "" {
		if key := c.creds.GetAPIKey(string(service)); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}
	telemetry.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		err = transportError(ctx, service, err)
		c.tracer.EndHTTPSpan(span, 0, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		err = errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "read response body",
			errors.WithService(string(service)))
		c.tracer.EndHTTPSpan(span, resp.StatusCode, err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := errors.FromHTTPStatus(resp.StatusCode, resp.Header, body, errors.WithService(string(service)))
		c.logger.Debug("upstream_error", map[string]interface{}{
			"service": string(service),
			"method":  req.Method,
			"status":  resp.StatusCode,
		})
		c.tracer.EndHTTPSpan(span, resp.StatusCode, err)
		return nil, err
	}

	c.tracer.EndHTTPSpan(span, resp.StatusCode, nil)
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func transportError(ctx context.Context, service ratelimit.Service, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "upstream request aborted", errors.WithService(string(service)))
	}
	return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "upstream request failed", errors.WithService(string(service)))
}

// GetJSON fetches target and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, service ratelimit.Service, target string, out any) error {
	url := c.resolve(service, target)
	resp, err := c.Do(ctx, service, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	return decode(service, resp.Body, out)
}

// PostJSON posts in as JSON to target and decodes the reply into out.
// A nil out discards the reply body.
func (c *Client) PostJSON(ctx context.Context, service ratelimit.Service, target string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "encode request", errors.WithService(string(service)))
	}
	url := c.resolve(service, target)
	resp, err := c.Do(ctx, service, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	return decode(service, resp.Body, out)
}

// resolve joins a path-only target onto the service's configured base URL.
func (c *Client) resolve(service ratelimit.Service, target string) string {
	if !strings.HasPrefix(target, "/") {
		return target
	}
	base := strings.TrimRight(c.creds.GetBaseURL(string(service)), "/")
	return base + target
}

func decode(service ratelimit.Service, body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUpstream, "decode response", errors.WithService(string(service)))
	}
	return nil
}
