package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/quotagate/ratelimit"
	"github.com/vinayprograms/quotagate/telemetry"
)

// LimitedProvider runs every Chat through the rate-limit engine under one
// service identifier, so completions share its token bucket, slot cap,
// cooldown and backoff policy.
//
// Each attempt gets an llm.chat span nested under the engine's call span,
// using the engine's tracer.
type LimitedProvider struct {
	provider Provider
	name     string
	engine   *ratelimit.Engine
	service  ratelimit.Service
	opts     []ratelimit.CallOption
}

// NewLimitedProvider wraps p. Call options apply to every Chat.
func NewLimitedProvider(p Provider, engine *ratelimit.Engine, service ratelimit.Service, opts ...ratelimit.CallOption) *LimitedProvider {
	return &LimitedProvider{
		provider: p,
		engine:   engine,
		service:  service,
		opts:     opts,
	}
}

// Named sets the provider name recorded on spans ("anthropic", "openai", ...).
func (lp *LimitedProvider) Named(name string) *LimitedProvider {
	lp.name = name
	return lp
}

// Service returns the engine service this provider is paced under.
func (lp *LimitedProvider) Service() ratelimit.Service {
	return lp.service
}

// Chat implements Provider.
func (lp *LimitedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	attempt := 0
	return ratelimit.AcquireAndRun(ctx, lp.engine, lp.service, func(ctx context.Context) (*ChatResponse, error) {
		attempt++
		return lp.chat(ctx, req, attempt)
	}, lp.opts...)
}

func (lp *LimitedProvider) chat(ctx context.Context, req ChatRequest, attempt int) (*ChatResponse, error) {
	tracer := lp.engine.Tracer()
	ctx, span := tracer.StartLLMSpan(ctx, "llm.chat")

	resp, err := lp.provider.Chat(ctx, req)

	opts := telemetry.LLMSpanOptions{
		Provider: lp.name,
		Service:  string(lp.service),
		Attempt:  attempt,
	}
	if resp != nil {
		opts.Model = resp.Model
		opts.TokensIn = resp.InputTokens
		opts.TokensOut = resp.OutputTokens
		opts.Response = resp.Content
	}
	if tracer.Debug() {
		parts := make([]string, 0, len(req.Messages))
		for _, msg := range req.Messages {
			parts = append(parts, fmt.Sprintf("[%s] %s", msg.Role, msg.Content))
		}
		opts.Prompt = strings.Join(parts, "\n")
	}
	tracer.EndLLMSpan(span, opts, err)

	return resp, err
}
