package llm

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

type Request struct {
	// Task names the calling worker; it shows up in logs and the call log.
	Task     string
	System   string
	User     string
	JSONMode bool
}

type Response struct {
	Text     string
	Provider string
	Model    string
	Usage    domain.LLMUsage
	Attempts int
	Duration time.Duration
}

// Provider performs exactly one chat-completion round trip.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (Response, error)
}

type CallRecord struct {
	Task     string
	Provider string
	Model    string
	Attempt  int
	Usage    domain.LLMUsage
	Duration time.Duration
	Err      error
}

// Recorder observes every attempt the gateway makes.
type Recorder interface {
	RecordCall(rec CallRecord)
}

type Gateway struct {
	provider  Provider
	policy    RetryPolicy
	timeout   time.Duration
	recorders []Recorder
}

type Option func(*Gateway)

func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

func WithRecorder(r Recorder) Option {
	return func(g *Gateway) {
		if r != nil {
			g.recorders = append(g.recorders, r)
		}
	}
}

func NewGateway(provider Provider, policy RetryPolicy, opts ...Option) *Gateway {
	g := &Gateway{provider: provider, policy: policy, timeout: 2 * time.Minute}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Model() string {
	return g.provider.Model()
}

func (g *Gateway) ProviderName() string {
	return g.provider.Name()
}

// Call sends one request, retrying transient failures per the policy.
func (g *Gateway) Call(ctx context.Context, req Request) (Response, error) {
	return g.CallJSON(ctx, req, nil)
}

// CallJSON is Call plus an accept step run on every successful response.
// An accept error wrapping ErrNoJSON is retried within the same attempt budget;
// any other accept error is returned as is.
//
// Calls run on a context detached from ctx's cancellation: once issued, a call
// finishes or times out on its own. ctx still interrupts backoff sleeps.
func (g *Gateway) CallJSON(ctx context.Context, req Request, accept func(raw string) error) (Response, error) {
	var out Response
	started := time.Now()

	attempts, err := g.policy.Do(ctx, func(attempt int) error {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()

		callStart := time.Now()
		resp, callErr := g.provider.Complete(callCtx, req)
		elapsed := time.Since(callStart)
		out.Usage.Add(resp.Usage)
		out.Provider = g.provider.Name()
		out.Model = g.provider.Model()
		if resp.Model != "" {
			out.Model = resp.Model
		}

		if callErr == nil && accept != nil {
			callErr = accept(resp.Text)
		}
		g.record(CallRecord{
			Task:     req.Task,
			Provider: out.Provider,
			Model:    out.Model,
			Attempt:  attempt,
			Usage:    resp.Usage,
			Duration: elapsed,
			Err:      callErr,
		})
		if callErr != nil {
			log.Printf("llm call failed task=%s provider=%s model=%s attempt=%d/%d transient=%t err=%v",
				req.Task, out.Provider, out.Model, attempt, g.policy.MaxAttempts, IsTransient(callErr), callErr)
			return callErr
		}
		log.Printf("llm call task=%s provider=%s model=%s attempt=%d size=%d tokens_in=%d tokens_out=%d duration=%s",
			req.Task, out.Provider, out.Model, attempt, len(resp.Text), resp.Usage.InputTokens, resp.Usage.OutputTokens, elapsed.Round(time.Millisecond))
		out.Text = resp.Text
		return nil
	})
	out.Attempts = attempts
	out.Duration = time.Since(started)
	if err != nil {
		if errors.Is(err, ErrNoJSON) {
			log.Printf("llm response unusable task=%s attempts=%d", req.Task, attempts)
		}
		return out, err
	}
	return out, nil
}

func (g *Gateway) record(rec CallRecord) {
	for _, r := range g.recorders {
		r.RecordCall(rec)
	}
}
