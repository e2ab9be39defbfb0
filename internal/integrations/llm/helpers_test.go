package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

func asGatewayError(err error, target **GatewayError) bool {
	return errors.As(err, target)
}

// scriptedProvider replays canned responses and errors in order.
type scriptedProvider struct {
	mu     sync.Mutex
	steps  []scriptedStep
	calls  int
	ctxErr error
}

type scriptedStep struct {
	text string
	err  error
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "test-model" }

func (p *scriptedProvider) Complete(ctx context.Context, _ Request) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctxErr = ctx.Err()
	step := p.steps[len(p.steps)-1]
	if p.calls < len(p.steps) {
		step = p.steps[p.calls]
	}
	p.calls++
	usage := domain.LLMUsage{Calls: 1, InputTokens: 10, OutputTokens: 5}
	if step.err != nil {
		return Response{}, step.err
	}
	return Response{Text: step.text, Usage: usage}, nil
}

type countingRecorder struct {
	mu      sync.Mutex
	records []CallRecord
}

func (r *countingRecorder) RecordCall(rec CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}
