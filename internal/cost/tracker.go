package cost

import (
	"sync"
	"time"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

type CallCost struct {
	Timestamp    time.Time `json:"timestamp"`
	Task         string    `json:"task"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
}

type TrackerSummary struct {
	TotalCalls        int     `json:"total_calls"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
}

// Tracker accumulates the actual spend of one job.
type Tracker struct {
	table Table
	now   func() time.Time

	mu    sync.Mutex
	calls []CallCost
	usage domain.LLMUsage
	total float64
}

func NewTracker(table Table) *Tracker {
	return &Tracker{table: table, now: time.Now}
}

func (t *Tracker) Record(task, model string, usage domain.LLMUsage) CallCost {
	entry := CallCost{
		Timestamp:    t.now(),
		Task:         task,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      round(t.table.Cost(model, usage.InputTokens, usage.OutputTokens), 6),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, entry)
	t.usage.Add(usage)
	t.total += entry.CostUSD
	return entry
}

func (t *Tracker) Usage() domain.LLMUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

func (t *Tracker) Calls() []CallCost {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]CallCost(nil), t.calls...)
}

func (t *Tracker) Summary() TrackerSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerSummary{
		TotalCalls:        len(t.calls),
		TotalInputTokens:  t.usage.InputTokens,
		TotalOutputTokens: t.usage.OutputTokens,
		TotalCostUSD:      round(t.total, 4),
	}
}
