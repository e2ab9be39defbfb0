package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type JobType string

const (
	JobClassification JobType = "classification"
	JobMapping        JobType = "mapping"
	JobClusters       JobType = "clusters"
	JobBriefs         JobType = "briefs"
)

func ParseJobType(s string) (JobType, error) {
	switch JobType(strings.ToLower(strings.TrimSpace(s))) {
	case JobClassification, "classify", "cleaning":
		return JobClassification, nil
	case JobMapping, "map":
		return JobMapping, nil
	case JobClusters, "cluster":
		return JobClusters, nil
	case JobBriefs, "brief":
		return JobBriefs, nil
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Checkpoint is the cumulative result set of a job after BatchesDone batches.
type Checkpoint struct {
	BatchesDone  int             `json:"batches_done"`
	BatchesTotal int             `json:"batches_total"`
	BatchSize    int             `json:"batch_size"`
	InputHash    string          `json:"input_hash"`
	Results      json.RawMessage `json:"results"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Complete reports whether every batch is saved. A run over empty input is
// saved with zero batches and counts as complete.
func (c Checkpoint) Complete() bool {
	if c.BatchesTotal == 0 {
		return c.InputHash != ""
	}
	return c.BatchesDone >= c.BatchesTotal
}

type LLMUsage struct {
	Calls                    int64 `json:"calls"`
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.Calls += other.Calls
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// Summary is reported at the end of every job.
type Summary struct {
	JobID         string         `json:"job_id"`
	ClientID      string         `json:"client_id"`
	JobType       JobType        `json:"job_type"`
	Total         int            `json:"total"`
	FromLLM       int            `json:"from_llm"`
	FromFilter    int            `json:"from_filter"`
	ParseErrors   int            `json:"parse_errors"`
	BatchFailures int            `json:"batch_failures"`
	ByLabel       map[string]int `json:"by_label,omitempty"`
	Resumed       bool           `json:"resumed,omitempty"`
	Usage         LLMUsage       `json:"usage"`
	CostUSD       float64        `json:"cost_usd"`
	QCScore       string         `json:"qc_score,omitempty"`
	Flagged       int            `json:"flagged,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

func (s Summary) Degraded() int {
	return s.ParseErrors + s.BatchFailures
}

func (s *Summary) Count(source Source, reason string) {
	s.Total++
	switch source {
	case SourceNegativeFilter:
		s.FromFilter++
	case SourceDegraded:
		if reason == ReasonBatchFailed {
			s.BatchFailures++
		} else {
			s.ParseErrors++
		}
	default:
		s.FromLLM++
	}
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s job for %s: %d results (llm=%d filter=%d parse_error=%d batch_failed=%d)",
		s.JobType, s.ClientID, s.Total, s.FromLLM, s.FromFilter, s.ParseErrors, s.BatchFailures)
	if len(s.ByLabel) > 0 {
		labels := make([]string, 0, len(s.ByLabel))
		for label := range s.ByLabel {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		parts := make([]string, 0, len(labels))
		for _, label := range labels {
			parts = append(parts, fmt.Sprintf("%s=%d", label, s.ByLabel[label]))
		}
		fmt.Fprintf(&b, " labels[%s]", strings.Join(parts, " "))
	}
	if s.QCScore != "" {
		fmt.Fprintf(&b, " qc=%s flagged=%d", s.QCScore, s.Flagged)
	}
	fmt.Fprintf(&b, " tokens=%d cost=$%.4f", s.Usage.TotalTokens(), s.CostUSD)
	if s.Resumed {
		b.WriteString(" (resumed)")
	}
	return b.String()
}
