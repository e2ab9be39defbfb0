package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/bernsmp/zed-seo-tool/internal/config"
	"github.com/bernsmp/zed-seo-tool/internal/cost"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

// Completer is the part of the gateway the workers use.
type Completer interface {
	CallJSON(ctx context.Context, req llm.Request, accept func(raw string) error) (llm.Response, error)
	Model() string
}

// Observer receives batch outcomes and final result sources, e.g. for metrics.
type Observer interface {
	ObserveBatch(jobType domain.JobType, outcome string)
	ObserveResults(jobType domain.JobType, source domain.Source, n int)
}

type Settings struct {
	BatchSize          int
	JSONMode           bool
	AnchorExamples     int
	QCEnabled          bool
	QCFlagThreshold    int
	QCApplyCorrections bool
	QCSampleSize       int
	MappingMaxURLs     int
	ClusterMaxKeywords int
	InterBatchDelay    time.Duration
}

func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		BatchSize:          cfg.LLMBatchSize,
		JSONMode:           cfg.JSONMode(),
		AnchorExamples:     cfg.LLMAnchorExamples,
		QCEnabled:          cfg.QCOn(),
		QCFlagThreshold:    cfg.QCFlagThreshold,
		QCApplyCorrections: cfg.QCApplyCorrections,
		QCSampleSize:       cfg.QCSampleSize,
		MappingMaxURLs:     cfg.MappingMaxURLs,
		ClusterMaxKeywords: cfg.ClusterMaxKeywords,
		InterBatchDelay:    cfg.InterBatchDelay(),
	}
}

// Job carries everything one run needs. Nothing about a running job lives
// outside this value.
type Job struct {
	ID       string
	ClientID string
	Profile  domain.ClientProfile
	// Fresh discards any checkpoint instead of resuming from it.
	Fresh    bool
	Progress func(done, total int)
}

type Pipeline struct {
	llm      Completer
	store    CheckpointStore
	pricing  cost.Table
	settings Settings
	observer Observer
}

type Option func(*Pipeline)

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

func New(gateway Completer, store CheckpointStore, pricing cost.Table, settings Settings, opts ...Option) *Pipeline {
	if settings.BatchSize < 1 {
		settings.BatchSize = 20
	}
	if settings.QCFlagThreshold <= 0 {
		settings.QCFlagThreshold = 70
	}
	if settings.ClusterMaxKeywords < 1 {
		settings.ClusterMaxKeywords = 300
	}
	if store == nil {
		store = NewMemoryStore()
	}
	p := &Pipeline{llm: gateway, store: store, pricing: pricing, settings: settings}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Settings() Settings { return p.settings }

func (p *Pipeline) Store() CheckpointStore { return p.store }

func (p *Pipeline) observeBatch(jobType domain.JobType, outcome string) {
	if p.observer != nil {
		p.observer.ObserveBatch(jobType, outcome)
	}
}

func (p *Pipeline) observeSources(jobType domain.JobType, summary domain.Summary) {
	if p.observer == nil {
		return
	}
	p.observer.ObserveResults(jobType, domain.SourceLLM, summary.FromLLM)
	p.observer.ObserveResults(jobType, domain.SourceNegativeFilter, summary.FromFilter)
	p.observer.ObserveResults(jobType, domain.SourceDegraded, summary.Degraded())
}

// call issues one JSON call and charges its usage to tracker whether or not it succeeded.
func (p *Pipeline) call(ctx context.Context, tracker *cost.Tracker, req llm.Request, accept func(raw string) error) error {
	req.JSONMode = p.settings.JSONMode
	resp, err := p.llm.CallJSON(ctx, req, accept)
	model := resp.Model
	if model == "" {
		model = p.llm.Model()
	}
	if resp.Usage.Calls > 0 || resp.Usage.TotalTokens() > 0 {
		tracker.Record(req.Task, model, resp.Usage)
	}
	return err
}

// inputHash identifies the input a checkpoint was built from.
func inputHash(parts ...[]string) string {
	h := sha256.New()
	for _, part := range parts {
		for _, s := range part {
			h.Write([]byte(domain.KeywordKey(s)))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// resumeState loads a usable checkpoint for the job. A checkpoint built from
// different input or a different batch size, or one that does not decode, is
// deleted so the new run's saves are not held back by its batch count.
func resumeState[R any](ctx context.Context, store CheckpointStore, job Job, jobType domain.JobType, hash string, batchSize int) *Resume[R] {
	discard := func() {
		if err := store.DeleteCheckpoint(ctx, job.ClientID, jobType); err != nil {
			log.Printf("pipeline checkpoint delete error job=%s client=%s type=%s err=%v", job.ID, job.ClientID, jobType, err)
		}
	}
	if job.Fresh {
		discard()
		return nil
	}
	cp, ok, err := store.LoadCheckpoint(ctx, job.ClientID, jobType)
	if err != nil {
		log.Printf("pipeline checkpoint load error job=%s client=%s type=%s err=%v", job.ID, job.ClientID, jobType, err)
		return nil
	}
	if !ok {
		return nil
	}
	if cp.InputHash != hash || cp.BatchSize != batchSize {
		log.Printf("pipeline checkpoint discarded job=%s client=%s type=%s reason=input_changed", job.ID, job.ClientID, jobType)
		discard()
		return nil
	}
	var results []R
	if len(cp.Results) > 0 {
		if err := json.Unmarshal(cp.Results, &results); err != nil {
			log.Printf("pipeline checkpoint decode error job=%s client=%s type=%s err=%v", job.ID, job.ClientID, jobType, err)
			discard()
			return nil
		}
	}
	log.Printf("pipeline resume job=%s client=%s type=%s batches_done=%d/%d results=%d",
		job.ID, job.ClientID, jobType, cp.BatchesDone, cp.BatchesTotal, len(results))
	return &Resume[R]{BatchesDone: cp.BatchesDone, Results: results}
}

func checkpointSaver[R any](store CheckpointStore, job Job, jobType domain.JobType, hash string, batchSize int, wrap func([]R) any) func(context.Context, int, int, []R) error {
	return func(ctx context.Context, done, total int, cumulative []R) error {
		var payload any = cumulative
		if wrap != nil {
			payload = wrap(cumulative)
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		// The save must land even if the job is being cancelled.
		return store.SaveCheckpoint(context.WithoutCancel(ctx), job.ClientID, jobType, domain.Checkpoint{
			BatchesDone:  done,
			BatchesTotal: total,
			BatchSize:    batchSize,
			InputHash:    hash,
			Results:      raw,
			UpdatedAt:    time.Now().UTC(),
		})
	}
}

func (p *Pipeline) progress(job Job, jobType domain.JobType) func(done, total int) {
	return func(done, total int) {
		log.Printf("pipeline progress job=%s client=%s type=%s batch=%d/%d", job.ID, job.ClientID, jobType, done, total)
		if job.Progress != nil {
			job.Progress(done, total)
		}
	}
}

func (p *Pipeline) outcomeLogger(job Job, jobType domain.JobType) func(idx, total int, outcome string, err error) {
	return func(idx, total int, outcome string, err error) {
		p.observeBatch(jobType, outcome)
		if err != nil {
			log.Printf("pipeline batch %s job=%s client=%s type=%s batch=%d/%d err=%v", outcome, job.ID, job.ClientID, jobType, idx+1, total, err)
		}
	}
}

// LoadResults decodes the results stored in a job's checkpoint.
func LoadResults[R any](ctx context.Context, store CheckpointStore, clientID string, jobType domain.JobType) ([]R, domain.Checkpoint, bool, error) {
	cp, ok, err := store.LoadCheckpoint(ctx, clientID, jobType)
	if err != nil || !ok {
		return nil, cp, ok, err
	}
	var results []R
	if len(cp.Results) > 0 {
		if err := json.Unmarshal(cp.Results, &results); err != nil {
			return nil, cp, true, err
		}
	}
	return results, cp, true, nil
}

func keywordList(kws []string) string {
	var b strings.Builder
	for _, kw := range kws {
		b.WriteString("- ")
		b.WriteString(kw)
		b.WriteString("\n")
	}
	return b.String()
}
