package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bernsmp/zed-seo-tool/internal/cost"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

type ClassificationOutcome struct {
	Results []domain.ClassificationResult `json:"results"`
	QC      domain.QCReport               `json:"qc"`
	Summary domain.Summary                `json:"summary"`
	Costs   cost.TrackerSummary           `json:"costs"`
	// Duplicates counts inputs dropped as repeats or blanks.
	Duplicates int `json:"duplicates"`
}

// Classify labels every keyword KEEP, REMOVE or UNSURE. Keywords matching a
// negative term skip the model. Every deduplicated input keyword gets exactly
// one result, in input order, unless the job is aborted.
func (p *Pipeline) Classify(ctx context.Context, job Job, keywords []domain.Keyword) (ClassificationOutcome, error) {
	started := time.Now()
	jobType := domain.JobClassification
	kws, dupes := domain.DedupeKeywords(keywords)
	removed, pass := FilterNegatives(kws, job.Profile.NegativeKeywords)
	log.Printf("pipeline classify start job=%s client=%s keywords=%d duplicates=%d filtered=%d to_llm=%d model=%s",
		job.ID, job.ClientID, len(kws), dupes, len(removed), len(pass), p.llm.Model())

	batchSize := p.settings.BatchSize
	hash := inputHash(domain.KeywordTexts(kws), job.Profile.NegativeKeywords)
	tracker := cost.NewTracker(p.pricing)

	resume := resumeState[domain.ClassificationResult](ctx, p.store, job, jobType, hash, batchSize)
	if resume != nil {
		// The filter part is recomputed; only model results carry over.
		kept := resume.Results[:0:0]
		for _, r := range resume.Results {
			if r.Source != domain.SourceNegativeFilter {
				kept = append(kept, r)
			}
		}
		resume.Results = kept
	}

	save := checkpointSaver(p.store, job, jobType, hash, batchSize, func(c []domain.ClassificationResult) any {
		all := make([]domain.ClassificationResult, 0, len(removed)+len(c))
		return append(append(all, removed...), c...)
	})
	logOutcome := p.outcomeLogger(job, jobType)
	sched := &Scheduler[domain.Keyword, domain.ClassificationResult]{
		BatchSize: batchSize,
		Worker: func(ctx context.Context, b Batch[domain.Keyword], prior []domain.ClassificationResult) ([]domain.ClassificationResult, error) {
			return p.classifyBatch(ctx, job, tracker, b, prior)
		},
		Degrade: func(items []domain.Keyword, _ error) []domain.ClassificationResult {
			out := make([]domain.ClassificationResult, len(items))
			for i, kw := range items {
				out[i] = domain.DegradedClassification(kw.Text, domain.ReasonBatchFailed)
			}
			return out
		},
		Checkpoint: save,
		Progress:   p.progress(job, jobType),
		Outcome: func(b Batch[domain.Keyword], outcome string, err error) {
			logOutcome(b.Index, b.Total, outcome, err)
		},
		Delay: p.settings.InterBatchDelay,
	}

	llmResults, runErr := sched.Run(ctx, pass, resume)
	if runErr == nil && len(pass) == 0 {
		if err := save(ctx, 0, 0, nil); err != nil {
			runErr = fmt.Errorf("checkpoint: %w", err)
		}
	}

	out := ClassificationOutcome{Duplicates: dupes}
	out.Results = mergeClassifications(kws, removed, llmResults, runErr == nil)
	if runErr == nil {
		out.QC = p.review(ctx, job, tracker, out.Results)
	} else {
		out.QC = domain.QCReport{FlaggedKeywords: flagged(out.Results, p.settings.QCFlagThreshold)}
	}

	out.Costs = tracker.Summary()
	out.Summary = summarizeClassifications(job, out.Results, out.QC, tracker, resume != nil, time.Since(started))
	p.observeSources(jobType, out.Summary)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			log.Printf("pipeline classify interrupted job=%s client=%s results=%d", job.ID, job.ClientID, len(out.Results))
		}
		return out, fmt.Errorf("classify %s: %w", job.ClientID, runErr)
	}
	log.Printf("pipeline classify done job=%s %s", job.ID, out.Summary.String())
	return out, nil
}

func (p *Pipeline) classifyBatch(ctx context.Context, job Job, tracker *cost.Tracker, b Batch[domain.Keyword], prior []domain.ClassificationResult) ([]domain.ClassificationResult, error) {
	texts := domain.KeywordTexts(b.Items)
	anchors := selectAnchors(prior, texts, p.settings.AnchorExamples)
	system, user := buildClassifyPrompts(job.Profile, anchors, texts)
	log.Printf("llm classify model=%s items=%d batch=%d/%d anchors=%d", p.llm.Model(), len(texts), b.Index+1, b.Total, len(anchors))

	var items []gjson.Result
	err := p.call(ctx, tracker, llm.Request{Task: "classify", System: system, User: user}, func(raw string) error {
		var perr error
		items, perr = llm.ParseItems(raw, "classifications", "results", "keywords")
		return perr
	})
	if err != nil {
		return nil, err
	}
	return matchItems("classify", texts, items, decodeClassification, domain.DegradedClassification), nil
}

func decodeClassification(keyword string, item gjson.Result) (domain.ClassificationResult, error) {
	if !item.IsObject() {
		return domain.ClassificationResult{}, fmt.Errorf("item is not an object")
	}
	rawLabel := llm.Field(item, "label", "classification", "decision").String()
	label, ok := domain.ParseLabel(rawLabel)
	if !ok {
		return domain.ClassificationResult{}, fmt.Errorf("unknown label %q", rawLabel)
	}
	confidence, err := confidenceOf(item)
	if err != nil {
		return domain.ClassificationResult{}, err
	}
	return domain.ClassificationResult{
		Keyword:    keyword,
		Label:      label,
		Confidence: confidence,
		Reason:     llm.Text(llm.Field(item, "reason", "notes", "explanation")),
		Source:     domain.SourceLLM,
	}, nil
}

// mergeClassifications restores input order. With complete set, any keyword
// without a result is filled in as a parse error so coverage always holds.
func mergeClassifications(kws []domain.Keyword, removed, fromLLM []domain.ClassificationResult, complete bool) []domain.ClassificationResult {
	byKey := make(map[string]domain.ClassificationResult, len(removed)+len(fromLLM))
	for _, r := range removed {
		byKey[domain.KeywordKey(r.Keyword)] = r
	}
	for _, r := range fromLLM {
		key := domain.KeywordKey(r.Keyword)
		if _, ok := byKey[key]; !ok {
			byKey[key] = r
		}
	}
	out := make([]domain.ClassificationResult, 0, len(kws))
	for _, kw := range kws {
		r, ok := byKey[domain.KeywordKey(kw.Text)]
		if !ok {
			if !complete {
				continue
			}
			log.Printf("pipeline classify missing result keyword=%q", kw.Text)
			r = domain.DegradedClassification(kw.Text, domain.ReasonParseError)
		}
		out = append(out, r)
	}
	return out
}

func summarizeClassifications(job Job, results []domain.ClassificationResult, qc domain.QCReport, tracker *cost.Tracker, resumed bool, elapsed time.Duration) domain.Summary {
	s := domain.Summary{
		JobID:    job.ID,
		ClientID: job.ClientID,
		JobType:  domain.JobClassification,
		ByLabel:  make(map[string]int),
		Resumed:  resumed,
		Usage:    tracker.Usage(),
		CostUSD:  tracker.Summary().TotalCostUSD,
		Duration: elapsed,
	}
	for _, r := range results {
		s.Count(r.Source, r.Reason)
		s.ByLabel[string(r.Label)]++
	}
	s.QCScore = qc.ScoreText()
	s.Flagged = len(qc.FlaggedKeywords)
	return s
}
