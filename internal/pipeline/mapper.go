package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bernsmp/zed-seo-tool/internal/cost"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

type MappingOutcome struct {
	Results    []domain.MappingResult `json:"results"`
	Summary    domain.Summary         `json:"summary"`
	Costs      cost.TrackerSummary    `json:"costs"`
	Duplicates int                    `json:"duplicates"`
}

// Map assigns every keyword to an inventory URL, a new page or a blog post.
func (p *Pipeline) Map(ctx context.Context, job Job, keywords []domain.Keyword) (MappingOutcome, error) {
	started := time.Now()
	jobType := domain.JobMapping
	kws, dupes := domain.DedupeKeywords(keywords)
	inventory := job.Profile.URLInventory
	if limit := p.settings.MappingMaxURLs; limit > 0 && len(inventory) > limit {
		log.Printf("pipeline map url inventory capped job=%s urls=%d limit=%d", job.ID, len(inventory), limit)
		inventory = inventory[:limit]
	}
	log.Printf("pipeline map start job=%s client=%s keywords=%d urls=%d model=%s", job.ID, job.ClientID, len(kws), len(inventory), p.llm.Model())

	urls := make([]string, len(inventory))
	for i, ref := range inventory {
		urls[i] = ref.URL
	}
	batchSize := p.settings.BatchSize
	hash := inputHash(domain.KeywordTexts(kws), urls)
	tracker := cost.NewTracker(p.pricing)
	resume := resumeState[domain.MappingResult](ctx, p.store, job, jobType, hash, batchSize)

	profile := job.Profile
	profile.URLInventory = inventory
	logOutcome := p.outcomeLogger(job, jobType)
	save := checkpointSaver[domain.MappingResult](p.store, job, jobType, hash, batchSize, nil)
	sched := &Scheduler[domain.Keyword, domain.MappingResult]{
		BatchSize: batchSize,
		Worker: func(ctx context.Context, b Batch[domain.Keyword], _ []domain.MappingResult) ([]domain.MappingResult, error) {
			return p.mapBatch(ctx, profile, tracker, b)
		},
		Degrade: func(items []domain.Keyword, _ error) []domain.MappingResult {
			out := make([]domain.MappingResult, len(items))
			for i, kw := range items {
				out[i] = domain.DegradedMapping(kw.Text, domain.ReasonBatchFailed)
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

	results, runErr := sched.Run(ctx, kws, resume)
	if runErr == nil && len(kws) == 0 {
		if err := save(ctx, 0, 0, nil); err != nil {
			runErr = fmt.Errorf("checkpoint: %w", err)
		}
	}
	out := MappingOutcome{Results: results, Duplicates: dupes, Costs: tracker.Summary()}
	out.Summary = summarizeMappings(job, results, tracker, resume != nil, time.Since(started))
	p.observeSources(jobType, out.Summary)
	if runErr != nil {
		return out, fmt.Errorf("map %s: %w", job.ClientID, runErr)
	}
	log.Printf("pipeline map done job=%s %s", job.ID, out.Summary.String())
	return out, nil
}

func (p *Pipeline) mapBatch(ctx context.Context, profile domain.ClientProfile, tracker *cost.Tracker, b Batch[domain.Keyword]) ([]domain.MappingResult, error) {
	texts := domain.KeywordTexts(b.Items)
	system, user := buildMappingPrompts(profile, 0, texts)
	log.Printf("llm map model=%s items=%d batch=%d/%d", p.llm.Model(), len(texts), b.Index+1, b.Total)

	var items []gjson.Result
	err := p.call(ctx, tracker, llm.Request{Task: "map", System: system, User: user}, func(raw string) error {
		var perr error
		items, perr = llm.ParseItems(raw, "mappings", "results", "keywords")
		return perr
	})
	if err != nil {
		return nil, err
	}
	decode := func(keyword string, item gjson.Result) (domain.MappingResult, error) {
		return decodeMapping(profile, keyword, item)
	}
	return matchItems("map", texts, items, decode, domain.DegradedMapping), nil
}

func decodeMapping(profile domain.ClientProfile, keyword string, item gjson.Result) (domain.MappingResult, error) {
	if !item.IsObject() {
		return domain.MappingResult{}, fmt.Errorf("item is not an object")
	}
	target, err := parseTarget(profile, llm.Field(item, "target", "url", "recommendation", "mapping"))
	if err != nil {
		return domain.MappingResult{}, err
	}
	confidence, err := confidenceOf(item)
	if err != nil {
		return domain.MappingResult{}, err
	}
	return domain.MappingResult{
		Keyword:    keyword,
		Target:     target,
		Confidence: confidence,
		Intent:     strings.ToLower(strings.TrimSpace(llm.Field(item, "intent").String())),
		Reason:     llm.Text(llm.Field(item, "reason", "notes", "explanation")),
		Source:     domain.SourceLLM,
	}, nil
}

// parseTarget accepts the sentinels in a few spellings, an inventory URL, or
// an object with kind and url.
func parseTarget(profile domain.ClientProfile, v gjson.Result) (domain.Target, error) {
	if v.IsObject() {
		kind := llm.Field(v, "kind", "type").String()
		if url := llm.Field(v, "url").String(); url != "" && !isSentinel(kind) {
			return targetFromString(profile, url)
		}
		return targetFromString(profile, kind)
	}
	return targetFromString(profile, v.String())
}

func targetFromString(profile domain.ClientProfile, raw string) (domain.Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Target{}, fmt.Errorf("missing target")
	}
	switch sentinel(raw) {
	case string(domain.TargetNewPage):
		return domain.Target{Kind: domain.TargetNewPage}, nil
	case string(domain.TargetBlogPost):
		return domain.Target{Kind: domain.TargetBlogPost}, nil
	}
	ref, ok := profile.HasURL(raw)
	if !ok {
		return domain.Target{}, fmt.Errorf("url %q is not in the client inventory", raw)
	}
	return domain.Target{Kind: domain.TargetExistingURL, URL: ref.URL}, nil
}

func sentinel(s string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToUpper(strings.TrimSpace(s)))
}

func isSentinel(s string) bool {
	switch sentinel(s) {
	case string(domain.TargetNewPage), string(domain.TargetBlogPost):
		return true
	}
	return false
}

func summarizeMappings(job Job, results []domain.MappingResult, tracker *cost.Tracker, resumed bool, elapsed time.Duration) domain.Summary {
	s := domain.Summary{
		JobID:    job.ID,
		ClientID: job.ClientID,
		JobType:  domain.JobMapping,
		ByLabel:  make(map[string]int),
		Resumed:  resumed,
		Usage:    tracker.Usage(),
		CostUSD:  tracker.Summary().TotalCostUSD,
		Duration: elapsed,
	}
	for _, r := range results {
		s.Count(r.Source, r.Reason)
		s.ByLabel[string(r.Target.Kind)]++
	}
	return s
}
