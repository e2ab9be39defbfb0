package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bernsmp/zed-seo-tool/internal/cost"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

// ErrNoMapping is returned when a briefs run has no finished mapping to start from.
var ErrNoMapping = errors.New("no completed mapping results")

const briefURLLimit = 50

type BriefOutcome struct {
	Briefs  []domain.ContentBrief `json:"briefs"`
	Summary domain.Summary        `json:"summary"`
	Costs   cost.TrackerSummary   `json:"costs"`
}

// BriefsRun is the result of the full briefs flow.
type BriefsRun struct {
	Clusters ClusterOutcome `json:"clusters"`
	Briefs   BriefOutcome   `json:"briefs"`
}

// Briefs writes one brief per cluster. Every brief is checkpointed as soon as
// it is done; a failed brief is kept with its error.
func (p *Pipeline) Briefs(ctx context.Context, job Job, clusters []domain.Cluster) (BriefOutcome, error) {
	started := time.Now()
	jobType := domain.JobBriefs
	log.Printf("pipeline briefs start job=%s client=%s clusters=%d model=%s", job.ID, job.ClientID, len(clusters), p.llm.Model())

	ids := make([]string, 0, len(clusters))
	for _, c := range clusters {
		ids = append(ids, c.ID+":"+strings.Join(c.Members, "|"))
	}
	hash := inputHash(ids)
	tracker := cost.NewTracker(p.pricing)
	resume := resumeState[domain.ContentBrief](ctx, p.store, job, jobType, hash, 1)

	logOutcome := p.outcomeLogger(job, jobType)
	sched := &Scheduler[domain.Cluster, domain.ContentBrief]{
		BatchSize: 1,
		Worker: func(ctx context.Context, b Batch[domain.Cluster], _ []domain.ContentBrief) ([]domain.ContentBrief, error) {
			brief, err := p.writeBrief(ctx, job.Profile, tracker, b.Items[0])
			if err != nil {
				return nil, err
			}
			return []domain.ContentBrief{brief}, nil
		},
		Degrade: func(items []domain.Cluster, err error) []domain.ContentBrief {
			out := make([]domain.ContentBrief, len(items))
			for i, c := range items {
				out[i] = degradedBrief(c, domain.ReasonBatchFailed, err)
			}
			return out
		},
		Checkpoint: checkpointSaver[domain.ContentBrief](p.store, job, jobType, hash, 1, nil),
		Progress:   p.progress(job, jobType),
		Outcome: func(b Batch[domain.Cluster], outcome string, err error) {
			logOutcome(b.Index, b.Total, outcome, err)
		},
		Delay: p.settings.InterBatchDelay,
	}

	briefs, runErr := sched.Run(ctx, clusters, resume)
	out := BriefOutcome{Briefs: briefs, Costs: tracker.Summary()}
	out.Summary = domain.Summary{
		JobID:    job.ID,
		ClientID: job.ClientID,
		JobType:  jobType,
		Resumed:  resume != nil,
		Usage:    tracker.Usage(),
		CostUSD:  tracker.Summary().TotalCostUSD,
		Duration: time.Since(started),
	}
	for _, b := range briefs {
		switch {
		case !b.Degraded:
			out.Summary.Count(domain.SourceLLM, "")
		case strings.HasPrefix(b.Error, domain.ReasonBatchFailed):
			out.Summary.Count(domain.SourceDegraded, domain.ReasonBatchFailed)
		default:
			out.Summary.Count(domain.SourceDegraded, domain.ReasonParseError)
		}
	}
	p.observeSources(jobType, out.Summary)
	if runErr != nil {
		return out, fmt.Errorf("briefs %s: %w", job.ClientID, runErr)
	}
	log.Printf("pipeline briefs done job=%s %s", job.ID, out.Summary.String())
	return out, nil
}

func (p *Pipeline) writeBrief(ctx context.Context, profile domain.ClientProfile, tracker *cost.Tracker, cluster domain.Cluster) (domain.ContentBrief, error) {
	system, user := buildBriefPrompts(profile, cluster, briefURLLimit)
	log.Printf("llm brief model=%s cluster=%s members=%d", p.llm.Model(), cluster.ID, len(cluster.Members))

	var obj gjson.Result
	err := p.call(ctx, tracker, llm.Request{Task: "brief", System: system, User: user}, func(raw string) error {
		var perr error
		obj, perr = llm.ParseObject(raw)
		return perr
	})
	if err != nil {
		return domain.ContentBrief{}, err
	}
	brief, err := decodeBrief(cluster, obj)
	if err != nil {
		log.Printf("pipeline brief parse error cluster=%s err=%v", cluster.ID, err)
		return degradedBrief(cluster, domain.ReasonParseError, err), nil
	}
	return brief, nil
}

func decodeBrief(cluster domain.Cluster, obj gjson.Result) (domain.ContentBrief, error) {
	brief := domain.ContentBrief{
		ClusterID:        cluster.ID,
		Title:            strings.TrimSpace(llm.Text(llm.Field(obj, "title", "headline"))),
		Overview:         llm.Text(llm.Field(obj, "overview", "summary")),
		Audience:         llm.Text(llm.Field(obj, "audience", "target_audience")),
		ContentDirection: llm.Text(llm.Field(obj, "content_direction", "direction", "outline")),
		SEONotes:         llm.Text(llm.Field(obj, "seo_notes", "seo", "seo_requirements")),
		CallToAction:     llm.Text(llm.Field(obj, "call_to_action", "cta")),
	}
	if brief.Title == "" && brief.Overview == "" && brief.ContentDirection == "" {
		return domain.ContentBrief{}, fmt.Errorf("brief has no title, overview or direction")
	}
	if brief.Title == "" {
		brief.Title = cluster.Theme
	}
	return brief, nil
}

func degradedBrief(cluster domain.Cluster, reason string, err error) domain.ContentBrief {
	msg := reason
	if err != nil {
		msg = reason + ": " + err.Error()
	}
	return domain.ContentBrief{
		ClusterID: cluster.ID,
		Title:     cluster.Theme,
		Degraded:  true,
		Error:     msg,
	}
}

// RunClusters clusters the content keywords of the client's finished mapping.
func (p *Pipeline) RunClusters(ctx context.Context, job Job) (ClusterOutcome, error) {
	mappings, err := p.completedMappings(ctx, job.ClientID)
	if err != nil {
		return ClusterOutcome{}, err
	}
	return p.Cluster(ctx, job, mappings)
}

// RunBriefs loads the finished mapping for the client, clusters the keywords
// that need content and writes a brief per cluster.
func (p *Pipeline) RunBriefs(ctx context.Context, job Job) (BriefsRun, error) {
	var run BriefsRun
	mappings, err := p.completedMappings(ctx, job.ClientID)
	if err != nil {
		return run, err
	}

	clusterJob := job
	clusterJob.Progress = nil
	run.Clusters, err = p.Cluster(ctx, clusterJob, mappings)
	if err != nil {
		return run, err
	}
	if len(run.Clusters.Clusters) == 0 {
		log.Printf("pipeline briefs nothing to do job=%s client=%s", job.ID, job.ClientID)
		return run, nil
	}
	run.Briefs, err = p.Briefs(ctx, job, run.Clusters.Clusters)
	return run, err
}

func (p *Pipeline) completedMappings(ctx context.Context, clientID string) ([]domain.MappingResult, error) {
	mappings, cp, ok, err := LoadResults[domain.MappingResult](ctx, p.store, clientID, domain.JobMapping)
	if err != nil {
		return nil, fmt.Errorf("load mapping for %s: %w", clientID, err)
	}
	if !ok || !cp.Complete() {
		return nil, fmt.Errorf("%s: %w", clientID, ErrNoMapping)
	}
	return mappings, nil
}
