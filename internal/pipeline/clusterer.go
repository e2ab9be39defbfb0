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

const singletonGroup = -1

// ClusterAssignment places one keyword in a group of its chunk. Group -1 means
// the keyword forms a cluster on its own.
type ClusterAssignment struct {
	Keyword string            `json:"keyword"`
	Target  domain.TargetKind `json:"target"`
	Chunk   int               `json:"chunk"`
	Group   int               `json:"group"`
	Theme   string            `json:"theme,omitempty"`
	Primary bool              `json:"primary,omitempty"`
	Source  domain.Source     `json:"source"`
	Reason  string            `json:"reason,omitempty"`
}

type ClusterOutcome struct {
	Clusters    []domain.Cluster    `json:"clusters"`
	Assignments []ClusterAssignment `json:"assignments"`
	Summary     domain.Summary      `json:"summary"`
	Costs       cost.TrackerSummary `json:"costs"`
}

// EligibleForContent keeps the mapping results that need a new page or post,
// deduplicated, in order.
func EligibleForContent(mappings []domain.MappingResult) []domain.MappingResult {
	seen := make(map[string]bool)
	var out []domain.MappingResult
	for _, m := range mappings {
		key := domain.KeywordKey(m.Keyword)
		if !m.Target.NeedsContent() || key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// Cluster partitions the content-eligible keywords into clusters. Every
// eligible keyword lands in exactly one cluster; if the model fails for a
// chunk its keywords become singletons.
func (p *Pipeline) Cluster(ctx context.Context, job Job, mappings []domain.MappingResult) (ClusterOutcome, error) {
	started := time.Now()
	jobType := domain.JobClusters
	eligible := EligibleForContent(mappings)
	chunkSize := p.settings.ClusterMaxKeywords
	log.Printf("pipeline cluster start job=%s client=%s keywords=%d chunk=%d model=%s", job.ID, job.ClientID, len(eligible), chunkSize, p.llm.Model())

	texts := make([]string, len(eligible))
	for i, m := range eligible {
		texts[i] = m.Keyword
	}
	hash := inputHash(texts)
	tracker := cost.NewTracker(p.pricing)
	resume := resumeState[ClusterAssignment](ctx, p.store, job, jobType, hash, chunkSize)

	logOutcome := p.outcomeLogger(job, jobType)
	sched := &Scheduler[domain.MappingResult, ClusterAssignment]{
		BatchSize: chunkSize,
		Worker: func(ctx context.Context, b Batch[domain.MappingResult], _ []ClusterAssignment) ([]ClusterAssignment, error) {
			return p.clusterChunk(ctx, job.Profile, tracker, b)
		},
		Degrade: func(items []domain.MappingResult, _ error) []ClusterAssignment {
			return singletons(items, -1, domain.ReasonBatchFailed)
		},
		Checkpoint: checkpointSaver[ClusterAssignment](p.store, job, jobType, hash, chunkSize, nil),
		Progress:   p.progress(job, jobType),
		Outcome: func(b Batch[domain.MappingResult], outcome string, err error) {
			logOutcome(b.Index, b.Total, outcome, err)
		},
	}

	assignments, runErr := sched.Run(ctx, eligible, resume)
	out := ClusterOutcome{Assignments: assignments, Costs: tracker.Summary()}
	out.Clusters = BuildClusters(assignments)
	out.Summary = domain.Summary{
		JobID:    job.ID,
		ClientID: job.ClientID,
		JobType:  jobType,
		ByLabel:  map[string]int{"clusters": len(out.Clusters)},
		Resumed:  resume != nil,
		Usage:    tracker.Usage(),
		CostUSD:  tracker.Summary().TotalCostUSD,
		Duration: time.Since(started),
	}
	for _, a := range assignments {
		out.Summary.Count(a.Source, a.Reason)
	}
	p.observeSources(jobType, out.Summary)
	if runErr != nil {
		return out, fmt.Errorf("cluster %s: %w", job.ClientID, runErr)
	}
	log.Printf("pipeline cluster done job=%s clusters=%d %s", job.ID, len(out.Clusters), out.Summary.String())
	return out, nil
}

func (p *Pipeline) clusterChunk(ctx context.Context, profile domain.ClientProfile, tracker *cost.Tracker, b Batch[domain.MappingResult]) ([]ClusterAssignment, error) {
	texts := make([]string, len(b.Items))
	for i, m := range b.Items {
		texts[i] = m.Keyword
	}
	system, user := buildClusterPrompts(profile, texts)
	log.Printf("llm cluster model=%s items=%d chunk=%d/%d", p.llm.Model(), len(texts), b.Index+1, b.Total)

	var groups []gjson.Result
	err := p.call(ctx, tracker, llm.Request{Task: "cluster", System: system, User: user}, func(raw string) error {
		var perr error
		groups, perr = llm.ParseItems(raw, "clusters", "groups")
		return perr
	})
	if err != nil {
		return nil, err
	}
	return assignChunk(b.Index, b.Items, groups), nil
}

// assignChunk enforces a partition over the chunk: first assignment wins,
// unknown keywords are dropped and leftovers become singletons.
func assignChunk(chunk int, items []domain.MappingResult, groups []gjson.Result) []ClusterAssignment {
	pos := make(map[string]int, len(items))
	for i, m := range items {
		pos[domain.KeywordKey(m.Keyword)] = i
	}
	out := make([]ClusterAssignment, len(items))
	assigned := make([]bool, len(items))

	for g, group := range groups {
		theme := strings.TrimSpace(llm.Text(llm.Field(group, "theme_label", "theme", "name", "label")))
		primaryKey := domain.KeywordKey(llm.Field(group, "primary_keyword", "primary").String())
		members := llm.Field(group, "member_keywords", "keywords", "members")
		for _, member := range members.Array() {
			i, ok := pos[domain.KeywordKey(member.String())]
			if !ok {
				if member.String() != "" {
					log.Printf("pipeline cluster dropped unknown keyword=%q", member.String())
				}
				continue
			}
			if assigned[i] {
				continue
			}
			assigned[i] = true
			out[i] = ClusterAssignment{
				Keyword: items[i].Keyword,
				Target:  items[i].Target.Kind,
				Chunk:   chunk,
				Group:   g,
				Theme:   theme,
				Primary: primaryKey != "" && primaryKey == domain.KeywordKey(items[i].Keyword),
				Source:  domain.SourceLLM,
			}
		}
	}

	missing := 0
	for i, ok := range assigned {
		if !ok {
			out[i] = singletons(items[i:i+1], chunk, domain.ReasonParseError)[0]
			missing++
		}
	}
	if missing > 0 {
		log.Printf("pipeline cluster unassigned keywords=%d chunk=%d", missing, chunk+1)
	}
	return out
}

func singletons(items []domain.MappingResult, chunk int, reason string) []ClusterAssignment {
	out := make([]ClusterAssignment, len(items))
	for i, m := range items {
		out[i] = ClusterAssignment{
			Keyword: m.Keyword,
			Target:  m.Target.Kind,
			Chunk:   chunk,
			Group:   singletonGroup,
			Theme:   m.Keyword,
			Source:  domain.SourceDegraded,
			Reason:  reason,
		}
	}
	return out
}

// BuildClusters turns assignments into clusters with IDs c1, c2, ... in order
// of each cluster's first member.
func BuildClusters(assignments []ClusterAssignment) []domain.Cluster {
	type groupKey struct{ chunk, group int }
	index := make(map[groupKey]int)
	var clusters []domain.Cluster
	var newPages []int
	primarySet := make(map[int]bool)

	for _, a := range assignments {
		ci := -1
		if a.Group != singletonGroup {
			if i, ok := index[groupKey{a.Chunk, a.Group}]; ok {
				ci = i
			}
		}
		if ci < 0 {
			ci = len(clusters)
			theme := a.Theme
			if theme == "" {
				theme = a.Keyword
			}
			clusters = append(clusters, domain.Cluster{ID: fmt.Sprintf("c%d", ci+1), Theme: theme})
			newPages = append(newPages, 0)
			if a.Group != singletonGroup {
				index[groupKey{a.Chunk, a.Group}] = ci
			}
		}
		c := &clusters[ci]
		c.Members = append(c.Members, a.Keyword)
		if a.Primary && !primarySet[ci] {
			c.PrimaryKeyword = a.Keyword
			primarySet[ci] = true
		}
		if a.Target == domain.TargetNewPage {
			newPages[ci]++
		}
	}

	for i := range clusters {
		c := &clusters[i]
		if c.PrimaryKeyword == "" {
			c.PrimaryKeyword = c.Members[0]
		}
		if newPages[i]*2 >= len(c.Members) {
			c.ContentType = "service_page"
		} else {
			c.ContentType = "blog_post"
		}
	}
	return clusters
}
