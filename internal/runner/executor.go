package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/pipeline"
	"github.com/bernsmp/zed-seo-tool/internal/storage/sqlite"
)

// Input is the JSON payload stored with a queued job.
type Input struct {
	Keywords []domain.Keyword `json:"keywords,omitempty"`
	Fresh    bool             `json:"fresh,omitempty"`
}

type ProfileLoader interface {
	LoadProfile(clientID string) (domain.ClientProfile, error)
}

// Executor runs queued jobs through the pipeline and writes their results to
// OutputDir when it is set.
type Executor struct {
	Pipeline  *pipeline.Pipeline
	Profiles  ProfileLoader
	OutputDir string
	// Progress, when set, receives batch progress of every job.
	Progress func(done, total int)
}

func (e *Executor) Execute(ctx context.Context, qj sqlite.QueuedJob) (domain.Summary, error) {
	var in Input
	if len(qj.Input) > 0 {
		if err := json.Unmarshal(qj.Input, &in); err != nil {
			return domain.Summary{}, fmt.Errorf("decode input for job %s: %w", qj.ID, err)
		}
	}
	profile, err := e.Profiles.LoadProfile(qj.ClientID)
	if err != nil {
		return domain.Summary{}, err
	}
	job := pipeline.Job{ID: qj.ID, ClientID: profile.ClientID, Profile: profile, Fresh: in.Fresh, Progress: e.Progress}

	var (
		summary domain.Summary
		result  any
	)
	switch qj.JobType {
	case domain.JobClassification:
		out, runErr := e.Pipeline.Classify(ctx, job, in.Keywords)
		summary, result, err = out.Summary, out, runErr
	case domain.JobMapping:
		out, runErr := e.Pipeline.Map(ctx, job, in.Keywords)
		summary, result, err = out.Summary, out, runErr
	case domain.JobClusters:
		out, runErr := e.Pipeline.RunClusters(ctx, job)
		summary, result, err = out.Summary, out, runErr
	case domain.JobBriefs:
		out, runErr := e.Pipeline.RunBriefs(ctx, job)
		summary, result, err = out.Briefs.Summary, out, runErr
	default:
		return domain.Summary{}, fmt.Errorf("job %s: unsupported job type %q", qj.ID, qj.JobType)
	}
	if summary.JobID == "" {
		summary.JobID, summary.ClientID, summary.JobType = job.ID, job.ClientID, qj.JobType
	}
	if err != nil {
		return summary, err
	}

	if e.OutputDir != "" {
		path, writeErr := WriteOutput(e.OutputDir, job.ClientID, qj.JobType, job.ID, result)
		if writeErr != nil {
			return summary, writeErr
		}
		log.Printf("runner results written job=%s path=%s", job.ID, path)
	}
	return summary, nil
}

func OutputPath(dir, clientID string, jobType domain.JobType, jobID string) string {
	return filepath.Join(dir, clientID, fmt.Sprintf("%s-%s.json", jobType, jobID))
}

// WriteOutput saves v as indented JSON at OutputPath.
func WriteOutput(dir, clientID string, jobType domain.JobType, jobID string, v any) (string, error) {
	path := OutputPath(dir, clientID, jobType, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s results: %w", jobType, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
