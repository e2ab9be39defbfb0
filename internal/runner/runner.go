package runner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/storage/sqlite"
)

const drainLimit = 100

// Queue is the job table the runner drains.
type Queue interface {
	RunnableJobs(ctx context.Context, limit int) ([]sqlite.QueuedJob, error)
	MarkRunning(ctx context.Context, id string) error
	MarkDone(ctx context.Context, id string, summary string) error
	MarkFailed(ctx context.Context, id string, jobErr error) error
}

type JobExecutor interface {
	Execute(ctx context.Context, job sqlite.QueuedJob) (domain.Summary, error)
}

type Notifier interface {
	JobFinished(summary domain.Summary, err error) error
}

// Runner executes queued jobs, several at a time, but never two jobs for the
// same client and job type at once.
type Runner struct {
	queue         Queue
	exec          JobExecutor
	notifier      Notifier
	maxConcurrent int

	mu     sync.Mutex
	active map[string]bool
}

func New(queue Queue, exec JobExecutor, notifier Notifier, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		queue:         queue,
		exec:          exec,
		notifier:      notifier,
		maxConcurrent: maxConcurrent,
		active:        make(map[string]bool),
	}
}

// Run drains the queue once right away, which picks up jobs a previous process
// left running, then again at every tick of the 5-field cron schedule until
// ctx is done.
func (r *Runner) Run(ctx context.Context, schedule string, loc *time.Location) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(schedule))
	if err != nil {
		return fmt.Errorf("invalid runner schedule %q: %w", schedule, err)
	}
	if loc == nil {
		loc = time.Local
	}
	log.Printf("runner started schedule=%q max_concurrent=%d", schedule, r.maxConcurrent)

	r.drainLogged(ctx)
	for {
		now := time.Now().In(loc)
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("runner next drain at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("runner stopped")
			return nil
		case <-timer.C:
		}
		r.drainLogged(ctx)
	}
}

func (r *Runner) drainLogged(ctx context.Context) {
	started, err := r.Drain(ctx)
	if err != nil {
		log.Printf("runner drain error: %v", err)
		return
	}
	if started > 0 {
		log.Printf("runner drain complete jobs=%d", started)
	}
}

// Drain runs every runnable job it can claim and waits for them. It returns
// the number of jobs started.
func (r *Runner) Drain(ctx context.Context) (int, error) {
	jobs, err := r.queue.RunnableJobs(ctx, drainLimit)
	if err != nil {
		return 0, fmt.Errorf("list runnable jobs: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(r.maxConcurrent)
	started := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		key := jobKey(job)
		if !r.claim(key) {
			log.Printf("runner skip job=%s client=%s type=%s: same job type already running", job.ID, job.ClientID, job.JobType)
			continue
		}
		started++
		g.Go(func() error {
			defer r.release(key)
			r.runJob(ctx, job)
			return nil
		})
	}
	return started, g.Wait()
}

func (r *Runner) runJob(ctx context.Context, job sqlite.QueuedJob) {
	if err := r.queue.MarkRunning(ctx, job.ID); err != nil {
		log.Printf("runner mark running error job=%s: %v", job.ID, err)
		return
	}
	log.Printf("runner job start job=%s client=%s type=%s attempt=%d", job.ID, job.ClientID, job.JobType, job.Attempts+1)

	summary, err := r.exec.Execute(ctx, job)
	if summary.JobID == "" {
		summary.JobID = job.ID
		summary.ClientID = job.ClientID
		summary.JobType = job.JobType
	}
	if err != nil && ctx.Err() != nil {
		// Left running; the checkpoint lets the next drain pick it up.
		log.Printf("runner job interrupted job=%s client=%s type=%s: %v", job.ID, job.ClientID, job.JobType, err)
		return
	}

	stateCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Printf("runner job failed job=%s client=%s type=%s: %v", job.ID, job.ClientID, job.JobType, err)
		if markErr := r.queue.MarkFailed(stateCtx, job.ID, err); markErr != nil {
			log.Printf("runner mark failed error job=%s: %v", job.ID, markErr)
		}
	} else {
		log.Printf("runner job done %s", summary)
		if markErr := r.queue.MarkDone(stateCtx, job.ID, summary.String()); markErr != nil {
			log.Printf("runner mark done error job=%s: %v", job.ID, markErr)
		}
	}

	if r.notifier != nil {
		if notifyErr := r.notifier.JobFinished(summary, err); notifyErr != nil {
			log.Printf("runner notify error job=%s: %v", job.ID, notifyErr)
		}
	}
}

func (r *Runner) claim(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[key] {
		return false
	}
	r.active[key] = true
	return true
}

func (r *Runner) release(key string) {
	r.mu.Lock()
	delete(r.active, key)
	r.mu.Unlock()
}

func jobKey(job sqlite.QueuedJob) string {
	return job.ClientID + "/" + string(job.JobType)
}
