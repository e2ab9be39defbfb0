package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bernsmp/zed-seo-tool/internal/cost"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/semrush"
	slackbot "github.com/bernsmp/zed-seo-tool/internal/integrations/slack"
	"github.com/bernsmp/zed-seo-tool/internal/runner"
	"github.com/bernsmp/zed-seo-tool/internal/storage/sqlite"
)

const defaultRunnerSchedule = "*/5 * * * *"

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) estimateCmd() *cobra.Command {
	var clientID, task, file string
	var count, semrushLimit int
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate calls, tokens, cost and minutes before running a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobType, err := domain.ParseJobType(task)
			if err != nil {
				return err
			}
			items := count
			if items == 0 && file == "" {
				items = semrushLimit
			}
			if file != "" {
				kws, err := readKeywordsFile(file)
				if err != nil {
					return err
				}
				kws, _ = domain.DedupeKeywords(kws)
				items = len(kws)
			}
			urls := 0
			if clientID != "" {
				p, err := profileStore(c.cfg).LoadProfile(clientID)
				if err != nil {
					return err
				}
				urls = len(p.URLInventory)
				if jobType == domain.JobMapping && urls > c.cfg.MappingMaxURLs {
					urls = c.cfg.MappingMaxURLs
				}
			}
			if jobType == domain.JobBriefs {
				items = cost.EstimateClusters(items)
			}
			est := cost.TableFromConfig(c.cfg).Estimate(estimateInput(c.cfg, jobType, items, urls))
			est.SemrushUnits = semrush.EstimateUnits(semrushLimit)
			return printJSON(cmd, est)
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "Client id (adds the URL inventory to mapping and brief estimates)")
	cmd.Flags().StringVarP(&task, "task", "t", "classification", "classification, mapping, clusters or briefs")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Keywords file (.txt or .csv, - for stdin)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of keywords when no file is given")
	cmd.Flags().IntVar(&semrushLimit, "semrush-limit", 0, "Add the API units of a SEMrush pull of this many keywords")
	return cmd
}

type jobCommand struct {
	use           string
	short         string
	jobType       domain.JobType
	needsKeywords bool
}

func (c *cli) jobCmd(def jobCommand) *cobra.Command {
	var clientID, file, jobID string
	var fresh, quiet bool
	cmd := &cobra.Command{
		Use:   def.use,
		Short: def.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in runner.Input
			in.Fresh = fresh
			if def.needsKeywords {
				if file == "" {
					return errors.New("--file is required")
				}
				kws, err := readKeywordsFile(file)
				if err != nil {
					return err
				}
				in.Keywords = kws
			}
			input, err := json.Marshal(in)
			if err != nil {
				return err
			}
			if jobID == "" {
				jobID = uuid.NewString()
			}

			ctx, stop := signalContext()
			defer stop()
			s, err := openServices(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			progress := newBatchProgress(def.use, quiet)
			exec := &runner.Executor{
				Pipeline:  s.pipeline,
				Profiles:  s.profiles,
				OutputDir: c.cfg.OutputDir,
				Progress:  progress.Update,
			}
			summary, err := exec.Execute(ctx, sqlite.QueuedJob{ID: jobID, ClientID: clientID, JobType: def.jobType, Input: input})
			progress.Stop()

			out := cmd.OutOrStdout()
			if summary.JobID != "" {
				fmt.Fprintln(out, summary.String())
			}
			if err != nil {
				if ctx.Err() != nil {
					fmt.Fprintln(out, "Interrupted. Run the same command again to resume from the last checkpoint.")
				}
				return err
			}
			fmt.Fprintf(out, "Results: %s\n", runner.OutputPath(c.cfg.OutputDir, summary.ClientID, def.jobType, jobID))
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "Client id")
	cmd.MarkFlagRequired("client")
	if def.needsKeywords {
		cmd.Flags().StringVarP(&file, "file", "f", "", "Keywords file (.txt or .csv, - for stdin)")
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "Job id (default: random)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore any checkpoint and start over")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress spinner")
	return cmd
}

func (c *cli) enqueueCmd() *cobra.Command {
	var clientID, task, file string
	var fresh bool
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a job for the serve runner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobType, err := domain.ParseJobType(task)
			if err != nil {
				return err
			}
			p, err := profileStore(c.cfg).LoadProfile(clientID)
			if err != nil {
				return err
			}
			in := runner.Input{Fresh: fresh}
			if jobType == domain.JobClassification || jobType == domain.JobMapping {
				if file == "" {
					return fmt.Errorf("--file is required for %s jobs", jobType)
				}
				if in.Keywords, err = readKeywordsFile(file); err != nil {
					return err
				}
			}

			s, err := openStores(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			job, err := s.db.EnqueueJob(cmd.Context(), p.ClientID, jobType, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s for %s (%d keywords)\n", jobType, job.ID, p.ClientID, len(in.Keywords))
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "Client id")
	cmd.MarkFlagRequired("client")
	cmd.Flags().StringVarP(&task, "task", "t", "classification", "classification, mapping, clusters or briefs")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Keywords file (.txt or .csv, - for stdin)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore any checkpoint and start over")
	return cmd
}

func (c *cli) jobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect the job queue"}

	var clientID string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStores(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			jobs, err := s.db.ListJobs(cmd.Context(), clientID, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCLIENT\tTYPE\tSTATUS\tATTEMPTS\tUPDATED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", j.ID, j.ClientID, j.JobType, j.Status, j.Attempts, j.UpdatedAt.Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&clientID, "client", "", "Only this client")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum jobs to list")

	show := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its summary or error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStores(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			job, err := s.db.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			job.Input = nil
			return printJSON(cmd, job)
		},
	}

	requeue := &cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Put a failed job back in the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStores(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.db.Requeue(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, requeue)
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run queued jobs on the runner schedule and expose /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			s, err := openServices(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if c.cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", s.metrics.Handler())
				srv := &http.Server{Addr: c.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					log.Printf("Metrics listening on %s", c.cfg.MetricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Printf("metrics server error: %v", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
			}

			exec := &runner.Executor{Pipeline: s.pipeline, Profiles: s.profiles, OutputDir: c.cfg.OutputDir}
			var notifier runner.Notifier
			if n := slackbot.NewNotifier(c.cfg); n != nil {
				notifier = n
			}
			r := runner.New(s.db, exec, notifier, c.cfg.RunnerMaxConcurrentJobs)

			schedule := c.cfg.RunnerSchedule
			if schedule == "" {
				schedule = defaultRunnerSchedule
			}
			return r.Run(ctx, schedule, c.cfg.Location)
		},
	}
}

func (c *cli) profileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Client profiles"}

	var clientID string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print a client profile as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profileStore(c.cfg).LoadProfile(clientID)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(p)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	show.Flags().StringVar(&clientID, "client", "", "Client id")
	show.MarkFlagRequired("client")

	list := &cobra.Command{
		Use:   "list",
		Short: "List client ids with a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := profileStore(c.cfg).ListClients()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	var importFile string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Store a profile from a YAML or JSON file under its client id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(importFile)
			if err != nil {
				return err
			}
			var p domain.ClientProfile
			if err := yaml.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("parse %s: %w", importFile, err)
			}
			if err := profileStore(c.cfg).SaveProfile(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved profile %s\n", domain.Slugify(firstNonEmpty(p.ClientID, p.DisplayName())))
			return nil
		},
	}
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "Profile file")
	importCmd.MarkFlagRequired("file")

	cmd.AddCommand(show, list, importCmd)
	return cmd
}

func (c *cli) checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "checkpoint", Short: "Inspect or clear stored job checkpoints"}

	var clientID, task string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the checkpoint of one client job type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobType, err := domain.ParseJobType(task)
			if err != nil {
				return err
			}
			s, err := openStores(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			id := domain.Slugify(clientID)
			if err := s.checkpoints.DeleteCheckpoint(cmd.Context(), id, jobType); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s checkpoint for %s\n", jobType, id)
			return nil
		},
	}
	clearCmd.Flags().StringVar(&clientID, "client", "", "Client id")
	clearCmd.MarkFlagRequired("client")
	clearCmd.Flags().StringVarP(&task, "task", "t", "classification", "classification, mapping, clusters or briefs")

	var listClient string
	list := &cobra.Command{
		Use:   "list",
		Short: "Show checkpoint progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStores(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CLIENT\tTYPE\tBATCHES\tUPDATED")
			if c.cfg.StoreDriver == "sqlite" {
				infos, err := s.db.ListCheckpoints(cmd.Context(), domain.Slugify(listClient))
				if err != nil {
					return err
				}
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n", info.ClientID, info.JobType, info.BatchesDone, info.BatchesTotal, info.UpdatedAt.Format(time.DateTime))
				}
				return w.Flush()
			}
			if listClient == "" {
				return errors.New("--client is required with the postgres store")
			}
			id := domain.Slugify(listClient)
			for _, jobType := range []domain.JobType{domain.JobClassification, domain.JobMapping, domain.JobClusters, domain.JobBriefs} {
				cp, ok, err := s.checkpoints.LoadCheckpoint(cmd.Context(), id, jobType)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n", id, jobType, cp.BatchesDone, cp.BatchesTotal, cp.UpdatedAt.Format(time.DateTime))
				}
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&listClient, "client", "", "Only this client")

	cmd.AddCommand(clearCmd, list)
	return cmd
}

func (c *cli) usageCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize logged LLM calls and their cost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStores(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			stats, err := s.db.CallStatsSince(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			table := cost.TableFromConfig(c.cfg)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tMODEL\tCALLS\tFAILED\tIN\tOUT\tCOST")
			var total float64
			for _, st := range stats {
				usd := table.Cost(st.Model, st.InputTokens, st.OutputTokens)
				total += usd
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t$%.4f\n", st.Task, st.Model, st.Calls, st.Failures, st.InputTokens, st.OutputTokens, usd)
			}
			fmt.Fprintf(w, "\t\t\t\t\t\t$%.4f\n", total)
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Look back this far")
	return cmd
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
