package app

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/bernsmp/zed-seo-tool/internal/config"
	"github.com/bernsmp/zed-seo-tool/internal/cost"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/httpx"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
	"github.com/bernsmp/zed-seo-tool/internal/metrics"
	"github.com/bernsmp/zed-seo-tool/internal/pipeline"
	"github.com/bernsmp/zed-seo-tool/internal/profile"
	"github.com/bernsmp/zed-seo-tool/internal/storage/postgres"
	"github.com/bernsmp/zed-seo-tool/internal/storage/sqlite"
)

// services is everything a command needs, built once per invocation.
type services struct {
	cfg         config.Config
	db          *sqlite.Store
	checkpoints pipeline.CheckpointStore
	profiles    *profile.FileStore
	metrics     *metrics.Metrics
	pipeline    *pipeline.Pipeline
	gateway     *llm.Gateway

	closers []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores opens the sqlite database (job queue and call log) and the
// checkpoint store selected by store_driver.
func openStores(ctx context.Context, cfg config.Config) (*services, error) {
	s := &services{cfg: cfg, profiles: profileStore(cfg)}

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	s.db = db
	s.closers = append(s.closers, func() { db.Close() })
	s.checkpoints = db

	if cfg.StoreDriver == "postgres" {
		pg, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, pg.Close)
		if err := pg.RunMigrations(cfg.PostgresURL); err != nil {
			s.Close()
			return nil, err
		}
		log.Printf("Checkpoints stored in postgres")
		s.checkpoints = pg
	}
	return s, nil
}

// openServices adds the LLM gateway, metrics and pipeline on top of the stores.
func openServices(ctx context.Context, cfg config.Config) (*services, error) {
	s, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider, err := newProvider(cfg, httpx.ExternalHTTPClient())
	if err != nil {
		s.Close()
		return nil, err
	}
	if cfg.LLMProvider == "openrouter" && cfg.OpenRouterPreflight {
		if err := llm.CheckModel(ctx, llm.NewOpenRouterCatalog(cfg.OpenRouterAPIKey), cfg.LLMModel); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.metrics = metrics.New()
	s.metrics.RegisterJobs(s.db)
	s.gateway = llm.NewGateway(provider, retryPolicy(cfg),
		llm.WithCallTimeout(cfg.CallTimeout()),
		llm.WithRecorder(s.db),
		llm.WithRecorder(s.metrics),
	)
	s.pipeline = pipeline.New(s.gateway, s.checkpoints, cost.TableFromConfig(cfg), pipeline.SettingsFromConfig(cfg),
		pipeline.WithObserver(s.metrics))
	return s, nil
}

func newProvider(cfg config.Config, client *http.Client) (llm.Provider, error) {
	switch cfg.LLMProvider {
	case "openrouter":
		return llm.NewOpenRouterProvider(cfg, client), nil
	case "openai":
		return llm.NewOpenAIProvider(cfg, client), nil
	case "anthropic":
		return llm.NewAnthropicProvider(cfg, client), nil
	}
	return nil, fmt.Errorf("unknown llm_provider %q", cfg.LLMProvider)
}

func retryPolicy(cfg config.Config) llm.RetryPolicy {
	policy := llm.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.LLMMaxAttempts
	policy.BaseDelay = cfg.RetryBaseDelay()
	policy.MaxDelay = cfg.RetryMaxDelay()
	return policy
}

func (s *services) loadJob(clientID, jobID string, fresh bool) (pipeline.Job, error) {
	p, err := s.profiles.LoadProfile(clientID)
	if err != nil {
		return pipeline.Job{}, err
	}
	return pipeline.Job{ID: jobID, ClientID: p.ClientID, Profile: p, Fresh: fresh}, nil
}

func estimateInput(cfg config.Config, task domain.JobType, items, urls int) cost.EstimateInput {
	return cost.EstimateInput{
		Task:               task,
		Items:              items,
		URLs:               urls,
		BatchSize:          cfg.LLMBatchSize,
		ClusterMaxKeywords: cfg.ClusterMaxKeywords,
		QCSampleSize:       cfg.QCSampleSize,
		IncludeQC:          cfg.QCOn(),
		Model:              cfg.LLMModel,
	}
}

func profileStore(cfg config.Config) *profile.FileStore {
	return profile.NewFileStore(cfg.ProfilesDir)
}
