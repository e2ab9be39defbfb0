package llm

import (
	"context"
	"fmt"
	"log"

	"github.com/revrost/go-openrouter"
)

// ModelCatalog lists the model ids a provider serves.
type ModelCatalog interface {
	ListModels(ctx context.Context) ([]string, error)
}

type openRouterCatalog struct {
	client *openrouter.Client
}

func NewOpenRouterCatalog(apiKey string) ModelCatalog {
	return &openRouterCatalog{client: openrouter.NewClient(apiKey)}
}

func (c *openRouterCatalog) ListModels(ctx context.Context) ([]string, error) {
	models, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// CheckModel fails fatally when the catalogue is reachable and does not list
// model. An unreachable catalogue only logs: the job's own calls will surface
// real outages through the retry policy.
func CheckModel(ctx context.Context, catalog ModelCatalog, model string) error {
	ids, err := catalog.ListModels(ctx)
	if err != nil {
		log.Printf("llm preflight skipped model=%s err=%v", model, err)
		return nil
	}
	for _, id := range ids {
		if id == model {
			log.Printf("llm preflight ok model=%s catalogue=%d", model, len(ids))
			return nil
		}
	}
	return fatalError("openrouter", 0, fmt.Errorf("model %q is not in the OpenRouter catalogue", model))
}
