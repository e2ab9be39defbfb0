package cost

import (
	"math"

	"github.com/bernsmp/zed-seo-tool/internal/config"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

// Table prices calls by model id. Unknown models fall back to Fallback.
type Table struct {
	Models   map[string]config.ModelPrice
	Fallback config.ModelPrice
}

func TableFromConfig(cfg config.Config) Table {
	return Table{Models: cfg.Pricing, Fallback: cfg.FallbackPrice}
}

func (t Table) Price(model string) (config.ModelPrice, bool) {
	if p, ok := t.Models[model]; ok {
		return p, true
	}
	return t.Fallback, false
}

func (t Table) Cost(model string, inputTokens, outputTokens int64) float64 {
	p, _ := t.Price(model)
	return float64(inputTokens)*p.Input/1_000_000 + float64(outputTokens)*p.Output/1_000_000
}

// Per-call token shapes, measured on haiku-class models.
const (
	profileTokens        = 800
	keywordInputTokens   = 25
	urlInputTokens       = 60
	anchorTokens         = 60
	classifyOutputTokens = 30
	mapOutputTokens      = 40
	clusterInputTokens   = 12
	clusterOutputTokens  = 20
	briefInputTokens     = 1500
	briefOutputTokens    = 1500
	qcBaseInputTokens    = 1000
	qcItemInputTokens    = 20
	qcOutputTokens       = 500
	minutesPerCall       = 0.12
)

type EstimateInput struct {
	Task  domain.JobType
	Items int
	// URLs is the inventory size used by mapping and brief prompts.
	URLs               int
	BatchSize          int
	ClusterMaxKeywords int
	QCSampleSize       int
	IncludeQC          bool
	Model              string
}

type Estimate struct {
	Model        string  `json:"model"`
	Task         string  `json:"task"`
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"est_input_tokens"`
	OutputTokens int64   `json:"est_output_tokens"`
	CostUSD      float64 `json:"est_cost_usd"`
	Minutes      float64 `json:"est_minutes"`
	PricingKnown bool    `json:"pricing_known"`
	// SemrushUnits is set when the keywords come from a SEMrush pull.
	SemrushUnits int `json:"semrush_api_units,omitempty"`
}

// Estimate predicts the token use and price of a job before it runs.
func (t Table) Estimate(in EstimateInput) Estimate {
	est := Estimate{Model: in.Model, Task: string(in.Task)}
	if in.Items <= 0 {
		_, est.PricingKnown = t.Price(in.Model)
		return est
	}
	batchSize := in.BatchSize
	if batchSize < 1 {
		batchSize = 20
	}
	batches := ceilDiv(in.Items, batchSize)

	var input, output int64
	switch in.Task {
	case domain.JobMapping:
		est.Calls = batches
		input = int64(batches*(profileTokens+in.URLs*urlInputTokens) + in.Items*keywordInputTokens)
		output = int64(in.Items * mapOutputTokens)
	case domain.JobClusters:
		chunk := in.ClusterMaxKeywords
		if chunk < 2 {
			chunk = 300
		}
		est.Calls = ceilDiv(in.Items, chunk)
		input = int64(est.Calls*profileTokens + in.Items*clusterInputTokens)
		output = int64(in.Items * clusterOutputTokens)
	case domain.JobBriefs:
		// Items counts clusters here.
		est.Calls = in.Items
		input = int64(in.Items * (briefInputTokens + profileTokens + in.URLs*urlInputTokens/4))
		output = int64(in.Items * briefOutputTokens)
	default:
		est.Calls = batches
		input = int64(batches*(profileTokens+anchorTokens*3) + in.Items*keywordInputTokens)
		output = int64(in.Items * classifyOutputTokens)
		if in.IncludeQC {
			sample := in.Items
			if in.QCSampleSize > 0 && sample > in.QCSampleSize {
				sample = in.QCSampleSize
			}
			est.Calls++
			input += int64(qcBaseInputTokens + sample*qcItemInputTokens)
			output += qcOutputTokens
		}
	}

	est.InputTokens = input
	est.OutputTokens = output
	_, est.PricingKnown = t.Price(in.Model)
	est.CostUSD = round(t.Cost(in.Model, input, output), 4)
	est.Minutes = round(float64(est.Calls)*minutesPerCall, 1)
	return est
}

// EstimateClusters guesses how many clusters a keyword set produces before clustering runs.
func EstimateClusters(keywords int) int {
	if keywords <= 0 {
		return 0
	}
	if n := keywords / 5; n > 1 {
		return n
	}
	return 1
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
