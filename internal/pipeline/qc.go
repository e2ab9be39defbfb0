package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/bernsmp/zed-seo-tool/internal/cost"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

type qcCorrection struct {
	Keyword string
	Label   domain.Label
	Reason  string
}

// flagged lists keywords whose confidence is below threshold, in result order.
func flagged(results []domain.ClassificationResult, threshold int) []string {
	out := []string{}
	for _, r := range results {
		if r.Confidence < threshold {
			out = append(out, r.Keyword)
		}
	}
	return out
}

// review runs the quality pass over a finished classification. A failed call
// never fails the job; the report just has no score.
func (p *Pipeline) review(ctx context.Context, job Job, tracker *cost.Tracker, results []domain.ClassificationResult) (report domain.QCReport) {
	report.Tips = []string{}
	defer func() {
		report.FlaggedKeywords = flagged(results, p.settings.QCFlagThreshold)
	}()
	if !p.settings.QCEnabled || len(results) == 0 {
		return report
	}

	system, user := buildQCPrompts(job.Profile, results, p.settings.QCSampleSize)
	log.Printf("llm qc model=%s results=%d", p.llm.Model(), len(results))

	var obj gjson.Result
	err := p.call(ctx, tracker, llm.Request{Task: "qc", System: system, User: user}, func(raw string) error {
		var perr error
		obj, perr = llm.ParseObject(raw)
		return perr
	})
	if err != nil {
		log.Printf("llm qc error (non-fatal) job=%s client=%s err=%v", job.ID, job.ClientID, err)
		return report
	}

	score, tips, corrections := parseQC(obj)
	report.OverallScore = score
	report.Tips = tips
	if p.settings.QCApplyCorrections {
		report.Corrections = applyCorrections(results, corrections)
	}
	log.Printf("llm qc done job=%s score=%s tips=%d corrections=%d/%d", job.ID, report.ScoreText(), len(tips), report.Corrections, len(corrections))
	return report
}

func parseQC(obj gjson.Result) (*int, []string, []qcCorrection) {
	var score *int
	if n, ok := llm.Number(llm.Field(obj, "overall_score", "score", "quality_score")); ok {
		v := domain.ClampConfidence(n)
		score = &v
	}

	tips := []string{}
	tipsField := llm.Field(obj, "tips", "suggestions", "recommendations")
	if tipsField.IsArray() {
		for _, t := range tipsField.Array() {
			if s := strings.TrimSpace(llm.Text(t)); s != "" {
				tips = append(tips, s)
			}
		}
	} else if s := strings.TrimSpace(llm.Text(tipsField)); s != "" {
		tips = append(tips, s)
	}

	var corrections []qcCorrection
	for _, c := range llm.Field(obj, "corrections", "misclassified").Array() {
		label, ok := domain.ParseLabel(llm.Field(c, "label", "suggested_label", "correct_label").String())
		kw := llm.Field(c, keywordFields...).String()
		if !ok || kw == "" {
			continue
		}
		corrections = append(corrections, qcCorrection{
			Keyword: kw,
			Label:   label,
			Reason:  llm.Text(llm.Field(c, "reason", "notes")),
		})
	}
	return score, tips, corrections
}

// applyCorrections relabels model-sourced results in place. Filter results and
// keywords outside the set are left alone.
func applyCorrections(results []domain.ClassificationResult, corrections []qcCorrection) int {
	pos := make(map[string]int, len(results))
	for i, r := range results {
		pos[domain.KeywordKey(r.Keyword)] = i
	}
	applied := 0
	seen := make(map[int]bool)
	for _, c := range corrections {
		i, ok := pos[domain.KeywordKey(c.Keyword)]
		if !ok || seen[i] {
			continue
		}
		seen[i] = true
		r := &results[i]
		if r.Source != domain.SourceLLM || r.Label == c.Label {
			continue
		}
		log.Printf("llm qc relabel keyword=%q from=%s to=%s reason=%q", r.Keyword, r.Label, c.Label, c.Reason)
		r.Label = c.Label
		r.Reason = "QC correction: " + c.Reason
		applied++
	}
	return applied
}

// qcSample picks up to n results spread evenly across the set.
func qcSample(results []domain.ClassificationResult, n int) []domain.ClassificationResult {
	if n <= 0 || len(results) <= n {
		return results
	}
	out := make([]domain.ClassificationResult, 0, n)
	step := float64(len(results)) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, results[int(float64(i)*step)])
	}
	return out
}

func buildQCPrompts(profile domain.ClientProfile, results []domain.ClassificationResult, sampleSize int) (string, string) {
	systemPrompt := fmt.Sprintf(`You are a quality reviewer for SEO keyword classifications.

Client profile:
%s
Review the label counts and the sample below. Score the overall quality from 0 to 100,
give short actionable tips, and list keywords you are confident are mislabelled.
Return an empty corrections array if the labels look right.

Respond with JSON only (no markdown):
{"overall_score": 85, "tips": ["..."], "corrections": [{"keyword": "...", "label": "REMOVE", "reason": "..."}]}`, profileBlock(profile))

	counts := map[domain.Label]int{}
	for _, r := range results {
		counts[r.Label]++
	}
	var ub strings.Builder
	fmt.Fprintf(&ub, "Totals: %d keywords, KEEP=%d REMOVE=%d UNSURE=%d\n\nSample (keyword | label | confidence | source | reason):\n",
		len(results), counts[domain.LabelKeep], counts[domain.LabelRemove], counts[domain.LabelUnsure])
	for _, r := range qcSample(results, sampleSize) {
		fmt.Fprintf(&ub, "- %s | %s | %d | %s | %s\n", r.Keyword, r.Label, r.Confidence, r.Source, r.Reason)
	}
	return systemPrompt, ub.String()
}
