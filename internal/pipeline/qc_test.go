package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

func TestFlaggedThresholdBoundary(t *testing.T) {
	results := []domain.ClassificationResult{
		{Keyword: "a", Label: domain.LabelKeep, Confidence: 69, Source: domain.SourceLLM},
		{Keyword: "b", Label: domain.LabelKeep, Confidence: 70, Source: domain.SourceLLM},
		{Keyword: "c", Label: domain.LabelRemove, Confidence: 100, Source: domain.SourceNegativeFilter},
		domain.DegradedClassification("d", domain.ReasonParseError),
	}
	assert.Equal(t, []string{"a", "d"}, flagged(results, 70))
}

func TestQCReportsScoreAndFlags(t *testing.T) {
	provider := newFakeProvider(func(req llm.Request, kws []string) (string, error) {
		if req.Task == "qc" {
			return qcJSON, nil
		}
		return `[{"keyword": "implants austin", "label": "KEEP", "confidence": 69, "reason": "x"},
			{"keyword": "whitening austin", "label": "KEEP", "confidence": 70, "reason": "y"}]`, nil
	})
	p := newTestPipeline(provider, NewMemoryStore(), testSettings())

	out, err := p.Classify(context.Background(), testJob("qc-1"), keywords("implants austin", "whitening austin"))
	require.NoError(t, err)
	require.NotNil(t, out.QC.OverallScore)
	assert.Equal(t, "82/100", out.QC.ScoreText())
	assert.Equal(t, []string{"implants austin"}, out.QC.FlaggedKeywords)
	assert.Equal(t, []string{"Review UNSURE terms"}, out.QC.Tips)
	assert.Equal(t, 1, out.Summary.Flagged)
}

func TestQCFailureIsNonFatal(t *testing.T) {
	provider := newFakeProvider(func(req llm.Request, kws []string) (string, error) {
		if req.Task == "qc" {
			return "", transient()
		}
		return classifyHandler(req, kws)
	})
	p := newTestPipeline(provider, NewMemoryStore(), testSettings())

	out, err := p.Classify(context.Background(), testJob("qc-2"), keywords("implants austin", "veneers"))
	require.NoError(t, err)
	assert.Nil(t, out.QC.OverallScore)
	assert.Empty(t, out.QC.Tips)
	assert.Equal(t, "unavailable", out.Summary.QCScore)
	assert.Equal(t, []string{"veneers"}, out.QC.FlaggedKeywords)
	assert.Equal(t, 3, provider.Calls("qc"))
	assert.Len(t, out.Results, 2)
}

func TestQCDisabledSkipsCall(t *testing.T) {
	provider := newFakeProvider(classifyHandler)
	settings := testSettings()
	settings.QCEnabled = false
	p := newTestPipeline(provider, NewMemoryStore(), settings)

	out, err := p.Classify(context.Background(), testJob("qc-3"), keywords("veneers"))
	require.NoError(t, err)
	assert.Equal(t, 0, provider.Calls("qc"))
	assert.Nil(t, out.QC.OverallScore)
	assert.Equal(t, []string{"veneers"}, out.QC.FlaggedKeywords)
}

func TestQCCorrectionsOnlyTouchModelResults(t *testing.T) {
	provider := newFakeProvider(func(req llm.Request, kws []string) (string, error) {
		if req.Task == "qc" {
			return `{"overall_score": "75%", "tips": "tighten locations", "corrections": [
				{"keyword": "veneers", "label": "KEEP", "reason": "core service"},
				{"keyword": "free veneers", "label": "KEEP", "reason": "should not apply"},
				{"keyword": "not in set", "label": "REMOVE", "reason": "ignored"},
				{"keyword": "VENEERS", "label": "REMOVE", "reason": "second correction ignored"}
			]}`, nil
		}
		return classifyHandler(req, kws)
	})
	settings := testSettings()
	settings.QCApplyCorrections = true
	p := newTestPipeline(provider, NewMemoryStore(), settings)

	out, err := p.Classify(context.Background(), testJob("qc-4"), keywords("veneers", "free veneers"))
	require.NoError(t, err)
	require.Len(t, out.Results, 2)

	assert.Equal(t, domain.LabelKeep, out.Results[0].Label)
	assert.Equal(t, "QC correction: core service", out.Results[0].Reason)
	assert.Equal(t, domain.SourceLLM, out.Results[0].Source)
	assert.Equal(t, domain.LabelRemove, out.Results[1].Label)
	assert.Equal(t, 1, out.QC.Corrections)
	assert.Equal(t, 75, *out.QC.OverallScore)
	assert.Equal(t, []string{"tighten locations"}, out.QC.Tips)
}

func TestQCSampleIsEvenlySpread(t *testing.T) {
	var results []domain.ClassificationResult
	for i := 0; i < 10; i++ {
		results = append(results, domain.ClassificationResult{Keyword: string(rune('a' + i))})
	}
	sample := qcSample(results, 5)
	require.Len(t, sample, 5)
	assert.Equal(t, "a", sample[0].Keyword)
	assert.Equal(t, "c", sample[1].Keyword)
	assert.Equal(t, "i", sample[4].Keyword)
	assert.Len(t, qcSample(results, 0), 10)
}
