package domain

import (
	"math"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDedupeKeywords(t *testing.T) {
	in := []Keyword{{Text: " Dentist  Austin "}, {Text: "dentist austin"}, {Text: ""}, {Text: "implants"}, {Text: "IMPLANTS"}}
	out, dropped := DedupeKeywords(in)
	if dropped != 3 {
		t.Fatalf("expected 3 dropped, got %d", dropped)
	}
	if len(out) != 2 || out[0].Text != "Dentist  Austin" || out[1].Text != "implants" {
		t.Fatalf("unexpected keywords %+v", out)
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Acme Dental":                 "acme_dental",
		"https://www.AcmeDental.com/": "acmedental_com",
		"  --  ":                      "",
		"acme_dental":                 "acme_dental",
	}
	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLabelAndJobType(t *testing.T) {
	if l, ok := ParseLabel(" keep "); !ok || l != LabelKeep {
		t.Fatalf("expected KEEP, got %q %v", l, ok)
	}
	if _, ok := ParseLabel("MAYBE"); ok {
		t.Fatal("expected MAYBE to be rejected")
	}
	for in, want := range map[string]JobType{"classify": JobClassification, "Mapping": JobMapping, "cluster": JobClusters, "brief": JobBriefs} {
		got, err := ParseJobType(in)
		if err != nil || got != want {
			t.Errorf("ParseJobType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseJobType("audit"); err == nil {
		t.Fatal("expected error for unknown job type")
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{-5, 0}, {0, 0}, {0.85, 85}, {1, 1}, {69.5, 70}, {150, 100},
		{math.NaN(), 0}, {math.Inf(1), 100}, {math.Inf(-1), 0},
	}
	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestProfileURLInventory(t *testing.T) {
	var p ClientProfile
	doc := `
client_id: acme_dental
url_inventory:
  - https://acmedental.com/implants/
  - url: https://www.acmedental.com/whitening
    title: Teeth Whitening
`
	if err := yaml.Unmarshal([]byte(doc), &p); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(p.URLInventory) != 2 || p.URLInventory[1].Title != "Teeth Whitening" {
		t.Fatalf("unexpected inventory %+v", p.URLInventory)
	}
	ref, ok := p.HasURL("http://acmedental.com/implants")
	if !ok || ref.URL != "https://acmedental.com/implants/" {
		t.Fatalf("expected implants page, got %+v %v", ref, ok)
	}
	if _, ok := p.HasURL("https://acmedental.com/veneers"); ok {
		t.Fatal("veneers is not in the inventory")
	}
	if p.DisplayName() != "acme_dental" {
		t.Fatalf("unexpected display name %q", p.DisplayName())
	}
}

func TestSummaryCountAndString(t *testing.T) {
	s := Summary{JobType: JobClassification, ClientID: "acme", ByLabel: map[string]int{"REMOVE": 1, "KEEP": 2}}
	s.Count(SourceLLM, "")
	s.Count(SourceNegativeFilter, "")
	s.Count(SourceDegraded, ReasonParseError)
	s.Count(SourceDegraded, ReasonBatchFailed)
	if s.Total != 4 || s.FromLLM != 1 || s.FromFilter != 1 || s.Degraded() != 2 {
		t.Fatalf("unexpected counts %+v", s)
	}
	s.Resumed = true
	s.Duration = time.Second
	got := s.String()
	for _, want := range []string{"4 results (llm=1 filter=1 parse_error=1 batch_failed=1)", "labels[KEEP=2 REMOVE=1]", "(resumed)"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}

func TestCheckpointCompleteAndQCScore(t *testing.T) {
	if (Checkpoint{}).Complete() {
		t.Fatal("empty checkpoint is not complete")
	}
	if !(Checkpoint{BatchesDone: 3, BatchesTotal: 3}).Complete() {
		t.Fatal("expected complete checkpoint")
	}
	if (Checkpoint{BatchesDone: 2, BatchesTotal: 3, InputHash: "h"}).Complete() {
		t.Fatal("partial checkpoint is not complete")
	}
	if !(Checkpoint{InputHash: "h", BatchSize: 10}).Complete() {
		t.Fatal("expected saved empty run to be complete")
	}
	if (QCReport{}).ScoreText() != "unavailable" {
		t.Fatal("expected unavailable score")
	}
	if !(Target{Kind: TargetBlogPost}).NeedsContent() || (Target{Kind: TargetExistingURL, URL: "u"}).NeedsContent() {
		t.Fatal("unexpected NeedsContent")
	}
}
