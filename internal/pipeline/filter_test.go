package pipeline

import (
	"testing"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

func TestFilterNegatives(t *testing.T) {
	kws := keywords("Cheap Implants", "implants austin", "dentist jobs near me", "FREE cheap cleaning")
	removed, pass := FilterNegatives(kws, []string{" free ", "cheap", "Jobs", "CHEAP", ""})

	if len(pass) != 1 || pass[0].Text != "implants austin" {
		t.Fatalf("unexpected pass-through: %+v", pass)
	}
	want := map[string]string{
		"Cheap Implants":       "Matched negative keyword: cheap",
		"dentist jobs near me": "Matched negative keyword: Jobs",
		"FREE cheap cleaning":  "Matched negative keyword: cheap",
	}
	if len(removed) != len(want) {
		t.Fatalf("expected %d removed, got %d", len(want), len(removed))
	}
	for _, r := range removed {
		if r.Reason != want[r.Keyword] {
			t.Fatalf("keyword %q: expected reason %q, got %q", r.Keyword, want[r.Keyword], r.Reason)
		}
		if r.Label != domain.LabelRemove || r.Confidence != 100 || r.Source != domain.SourceNegativeFilter {
			t.Fatalf("unexpected removed result: %+v", r)
		}
	}
}

func TestFilterNegativesDeterministic(t *testing.T) {
	kws := keywords("free cheap whitening", "whitening austin")
	first, _ := FilterNegatives(kws, []string{"free", "cheap"})
	for i := 0; i < 20; i++ {
		again, _ := FilterNegatives(kws, []string{"cheap", "free"})
		if len(again) != 1 || again[0] != first[0] {
			t.Fatalf("run %d: filter output changed: %+v vs %+v", i, again, first)
		}
	}
}

func TestFilterNegativesEmptyList(t *testing.T) {
	kws := keywords("a", "b")
	removed, pass := FilterNegatives(kws, nil)
	if len(removed) != 0 || len(pass) != 2 {
		t.Fatalf("expected everything to pass, got removed=%d pass=%d", len(removed), len(pass))
	}
}
