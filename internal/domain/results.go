package domain

import (
	"fmt"
	"math"
	"strings"
)

type Label string

const (
	LabelKeep   Label = "KEEP"
	LabelRemove Label = "REMOVE"
	LabelUnsure Label = "UNSURE"
)

// ParseLabel accepts label names case-insensitively.
func ParseLabel(s string) (Label, bool) {
	switch Label(strings.ToUpper(strings.TrimSpace(s))) {
	case LabelKeep:
		return LabelKeep, true
	case LabelRemove:
		return LabelRemove, true
	case LabelUnsure:
		return LabelUnsure, true
	}
	return "", false
}

type Source string

const (
	SourceLLM            Source = "llm"
	SourceNegativeFilter Source = "negative_filter"
	SourceDegraded       Source = "degraded"
)

// Reasons attached to degraded results.
const (
	ReasonParseError  = "parse_error"
	ReasonBatchFailed = "batch_failed"
)

type ClassificationResult struct {
	Keyword    string `json:"keyword"`
	Label      Label  `json:"label"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
	Source     Source `json:"source"`
}

func DegradedClassification(keyword, reason string) ClassificationResult {
	return ClassificationResult{
		Keyword:    keyword,
		Label:      LabelUnsure,
		Confidence: 0,
		Reason:     reason,
		Source:     SourceDegraded,
	}
}

type TargetKind string

const (
	TargetExistingURL TargetKind = "EXISTING_URL"
	TargetNewPage     TargetKind = "NEW_PAGE"
	TargetBlogPost    TargetKind = "BLOG_POST"
	// TargetUnmapped only appears on degraded mapping results.
	TargetUnmapped TargetKind = "UNMAPPED"
)

type Target struct {
	Kind TargetKind `json:"kind"`
	URL  string     `json:"url,omitempty"`
}

func (t Target) String() string {
	if t.Kind == TargetExistingURL {
		return t.URL
	}
	return string(t.Kind)
}

// NeedsContent reports whether the keyword needs a new page or post, which
// makes it eligible for clustering.
func (t Target) NeedsContent() bool {
	return t.Kind == TargetNewPage || t.Kind == TargetBlogPost
}

type MappingResult struct {
	Keyword    string `json:"keyword"`
	Target     Target `json:"target"`
	Confidence int    `json:"confidence"`
	Intent     string `json:"intent,omitempty"`
	Reason     string `json:"reason"`
	Source     Source `json:"source"`
}

func DegradedMapping(keyword, reason string) MappingResult {
	return MappingResult{
		Keyword: keyword,
		Target:  Target{Kind: TargetUnmapped},
		Reason:  reason,
		Source:  SourceDegraded,
	}
}

type QCReport struct {
	// OverallScore is nil when the QC call failed or was skipped.
	OverallScore    *int     `json:"overall_score"`
	FlaggedKeywords []string `json:"flagged_keywords"`
	Tips            []string `json:"tips"`
	Corrections     int      `json:"corrections,omitempty"`
}

func (r QCReport) ScoreText() string {
	if r.OverallScore == nil {
		return "unavailable"
	}
	return fmt.Sprintf("%d/100", *r.OverallScore)
}

type Cluster struct {
	ID             string   `json:"cluster_id"`
	Theme          string   `json:"theme_label"`
	PrimaryKeyword string   `json:"primary_keyword"`
	ContentType    string   `json:"content_type"`
	Members        []string `json:"member_keywords"`
}

type ContentBrief struct {
	ClusterID        string `json:"cluster_id"`
	Title            string `json:"title"`
	Overview         string `json:"overview"`
	Audience         string `json:"audience"`
	ContentDirection string `json:"content_direction"`
	SEONotes         string `json:"seo_notes"`
	CallToAction     string `json:"call_to_action"`
	Degraded         bool   `json:"degraded,omitempty"`
	Error            string `json:"error,omitempty"`
}

// ClampConfidence rounds and bounds a model-reported confidence to [0,100].
// Fractions in (0,1) are read as probabilities.
func ClampConfidence(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	if v > 0 && v < 1 {
		v *= 100
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v + 0.5)
}
