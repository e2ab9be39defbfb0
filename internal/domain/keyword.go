package domain

import (
	"regexp"
	"strings"
)

type Keyword struct {
	Text      string `json:"text"`
	SourceRow string `json:"source_row,omitempty"`
}

// KeywordKey is the identity used to dedupe keywords within a job.
func KeywordKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// DedupeKeywords drops empty and repeated keywords, keeping first occurrences in order.
func DedupeKeywords(in []Keyword) (out []Keyword, dropped int) {
	seen := make(map[string]bool, len(in))
	out = make([]Keyword, 0, len(in))
	for _, kw := range in {
		kw.Text = strings.TrimSpace(kw.Text)
		key := KeywordKey(kw.Text)
		if key == "" || seen[key] {
			dropped++
			continue
		}
		seen[key] = true
		out = append(out, kw)
	}
	return out, dropped
}

func KeywordTexts(kws []Keyword) []string {
	out := make([]string, len(kws))
	for i, kw := range kws {
		out[i] = kw.Text
	}
	return out
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a client name or domain into a stable client ID.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	s = slugPattern.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
