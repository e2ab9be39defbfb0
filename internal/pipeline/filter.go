package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

// FilterNegatives splits keywords into those containing a negative term
// (case-insensitive substring) and those that go on to the model. Terms are
// tried in sorted order so the reported term is stable.
func FilterNegatives(keywords []domain.Keyword, negatives []string) (removed []domain.ClassificationResult, pass []domain.Keyword) {
	terms := normalizeTerms(negatives)
	pass = make([]domain.Keyword, 0, len(keywords))
	for _, kw := range keywords {
		text := strings.ToLower(kw.Text)
		matched := ""
		for _, term := range terms {
			if strings.Contains(text, term.folded) {
				matched = term.original
				break
			}
		}
		if matched == "" {
			pass = append(pass, kw)
			continue
		}
		removed = append(removed, domain.ClassificationResult{
			Keyword:    kw.Text,
			Label:      domain.LabelRemove,
			Confidence: 100,
			Reason:     fmt.Sprintf("Matched negative keyword: %s", matched),
			Source:     domain.SourceNegativeFilter,
		})
	}
	return removed, pass
}

type negativeTerm struct {
	original string
	folded   string
}

func normalizeTerms(negatives []string) []negativeTerm {
	seen := make(map[string]bool, len(negatives))
	terms := make([]negativeTerm, 0, len(negatives))
	for _, n := range negatives {
		original := strings.TrimSpace(n)
		folded := strings.ToLower(original)
		if folded == "" || seen[folded] {
			continue
		}
		seen[folded] = true
		terms = append(terms, negativeTerm{original: original, folded: folded})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].folded < terms[j].folded })
	return terms
}
