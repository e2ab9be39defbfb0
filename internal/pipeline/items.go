package pipeline

import (
	"fmt"
	"log"

	"github.com/tidwall/gjson"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

var keywordFields = []string{"keyword", "kw", "term"}

// matchItems lines model items up with the batch by keyword. Items naming a
// keyword outside the batch are dropped, repeats keep the first, and batch
// keywords the model skipped or mangled come back as parse errors. When no
// item names its keyword and the counts agree, items are matched by position.
func matchItems[R any](task string, batch []string, items []gjson.Result, decode func(keyword string, item gjson.Result) (R, error), degrade func(keyword, reason string) R) []R {
	pos := make(map[string]int, len(batch))
	for i, kw := range batch {
		pos[domain.KeywordKey(kw)] = i
	}
	out := make([]R, len(batch))
	filled := make([]bool, len(batch))
	positional := len(items) == len(batch) && !anyKeyword(items)

	for i, item := range items {
		idx := -1
		if positional {
			idx = i
		} else if name := llm.Field(item, keywordFields...).String(); name != "" {
			if p, ok := pos[domain.KeywordKey(name)]; ok {
				idx = p
			} else {
				log.Printf("pipeline %s dropped unknown keyword=%q", task, name)
			}
		}
		if idx < 0 || filled[idx] {
			continue
		}
		res, err := decode(batch[idx], item)
		if err != nil {
			log.Printf("pipeline %s item parse error keyword=%q err=%v", task, batch[idx], err)
			res = degrade(batch[idx], domain.ReasonParseError)
		}
		out[idx] = res
		filled[idx] = true
	}

	missing := 0
	for i, ok := range filled {
		if !ok {
			out[i] = degrade(batch[i], domain.ReasonParseError)
			missing++
		}
	}
	if missing > 0 {
		log.Printf("pipeline %s items missing from response count=%d batch=%d", task, missing, len(batch))
	}
	return out
}

func anyKeyword(items []gjson.Result) bool {
	for _, item := range items {
		if llm.Field(item, keywordFields...).String() != "" {
			return true
		}
	}
	return false
}

func confidenceOf(item gjson.Result) (int, error) {
	v := llm.Field(item, "confidence", "score")
	n, ok := llm.Number(v)
	if !ok {
		return 0, fmt.Errorf("confidence %q is not a number", v.Raw)
	}
	return domain.ClampConfidence(n), nil
}
