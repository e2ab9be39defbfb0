package pipeline

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

type sparseVec = map[int]float64

// tfidfIndex ranks earlier classifications by similarity to a batch.
type tfidfIndex struct {
	vocab map[string]int
	idf   []float64
	docs  []sparseVec
	items []domain.ClassificationResult
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func buildTFIDFIndex(items []domain.ClassificationResult) *tfidfIndex {
	idx := &tfidfIndex{vocab: make(map[string]int), items: items}
	if len(items) == 0 {
		return idx
	}

	var df []int
	idx.docs = make([]sparseVec, len(items))
	for i, item := range items {
		tf := make(map[int]int)
		for _, tok := range tokenize(item.Keyword) {
			id, ok := idx.vocab[tok]
			if !ok {
				id = len(idx.vocab)
				idx.vocab[tok] = id
				df = append(df, 0)
			}
			tf[id]++
		}
		vec := make(sparseVec, len(tf))
		for id, count := range tf {
			vec[id] = float64(count)
			df[id]++
		}
		idx.docs[i] = vec
	}

	n := float64(len(items))
	idx.idf = make([]float64, len(df))
	for i, d := range df {
		if d > 0 {
			idx.idf[i] = math.Log(n/float64(d)) + 1.0
		}
	}
	for _, vec := range idx.docs {
		for id := range vec {
			vec[id] *= idx.idf[id]
		}
	}
	return idx
}

func (idx *tfidfIndex) queryVec(texts []string) sparseVec {
	tf := make(map[int]int)
	for _, text := range texts {
		for _, tok := range tokenize(text) {
			if id, ok := idx.vocab[tok]; ok {
				tf[id]++
			}
		}
	}
	vec := make(sparseVec, len(tf))
	for id, count := range tf {
		vec[id] = float64(count) * idx.idf[id]
	}
	return vec
}

func cosineSim(a, b sparseVec) float64 {
	var dot, normA, normB float64
	for i, va := range a {
		if vb, ok := b[i]; ok {
			dot += va * vb
		}
		normA += va * va
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var anchorLabels = []domain.Label{domain.LabelKeep, domain.LabelRemove, domain.LabelUnsure}

// selectAnchors picks at most limit earlier model classifications, one per
// label, preferring the one most similar to the batch. Ties go to the higher
// confidence and then the earlier result, so the choice is deterministic.
func selectAnchors(prior []domain.ClassificationResult, batch []string, limit int) []domain.ClassificationResult {
	if limit <= 0 || len(prior) == 0 {
		return nil
	}
	var pool []domain.ClassificationResult
	for _, r := range prior {
		if r.Source == domain.SourceLLM {
			pool = append(pool, r)
		}
	}
	if len(pool) == 0 {
		return nil
	}

	idx := buildTFIDFIndex(pool)
	query := idx.queryVec(batch)
	type scored struct {
		pos   int
		score float64
	}
	ranked := make([]scored, len(pool))
	for i, doc := range idx.docs {
		ranked[i] = scored{pos: i, score: cosineSim(query, doc)}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return pool[ranked[a].pos].Confidence > pool[ranked[b].pos].Confidence
	})

	var out []domain.ClassificationResult
	for _, label := range anchorLabels {
		if len(out) >= limit {
			break
		}
		for _, r := range ranked {
			if pool[r.pos].Label == label {
				out = append(out, pool[r.pos])
				break
			}
		}
	}
	return out
}
