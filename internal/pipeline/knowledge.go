package pipeline

import (
	"sort"

	"github.com/mixelka/autoreply/pkg/models"
)

// Retriever picks knowledge entries relevant to a message
type Retriever struct {
	threshold float64
	limit     int
}

// NewRetriever creates a new knowledge retriever
func NewRetriever(threshold float64, limit int) *Retriever {
	if limit < 1 {
		limit = 3
	}
	return &Retriever{threshold: threshold, limit: limit}
}

// Select returns the entries most similar to vec, best first
func (r *Retriever) Select(vec []float32, entries []*models.KnowledgeEntry) []*models.KnowledgeEntry {
	type scored struct {
		entry *models.KnowledgeEntry
		score float64
	}

	var hits []scored
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		if s := Cosine(vec, e.Embedding); s >= r.threshold {
			hits = append(hits, scored{entry: e, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > r.limit {
		hits = hits[:r.limit]
	}
	out := make([]*models.KnowledgeEntry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}
