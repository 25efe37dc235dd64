package similarity

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/models"
)

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector has zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// checkDimensions returns the shared vector size of docs.
func checkDimensions(docs []models.DocumentRecord) (int, error) {
	if len(docs) == 0 {
		return 0, models.ErrEmptyCorpus
	}
	dim := len(docs[0].Embedding)
	for _, doc := range docs {
		if len(doc.Embedding) != dim || dim == 0 {
			return 0, fmt.Errorf("%w: %s has %d, expected %d", models.ErrDimensionMismatch, doc.ID, len(doc.Embedding), dim)
		}
	}
	return dim, nil
}

// FindSimilar ranks, for every document, the topN other documents by cosine
// similarity. Results follow input order; ties keep input order.
func FindSimilar(docs []models.DocumentRecord, topN int) ([]models.SimilarityResult, error) {
	if _, err := checkDimensions(docs); err != nil {
		return nil, err
	}
	log.Info().Int("documents", len(docs)).Int("top_n", topN).Msg("Finding similar documents")

	results := make([]models.SimilarityResult, 0, len(docs))
	for _, doc := range docs {
		twins := Nearest(doc.Embedding, docs, topN, map[string]bool{doc.ID: true})
		results = append(results, models.SimilarityResult{ID: doc.ID, Twins: twins})
	}
	return results, nil
}

// Nearest returns up to topN documents most similar to query, skipping the
// IDs in exclude.
func Nearest(query []float32, docs []models.DocumentRecord, topN int, exclude map[string]bool) []models.Twin {
	twins := make([]models.Twin, 0, len(docs))
	for _, doc := range docs {
		if exclude[doc.ID] {
			continue
		}
		twins = append(twins, models.Twin{
			Document:   doc.ID,
			Similarity: CosineSimilarity(query, doc.Embedding),
			Source:     doc.SourceURL,
		})
	}
	sort.SliceStable(twins, func(i, j int) bool {
		return twins[i].Similarity > twins[j].Similarity
	})
	if topN >= 0 && len(twins) > topN {
		twins = twins[:topN]
	}
	return twins
}
