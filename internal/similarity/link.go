package similarity

import (
	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
)

// LinkDocuments keeps, per document, the twins at or above threshold that
// the post does not link to yet. Twins it already links to are listed under
// Linked.
func LinkDocuments(results []models.SimilarityResult, docs []models.DocumentRecord, threshold float64) map[string]models.LinkedDocument {
	byID := make(map[string]models.DocumentRecord, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}

	out := make(map[string]models.LinkedDocument, len(results))
	for _, result := range results {
		var entry models.LinkedDocument
		entry.Similar.Twins = []models.Twin{}
		entry.Linked = []string{}

		doc := byID[result.ID]
		for _, twin := range result.Twins {
			if twin.Similarity < threshold {
				continue
			}
			if linksTo(doc, twin.Source) {
				entry.Linked = append(entry.Linked, twin.Document)
				continue
			}
			entry.Similar.Twins = append(entry.Similar.Twins, twin)
		}
		out[result.ID] = entry
	}
	return out
}

func linksTo(doc models.DocumentRecord, url string) bool {
	if url == "" {
		return false
	}
	target := helper.CleanURL(url)
	for _, link := range doc.RelatedLinks {
		if helper.CleanURL(link.URL) == target {
			return true
		}
	}
	return false
}
