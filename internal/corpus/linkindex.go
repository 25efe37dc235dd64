package corpus

import (
	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
)

// LinkIndex maps cleaned source URLs to document IDs. It is built after the
// whole corpus is scanned; records themselves are never modified.
type LinkIndex struct {
	byURL map[string]string
}

func NewLinkIndex(records []models.DocumentRecord) *LinkIndex {
	idx := &LinkIndex{byURL: make(map[string]string, len(records))}
	for _, r := range records {
		if r.SourceURL == "" {
			continue
		}
		idx.byURL[helper.CleanURL(r.SourceURL)] = r.ID
	}
	return idx
}

// Lookup returns the ID of the document published at url.
func (idx *LinkIndex) Lookup(url string) (string, bool) {
	id, ok := idx.byURL[helper.CleanURL(url)]
	return id, ok
}

// Resolve returns a copy of links with Path set for every link that points
// inside the corpus and cleared for the others.
func (idx *LinkIndex) Resolve(links []models.RelatedLink) []models.RelatedLink {
	out := make([]models.RelatedLink, len(links))
	for i, l := range links {
		out[i] = l
		out[i].Path, _ = idx.Lookup(l.URL)
	}
	return out
}

// ResolveAll returns copies of records with resolved related links.
func (idx *LinkIndex) ResolveAll(records []models.DocumentRecord) []models.DocumentRecord {
	out := make([]models.DocumentRecord, len(records))
	for i, r := range records {
		out[i] = r
		out[i].RelatedLinks = idx.Resolve(r.RelatedLinks)
	}
	return out
}
