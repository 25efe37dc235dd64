package models

// RelatedLink is one entry of a post's related_links frontmatter.
// Path is only filled in on copies produced by the link index.
type RelatedLink struct {
	URL   string `json:"url" yaml:"url"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DocumentRecord is one markdown post of the corpus, keyed by its path
// relative to the corpus root.
type DocumentRecord struct {
	ID           string        `json:"id"`
	Title        string        `json:"title,omitempty"`
	Embedding    []float32     `json:"embedding,omitempty"`
	Tags         []string      `json:"tags"`
	RelatedLinks []RelatedLink `json:"related_links"`
	SourceURL    string        `json:"source_url"`
	Summary      string        `json:"summary,omitempty"`
}

// Twin is a document judged similar to another one.
type Twin struct {
	Document   string  `json:"document"`
	Similarity float64 `json:"similarity"`
	Source     string  `json:"source"`
}

// SimilarityResult holds the ranked twins of one document.
type SimilarityResult struct {
	ID    string `json:"id"`
	Twins []Twin `json:"twins"`
}

// LinkedDocument is the linked.json entry of a document: twins above the
// link threshold that the post does not already link to.
type LinkedDocument struct {
	Similar struct {
		Twins []Twin `json:"twins"`
	} `json:"similar"`
	Linked []string `json:"linked"`
}

// TagSource is a post carrying a given tag.
type TagSource struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// TagDefinition is the outcome of analysing one tag.
type TagDefinition struct {
	TagName    string      `json:"tag_name"`
	Definition string      `json:"definition"`
	Sources    []TagSource `json:"sources"`
	Similar    []Twin      `json:"similar,omitempty"`
}

// PromptResponse is a search answer together with the context it was built from.
type PromptResponse struct {
	Query   string
	Source  string
	Content string
}

// StoredDocument is a record together with the text kept next to its vector.
type StoredDocument struct {
	DocumentRecord
	Content string
}

// SearchHit is one vector store match.
type SearchHit struct {
	ID         string  `json:"id"`
	Title      string  `json:"title,omitempty"`
	SourceURL  string  `json:"source_url,omitempty"`
	Content    string  `json:"content,omitempty"`
	Similarity float64 `json:"similarity"`
}
