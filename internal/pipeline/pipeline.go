// Package pipeline runs the corpus workflows: embedding, similarity
// reports, tag analysis and content enhancement.
package pipeline

import (
	"context"

	"kb-toolkit/internal/models"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Indexer receives embedded documents. The vector stores satisfy it.
type Indexer interface {
	Upsert(ctx context.Context, docs []models.StoredDocument) error
	Delete(ctx context.Context, ids ...string) error
}

// Artifact file names.
const (
	EmbeddingsFile     = "embeddings.json"
	LinkedFile         = "linked.json"
	ClustersFile       = "clusters.json"
	TagReportFile      = "tag-report.json"
	TagReportMarkdown  = "tag-report.md"
	TagDefinitionsFile = "tag-definitions.json"
)
