package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/models"
)

const DefaultResults = 5

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

type Searcher interface {
	Query(ctx context.Context, embedding []float32, n int, tag string) ([]models.SearchHit, error)
}

type RAG struct {
	store    Searcher
	embedder Embedder
	chat     Asker
	template string
}

type Option func(*RAG)

// WithPromptTemplate replaces the answer prompt. The template takes the
// context block and the query, in that order.
func WithPromptTemplate(tmpl string) Option {
	return func(r *RAG) {
		if tmpl != "" {
			r.template = tmpl
		}
	}
}

func NewRAG(store Searcher, embedder Embedder, chat Asker, opts ...Option) *RAG {
	r := &RAG{store: store, embedder: embedder, chat: chat, template: models.AnswerPromptTemplate}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search embeds query and returns the n closest documents, optionally
// restricted to those tagged with tag.
func (r *RAG) Search(ctx context.Context, query string, n int, tag string) ([]models.SearchHit, error) {
	if r.store == nil {
		return nil, fmt.Errorf("no vector store configured")
	}
	if n <= 0 {
		n = DefaultResults
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vector for the query")
	}
	hits, err := r.store.Query(ctx, vec, n, tag)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("query", query).Str("tag", tag).Int("hits", len(hits)).Msg("Search completed")
	return hits, nil
}

// Query answers query from the n closest documents.
func (r *RAG) Query(ctx context.Context, query string, n int) (*models.PromptResponse, error) {
	hits, err := r.Search(ctx, query, n, "")
	if err != nil {
		return nil, err
	}

	var context strings.Builder
	sources := make([]string, 0, len(hits))
	for i, hit := range hits {
		if i > 0 {
			context.WriteString(models.ContextSeparator)
		}
		if hit.Title != "" {
			context.WriteString("# " + hit.Title + "\n")
		}
		context.WriteString(hit.Content)
		source := hit.SourceURL
		if source == "" {
			source = hit.ID
		}
		sources = append(sources, fmt.Sprintf("%s (%.3f)", source, hit.Similarity))
	}

	answer, err := r.chat.Ask(ctx, fmt.Sprintf(r.template, context.String(), query))
	if err != nil {
		return nil, err
	}
	return &models.PromptResponse{
		Query:   query,
		Source:  strings.Join(sources, "\n"),
		Content: answer,
	}, nil
}
