package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/corpus"
	"kb-toolkit/internal/models"
)

// EmbeddingGenerator embeds the posts of a corpus one after another.
type EmbeddingGenerator struct {
	embedder Embedder
	chat     Asker
	index    Indexer
	prompts  *PromptStore
}

type GeneratorOption func(*EmbeddingGenerator)

// WithSummaries asks chat for a short summary of every post.
func WithSummaries(chat Asker) GeneratorOption {
	return func(g *EmbeddingGenerator) { g.chat = chat }
}

// WithIndexer upserts every embedded post into ix.
func WithIndexer(ix Indexer) GeneratorOption {
	return func(g *EmbeddingGenerator) { g.index = ix }
}

func WithPrompts(p *PromptStore) GeneratorOption {
	return func(g *EmbeddingGenerator) { g.prompts = p }
}

func NewEmbeddingGenerator(embedder Embedder, opts ...GeneratorOption) *EmbeddingGenerator {
	g := &EmbeddingGenerator{embedder: embedder, prompts: NewPromptStore("")}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type embedded struct {
	record  models.DocumentRecord
	content string
}

// Generate embeds every post under dir and returns the records with their
// related links resolved against the corpus. The first embedding error
// stops the run.
func (g *EmbeddingGenerator) Generate(ctx context.Context, dir string) ([]models.DocumentRecord, error) {
	docs, err := corpus.Scan(dir)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	items := make([]embedded, 0, len(docs))
	for _, doc := range docs {
		item, err := g.embedDocument(ctx, doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	records := make([]models.DocumentRecord, len(items))
	for i, item := range items {
		records[i] = item.record
	}
	resolved := corpus.NewLinkIndex(records).ResolveAll(records)

	if err := g.upsert(ctx, resolved, items); err != nil {
		return nil, err
	}
	log.Info().Int("documents", len(resolved)).Dur("duration", time.Since(start)).Msg("Embeddings generated")
	return resolved, nil
}

// Run generates the embeddings of dir and writes them to out.
func (g *EmbeddingGenerator) Run(ctx context.Context, dir, out string) ([]models.DocumentRecord, error) {
	records, err := g.Generate(ctx, dir)
	if err != nil {
		return nil, err
	}
	if err := corpus.SaveRecords(out, records); err != nil {
		return nil, err
	}
	log.Info().Str("file", out).Msg("Embeddings saved")
	return records, nil
}

func (g *EmbeddingGenerator) embedDocument(ctx context.Context, doc corpus.Document) (embedded, error) {
	content := corpus.PlainText(doc.Body)
	rec := doc.Record()

	vec, err := g.embedder.Embed(ctx, content)
	if err != nil {
		return embedded{}, fmt.Errorf("failed to embed %s: %w", doc.ID, err)
	}
	if len(vec) == 0 {
		log.Warn().Str("document", doc.ID).Msg("No embedding returned, document skipped by similarity")
	}
	rec.Embedding = vec

	if g.chat != nil {
		summary, err := g.summarize(ctx, doc.Body)
		if err != nil {
			var quota *models.InsufficientQuotaError
			if errors.As(err, &quota) {
				return embedded{}, err
			}
			log.Error().Err(err).Str("document", doc.ID).Msg("Summary failed")
		}
		rec.Summary = summary
	}
	log.Debug().Str("document", doc.ID).Int("dims", len(vec)).Msg("Document embedded")
	return embedded{record: rec, content: content}, nil
}

func (g *EmbeddingGenerator) summarize(ctx context.Context, body string) (string, error) {
	tmpl, err := g.prompts.Load(models.PromptSummary)
	if err != nil {
		return "", err
	}
	summary, err := g.chat.Ask(ctx, fmt.Sprintf(tmpl, body))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

func (g *EmbeddingGenerator) upsert(ctx context.Context, records []models.DocumentRecord, items []embedded) error {
	if g.index == nil {
		return nil
	}
	docs := make([]models.StoredDocument, 0, len(records))
	for i, rec := range records {
		if len(rec.Embedding) == 0 {
			continue
		}
		docs = append(docs, models.StoredDocument{DocumentRecord: rec, Content: items[i].content})
	}
	if err := g.index.Upsert(ctx, docs); err != nil {
		return fmt.Errorf("failed to index embeddings: %w", err)
	}
	return nil
}

// Update re-embeds the post at path and rewrites the artifact at out.
func (g *EmbeddingGenerator) Update(ctx context.Context, root, path, out string) error {
	records, err := loadRecordsIfExists(out)
	if err != nil {
		return err
	}
	doc, err := corpus.ReadDocument(root, path)
	if err != nil {
		return err
	}
	item, err := g.embedDocument(ctx, doc)
	if err != nil {
		return err
	}

	replaced := false
	for i := range records {
		if records[i].ID == doc.ID {
			records[i] = item.record
			replaced = true
		}
	}
	if !replaced {
		records = append(records, item.record)
	}
	records = corpus.NewLinkIndex(records).ResolveAll(records)

	for _, rec := range records {
		if rec.ID == doc.ID {
			if err := g.upsert(ctx, []models.DocumentRecord{rec}, []embedded{item}); err != nil {
				return err
			}
		}
	}
	log.Info().Str("document", doc.ID).Msg("Embedding updated")
	return corpus.SaveRecords(out, records)
}

// Remove drops the post at path from the artifact at out and from the index.
func (g *EmbeddingGenerator) Remove(ctx context.Context, root, path, out string) error {
	records, err := loadRecordsIfExists(out)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	id := filepath.ToSlash(rel)

	kept := records[:0]
	for _, rec := range records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	kept = corpus.NewLinkIndex(kept).ResolveAll(kept)
	if g.index != nil {
		if err := g.index.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to remove %s from index: %w", id, err)
		}
	}
	log.Info().Str("document", id).Msg("Embedding removed")
	return corpus.SaveRecords(out, kept)
}

func loadRecordsIfExists(path string) ([]models.DocumentRecord, error) {
	records, err := corpus.LoadRecords(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return records, err
}
