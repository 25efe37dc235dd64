package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/config"
	"kb-toolkit/internal/models"
)

// Metadata keys written next to every document.
const (
	MetaTitle     = "title"
	MetaSourceURL = "source_url"
	MetaSummary   = "summary"
	tagPrefix     = "tag:"
)

// TagKey is the metadata key marking a document as carrying tag.
func TagKey(tag string) string {
	return tagPrefix + strings.ToLower(strings.TrimSpace(tag))
}

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
}

// NewVectorDBManager opens the database described by cfg and selects its collection.
func NewVectorDBManager(cfg config.StoreConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	filePath := filepath.Join(cfg.Path, cfg.Collection+".chromem")
	if cfg.Compress {
		filePath += ".gz"
	}
	m := &VectorDBManager{
		db:            db,
		dbPath:        cfg.Path,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
		filePath:      filePath,
	}
	if _, err := m.GetOrCreateCollection(cfg.Collection); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	// vectors always come precomputed, the embedding func is never called
	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// Count returns the number of documents in the collection.
func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

func toChromem(doc models.StoredDocument) chromem.Document {
	meta := map[string]string{
		MetaTitle:     doc.Title,
		MetaSourceURL: doc.SourceURL,
	}
	if doc.Summary != "" {
		meta[MetaSummary] = doc.Summary
	}
	for _, tag := range doc.Tags {
		meta[TagKey(tag)] = "true"
	}
	content := doc.Content
	if content == "" {
		content = doc.Title
	}
	return chromem.Document{
		ID:        doc.ID,
		Content:   content,
		Metadata:  meta,
		Embedding: doc.Embedding,
	}
}

// Upsert adds the documents, replacing any stored under the same ID.
func (m *VectorDBManager) Upsert(ctx context.Context, docs []models.StoredDocument) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
		batch = append(batch, toChromem(doc))
	}
	if err := m.collection.AddDocuments(ctx, batch, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	log.Debug().Str("collection", m.collection.Name).Int("documents", len(batch)).Msg("Documents stored")
	return nil
}

// Query returns up to n documents closest to embedding. A non-empty tag
// restricts the search to documents carrying it.
func (m *VectorDBManager) Query(ctx context.Context, embedding []float32, n int, tag string) ([]models.SearchHit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	count := m.collection.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}
	opts := chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       min(n, count),
	}
	if tag != "" {
		opts.Where = map[string]string{TagKey(tag): "true"}
	}

	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	hits := make([]models.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, models.SearchHit{
			ID:         r.ID,
			Title:      r.Metadata[MetaTitle],
			SourceURL:  r.Metadata[MetaSourceURL],
			Content:    r.Content,
			Similarity: float64(r.Similarity),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits, nil
}

// Delete removes documents by ID.
func (m *VectorDBManager) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	if err := m.db.DeleteCollection(m.collection.Name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Reset drops the collection and starts an empty one under the same name.
func (m *VectorDBManager) Reset(_ context.Context) error {
	name := m.collection.Name
	if err := m.DeleteCollection(); err != nil {
		return err
	}
	_, err := m.GetOrCreateCollection(name)
	return err
}

// Export writes the collection to path, or to <db path>/<collection>.chromem
// when path is empty.
func (m *VectorDBManager) Export(path string) error {
	if path == "" {
		path = m.filePath
	}
	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", path).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	if err := m.db.ExportToFile(path, m.compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the collection from a file written by Export.
func (m *VectorDBManager) Import(path string) error {
	if path == "" {
		path = m.filePath
	}
	name := m.collection.Name
	if err := m.db.ImportFromFile(path, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	// import replaces the collection object
	if c := m.db.GetCollection(name, nil); c != nil {
		m.collection = c
	}
	return nil
}

// Close is a no-op; persistent collections are written on every change.
func (m *VectorDBManager) Close() error {
	return nil
}
