package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"kb-toolkit/internal/config"
	"kb-toolkit/internal/models"
)

// Document is one row of the documents table.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string   `bun:"id,pk"`
	Title         string   `bun:"title"`
	SourceURL     string   `bun:"source_url"`
	Summary       string   `bun:"summary"`
	Tags          []string `bun:"tags,array"`
	Content       string   `bun:"content,notnull"`
	Embedding     Vector   `bun:"embedding,notnull,type:vector"`

	Similarity float64 `bun:"similarity,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver: bun's pgdriver
// (default) or lib/pq.
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, &models.ConfigError{Var: "database.dsn"}
	}
	switch cfg.Driver {
	case "pq":
		// lib/pq reads the password from the DSN only
		return sql.Open("postgres", cfg.DSN)
	default:
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	}
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	_, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx)
	return err
}

func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}

// Store keeps documents in Postgres with pgvector.
type Store struct {
	db         *bun.DB
	dimensions int
}

// Open connects, creates the table if needed and returns a Store.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg.Debug)
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	log.Debug().Str("driver", cfg.Driver).Int("dimensions", cfg.Dimensions).Msg("Database ready")
	return &Store{db: db, dimensions: cfg.Dimensions}, nil
}

// NewStore wraps an open bun database.
func NewStore(db *bun.DB, dimensions int) *Store {
	return &Store{db: db, dimensions: dimensions}
}

func (s *Store) checkDimensions(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding: %w", models.ErrDimensionMismatch)
	}
	if s.dimensions > 0 && len(vec) != s.dimensions {
		return fmt.Errorf("got %d, want %d: %w", len(vec), s.dimensions, models.ErrDimensionMismatch)
	}
	return nil
}

// Tags are stored lowercased so filters match the chromem backend.
func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func normalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, normalizeTag(tag))
	}
	return out
}

func (s *Store) upsertQuery(docs []models.StoredDocument) (*bun.InsertQuery, error) {
	rows := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if err := s.checkDimensions(doc.Embedding); err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		rows = append(rows, Document{
			ID:        doc.ID,
			Title:     doc.Title,
			SourceURL: doc.SourceURL,
			Summary:   doc.Summary,
			Tags:      normalizeTags(doc.Tags),
			Content:   doc.Content,
			Embedding: Vector(doc.Embedding),
		})
	}
	return s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("source_url = EXCLUDED.source_url").
		Set("summary = EXCLUDED.summary").
		Set("tags = EXCLUDED.tags").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding"), nil
}

// Upsert inserts the documents, updating rows that share an ID.
func (s *Store) Upsert(ctx context.Context, docs []models.StoredDocument) error {
	if len(docs) == 0 {
		return nil
	}
	q, err := s.upsertQuery(docs)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}
	return nil
}

func (s *Store) searchQuery(embedding []float32, n int, tag string, dest *[]Document) *bun.SelectQuery {
	vec := Vector(embedding)
	q := s.db.NewSelect().
		Model(dest).
		Column("id", "title", "source_url", "content").
		ColumnExpr("1 - (embedding <=> ?) AS similarity", vec)
	if tag != "" {
		q = q.Where("? = ANY(tags)", normalizeTag(tag))
	}
	return q.OrderExpr("embedding <=> ?", vec).Limit(n)
}

// Query returns up to n rows ordered by cosine distance to embedding.
func (s *Store) Query(ctx context.Context, embedding []float32, n int, tag string) ([]models.SearchHit, error) {
	if err := s.checkDimensions(embedding); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	var rows []Document
	if err := s.searchQuery(embedding, n, tag, &rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	hits := make([]models.SearchHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, models.SearchHit{
			ID:         r.ID,
			Title:      r.Title,
			SourceURL:  r.SourceURL,
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// Delete removes rows by ID.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.NewDelete().Model((*Document)(nil)).Where("id IN (?)", bun.In(ids)).Exec(ctx)
	return err
}

// Reset drops and recreates the documents table.
func (s *Store) Reset(ctx context.Context) error {
	if err := DropDocuments(ctx, s.db); err != nil {
		return fmt.Errorf("failed to drop documents: %w", err)
	}
	return InitDB(ctx, s.db)
}

func (s *Store) Close() error {
	return s.db.Close()
}
