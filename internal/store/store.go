package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/chromemdb"
	"kb-toolkit/internal/config"
	"kb-toolkit/internal/db"
	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
)

// Store is a vector index of corpus documents.
type Store interface {
	Upsert(ctx context.Context, docs []models.StoredDocument) error
	Query(ctx context.Context, embedding []float32, n int, tag string) ([]models.SearchHit, error)
	Delete(ctx context.Context, ids ...string) error
	// Reset removes every document.
	Reset(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*chromemdb.VectorDBManager)(nil)
	_ Store = (*db.Store)(nil)
)

// Open returns the backend named by cfg.Store.Backend, or nil for "none".
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendChromem:
		if !cfg.Store.InMemory {
			if err := helper.CreateFolder(cfg.Store.Path); err != nil {
				return nil, err
			}
		}
		m, err := chromemdb.NewVectorDBManager(cfg.Store)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", cfg.Store.Path).Str("collection", cfg.Store.Collection).Msg("Opened chromem store")
		return m, nil
	case config.BackendPostgres:
		s, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
