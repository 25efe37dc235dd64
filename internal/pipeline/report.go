package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/config"
	"kb-toolkit/internal/corpus"
	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
	"kb-toolkit/internal/similarity"
)

// SimilarityReport turns embedded records into the linked and cluster reports.
type SimilarityReport struct {
	TopN      int
	Threshold float64
	Clusters  int
	Seed      int64
}

func NewSimilarityReport(cfg config.SimilarityConfig) SimilarityReport {
	return SimilarityReport{
		TopN:      cfg.TopN,
		Threshold: cfg.LinkThreshold,
		Clusters:  cfg.Clusters,
		Seed:      cfg.Seed,
	}
}

// Link finds the twins of every embedded record and keeps those worth linking.
func (r SimilarityReport) Link(records []models.DocumentRecord) (map[string]models.LinkedDocument, error) {
	docs := corpus.WithEmbeddings(records)
	results, err := similarity.FindSimilar(docs, r.TopN)
	if err != nil {
		return nil, err
	}
	return similarity.LinkDocuments(results, docs, r.Threshold), nil
}

// Cluster groups the embedded records. k larger than the corpus is reduced
// to the corpus size.
func (r SimilarityReport) Cluster(records []models.DocumentRecord) (map[int][]string, error) {
	docs := corpus.WithEmbeddings(records)
	k := r.Clusters
	if k > len(docs) && len(docs) > 0 {
		log.Warn().Int("clusters", k).Int("documents", len(docs)).Msg("More clusters than documents, reducing")
		k = len(docs)
	}
	return similarity.Cluster(docs, k, r.Seed)
}

// WriteLinked writes linked.json into dir.
func (r SimilarityReport) WriteLinked(records []models.DocumentRecord, dir string) (map[string]models.LinkedDocument, error) {
	linked, err := r.Link(records)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, LinkedFile)
	if err := helper.SaveJSON(linked, path); err != nil {
		return nil, err
	}
	log.Info().Str("file", path).Int("documents", len(linked)).Msg("Linked report saved")
	return linked, nil
}

// WriteClusters writes clusters.json into dir.
func (r SimilarityReport) WriteClusters(records []models.DocumentRecord, dir string) (map[int][]string, error) {
	clusters, err := r.Cluster(records)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, ClustersFile)
	if err := helper.SaveJSON(clusters, path); err != nil {
		return nil, err
	}
	log.Info().Str("file", path).Int("clusters", len(clusters)).Msg("Cluster report saved")
	return clusters, nil
}

// LoadLinked reads a linked.json report.
func LoadLinked(path string) (map[string]models.LinkedDocument, error) {
	var linked map[string]models.LinkedDocument
	if err := helper.LoadJSON(path, &linked); err != nil {
		return nil, fmt.Errorf("failed to load linked report: %w", err)
	}
	return linked, nil
}
