package pipeline

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-toolkit/internal/config"
	"kb-toolkit/internal/models"
)

func embeddedCorpus(t *testing.T) (string, []models.DocumentRecord) {
	t.Helper()
	dir := writeCorpus(t)
	records, err := NewEmbeddingGenerator(&keywordEmbedder{}).Generate(context.Background(), dir)
	require.NoError(t, err)
	return dir, records
}

func TestLinkSeparatesLinkedTwins(t *testing.T) {
	_, records := embeddedCorpus(t)
	report := SimilarityReport{TopN: 2, Threshold: 0.82, Clusters: 2, Seed: 42}

	linked, err := report.Link(records)
	require.NoError(t, err)
	require.Len(t, linked, 4)

	// a.md already links to b.md
	assert.Empty(t, linked["a.md"].Similar.Twins)
	assert.Equal(t, []string{"b.md"}, linked["a.md"].Linked)

	require.Len(t, linked["b.md"].Similar.Twins, 1)
	assert.Equal(t, "a.md", linked["b.md"].Similar.Twins[0].Document)
	assert.Equal(t, "https://madar.pl/a", linked["b.md"].Similar.Twins[0].Source)
	assert.Empty(t, linked["c.md"].Similar.Twins)
}

func TestLinkIgnoresRecordsWithoutEmbedding(t *testing.T) {
	_, records := embeddedCorpus(t)
	records = append(records, models.DocumentRecord{ID: "empty.md"})

	linked, err := SimilarityReport{TopN: 3, Threshold: 0.5}.Link(records)
	require.NoError(t, err)
	assert.NotContains(t, linked, "empty.md")
}

func TestClusterReducesK(t *testing.T) {
	_, records := embeddedCorpus(t)

	clusters, err := SimilarityReport{Clusters: 10, Seed: 42}.Cluster(records)
	require.NoError(t, err)
	var ids []string
	for label, members := range clusters {
		assert.GreaterOrEqual(t, label, 0)
		assert.Less(t, label, 4)
		ids = append(ids, members...)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"a.md", "b.md", "c.md", "d.md"}, ids)
}

func TestWriteReports(t *testing.T) {
	_, records := embeddedCorpus(t)
	dir := t.TempDir()
	report := NewSimilarityReport(config.Default().Similarity)
	report.Clusters = 3

	linked, err := report.WriteLinked(records, dir)
	require.NoError(t, err)
	_, err = report.WriteClusters(records, dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, ClustersFile))

	loaded, err := LoadLinked(filepath.Join(dir, LinkedFile))
	require.NoError(t, err)
	assert.Equal(t, linked, loaded)
}

func TestLinkEmptyCorpus(t *testing.T) {
	_, err := SimilarityReport{TopN: 1}.Link(nil)
	assert.ErrorIs(t, err, models.ErrEmptyCorpus)
}
