package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-toolkit/internal/corpus"
	"kb-toolkit/internal/models"
)

func TestGenerateEmbedsAndResolvesLinks(t *testing.T) {
	dir := writeCorpus(t)
	index := newMemIndex()
	g := NewEmbeddingGenerator(&keywordEmbedder{}, WithIndexer(index))

	records, err := g.Generate(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, records, 4)

	ids := []string{records[0].ID, records[1].ID, records[2].ID, records[3].ID}
	assert.Equal(t, []string{"a.md", "b.md", "c.md", "d.md"}, ids)
	assert.Equal(t, []float32{3.1, 0.1, 0.1}, records[0].Embedding)
	assert.Equal(t, "https://madar.pl/a", records[0].SourceURL)
	require.Len(t, records[0].RelatedLinks, 1)
	assert.Equal(t, "b.md", records[0].RelatedLinks[0].Path)
	assert.Empty(t, records[0].Summary)

	require.Len(t, index.docs, 4)
	assert.Equal(t, "Kadry\nKadry i płace. Kadry w firmie.", index.docs["c.md"].Content)
	assert.Equal(t, []string{"kadry"}, index.docs["c.md"].Tags)
}

func TestGenerateStopsAtFirstEmbeddingError(t *testing.T) {
	g := NewEmbeddingGenerator(&keywordEmbedder{failOn: "korygująca"})

	_, err := g.Generate(context.Background(), writeCorpus(t))
	var embErr *models.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Contains(t, err.Error(), "b.md")
}

func TestGenerateWithSummaries(t *testing.T) {
	chat := &scriptedChat{
		rules:    []chatRule{{key: "Magazyn", err: errors.New("timeout")}},
		fallback: "  Streszczenie.  ",
	}
	g := NewEmbeddingGenerator(&keywordEmbedder{}, WithSummaries(chat))

	records, err := g.Generate(context.Background(), writeCorpus(t))
	require.NoError(t, err)
	assert.Equal(t, "Streszczenie.", records[0].Summary)
	assert.Empty(t, records[3].Summary)
	assert.Contains(t, chat.prompts[0], "Please summarize the following content")
}

func TestGenerateAbortsOnQuota(t *testing.T) {
	chat := &scriptedChat{rules: []chatRule{{key: "", err: &models.InsufficientQuotaError{Provider: "gpt-4o-mini", Code: 429}}}}
	g := NewEmbeddingGenerator(&keywordEmbedder{}, WithSummaries(chat))

	_, err := g.Generate(context.Background(), writeCorpus(t))
	var quota *models.InsufficientQuotaError
	assert.ErrorAs(t, err, &quota)
}

func TestUpdateAndRemove(t *testing.T) {
	dir := writeCorpus(t)
	out := filepath.Join(t.TempDir(), "report", EmbeddingsFile)
	index := newMemIndex()
	g := NewEmbeddingGenerator(&keywordEmbedder{}, WithIndexer(index))
	ctx := context.Background()

	_, err := g.Run(ctx, dir, out)
	require.NoError(t, err)

	path := filepath.Join(dir, "d.md")
	require.NoError(t, os.WriteFile(path, []byte("Magazyn i magazyn wyrobów."), 0o644))
	require.NoError(t, g.Update(ctx, dir, path, out))

	records, err := corpus.LoadRecords(out)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []float32{0.1, 0.1, 2.1}, records[3].Embedding)
	assert.Equal(t, "d.md", index.docs["d.md"].ID)

	require.NoError(t, g.Remove(ctx, dir, filepath.Join(dir, "b.md"), out))
	records, err = corpus.LoadRecords(out)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, []string{"b.md"}, index.deleted)
	// a.md linked to b.md, which is gone
	assert.Empty(t, records[0].RelatedLinks[0].Path)
}

func TestUpdateWithoutArtifact(t *testing.T) {
	dir := writeCorpus(t)
	out := filepath.Join(t.TempDir(), EmbeddingsFile)
	g := NewEmbeddingGenerator(&keywordEmbedder{})

	require.NoError(t, g.Update(context.Background(), dir, filepath.Join(dir, "c.md"), out))
	records, err := corpus.LoadRecords(out)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c.md", records[0].ID)
}
