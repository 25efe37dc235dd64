package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-toolkit/internal/config"
	"kb-toolkit/internal/corpus"
	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/pipeline"
	"kb-toolkit/internal/watcher"
)

func TestRootRejectsInvalidConfig(t *testing.T) {
	env := setup(t, "redis")
	_, err := env.run(t, "tags")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestSearchRequiresQuery(t *testing.T) {
	env := setup(t, config.BackendChromem)
	_, err := env.run(t, "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestTagsWritesReports(t *testing.T) {
	env := setup(t, config.BackendNone)

	out := env.mustRun(t, "tags")
	assert.Contains(t, out, "Found 3 tags")
	assert.Contains(t, out, "faktura (2)")
	assert.FileExists(t, env.path("reports", pipeline.TagReportMarkdown))

	var report corpus.TagReport
	require.NoError(t, helper.LoadJSON(env.path("reports", pipeline.TagReportFile), &report))
	assert.Equal(t, 3, report.Meta.TotalTags)
	_, err := uuid.Parse(report.Meta.RunID)
	assert.NoError(t, err)
}

func TestEmbedSimilarCluster(t *testing.T) {
	env := setup(t, config.BackendNone)

	out := env.mustRun(t, "embed")
	assert.Contains(t, out, "Embedded 4 posts")
	records, err := corpus.LoadRecords(env.path("data", pipeline.EmbeddingsFile))
	require.NoError(t, err)
	assert.Len(t, records, 4)

	out = env.mustRun(t, "similar")
	assert.Contains(t, out, "b.md -> a.md")
	linked, err := pipeline.LoadLinked(env.path("data", pipeline.LinkedFile))
	require.NoError(t, err)
	assert.Len(t, linked, 4)

	out = env.mustRun(t, "cluster")
	assert.Contains(t, out, "Cluster 0:")
	assert.FileExists(t, env.path("data", pipeline.ClustersFile))
}

func TestSimilarNeedsEmbeddings(t *testing.T) {
	env := setup(t, config.BackendNone)
	_, err := env.run(t, "similar")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSearchAndAsk(t *testing.T) {
	env := setup(t, config.BackendChromem)
	env.mustRun(t, "embed")

	out := env.mustRun(t, "search", "kadry płace")
	assert.Contains(t, out, "[1] Kadry (")
	assert.Contains(t, out, "Source: https://madar.pl/c")

	out = env.mustRun(t, "search", "--tag", "magazyn", "faktura")
	assert.Contains(t, out, "[1] d (")
	assert.NotContains(t, out, "Faktura A")

	out = env.mustRun(t, "ask", "Co to są kadry?")
	assert.Contains(t, out, "Assistant:\nOdpowiedź")
	assert.Contains(t, out, "https://madar.pl/c (")
	require.NotEmpty(t, env.chat.prompts)
	assert.Contains(t, env.chat.prompts[0], "Kadry i płace.")
	assert.Contains(t, env.chat.prompts[0], "Co to są kadry?")
}

func TestSearchWithoutStore(t *testing.T) {
	env := setup(t, config.BackendNone)
	_, err := env.run(t, "search", "kadry")
	assert.ErrorIs(t, err, errNoStore)
}

func TestStoreCommands(t *testing.T) {
	env := setup(t, config.BackendChromem)
	env.mustRun(t, "embed")

	backup := env.path("backup.chromem")
	assert.Contains(t, env.mustRun(t, "store", "export", backup), "Done")
	assert.FileExists(t, backup)
	assert.Contains(t, env.mustRun(t, "store", "import", backup), "Done")

	assert.Contains(t, env.mustRun(t, "store", "reset"), "Store chromem reset")
	assert.Contains(t, env.mustRun(t, "search", "kadry"), "No results found.")
}

func TestAnalyzeTags(t *testing.T) {
	env := setup(t, config.BackendNone)
	env.mustRun(t, "tags")
	env.mustRun(t, "embed")

	out := env.mustRun(t, "analyze-tags", "faktura")
	assert.Contains(t, out, "Defined 1 tags")
	page, err := os.ReadFile(env.path("reports", "tags", "faktura.md"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "## Definition\nOdpowiedź")
	assert.Contains(t, string(page), "## Similar Posts")
}

func TestAnalyzeTagsWithoutEmbeddings(t *testing.T) {
	env := setup(t, config.BackendNone)

	out := env.mustRun(t, "analyze-tags")
	assert.Contains(t, out, "Defined 3 tags")
	assert.FileExists(t, env.path("reports", "tags", pipeline.TagDefinitionsFile))
}

func TestEnhance(t *testing.T) {
	env := setup(t, config.BackendNone)
	require.NoError(t, os.WriteFile(env.path("important.csv"), []byte("https://madar.pl/b\n"), 0o644))
	env.mustRun(t, "embed")
	env.mustRun(t, "similar")

	out := env.mustRun(t, "enhance")
	assert.Contains(t, out, "Enhanced 1 posts, skipped 3")
	assert.FileExists(t, env.path("enhanced", "enhanced_b.md"))
	assert.FileExists(t, env.path("enhanced", "b.md_en.json"))
}

func TestExtract(t *testing.T) {
	env := setup(t, config.BackendNone)
	env.chat.json = map[string]any{"number": "FV1", "total": 100}
	require.NoError(t, os.WriteFile(env.path("prompt.txt"), []byte("Zwróć JSON faktury."), 0o644))
	require.NoError(t, os.MkdirAll(env.path("invoices"), 0o755))
	require.NoError(t, os.WriteFile(env.path("invoices", "fv1.txt"), []byte("Faktura FV1 na 100 zł"), 0o644))
	require.NoError(t, os.WriteFile(env.path("invoices", "fv1.expected.json"), []byte(`{"number": "FV1", "total": "100 zł"}`), 0o644))

	out := env.mustRun(t, "extract")
	assert.Contains(t, out, "OK   fv1.txt fields=2 tokens=42")
	assert.Contains(t, out, "1/1 passed, 42 billed tokens")
	assert.Contains(t, env.chat.prompts[0], "Zwróć JSON faktury.\n####\nFaktura FV1 na 100 zł")
	assert.FileExists(t, env.path("invoices", "fv1.json.out"))

	out = env.mustRun(t, "extract", "--file", env.path("invoices", "fv1.txt"))
	assert.Contains(t, out, `"number": "FV1"`)
	assert.Contains(t, out, "Billed tokens: 42")
}

func TestFollowChanges(t *testing.T) {
	env := setup(t, config.BackendNone)
	dir := env.path("posts")
	out := env.path("data", pipeline.EmbeddingsFile)
	gen := pipeline.NewEmbeddingGenerator(topicEmbedder{})
	_, err := gen.Run(context.Background(), dir, out)
	require.NoError(t, err)

	newPost := filepath.Join(dir, "e.md")
	require.NoError(t, os.WriteFile(newPost, []byte("---\ntags: [kadry]\n---\nKadry nowe.\n"), 0o644))
	events := make(chan watcher.Event, 3)
	events <- watcher.Event{Path: newPost, Op: watcher.Created}
	events <- watcher.Event{Path: filepath.Join(dir, "ghost.md"), Op: watcher.Modified}
	events <- watcher.Event{Path: filepath.Join(dir, "a.md"), Op: watcher.Deleted}
	close(events)

	require.NoError(t, followChanges(context.Background(), gen, events, dir, out))

	records, err := corpus.LoadRecords(out)
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"b.md", "c.md", "d.md", "e.md"}, ids)
}
