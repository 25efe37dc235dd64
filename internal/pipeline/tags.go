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
	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
	"kb-toolkit/internal/similarity"
)

const definitionFailed = "Definition generation failed: "

// TagAnalyzer asks the chat provider to define every tag from the posts
// carrying it, then looks for related posts by embedding the definition.
type TagAnalyzer struct {
	chat     Asker
	embedder Embedder
	prompts  *PromptStore
	postsDir string
	records  []models.DocumentRecord
	topN     int
}

// NewTagAnalyzer reads tag sources from postsDir. records, when non-empty,
// is the embedded corpus searched for posts similar to each definition.
func NewTagAnalyzer(chat Asker, embedder Embedder, prompts *PromptStore, postsDir string, records []models.DocumentRecord, topN int) *TagAnalyzer {
	if prompts == nil {
		prompts = NewPromptStore("")
	}
	return &TagAnalyzer{
		chat:     chat,
		embedder: embedder,
		prompts:  prompts,
		postsDir: postsDir,
		records:  corpus.WithEmbeddings(records),
		topN:     topN,
	}
}

func (a *TagAnalyzer) readSources(sources []models.TagSource) []string {
	contents := make([]string, 0, models.MaxTagSources)
	for _, src := range sources {
		if len(contents) == models.MaxTagSources {
			break
		}
		data, err := os.ReadFile(filepath.Join(a.postsDir, filepath.FromSlash(src.Path)))
		if err != nil {
			log.Warn().Err(err).Str("file", src.Path).Msg("Could not read tag source")
			continue
		}
		if len(data) > 0 {
			contents = append(contents, string(data))
		}
	}
	return contents
}

// Analyze defines one tag. Only an insufficient quota error is returned;
// other chat failures are written into the definition.
func (a *TagAnalyzer) Analyze(ctx context.Context, tag string, sources []models.TagSource) (models.TagDefinition, error) {
	def := models.TagDefinition{TagName: tag, Sources: sources}
	contents := a.readSources(sources)
	if len(contents) == 0 {
		log.Warn().Str("tag", tag).Msg("No content found for tag")
		return def, nil
	}

	tmpl, err := a.prompts.Load(models.PromptTagDefinition)
	if err != nil {
		return def, err
	}
	text, err := a.chat.Ask(ctx, fmt.Sprintf(tmpl, tag, strings.Join(contents, "\n\n")))
	if err != nil {
		var quota *models.InsufficientQuotaError
		if errors.As(err, &quota) {
			return def, err
		}
		log.Error().Err(err).Str("tag", tag).Msg("Error generating definition")
		def.Definition = definitionFailed + err.Error()
		return def, nil
	}
	def.Definition = text
	def.Similar = a.similar(ctx, tag, text, sources)
	return def, nil
}

func (a *TagAnalyzer) similar(ctx context.Context, tag, definition string, sources []models.TagSource) []models.Twin {
	if a.embedder == nil || len(a.records) == 0 {
		return nil
	}
	vec, err := a.embedder.Embed(ctx, definition)
	if err != nil || len(vec) == 0 {
		log.Warn().Err(err).Str("tag", tag).Msg("Definition not embedded, similar posts skipped")
		return nil
	}
	exclude := make(map[string]bool, len(sources))
	for _, src := range sources {
		exclude[src.Path] = true
	}
	return similarity.Nearest(vec, a.records, a.topN, exclude)
}

// AnalyzeAll defines the given tags in order, or every tag of tm when tags
// is empty. An insufficient quota error stops the run and returns the
// definitions made so far.
func (a *TagAnalyzer) AnalyzeAll(ctx context.Context, tm corpus.TagMap, tags []string) (map[string]models.TagDefinition, error) {
	if len(tags) == 0 {
		tags = tm.Names()
	}
	defs := make(map[string]models.TagDefinition, len(tags))
	for _, tag := range tags {
		log.Info().Str("tag", tag).Msg("Processing tag")
		def, err := a.Analyze(ctx, tag, tm[tag])
		if err != nil {
			return defs, err
		}
		defs[tag] = def
	}
	return defs, nil
}

// TagMarkdown renders the page of one tag.
func TagMarkdown(def models.TagDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", def.TagName)
	fmt.Fprintf(&b, "## Definition\n%s\n\n", def.Definition)
	if len(def.Similar) > 0 {
		b.WriteString("## Similar Posts\n")
		for _, twin := range def.Similar {
			fmt.Fprintf(&b, "- [%s](%s) (%.3f)\n", twin.Document, twin.Source, twin.Similarity)
		}
		b.WriteString("\n")
	}
	b.WriteString("## Sources\n")
	for _, src := range def.Sources {
		fmt.Fprintf(&b, "- %s: [%s]\n", src.Title, src.Path)
	}
	return b.String()
}

type tagDefinitionsMeta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	GeneratedAt string `json:"generated_at"`
	TotalTags   int    `json:"total_tags"`
}

type tagDefinitionsFile struct {
	Meta        tagDefinitionsMeta              `json:"meta"`
	Definitions map[string]models.TagDefinition `json:"definitions"`
}

// SaveTagDefinitions writes one <slug>.md per tag and tag-definitions.json into dir.
func SaveTagDefinitions(dir string, defs map[string]models.TagDefinition, now time.Time) error {
	if err := helper.CreateFolder(dir); err != nil {
		return err
	}
	for tag, def := range defs {
		path := filepath.Join(dir, helper.URLFriendly(tag)+".md")
		if err := os.WriteFile(path, []byte(TagMarkdown(def)), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	out := tagDefinitionsFile{
		Meta: tagDefinitionsMeta{
			Title:       "Tag Definitions",
			Description: "Definitions for tags used in the blog posts",
			GeneratedAt: now.Format(time.RFC3339),
			TotalTags:   len(defs),
		},
		Definitions: defs,
	}
	path := filepath.Join(dir, TagDefinitionsFile)
	if err := helper.SaveJSON(out, path); err != nil {
		return err
	}
	log.Info().Str("file", path).Int("tags", len(defs)).Msg("Tag definitions saved")
	return nil
}
