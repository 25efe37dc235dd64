package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/corpus"
	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
)

// LoadImportantURLs reads the first column of a CSV file into a set of
// cleaned URLs. A missing file yields an empty set.
func LoadImportantURLs(path string) (map[string]bool, error) {
	urls := map[string]bool{}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("file", path).Msg("Important URLs file not found")
		return urls, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(row) > 0 && strings.TrimSpace(row[0]) != "" {
			urls[helper.CleanURL(strings.TrimSpace(row[0]))] = true
		}
	}
	log.Info().Str("file", path).Int("urls", len(urls)).Msg("Loaded important URLs")
	return urls, nil
}

// EnhancedContent is the <name>_en.json record of one enhanced post.
type EnhancedContent struct {
	Frontmatter     string        `json:"frontmatter"`
	Title           string        `json:"title"`
	OriginalContent string        `json:"original_content"`
	LinkedArticles  []models.Twin `json:"linked_articles"`
	LinkedContent   []string      `json:"linked_content"`
	NewContent      string        `json:"new_content"`
	Summary         string        `json:"summary"`
	KeyPoints       []string      `json:"key_points"`
}

// ContentEnhancer rewrites the important posts with the help of their twins.
type ContentEnhancer struct {
	chat      Asker
	prompts   *PromptStore
	postsDir  string
	outDir    string
	linked    map[string]models.LinkedDocument
	important map[string]bool
	now       func() time.Time
}

func NewContentEnhancer(chat Asker, prompts *PromptStore, postsDir, outDir string, linked map[string]models.LinkedDocument, important map[string]bool) *ContentEnhancer {
	if prompts == nil {
		prompts = NewPromptStore("")
	}
	return &ContentEnhancer{
		chat:      chat,
		prompts:   prompts,
		postsDir:  postsDir,
		outDir:    outDir,
		linked:    linked,
		important: important,
		now:       time.Now,
	}
}

const enhancementFailed = "Definition generation failed: "

// outputName flattens a corpus ID so posts in different folders get
// distinct files.
func outputName(id string) string {
	return strings.ReplaceAll(id, "/", "_")
}

// splitTitle takes a leading markdown heading off body.
func splitTitle(body, fallback string) (string, string) {
	first, rest, _ := strings.Cut(body, "\n")
	if strings.HasPrefix(first, "#") {
		return strings.TrimSpace(strings.Trim(first, "#")), strings.TrimSpace(rest)
	}
	return fallback, strings.TrimSpace(body)
}

// Summary returns the first 150 characters of text, with an ellipsis when cut.
func Summary(text string) string {
	runes := []rune(text)
	if len(runes) > models.SummaryLength {
		return string(runes[:models.SummaryLength]) + "..."
	}
	return text
}

var sentenceEnd = regexp.MustCompile(`[.!?]+`)

// KeyPoints returns the first three sentences longer than 10 characters.
func KeyPoints(text string) []string {
	points := []string{}
	for _, s := range sentenceEnd.Split(text, -1) {
		s = strings.TrimSpace(s)
		if len([]rune(s)) <= 10 {
			continue
		}
		points = append(points, s)
		if len(points) == 3 {
			break
		}
	}
	return points
}

func (e *ContentEnhancer) twins(id string) []models.Twin {
	entry, ok := e.linked[id]
	if !ok {
		return []models.Twin{}
	}
	return entry.Similar.Twins
}

func (e *ContentEnhancer) linkedContent(twins []models.Twin) []string {
	contents := []string{}
	for _, twin := range twins {
		if len(contents) == models.MaxRelatedSources {
			break
		}
		data, err := os.ReadFile(filepath.Join(e.postsDir, filepath.FromSlash(twin.Document)))
		if err != nil {
			log.Warn().Err(err).Str("file", twin.Document).Msg("Could not read linked article")
			continue
		}
		_, body, _ := corpus.SplitFrontmatter(string(data))
		_, main := splitTitle(body, "")
		contents = append(contents, main)
	}
	return contents
}

// Enhance builds the enhanced version of doc. Only an insufficient quota
// error is returned; other chat failures are written into NewContent.
func (e *ContentEnhancer) Enhance(ctx context.Context, doc corpus.Document, raw string) (*EnhancedContent, error) {
	header, _, _ := corpus.SplitFrontmatter(raw)
	title, original := splitTitle(doc.Body, doc.Title)
	twins := e.twins(doc.ID)
	related := e.linkedContent(twins)
	plain := corpus.PlainText(original)

	out := &EnhancedContent{
		Frontmatter:     header,
		Title:           title,
		OriginalContent: original,
		LinkedArticles:  twins,
		LinkedContent:   related,
		Summary:         Summary(plain),
		KeyPoints:       KeyPoints(plain),
	}

	tmpl, err := e.prompts.Load(models.PromptEnhancement)
	if err != nil {
		return nil, err
	}
	text, err := e.chat.Ask(ctx, fmt.Sprintf(tmpl, original, strings.Join(related, "\n\n")))
	if err != nil {
		var quota *models.InsufficientQuotaError
		if errors.As(err, &quota) {
			return nil, err
		}
		log.Error().Err(err).Str("document", doc.ID).Msg("Enhancement failed")
		text = enhancementFailed + err.Error()
	}
	out.NewContent = text
	return out, nil
}

// EnhancedMarkdown renders an enhanced post.
func EnhancedMarkdown(c *EnhancedContent, date time.Time) (string, error) {
	header, err := corpus.ExtendFrontmatter(c.Frontmatter,
		corpus.Field{Key: "enhanced", Value: true},
		corpus.Field{Key: "enhanced_date", Value: date.Format("2006-01-02")},
	)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(header)
	fmt.Fprintf(&b, "\n# %s\n\n", c.Title)
	fmt.Fprintf(&b, "## Summary\n%s\n\n", c.Summary)
	fmt.Fprintf(&b, "## New Content\n%s\n\n", c.NewContent)
	fmt.Fprintf(&b, "## Original Content\n%s\n", c.OriginalContent)
	if len(c.LinkedArticles) > 0 {
		b.WriteString("\n## Linked Resources\n")
		for i, twin := range c.LinkedArticles {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, twin.Document, twin.Source)
		}
	}
	b.WriteString("\n## Key Takeaways\n")
	for _, p := range c.KeyPoints {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return b.String(), nil
}

// Process enhances every post whose source URL is important. Per-file
// failures are logged and counted as skipped; insufficient quota stops the run.
func (e *ContentEnhancer) Process(ctx context.Context) (processed, skipped int, err error) {
	docs, err := corpus.Scan(e.postsDir)
	if err != nil {
		return 0, 0, err
	}
	if err := helper.CreateFolder(e.outDir); err != nil {
		return 0, 0, err
	}

	for _, doc := range docs {
		if doc.SourceURL == "" || !e.important[doc.SourceURL] {
			skipped++
			continue
		}
		if err := e.processOne(ctx, doc); err != nil {
			var quota *models.InsufficientQuotaError
			if errors.As(err, &quota) {
				return processed, skipped, err
			}
			log.Error().Err(err).Str("document", doc.ID).Msg("Error processing post")
			skipped++
			continue
		}
		processed++
	}
	log.Info().Int("processed", processed).Int("skipped", skipped).Msg("Enhancement complete")
	return processed, skipped, nil
}

func (e *ContentEnhancer) processOne(ctx context.Context, doc corpus.Document) error {
	raw, err := os.ReadFile(doc.Path)
	if err != nil {
		return err
	}
	content, err := e.Enhance(ctx, doc, string(raw))
	if err != nil {
		return err
	}

	name := outputName(doc.ID)
	if err := helper.SaveJSON(content, filepath.Join(e.outDir, name+"_en.json")); err != nil {
		return err
	}
	md, err := EnhancedMarkdown(content, e.now())
	if err != nil {
		return err
	}
	path := filepath.Join(e.outDir, "enhanced_"+name)
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info().Str("file", path).Msg("Enhanced content saved")
	return nil
}
