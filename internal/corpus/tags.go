package corpus

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
)

// TagMap lists, per tag, the posts carrying it in corpus order.
type TagMap map[string][]models.TagSource

// Names returns the tags sorted alphabetically.
func (tm TagMap) Names() []string {
	names := make([]string, 0, len(tm))
	for tag := range tm {
		names = append(names, tag)
	}
	sort.Strings(names)
	return names
}

// BuildTagMap groups documents by tag.
func BuildTagMap(docs []Document) TagMap {
	tm := TagMap{}
	for _, d := range docs {
		for _, tag := range d.Tags {
			tm[tag] = append(tm[tag], models.TagSource{Path: d.ID, Title: d.Title})
		}
	}
	return tm
}

// ExtractTags scans dir and groups its posts by tag.
func ExtractTags(dir string) (TagMap, error) {
	docs, err := Scan(dir)
	if err != nil {
		return nil, err
	}
	tm := BuildTagMap(docs)
	log.Info().Int("files", len(docs)).Int("tags", len(tm)).Msg("Extracted tags")
	return tm, nil
}

// MarkdownReport renders the tag summary as markdown.
func MarkdownReport(tm TagMap, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Tag Summary Report\n\n")
	fmt.Fprintf(&b, "*Generated on: %s*\n\n", now.Format(time.RFC3339))

	names := tm.Names()
	fmt.Fprintf(&b, "## All Tags (%d)\n\n", len(names))
	for _, tag := range names {
		anchor := strings.ReplaceAll(strings.ToLower(tag), " ", "-")
		fmt.Fprintf(&b, "- [%s](#%s) (%d sources)\n", tag, anchor, len(tm[tag]))
	}

	b.WriteString("\n## Tag Details\n\n")
	for _, tag := range names {
		fmt.Fprintf(&b, "### %s\n\n", tag)
		fmt.Fprintf(&b, "Sources containing this tag: %d\n\n", len(tm[tag]))
		for _, src := range tm[tag] {
			fmt.Fprintf(&b, "- [%s](%s)\n", src.Title, src.Path)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type TagReportMeta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	GeneratedAt string `json:"generated_at"`
	TotalTags   int    `json:"total_tags"`
	RunID       string `json:"run_id,omitempty"`
}

type TagDetail struct {
	Count   int                `json:"count"`
	Sources []models.TagSource `json:"sources"`
}

// TagReport is the tag-report.json document.
type TagReport struct {
	Meta       TagReportMeta        `json:"meta"`
	TagDetails map[string]TagDetail `json:"tag_details"`
}

// JSONReport builds the machine readable tag summary.
func JSONReport(tm TagMap, now time.Time, runID string) TagReport {
	report := TagReport{
		Meta: TagReportMeta{
			Title:       "Tag Summary Report",
			Description: "Summary of tags and their occurrences in markdown files",
			GeneratedAt: now.Format(time.RFC3339),
			TotalTags:   len(tm),
			RunID:       runID,
		},
		TagDetails: make(map[string]TagDetail, len(tm)),
	}
	for tag, sources := range tm {
		report.TagDetails[tag] = TagDetail{Count: len(sources), Sources: sources}
	}
	return report
}

// LoadTagReport reads a tag-report.json back into a TagMap.
func LoadTagReport(path string) (TagMap, error) {
	var report TagReport
	if err := helper.LoadJSON(path, &report); err != nil {
		return nil, err
	}
	tm := make(TagMap, len(report.TagDetails))
	for tag, detail := range report.TagDetails {
		tm[tag] = detail.Sources
	}
	return tm, nil
}
