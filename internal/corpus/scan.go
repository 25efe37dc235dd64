package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
)

// Document is one markdown post as read from disk.
type Document struct {
	ID           string
	Path         string
	Title        string
	Tags         []string
	SourceURL    string
	RelatedLinks []models.RelatedLink
	Body         string
}

// Record returns the document's record without an embedding.
func (d Document) Record() models.DocumentRecord {
	links := make([]models.RelatedLink, len(d.RelatedLinks))
	copy(links, d.RelatedLinks)
	tags := make([]string, len(d.Tags))
	copy(tags, d.Tags)
	return models.DocumentRecord{
		ID:           d.ID,
		Title:        d.Title,
		Tags:         tags,
		RelatedLinks: links,
		SourceURL:    d.SourceURL,
	}
}

// IsMarkdown reports whether path names a markdown post.
func IsMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

// Scan reads every markdown file under dir in lexical order. A broken
// frontmatter is logged and the file is kept with its body only.
func Scan(dir string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsMarkdown(path) {
			return nil
		}
		doc, err := ReadDocument(dir, path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	log.Info().Str("dir", dir).Int("documents", len(docs)).Msg("Corpus scanned")
	return docs, nil
}

// ReadDocument loads one post; its ID is the path relative to root.
func ReadDocument(root, path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Document{}, err
	}
	rel = filepath.ToSlash(rel)

	fm, body, err := ParseFrontmatter(string(data))
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Error parsing frontmatter YAML")
	}

	links := make([]models.RelatedLink, 0, len(fm.RelatedLinks))
	for _, l := range fm.RelatedLinks {
		l.URL = helper.CleanURL(l.URL)
		links = append(links, l)
	}

	title := fm.Title
	if title == "" {
		title = Heading(body)
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return Document{
		ID:           rel,
		Path:         path,
		Title:        title,
		Tags:         []string(fm.Tags),
		SourceURL:    helper.CleanURL(fm.SourceURL),
		RelatedLinks: links,
		Body:         body,
	}, nil
}
