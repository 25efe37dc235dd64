package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"kb-toolkit/internal/models"
)

const (
	postA = `---
title: Faktura A
tags: [faktura]
source_url: http://madar.pl/a
related_links:
  - url: https://madar.pl/b#top
    title: Korekta
---
# Faktura A

Faktura zaliczkowa. Faktura VAT dla klienta.
`
	postB = `---
title: Korekta
tags: faktura
source_url: https://madar.pl/b
---
Faktura korygująca faktura.
`
	postC = `---
tags: [kadry]
source_url: https://madar.pl/c
---
# Kadry

Kadry i płace. Kadry w firmie.
`
	postD = `---
tags: [magazyn]
---
Magazyn towarów.
`
)

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{"a.md": postA, "b.md": postB, "c.md": postC, "d.md": postD} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

// keywordEmbedder counts topic words, so related posts get close vectors.
type keywordEmbedder struct {
	failOn string
	calls  int
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, &models.EmbeddingError{Code: 500, Message: "boom"}
	}
	lower := strings.ToLower(text)
	return []float32{
		float32(strings.Count(lower, "faktur")) + 0.1,
		float32(strings.Count(lower, "kadr")) + 0.1,
		float32(strings.Count(lower, "magazyn")) + 0.1,
	}, nil
}

// scriptedChat answers with the first rule whose key the prompt contains.
type scriptedChat struct {
	rules    []chatRule
	fallback string
	prompts  []string
}

type chatRule struct {
	key    string
	answer string
	err    error
}

func (c *scriptedChat) Ask(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	for _, r := range c.rules {
		if strings.Contains(prompt, r.key) {
			return r.answer, r.err
		}
	}
	return c.fallback, nil
}

type memIndex struct {
	docs    map[string]models.StoredDocument
	deleted []string
}

func newMemIndex() *memIndex {
	return &memIndex{docs: map[string]models.StoredDocument{}}
}

func (m *memIndex) Upsert(_ context.Context, docs []models.StoredDocument) error {
	for _, d := range docs {
		m.docs[d.ID] = d
	}
	return nil
}

func (m *memIndex) Delete(_ context.Context, ids ...string) error {
	for _, id := range ids {
		delete(m.docs, id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}
