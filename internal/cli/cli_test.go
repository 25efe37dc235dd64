package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"kb-toolkit/internal/config"
)

var testPosts = map[string]string{
	"a.md": `---
title: Faktura A
tags: [faktura]
source_url: http://madar.pl/a
---
# Faktura A

Faktura zaliczkowa. Faktura VAT dla klienta.
`,
	"b.md": `---
title: Korekta
tags: faktura
source_url: https://madar.pl/b
---
Faktura korygująca faktura.
`,
	"c.md": `---
tags: [kadry]
source_url: https://madar.pl/c
---
# Kadry

Kadry i płace. Kadry w firmie.
`,
	"d.md": `---
tags: [magazyn]
---
Magazyn towarów.
`,
}

type topicEmbedder struct{}

func (topicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	return []float32{
		float32(strings.Count(lower, "faktur")) + 0.1,
		float32(strings.Count(lower, "kadr")) + 0.1,
		float32(strings.Count(lower, "magazyn")) + 0.1,
	}, nil
}

type stubChat struct {
	answer  string
	json    map[string]any
	prompts []string
}

func (c *stubChat) Ask(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.answer, nil
}

func (c *stubChat) AskJSON(_ context.Context, prompt string, v any) error {
	c.prompts = append(c.prompts, prompt)
	data, err := json.Marshal(c.json)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (c *stubChat) BilledTokens() int { return 42 }

type testEnv struct {
	dir    string
	config string
	chat   *stubChat
}

func (e *testEnv) path(elem ...string) string {
	return filepath.Join(append([]string{e.dir}, elem...)...)
}

// setup writes the posts and a configuration under a temp dir and swaps the
// provider factories for fakes.
func setup(t *testing.T, backend string) *testEnv {
	t.Helper()
	env := &testEnv{dir: t.TempDir(), chat: &stubChat{answer: "Odpowiedź"}}
	require.NoError(t, os.MkdirAll(env.path("posts"), 0o755))
	for name, body := range testPosts {
		require.NoError(t, os.WriteFile(env.path("posts", name), []byte(body), 0o644))
	}

	yaml := strings.NewReplacer("$DIR", env.dir, "$BACKEND", backend).Replace(`
log_level: warn
prompts_dir: $DIR/prompts
corpus:
  dir: $DIR/data
  posts_dir: $DIR/posts
  report_dir: $DIR/reports
  enhanced_dir: $DIR/enhanced
  important_urls: $DIR/important.csv
store:
  backend: $BACKEND
  path: $DIR/chromem
  collection: posts
  compress: false
extract:
  prompt_file: $DIR/prompt.txt
  input_dir: $DIR/invoices
`)
	env.config = env.path("config.yaml")
	require.NoError(t, os.WriteFile(env.config, []byte(yaml), 0o644))

	oldChat, oldEmbedder := newChat, newEmbedder
	newChat = func(*config.Config, string) (chatClient, error) { return env.chat, nil }
	newEmbedder = func(*config.Config) (embedClient, error) { return topicEmbedder{}, nil }
	extractFile, searchJSON, searchTag = "", false, ""
	t.Cleanup(func() {
		newChat, newEmbedder = oldChat, oldEmbedder
	})
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--config", e.config}, args...))
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, out)
	return out
}
