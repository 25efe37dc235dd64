package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
	"kb-toolkit/internal/parser"
)

const (
	expectedSuffix = ".expected.json"
	outputSuffix   = ".json.out"
)

// Asker is the part of the chat connector extraction needs.
type Asker interface {
	AskJSON(ctx context.Context, prompt string, v any) error
	BilledTokens() int
}

// Extractor turns documents into JSON with a fixed instruction prompt.
type Extractor struct {
	chat   Asker
	prompt string
}

// NewExtractor reads the instruction prompt from promptFile.
func NewExtractor(chat Asker, promptFile string) (*Extractor, error) {
	data, err := os.ReadFile(promptFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt: %w", err)
	}
	return &Extractor{chat: chat, prompt: string(data)}, nil
}

// Prompt appends the document text to the instruction prompt.
func (e *Extractor) Prompt(text string) string {
	return e.prompt + models.ExtractionSeparator + text
}

// Extract parses the document at path and asks for its JSON rendering. The
// billed tokens of the call are returned with the result.
func (e *Extractor) Extract(ctx context.Context, path string) (map[string]any, int, error) {
	text, err := parser.ParseToText(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	var out map[string]any
	err = e.chat.AskJSON(ctx, e.Prompt(text), &out)
	tokens := e.chat.BilledTokens()
	if err != nil {
		return nil, tokens, err
	}
	return out, tokens, nil
}

// Result is the evaluation of one document.
type Result struct {
	Document    string              `json:"document"`
	Duration    time.Duration       `json:"duration"`
	Tokens      int                 `json:"tokens"`
	Fields      int                 `json:"fields"`
	Differences []helper.Difference `json:"differences,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Passed reports whether the document was extracted without differences.
func (r Result) Passed() bool {
	return r.Error == "" && len(r.Differences) == 0
}

// Report summarises an evaluation run.
type Report struct {
	Results     []Result `json:"results"`
	Passed      int      `json:"passed"`
	TotalTokens int      `json:"total_tokens"`
}

// Cases lists the documents of dir that have a sibling <name>.expected.json.
func Cases(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var docs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !parser.Supported(name) {
			continue
		}
		if _, err := os.Stat(expectedPath(filepath.Join(dir, name))); err != nil {
			continue
		}
		docs = append(docs, filepath.Join(dir, name))
	}
	sort.Strings(docs)
	return docs, nil
}

func expectedPath(doc string) string {
	return strings.TrimSuffix(doc, filepath.Ext(doc)) + expectedSuffix
}

// Evaluate extracts every case of dir and compares it with the expected
// JSON. The extracted JSON is kept next to the document as <name>.json.out.
// Insufficient quota stops the run; other failures are recorded per document.
func (e *Extractor) Evaluate(ctx context.Context, dir string) (*Report, error) {
	docs, err := Cases(dir)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	for _, doc := range docs {
		res, err := e.evaluate(ctx, doc)
		report.TotalTokens += res.Tokens
		if err != nil {
			return report, err
		}
		if res.Passed() {
			report.Passed++
		}
		report.Results = append(report.Results, res)
	}
	log.Info().
		Int("documents", len(report.Results)).
		Int("passed", report.Passed).
		Int("billed", report.TotalTokens).
		Msg("Extraction evaluated")
	return report, nil
}

func (e *Extractor) evaluate(ctx context.Context, doc string) (Result, error) {
	res := Result{Document: filepath.Base(doc)}
	var expected map[string]any
	if err := helper.LoadJSON(expectedPath(doc), &expected); err != nil {
		res.Error = err.Error()
		return res, nil
	}

	start := time.Now()
	got, tokens, err := e.Extract(ctx, doc)
	res.Duration = time.Since(start)
	res.Tokens = tokens
	if err != nil {
		var quota *models.InsufficientQuotaError
		if errors.As(err, &quota) {
			return res, err
		}
		log.Error().Err(err).Str("document", res.Document).Msg("Extraction failed")
		res.Error = err.Error()
		return res, nil
	}
	if err := writeOutput(doc, got); err != nil {
		log.Warn().Err(err).Str("document", res.Document).Msg("Failed to keep extraction output")
	}

	res.Differences = helper.CompareJSON(expected, got)
	for k := range expected {
		if !strings.HasPrefix(k, "_") {
			res.Fields++
		}
	}
	for _, d := range res.Differences {
		log.Debug().Str("document", res.Document).Str("path", d.Path).Interface("expected", d.Left).Interface("got", d.Right).Msg("Field mismatch")
	}
	return res, nil
}

func writeOutput(doc string, v map[string]any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(strings.TrimSuffix(doc, filepath.Ext(doc))+outputSuffix, data, 0o644)
}
