package cli

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kb-toolkit/internal/corpus"
	"kb-toolkit/internal/models"
	"kb-toolkit/internal/pipeline"
)

var analyzeProvider string

var analyzeCmd = &cobra.Command{
	Use:   "analyze-tags [tag...]",
	Short: "Define tags with the chat provider",
	Long: `Asks the chat provider for a definition of every tag, or of the given
tags, based on up to three posts carrying it. When embeddings.json exists the
definition is embedded to find other posts that match it. Writes one page per
tag and tag-definitions.json into <report dir>/tags.`,
	RunE: runAnalyzeTags,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeProvider, "provider", "p", "", "chat provider (default from config)")
	rootCmd.AddCommand(analyzeCmd)
}

// loadTagMap prefers the saved tag report and scans the posts otherwise.
func loadTagMap() (corpus.TagMap, error) {
	tm, err := corpus.LoadTagReport(report(pipeline.TagReportFile))
	if err == nil {
		return tm, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return corpus.ExtractTags(cfg.Corpus.PostsDir)
}

func runAnalyzeTags(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tm, err := loadTagMap()
	if err != nil {
		return err
	}
	chat, err := newChat(cfg, analyzeProvider)
	if err != nil {
		return err
	}

	var (
		embedder pipeline.Embedder
		records  []models.DocumentRecord
	)
	records, err = corpus.LoadRecords(artifact(pipeline.EmbeddingsFile))
	switch {
	case err == nil:
		e, err := newEmbedder(cfg)
		if err != nil {
			return err
		}
		embedder = e
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Msg("No embeddings found, similar posts are skipped")
	default:
		return err
	}

	analyzer := pipeline.NewTagAnalyzer(chat, embedder, prompts(), cfg.Corpus.PostsDir, records, cfg.Similarity.TopN)
	defs, runErr := analyzer.AnalyzeAll(ctx, tm, args)
	// partial results are kept when the quota runs out
	if err := pipeline.SaveTagDefinitions(filepath.Join(cfg.Corpus.ReportDir, "tags"), defs, time.Now()); err != nil {
		return err
	}
	cmd.Printf("Defined %d tags\n", len(defs))
	return runErr
}
