package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kb-toolkit/internal/corpus"
	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/pipeline"
)

var tagsCmd = &cobra.Command{
	Use:   "tags [posts-dir]",
	Short: "Write the tag summary report",
	Long: `Collects the tags of every post and writes tag-report.json and
tag-report.md into the report directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTags,
}

func init() {
	rootCmd.AddCommand(tagsCmd)
}

func postsDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Corpus.PostsDir
}

func runTags(cmd *cobra.Command, args []string) error {
	tm, err := corpus.ExtractTags(postsDir(args))
	if err != nil {
		return err
	}
	if err := helper.CreateFolder(cfg.Corpus.ReportDir); err != nil {
		return err
	}

	runID, err := helper.GenerateUUID()
	if err != nil {
		return err
	}
	now := time.Now()
	if err := helper.SaveJSON(corpus.JSONReport(tm, now, runID), report(pipeline.TagReportFile)); err != nil {
		return err
	}
	if err := os.WriteFile(report(pipeline.TagReportMarkdown), []byte(corpus.MarkdownReport(tm, now)), 0o644); err != nil {
		return fmt.Errorf("failed to write tag report: %w", err)
	}
	log.Info().Str("run_id", runID).Int("tags", len(tm)).Msg("Tag report written")

	cmd.Printf("Found %d tags\n", len(tm))
	for _, tag := range tm.Names() {
		cmd.Printf("  %s (%d)\n", tag, len(tm[tag]))
	}
	return nil
}
