package cli

import (
	"github.com/spf13/cobra"

	"kb-toolkit/internal/pipeline"
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance",
	Short: "Rewrite the important posts",
	Long: `Rewrites every post whose source URL is listed in the important URLs
CSV, using the similar posts from linked.json as extra material. Writes
enhanced_<name> and <name>_en.json into the enhanced directory.`,
	Args: cobra.NoArgs,
	RunE: runEnhance,
}

func init() {
	rootCmd.AddCommand(enhanceCmd)
}

func runEnhance(cmd *cobra.Command, _ []string) error {
	important, err := pipeline.LoadImportantURLs(cfg.Corpus.ImportantURLs)
	if err != nil {
		return err
	}
	linked, err := pipeline.LoadLinked(artifact(pipeline.LinkedFile))
	if err != nil {
		return err
	}
	chat, err := newChat(cfg, "")
	if err != nil {
		return err
	}

	enhancer := pipeline.NewContentEnhancer(chat, prompts(), cfg.Corpus.PostsDir, cfg.Corpus.EnhancedDir, linked, important)
	processed, skipped, err := enhancer.Process(cmd.Context())
	cmd.Printf("Enhanced %d posts, skipped %d\n", processed, skipped)
	return err
}
