package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"kb-toolkit/internal/models"
	"kb-toolkit/internal/rag"
	"kb-toolkit/internal/store"
)

var (
	searchLimit int
	searchTag   string
	searchJSON  bool
	askLimit    int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search posts by meaning",
	Long: `Embeds the query and returns the closest posts from the vector store,
optionally only those carrying a tag.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the posts",
	Long: `Retrieves the posts closest to the question and asks the chat provider
to answer from them only.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", rag.DefaultResults, "maximum number of results")
	searchCmd.Flags().StringVar(&searchTag, "tag", "", "only posts with this tag")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	askCmd.Flags().IntVarP(&askLimit, "limit", "n", rag.DefaultResults, "posts used as context")
	rootCmd.AddCommand(searchCmd, askCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	return withStore(cmd.Context(), func(st store.Store) error {
		hits, err := rag.NewRAG(st, embedder, nil).Search(cmd.Context(), args[0], searchLimit, searchTag)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if searchJSON {
			return outputSearchJSON(cmd, hits)
		}
		outputSearchTable(cmd, hits)
		return nil
	})
}

func outputSearchJSON(cmd *cobra.Command, hits []models.SearchHit) error {
	data, err := json.MarshalIndent(hits, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, hits []models.SearchHit) {
	if len(hits) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i, hit := range hits {
		title := hit.Title
		if title == "" {
			title = hit.ID
		}
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, title, hit.Similarity)
		if hit.SourceURL != "" {
			cmd.Printf("      Source: %s\n", hit.SourceURL)
		}
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	chat, err := newChat(cfg, "")
	if err != nil {
		return err
	}
	tmpl, err := prompts().Load(models.PromptAnswer)
	if err != nil {
		return err
	}
	return withStore(cmd.Context(), func(st store.Store) error {
		r := rag.NewRAG(st, embedder, chat, rag.WithPromptTemplate(tmpl))
		response, err := r.Query(cmd.Context(), args[0], askLimit)
		if err != nil {
			return err
		}
		cmd.Printf("Query:\n%s\n\n", response.Query)
		cmd.Printf("Source:\n%s\n\n", response.Source)
		cmd.Printf("Assistant:\n%s\n", response.Content)
		return nil
	})
}
