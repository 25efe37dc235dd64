package cli

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kb-toolkit/internal/models"
	"kb-toolkit/internal/pipeline"
	"kb-toolkit/internal/watcher"
)

var (
	embedWatch     bool
	embedSummaries bool
	embedNoIndex   bool
)

var embedCmd = &cobra.Command{
	Use:   "embed [posts-dir]",
	Short: "Embed every post",
	Long: `Embeds every post, resolves related links and writes embeddings.json.
The embedded posts are also upserted into the configured vector store.
With --watch the command keeps running and re-embeds posts as they change.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEmbed,
}

func init() {
	embedCmd.Flags().BoolVarP(&embedWatch, "watch", "w", false, "keep embedding changed posts")
	embedCmd.Flags().BoolVar(&embedSummaries, "summaries", false, "ask the chat provider for post summaries")
	embedCmd.Flags().BoolVar(&embedNoIndex, "no-index", false, "only write embeddings.json")
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := postsDir(args)
	out := artifact(pipeline.EmbeddingsFile)

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	opts := []pipeline.GeneratorOption{pipeline.WithPrompts(prompts())}
	if embedSummaries || cfg.Corpus.Summarize {
		chat, err := newChat(cfg, "")
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithSummaries(chat))
	}
	if !embedNoIndex {
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
			opts = append(opts, pipeline.WithIndexer(st))
		}
	}

	gen := pipeline.NewEmbeddingGenerator(embedder, opts...)
	records, err := gen.Run(ctx, dir, out)
	if err != nil {
		return err
	}
	cmd.Printf("Embedded %d posts into %s\n", len(records), out)

	if !embedWatch {
		return nil
	}
	w, err := watcher.New(".md")
	if err != nil {
		return err
	}
	defer w.Close()
	events, err := w.Watch(ctx, dir)
	if err != nil {
		return err
	}
	cmd.Printf("Watching %s\n", dir)
	return followChanges(ctx, gen, events, dir, out)
}

// followChanges applies watcher events until the channel closes. Failures
// are logged; insufficient quota ends the loop.
func followChanges(ctx context.Context, gen *pipeline.EmbeddingGenerator, events <-chan watcher.Event, dir, out string) error {
	for ev := range events {
		var err error
		switch ev.Op {
		case watcher.Created, watcher.Modified:
			err = gen.Update(ctx, dir, ev.Path, out)
		case watcher.Deleted:
			err = gen.Remove(ctx, dir, ev.Path, out)
		}
		if err == nil {
			continue
		}
		var quota *models.InsufficientQuotaError
		if errors.As(err, &quota) {
			return err
		}
		log.Error().Err(err).Str("file", ev.Path).Stringer("op", ev.Op).Msg("Could not apply change")
	}
	return nil
}
