// Package cli is the kb command tree.
package cli

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kb-toolkit/internal/config"
	"kb-toolkit/internal/embedding"
	"kb-toolkit/internal/llmservice"
	"kb-toolkit/internal/pipeline"
	"kb-toolkit/internal/store"
)

// chatClient is the part of the chat connector the commands use.
type chatClient interface {
	Ask(ctx context.Context, prompt string) (string, error)
	AskJSON(ctx context.Context, prompt string, v any) error
	BilledTokens() int
}

type embedClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var (
	cfgFile string
	verbose bool

	cfg *config.Config

	// replaced in tests
	newChat     = defaultChat
	newEmbedder = defaultEmbedder
	openStore   = store.Open
)

var rootCmd = &cobra.Command{
	Use:   "kb",
	Short: "Knowledge base toolkit",
	Long: `Maintains a knowledge base of markdown posts: tag reports, embeddings,
similar post links, clusters, tag definitions, enhanced posts, semantic
search and document extraction checks.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to the YAML configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(_ *cobra.Command, _ []string) error {
	c, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	cfg = c

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Debug().Str("config", cfgFile).Msg("Loaded config")
	return nil
}

func defaultChat(c *config.Config, provider string) (chatClient, error) {
	if provider == "" {
		provider = c.Chat.Provider
	}
	conn, err := llmservice.NewChatConnectorFor(provider, llmservice.FromConfig(c.Chat)...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func defaultEmbedder(c *config.Config) (embedClient, error) {
	conn, err := embedding.NewEmbeddingConnector(c.Embedding.Provider, nil, embedding.FromConfig(c.Embedding)...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func prompts() *pipeline.PromptStore {
	return pipeline.NewPromptStore(cfg.PromptsDir)
}

// artifact is the path of a JSON artifact in the corpus directory.
func artifact(name string) string {
	return filepath.Join(cfg.Corpus.Dir, name)
}

func report(name string) string {
	return filepath.Join(cfg.Corpus.ReportDir, name)
}

var errNoStore = errors.New("no vector store configured (store.backend is none)")

// withStore opens the configured store, which must exist, and closes it
// after fn.
func withStore(ctx context.Context, fn func(store.Store) error) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if st == nil {
		return errNoStore
	}
	defer st.Close()
	return fn(st)
}
