package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendChromem  = "chromem"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Getenv looks up credentials. Tests replace it to inject a fake environment.
var Getenv = os.LookupEnv

type Config struct {
	LogLevel   string           `yaml:"log_level"`
	PromptsDir string           `yaml:"prompts_dir"`
	Chat       ChatConfig       `yaml:"chat"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Store      StoreConfig      `yaml:"store"`
	Database   DatabaseConfig   `yaml:"database"`
	Extract    ExtractConfig    `yaml:"extract"`
}

type ChatConfig struct {
	Provider          string        `yaml:"provider"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	StrictOverload    bool          `yaml:"strict_overload"`
}

type EmbeddingConfig struct {
	Provider      string        `yaml:"provider"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxInputChars int           `yaml:"max_input_chars"`
	Ollama        OllamaConfig  `yaml:"ollama"`
}

type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type CorpusConfig struct {
	Dir           string `yaml:"dir"`
	PostsDir      string `yaml:"posts_dir"`
	ReportDir     string `yaml:"report_dir"`
	EnhancedDir   string `yaml:"enhanced_dir"`
	ImportantURLs string `yaml:"important_urls"`
	// Summarize asks the chat provider for a short summary of every post
	// while embedding.
	Summarize bool `yaml:"summarize"`
}

type SimilarityConfig struct {
	TopN          int     `yaml:"top_n"`
	LinkThreshold float64 `yaml:"link_threshold"`
	Clusters      int     `yaml:"clusters"`
	Seed          int64   `yaml:"seed"`
}

// StoreConfig selects where embeddings are persisted besides the JSON
// artifact: "chromem", "postgres" or "none".
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	EncryptionKey string `yaml:"encryption_key"`
	Compress      bool   `yaml:"compress"`
	InMemory      bool   `yaml:"in_memory"`
}

type DatabaseConfig struct {
	DSN        string `yaml:"dsn"`
	Password   string `yaml:"password"`
	Driver     string `yaml:"driver"`
	Debug      bool   `yaml:"debug"`
	Dimensions int    `yaml:"dimensions"`
}

type ExtractConfig struct {
	PromptFile string `yaml:"prompt_file"`
	InputDir   string `yaml:"input_dir"`
	Provider   string `yaml:"provider"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		PromptsDir: "prompts",
		Chat: ChatConfig{
			Provider: "primary-chat-b",
			Timeout:  180 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider: "gemini",
			Timeout:  60 * time.Second,
			Ollama: OllamaConfig{
				BaseURL: "http://localhost:11434",
				Model:   "nomic-embed-text",
			},
		},
		Corpus: CorpusConfig{
			Dir:           "data",
			PostsDir:      "data/posts",
			ReportDir:     "data/reports",
			EnhancedDir:   "data/enhanced",
			ImportantURLs: "data/important.csv",
		},
		Similarity: SimilarityConfig{
			TopN:          5,
			LinkThreshold: 0.82,
			Clusters:      8,
			Seed:          42,
		},
		Store: StoreConfig{
			Backend:    BackendChromem,
			Path:       "data/chromemdb",
			Collection: "posts",
			Compress:   true,
		},
		Database: DatabaseConfig{
			Driver:     "pgdriver",
			Dimensions: 768,
		},
		Extract: ExtractConfig{
			PromptFile: "prompts/invoice.txt",
			InputDir:   "data/invoices",
			Provider:   "primary-chat-a",
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that cannot work at runtime.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendChromem, BackendPostgres, BackendNone:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Database.Driver {
	case "pgdriver", "pq":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Similarity.LinkThreshold < 0 || c.Similarity.LinkThreshold > 1 {
		return fmt.Errorf("link_threshold must be within [0,1], got %v", c.Similarity.LinkThreshold)
	}
	if c.Similarity.TopN < 1 {
		return fmt.Errorf("top_n must be positive, got %d", c.Similarity.TopN)
	}
	return nil
}
