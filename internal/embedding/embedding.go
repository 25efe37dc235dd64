package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/textsplitter"

	"kb-toolkit/internal/config"
	"kb-toolkit/internal/models"
)

const DefaultTimeout = 60 * time.Second

// Kind selects the embedding provider.
type Kind string

const (
	KindGemini Kind = "gemini"
	KindGoogle Kind = "google"
	KindOpenAI Kind = "openai"
	KindAzure  Kind = "azure"
	KindOllama Kind = "ollama"
)

const (
	googleEmbedPattern = "https://generativelanguage.googleapis.com/v1beta/models/%s:embedContent"
	openAIEmbedURL     = "https://api.openai.com/v1/embeddings"
	azureEmbedPattern  = "%s/openai/deployments/%s/embeddings?api-version=2023-05-15"
)

// Embedder is satisfied by langchaingo embedders.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type kindSpec struct {
	model   string
	envVars []string
	// url builds the endpoint from the credentials, in envVars order
	url     func(creds []string, model string) string
	headers func(creds []string) map[string]string
	body    func(model, text string) any
	// keyInQuery appends ?key= when the endpoint is overridden
	keyInQuery bool
}

func googleBody(taskType string) func(model, text string) any {
	return func(model, text string) any {
		body := map[string]any{
			"model":   "models/" + model,
			"content": map[string]any{"parts": []map[string]string{{"text": text}}},
		}
		if taskType != "" {
			body["taskType"] = taskType
		}
		return body
	}
}

func googleURL(creds []string, model string) string {
	return fmt.Sprintf(googleEmbedPattern, model) + "?key=" + url.QueryEscape(creds[0])
}

func jsonHeaders([]string) map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

var kindSpecs = map[Kind]kindSpec{
	KindGemini: {
		model:      "gemini-embedding-exp-03-07",
		envVars:    []string{"GOOGLE_API_KEY"},
		url:        googleURL,
		headers:    jsonHeaders,
		body:       googleBody("SEMANTIC_SIMILARITY"),
		keyInQuery: true,
	},
	KindGoogle: {
		model:      "text-embedding-004",
		envVars:    []string{"GOOGLE_API_KEY"},
		url:        googleURL,
		headers:    jsonHeaders,
		body:       googleBody(""),
		keyInQuery: true,
	},
	KindOpenAI: {
		model:   "text-embedding-3-small",
		envVars: []string{"OPENAI_API_KEY"},
		url:     func([]string, string) string { return openAIEmbedURL },
		headers: func(creds []string) map[string]string {
			return map[string]string{"Authorization": "Bearer " + creds[0], "Content-Type": "application/json"}
		},
		body: func(model, text string) any {
			return map[string]any{"model": model, "input": text, "encoding_format": "float"}
		},
	},
	KindAzure: {
		model:   "text-embedding-ada-002",
		envVars: []string{"AZURE_OPENAI_KEY", "AZURE_OPENAI_ENDPOINT"},
		url: func(creds []string, model string) string {
			return fmt.Sprintf(azureEmbedPattern, strings.TrimRight(creds[1], "/"), model)
		},
		headers: func(creds []string) map[string]string {
			return map[string]string{"api-key": creds[0], "Content-Type": "application/json"}
		},
		body: func(_, text string) any {
			return map[string]any{"input": text}
		},
	},
}

// Connector turns texts into vectors with one provider.
type Connector struct {
	kind    Kind
	model   string
	url     string
	headers map[string]string
	body    func(model, text string) any

	client   *http.Client
	endpoint string
	local    Embedder
	splitter textsplitter.TextSplitter

	ollamaURL   string
	ollamaModel string

	mu           sync.Mutex
	lastResponse json.RawMessage
}

type Option func(*Connector)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) { c.client = client }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithEndpoint replaces the provider URL. Google kinds keep their ?key=.
func WithEndpoint(endpoint string) Option {
	return func(c *Connector) { c.endpoint = endpoint }
}

// WithMaxInputChars embeds only the first chunk of longer inputs.
func WithMaxInputChars(n int) Option {
	return func(c *Connector) {
		if n > 0 {
			c.splitter = textsplitter.NewRecursiveCharacter(
				textsplitter.WithChunkSize(n),
				textsplitter.WithChunkOverlap(0),
			)
		}
	}
}

// WithOllama sets the server and model of the ollama kind.
func WithOllama(baseURL, model string) Option {
	return func(c *Connector) {
		c.ollamaURL = baseURL
		c.ollamaModel = model
	}
}

// WithEmbedder routes every call to e instead of an HTTP provider.
func WithEmbedder(e Embedder) Option {
	return func(c *Connector) { c.local = e }
}

// FromConfig maps the embedding section of the configuration to options.
func FromConfig(cfg config.EmbeddingConfig) []Option {
	return []Option{
		WithTimeout(cfg.Timeout),
		WithMaxInputChars(cfg.MaxInputChars),
		WithOllama(cfg.Ollama.BaseURL, cfg.Ollama.Model),
	}
}

// NewEmbeddingConnector builds a connector for kind. A missing credential is
// a *models.ConfigError. Unknown kinds fall back to gemini.
func NewEmbeddingConnector(kind string, getenv func(string) (string, bool), opts ...Option) (*Connector, error) {
	if getenv == nil {
		getenv = config.Getenv
	}
	c := &Connector{
		kind:   Kind(strings.ToLower(kind)),
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.kind == KindOllama {
		if err := c.initOllama(); err != nil {
			return nil, err
		}
		return c, nil
	}

	spec, ok := kindSpecs[c.kind]
	if !ok {
		log.Warn().Str("provider", kind).Msg("Unknown embedding provider, using gemini")
		c.kind = KindGemini
		spec = kindSpecs[KindGemini]
	}
	creds := make([]string, 0, len(spec.envVars))
	for _, name := range spec.envVars {
		v, ok := getenv(name)
		if !ok || v == "" {
			return nil, &models.ConfigError{Var: name}
		}
		creds = append(creds, v)
	}
	c.model = spec.model
	c.url = spec.url(creds, spec.model)
	c.headers = spec.headers(creds)
	c.body = spec.body
	if c.endpoint != "" {
		c.url = c.endpoint
		if spec.keyInQuery {
			c.url += "?key=" + url.QueryEscape(creds[0])
		}
	}
	return c, nil
}

func (c *Connector) initOllama() error {
	c.model = c.ollamaModel
	if c.local != nil {
		return nil
	}
	opts := []ollama.Option{ollama.WithModel(c.ollamaModel)}
	if c.ollamaURL != "" {
		opts = append(opts, ollama.WithServerURL(c.ollamaURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return fmt.Errorf("failed to create ollama embedder: %w", err)
	}
	c.local = embedder
	return nil
}

func (c *Connector) Kind() Kind { return c.kind }

func (c *Connector) Model() string { return c.model }

// LastResponse returns the raw payload of the last HTTP call.
func (c *Connector) LastResponse() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResponse
}

// Embed computes the vector of text. An unrecognised response shape is
// logged and yields a nil vector with a nil error.
func (c *Connector) Embed(ctx context.Context, text string) ([]float32, error) {
	text = c.firstChunk(text)
	start := time.Now()

	if c.local != nil {
		vec, err := c.local.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%s embedding failed: %w", c.model, err)
		}
		log.Debug().Str("model", c.model).Int("dims", len(vec)).Dur("duration", time.Since(start)).Msg("Embedding computed")
		return vec, nil
	}

	payload, err := json.Marshal(c.body(c.model, text))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s embedding request failed: %w", c.model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	duration := time.Since(start)
	if resp.StatusCode != http.StatusOK {
		log.Error().Str("model", c.model).Int("status", resp.StatusCode).Str("body", string(data)).Msg("Embedding error")
		return nil, &models.EmbeddingError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("%s embedding len=%d duration: %s", c.model, len(text), duration),
		}
	}

	c.mu.Lock()
	c.lastResponse = json.RawMessage(data)
	c.mu.Unlock()

	vec := extractVector(data)
	if vec == nil {
		log.Error().Str("model", c.model).Str("body", string(data)).Msg("Unknown embedding response format")
		return nil, nil
	}
	log.Debug().Str("model", c.model).Int("dims", len(vec)).Dur("duration", duration).Msg("Embedding computed")
	return vec, nil
}

// EmbedBatch embeds texts one after another.
func (c *Connector) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (c *Connector) firstChunk(text string) string {
	if c.splitter == nil {
		return text
	}
	chunks, err := c.splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		return text
	}
	return chunks[0]
}

type vectorResponse struct {
	Embedding *struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func extractVector(data []byte) []float32 {
	var r vectorResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil
	}
	switch {
	case r.Embedding != nil:
		return r.Embedding.Values
	case len(r.Data) > 0:
		return r.Data[0].Embedding
	}
	return nil
}
