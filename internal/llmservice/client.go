package llmservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"kb-toolkit/internal/config"
	"kb-toolkit/internal/models"
)

const (
	DefaultTimeout = 180 * time.Second

	// StatusOverloaded is the non-standard status Anthropic uses when busy.
	StatusOverloaded = 529

	overloadedPrefix = `{"error":"529"`
)

// ChatConnector sends single-turn prompts to the selected provider.
// The last-response memo is not meaningful across concurrent calls.
type ChatConnector struct {
	profile atomic.Pointer[Profile]

	httpClient     *http.Client
	getenv         func(string) (string, bool)
	baseURL        string
	limiter        *rate.Limiter
	strictOverload bool

	mu           sync.Mutex
	lastResponse json.RawMessage
	billed       int
	total        int
}

type Option func(*ChatConnector)

// WithHTTPClient replaces the default client (180 s timeout).
func WithHTTPClient(client *http.Client) Option {
	return func(c *ChatConnector) { c.httpClient = client }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *ChatConnector) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithEndpoint posts to base instead of the profile endpoint. Google
// profiles still get their ?key= parameter appended.
func WithEndpoint(base string) Option {
	return func(c *ChatConnector) { c.baseURL = base }
}

// WithGetenv replaces the credential lookup.
func WithGetenv(getenv func(string) (string, bool)) Option {
	return func(c *ChatConnector) { c.getenv = getenv }
}

// WithRateLimit paces calls to at most rps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *ChatConnector) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithStrictOverload turns HTTP 529 into *models.OverloadedError instead of
// the pseudo-JSON text.
func WithStrictOverload() Option {
	return func(c *ChatConnector) { c.strictOverload = true }
}

// FromConfig maps the chat section of the configuration to options.
func FromConfig(cfg config.ChatConfig) []Option {
	opts := []Option{WithTimeout(cfg.Timeout), WithRateLimit(cfg.RequestsPerSecond)}
	if cfg.StrictOverload {
		opts = append(opts, WithStrictOverload())
	}
	return opts
}

// NewChatConnector returns a connector with no provider selected.
func NewChatConnector(opts ...Option) *ChatConnector {
	c := &ChatConnector{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		getenv:     func(key string) (string, bool) { return config.Getenv(key) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewChatConnectorFor creates a connector and selects provider name.
func NewChatConnectorFor(name string, opts ...Option) (*ChatConnector, error) {
	c := NewChatConnector(opts...)
	if err := c.Init(name); err != nil {
		return nil, err
	}
	return c, nil
}

// Init selects the provider profile by name. An unknown name is logged and
// leaves the current profile active.
func (c *ChatConnector) Init(name string) error {
	kind, err := ParseProviderKind(name)
	if err != nil {
		log.Warn().Str("provider", name).Msg("Unknown chat provider, keeping current profile")
		return nil
	}
	p, err := NewProfile(kind, c.getenv)
	if err != nil {
		return err
	}
	c.profile.Store(p)
	log.Debug().Str("provider", p.Name).Str("model", p.Model).Msg("Chat provider selected")
	return nil
}

// Profile returns the active profile or nil.
func (c *ChatConnector) Profile() *Profile {
	return c.profile.Load()
}

// Ask sends prompt as a single user message and returns the extracted text.
func (c *ChatConnector) Ask(ctx context.Context, prompt string) (string, error) {
	p := c.profile.Load()
	if p == nil {
		return "", models.ErrNotConfigured
	}
	c.mu.Lock()
	c.billed = 0
	c.mu.Unlock()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	body, err := shapeRequest(p, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to build %s request: %w", p.Name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.requestURL(c.baseURL), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s ask failed: %w", p.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: failed to read response: %w", p.Name, err)
	}
	duration := time.Since(start)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		log.Error().Str("provider", p.Name).Int("status", resp.StatusCode).Msg("Insufficient quota")
		return "", &models.InsufficientQuotaError{Provider: p.Name, Code: resp.StatusCode, Message: string(data)}
	case StatusOverloaded:
		log.Warn().Str("provider", p.Name).Dur("duration", duration).Msg("Provider overloaded")
		if c.strictOverload {
			return "", &models.OverloadedError{Provider: p.Name, Body: string(data)}
		}
		return fmt.Sprintf(`{"error":"529","message":"%s"}`, data), nil
	default:
		log.Error().Str("provider", p.Name).Int("status", resp.StatusCode).Str("body", string(data)).Msg("Ask error")
		return "", &models.ConnectorError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("%s ask len=%d duration: %s", p.Model, len(prompt), duration),
		}
	}

	r, err := extractResponse(p, data)
	if r != nil {
		c.record(r)
	}
	if err != nil {
		return "", err
	}
	log.Debug().
		Str("model", p.Model).
		Dur("duration", duration).
		Int("billed", r.Tokens).
		Msg("Ask completed")
	return r.Text, nil
}

// AskJSON asks and decodes the answer into v.
func (c *ChatConnector) AskJSON(ctx context.Context, prompt string, v any) error {
	text, err := c.Ask(ctx, prompt)
	if err != nil {
		return err
	}
	if IsOverloadedText(text) {
		name := ""
		if p := c.profile.Load(); p != nil {
			name = p.Name
		}
		return &models.OverloadedError{Provider: name, Body: text}
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("failed to decode answer as JSON: %w", err)
	}
	return nil
}

func (c *ChatConnector) record(r *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastResponse = r.Raw
	c.billed = r.Tokens
	c.total += r.Tokens
}

// LastResponse returns the raw payload of the last decoded answer.
func (c *ChatConnector) LastResponse() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResponse
}

// BilledTokens returns the usage reported for the last call, or 0 when it
// failed before an answer was decoded.
func (c *ChatConnector) BilledTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.billed
}

// TotalTokens returns the usage accumulated over the connector's life.
func (c *ChatConnector) TotalTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// IsOverloadedText reports whether text is the pseudo-JSON returned for 529.
func IsOverloadedText(text string) bool {
	return strings.HasPrefix(text, overloadedPrefix)
}
