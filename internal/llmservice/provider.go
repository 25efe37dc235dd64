package llmservice

import (
	"fmt"
	"net/url"
	"strings"

	"kb-toolkit/internal/models"
)

// ProviderKind is the closed set of chat profiles a connector can run with.
type ProviderKind int

const (
	PrimaryChatA ProviderKind = iota + 1
	PrimaryChatB
	AltTierSmall
	AltTierLarge
	ExternalProvider
	GoogleProvider
	AzureProvider
	AggregatorProvider
)

var kindNames = map[ProviderKind]string{
	PrimaryChatA:       "primary-chat-a",
	PrimaryChatB:       "primary-chat-b",
	AltTierSmall:       "alt-tier-small",
	AltTierLarge:       "alt-tier-large",
	ExternalProvider:   "external-provider",
	GoogleProvider:     "google-provider",
	AzureProvider:      "azure-provider",
	AggregatorProvider: "aggregator-provider",
}

// aliases kept for the names used by the older scripts and prompt files
var legacyAliases = map[string]ProviderKind{
	"openai":   PrimaryChatA,
	"openai4o": PrimaryChatA,
	"4o-mini":  PrimaryChatB,
	"o1-mini":  AltTierSmall,
	"gemini":   AltTierLarge,
	"claude":   ExternalProvider,
	"google":   GoogleProvider,
	"phi4":     AzureProvider,
	"together": AggregatorProvider,
}

func (k ProviderKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ProviderKind(%d)", int(k))
}

// ParseProviderKind resolves a canonical or legacy provider name.
func ParseProviderKind(name string) (ProviderKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for kind, n := range kindNames {
		if n == name {
			return kind, nil
		}
	}
	if kind, ok := legacyAliases[name]; ok {
		return kind, nil
	}
	return 0, fmt.Errorf("%w: %q", models.ErrUnknownProvider, name)
}

// Dialect is the wire format family of a chat endpoint.
type Dialect int

const (
	DialectOpenAI Dialect = iota
	DialectAnthropic
	DialectGoogle
)

const (
	openAIChatURL    = "https://api.openai.com/v1/chat/completions"
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	geminiURLPattern = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
	azureInferURL    = "https://models.inference.ai.azure.com/chat/completions"
	togetherURL      = "https://api.together.xyz/v1/chat/completions"

	anthropicVersion = "2023-06-01"
	anthropicBeta    = "prompt-caching-2024-07-31"

	defaultTemperature = 0.01
	defaultMaxTokens   = 16000
	nativeMaxTokens    = 8192

	// systemText is delivered as a separate field to providers that support it.
	systemText = " You are an expert in extraction information from given context.\n"
)

// Profile is the immutable configuration of one provider. A connector swaps
// whole profiles and never merges fields between them.
type Profile struct {
	Kind          ProviderKind
	Name          string
	Model         string
	Endpoint      string
	Headers       map[string]string
	Dialect       Dialect
	JSONMode      bool
	ExtractJSON   bool
	OmitSampling  bool
	Temperature   float64
	MaxTokens     int
	CredentialEnv string

	// extra top-level request fields, e.g. Phi-4 sampling knobs
	extra map[string]any
	// keyInQuery sends the credential as ?key= instead of a header
	keyInQuery bool
	credential string
}

type profileSpec struct {
	model         string
	endpoint      string
	credentialEnv string
	dialect       Dialect
	jsonMode      bool
	extractJSON   bool
	omitSampling  bool
	temperature   float64
	maxTokens     int
	extra         map[string]any
	headers       func(key string) map[string]string
}

func bearerHeaders(key string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + key,
		"Content-Type":  "application/json",
	}
}

func anthropicHeaders(key string) map[string]string {
	return map[string]string{
		"x-api-key":         key,
		"Content-Type":      "application/json",
		"anthropic-version": anthropicVersion,
		"anthropic-beta":    anthropicBeta,
	}
}

func googleHeaders(string) map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

func togetherHeaders(key string) map[string]string {
	h := bearerHeaders(key)
	h["Accept"] = "application/json"
	return h
}

var profileSpecs = map[ProviderKind]profileSpec{
	PrimaryChatA: {
		model: "gpt-4o", endpoint: openAIChatURL, credentialEnv: "OPENAI_API_KEY",
		dialect: DialectOpenAI, jsonMode: true,
		temperature: defaultTemperature, maxTokens: defaultMaxTokens,
		headers: bearerHeaders,
	},
	PrimaryChatB: {
		model: "gpt-4o-mini", endpoint: openAIChatURL, credentialEnv: "OPENAI_API_KEY",
		dialect: DialectOpenAI, jsonMode: true,
		temperature: defaultTemperature, maxTokens: defaultMaxTokens,
		headers: bearerHeaders,
	},
	AltTierSmall: {
		model: "o1-mini", endpoint: openAIChatURL, credentialEnv: "OPENAI_API_KEY",
		dialect: DialectOpenAI, extractJSON: true, omitSampling: true,
		headers: bearerHeaders,
	},
	AltTierLarge: {
		model: "gemini-2.0-flash", endpoint: fmt.Sprintf(geminiURLPattern, "gemini-2.0-flash"), credentialEnv: "GOOGLE_API_KEY",
		dialect: DialectGoogle, extractJSON: true,
		maxTokens: nativeMaxTokens,
		headers:   googleHeaders,
	},
	ExternalProvider: {
		model: "claude-3-5-sonnet-20240620", endpoint: anthropicURL, credentialEnv: "ANTHROPIC_API_KEY",
		dialect: DialectAnthropic, extractJSON: true,
		temperature: defaultTemperature, maxTokens: nativeMaxTokens,
		headers: anthropicHeaders,
	},
	GoogleProvider: {
		model: "gemini-1.5-flash-latest", endpoint: fmt.Sprintf(geminiURLPattern, "gemini-1.5-flash-latest"), credentialEnv: "GOOGLE_API_KEY",
		dialect: DialectGoogle, extractJSON: true,
		maxTokens: nativeMaxTokens,
		headers:   googleHeaders,
	},
	AzureProvider: {
		model: "Phi-4", endpoint: azureInferURL, credentialEnv: "GITHUB_API_KEY",
		dialect: DialectOpenAI, extractJSON: true,
		temperature: 1.0, maxTokens: nativeMaxTokens,
		extra:   map[string]any{"top_p": 1.0, "repetition_penalty": 1},
		headers: bearerHeaders,
	},
	AggregatorProvider: {
		model: "meta-llama/Llama-3.3-70B-Instruct-Turbo", endpoint: togetherURL, credentialEnv: "TOGETHER_API_KEY",
		dialect: DialectOpenAI,
		temperature: defaultTemperature, maxTokens: defaultMaxTokens,
		headers: togetherHeaders,
	},
}

// NewProfile builds the profile of kind, reading its credential through
// getenv. A missing credential is a *models.ConfigError.
func NewProfile(kind ProviderKind, getenv func(string) (string, bool)) (*Profile, error) {
	spec, ok := profileSpecs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownProvider, kind)
	}
	key, ok := getenv(spec.credentialEnv)
	if !ok || key == "" {
		return nil, &models.ConfigError{Var: spec.credentialEnv}
	}
	return &Profile{
		Kind:          kind,
		Name:          kind.String(),
		Model:         spec.model,
		Endpoint:      spec.endpoint,
		Headers:       spec.headers(key),
		Dialect:       spec.dialect,
		JSONMode:      spec.jsonMode,
		ExtractJSON:   spec.extractJSON,
		OmitSampling:  spec.omitSampling,
		Temperature:   spec.temperature,
		MaxTokens:     spec.maxTokens,
		CredentialEnv: spec.credentialEnv,
		extra:         spec.extra,
		keyInQuery:    spec.dialect == DialectGoogle,
		credential:    key,
	}, nil
}

// requestURL returns the endpoint to post to; base overrides the profile
// endpoint when set.
func (p *Profile) requestURL(base string) string {
	if base == "" {
		base = p.Endpoint
	}
	if !p.keyInQuery {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "key=" + url.QueryEscape(p.credential)
}
