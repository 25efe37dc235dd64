package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb-toolkit/internal/models"
)

func fakeEnv(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

var allKeys = fakeEnv(map[string]string{
	"OPENAI_API_KEY":    "sk-test",
	"ANTHROPIC_API_KEY": "ant-test",
	"GOOGLE_API_KEY":    "goog-test",
	"GITHUB_API_KEY":    "gh-test",
	"TOGETHER_API_KEY":  "tg-test",
})

type captured struct {
	body   map[string]any
	header http.Header
	query  string
}

func fakeProvider(t *testing.T, status int, payload string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &got.body))
		got.header = r.Header.Clone()
		got.query = r.URL.RawQuery
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newConnector(t *testing.T, name, url string, opts ...Option) *ChatConnector {
	t.Helper()
	opts = append([]Option{WithGetenv(allKeys), WithEndpoint(url)}, opts...)
	c, err := NewChatConnectorFor(name, opts...)
	require.NoError(t, err)
	return c
}

func TestAsk_NotConfigured(t *testing.T) {
	c := NewChatConnector(WithGetenv(allKeys))
	_, err := c.Ask(context.Background(), "hi")
	assert.ErrorIs(t, err, models.ErrNotConfigured)
}

func TestInit_UnknownNameKeepsProfile(t *testing.T) {
	c := NewChatConnector(WithGetenv(allKeys))
	require.NoError(t, c.Init("primary-chat-a"))
	require.NoError(t, c.Init("no-such-provider"))
	assert.Equal(t, PrimaryChatA, c.Profile().Kind)
}

func TestInit_MissingCredential(t *testing.T) {
	c := NewChatConnector(WithGetenv(fakeEnv(nil)))
	err := c.Init("external-provider")

	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfgErr.Var)
	assert.Nil(t, c.Profile())
}

func TestInit_LegacyAliases(t *testing.T) {
	for alias, kind := range legacyAliases {
		c := NewChatConnector(WithGetenv(allKeys))
		require.NoError(t, c.Init(alias), alias)
		assert.Equal(t, kind, c.Profile().Kind, alias)
	}
}

func TestAsk_OpenAIJSONMode(t *testing.T) {
	srv, got := fakeProvider(t, http.StatusOK, `{
		"choices":[{"finish_reason":"stop","message":{"content":"{\"a\":1}"}}],
		"usage":{"total_tokens":42}}`)
	c := newConnector(t, "primary-chat-a", srv.URL)

	text, err := c.Ask(context.Background(), "extract")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)

	assert.Equal(t, "gpt-4o", got.body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got.body["response_format"])
	assert.Equal(t, 0.01, got.body["temperature"])
	assert.Equal(t, float64(16000), got.body["max_tokens"])
	assert.Equal(t, "Bearer sk-test", got.header.Get("Authorization"))
	assert.Equal(t, 42, c.BilledTokens())
}

func TestAsk_JSONModeFenceInProse(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusOK, `{
		"choices":[{"finish_reason":"stop","message":{"content":"Here it is `+"```json"+` {\"a\":1} `+"```"+` done"}}]}`)
	c := newConnector(t, "primary-chat-a", srv.URL)

	text, err := c.Ask(context.Background(), "extract")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
}

func TestAsk_SmallTierOmitsSamplingAndExtractsFence(t *testing.T) {
	srv, got := fakeProvider(t, http.StatusOK, `{
		"choices":[{"finish_reason":"stop","message":{"content":"Sure:\n`+"```json"+`{\"a\":1}`+"```"+`"}}]}`)
	c := newConnector(t, "alt-tier-small", srv.URL)

	text, err := c.Ask(context.Background(), "extract")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
	assert.NotContains(t, got.body, "temperature")
	assert.NotContains(t, got.body, "max_tokens")
	assert.NotContains(t, got.body, "response_format")
}

func TestAsk_FenceMissingUsesWholeText(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusOK, `{"choices":[{"finish_reason":"stop","message":{"content":"plain answer"}}]}`)
	c := newConnector(t, "azure-provider", srv.URL)

	text, err := c.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "plain answer", text)
}

func TestAsk_AzureSamplingFields(t *testing.T) {
	srv, got := fakeProvider(t, http.StatusOK, `{"choices":[{"finish_reason":"stop","message":{"content":"x"}}]}`)
	c := newConnector(t, "azure-provider", srv.URL)

	_, err := c.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "Phi-4", got.body["model"])
	assert.Equal(t, 1.0, got.body["temperature"])
	assert.Equal(t, 1.0, got.body["top_p"])
	assert.Equal(t, float64(8192), got.body["max_tokens"])
	assert.Equal(t, float64(1), got.body["repetition_penalty"])
}

func TestAsk_OpenAIFinishReasons(t *testing.T) {
	tests := map[string]error{
		"length":         models.ErrContentTooLong,
		"content_filter": models.ErrContentFiltered,
	}
	for reason, want := range tests {
		t.Run(reason, func(t *testing.T) {
			srv, _ := fakeProvider(t, http.StatusOK, `{"choices":[{"finish_reason":"`+reason+`","message":{"content":"x"}}]}`)
			c := newConnector(t, "primary-chat-b", srv.URL)
			_, err := c.Ask(context.Background(), "q")
			assert.ErrorIs(t, err, want)
		})
	}
}

func TestAsk_AnthropicRequestAndUsage(t *testing.T) {
	srv, got := fakeProvider(t, http.StatusOK, `{
		"content":[{"type":"text","text":"`+"```json"+`{\"ok\":true}`+"```"+`"}],
		"stop_reason":"end_turn",
		"usage":{"input_tokens":10,"output_tokens":5}}`)
	c := newConnector(t, "external-provider", srv.URL)

	text, err := c.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, text)
	assert.Equal(t, 15, c.BilledTokens())

	assert.Equal(t, systemText, got.body["system"])
	assert.Equal(t, "ant-test", got.header.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, got.header.Get("anthropic-version"))
	msgs := got.body["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestAsk_AnthropicMaxToken(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusOK, `{"content":[{"type":"text","text":"partial"}],"stop_reason":"max_token"}`)
	c := newConnector(t, "external-provider", srv.URL)

	_, err := c.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, models.ErrContentTooLong)
	assert.NotEmpty(t, c.LastResponse())
}

func TestAsk_GoogleDialect(t *testing.T) {
	srv, got := fakeProvider(t, http.StatusOK, `{
		"candidates":[{"content":{"parts":[{"text":"`+"```json"+`{\"a\":\"50\\%\"}`+"```"+`"}]},"finishReason":"STOP"}],
		"usageMetadata":{"totalTokenCount":7}}`)
	c := newConnector(t, "google-provider", srv.URL)

	text, err := c.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, `{"a":"50%"}`, text)
	assert.Equal(t, 7, c.BilledTokens())

	assert.Equal(t, "key=goog-test", got.query)
	assert.Contains(t, got.body, "contents")
	cfg := got.body["generationConfig"].(map[string]any)
	assert.Equal(t, float64(0), cfg["temperature"])
	assert.Equal(t, float64(40), cfg["topK"])
	assert.Equal(t, 0.95, cfg["topP"])
	assert.Equal(t, float64(8192), cfg["maxOutputTokens"])
	assert.Equal(t, "text/plain", cfg["responseMimeType"])
}

func TestAsk_GoogleFinishReasons(t *testing.T) {
	tests := map[string]error{
		"MAX_TOKENS": models.ErrContentTooLong,
		"SAFETY":     models.ErrContentFiltered,
		"RECITATION": models.ErrContentFiltered,
	}
	for reason, want := range tests {
		t.Run(reason, func(t *testing.T) {
			srv, _ := fakeProvider(t, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"x"}]},"finishReason":"`+reason+`"}]}`)
			c := newConnector(t, "alt-tier-large", srv.URL)
			_, err := c.Ask(context.Background(), "q")
			assert.ErrorIs(t, err, want)
		})
	}
}

func TestAsk_InsufficientQuota(t *testing.T) {
	for name := range kindNames {
		t.Run(name.String(), func(t *testing.T) {
			srv, _ := fakeProvider(t, http.StatusTooManyRequests, `{"error":"quota"}`)
			c := newConnector(t, name.String(), srv.URL)

			_, err := c.Ask(context.Background(), "q")
			var quota *models.InsufficientQuotaError
			require.ErrorAs(t, err, &quota)
			assert.Equal(t, name.String(), quota.Provider)
			assert.Equal(t, http.StatusTooManyRequests, quota.Code)
		})
	}
}

func TestAsk_Overloaded(t *testing.T) {
	srv, _ := fakeProvider(t, StatusOverloaded, `busy`)

	c := newConnector(t, "external-provider", srv.URL)
	text, err := c.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, `{"error":"529","message":"busy"}`, text)
	assert.True(t, IsOverloadedText(text))

	strict := newConnector(t, "external-provider", srv.URL, WithStrictOverload())
	_, err = strict.Ask(context.Background(), "q")
	var overloaded *models.OverloadedError
	require.ErrorAs(t, err, &overloaded)
	assert.Equal(t, "busy", overloaded.Body)

	var v map[string]any
	err = c.AskJSON(context.Background(), "q", &v)
	assert.True(t, errors.As(err, &overloaded))
}

func TestAsk_ConnectorError(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusInternalServerError, `boom`)
	c := newConnector(t, "aggregator-provider", srv.URL)

	_, err := c.Ask(context.Background(), "q")
	var connErr *models.ConnectorError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, http.StatusInternalServerError, connErr.Code)
}

func TestAsk_UsageAccumulates(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusOK, `{"choices":[{"finish_reason":"stop","message":{"content":"{}"}}],"usage":{"total_tokens":10}}`)
	c := newConnector(t, "primary-chat-b", srv.URL)

	for i := 0; i < 3; i++ {
		_, err := c.Ask(context.Background(), "q")
		require.NoError(t, err)
	}
	assert.Equal(t, 10, c.BilledTokens())
	assert.Equal(t, 30, c.TotalTokens())
}

func TestAsk_FailedCallBillsNothing(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":"{}"}}],"usage":{"total_tokens":500}}`))
	}))
	t.Cleanup(srv.Close)
	c := newConnector(t, "primary-chat-a", srv.URL)

	_, err := c.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 500, c.BilledTokens())

	for _, status = range []int{http.StatusInternalServerError, http.StatusTooManyRequests} {
		_, err = c.Ask(context.Background(), "q")
		require.Error(t, err)
		assert.Zero(t, c.BilledTokens())
	}
	assert.Equal(t, 500, c.TotalTokens())
}

func TestAskJSON(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusOK, `{"choices":[{"finish_reason":"stop","message":{"content":"{\"nip\":\"123\"}"}}]}`)
	c := newConnector(t, "primary-chat-a", srv.URL)

	var out struct {
		NIP string `json:"nip"`
	}
	require.NoError(t, c.AskJSON(context.Background(), "q", &out))
	assert.Equal(t, "123", out.NIP)
}

func TestAsk_ProfileSwap(t *testing.T) {
	srv, got := fakeProvider(t, http.StatusOK, `{"choices":[{"finish_reason":"stop","message":{"content":"x"}}]}`)
	c := newConnector(t, "primary-chat-a", srv.URL)
	require.NoError(t, c.Init("aggregator-provider"))

	_, err := c.Ask(context.Background(), "q")
	require.NoError(t, err)
	// nothing of the JSON-mode profile leaks into the new one
	assert.NotContains(t, got.body, "response_format")
	assert.Equal(t, "Bearer tg-test", got.header.Get("Authorization"))
}
