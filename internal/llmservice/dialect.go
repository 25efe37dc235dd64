package llmservice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopK             int     `json:"topK"`
	TopP             float64 `json:"topP"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type googleRequest struct {
	Contents         []googleContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

// shapeRequest builds the request body for prompt in the profile's dialect.
func shapeRequest(p *Profile, prompt string) ([]byte, error) {
	switch p.Dialect {
	case DialectGoogle:
		return json.Marshal(googleRequest{
			Contents: []googleContent{{Parts: []googlePart{{Text: prompt}}}},
			GenerationConfig: generationConfig{
				Temperature:      0,
				TopK:             40,
				TopP:             0.95,
				MaxOutputTokens:  p.MaxTokens,
				ResponseMimeType: "text/plain",
			},
		})
	case DialectAnthropic:
		return json.Marshal(map[string]any{
			"model":       p.Model,
			"messages":    []chatMessage{{Role: "user", Content: prompt}},
			"system":      systemText,
			"temperature": p.Temperature,
			"max_tokens":  p.MaxTokens,
		})
	default:
		body := map[string]any{
			"model":    p.Model,
			"messages": []chatMessage{{Role: "user", Content: prompt}},
		}
		if !p.OmitSampling {
			body["temperature"] = p.Temperature
			body["max_tokens"] = p.MaxTokens
		}
		if p.JSONMode {
			body["response_format"] = responseFormat{Type: "json_object"}
		}
		for k, v := range p.extra {
			body[k] = v
		}
		return json.Marshal(body)
	}
}

// rawResponse covers the response shapes of every dialect.
type rawResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
	// ollama style
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`

	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`

	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`

	Usage *struct {
		TotalTokens  int `json:"total_tokens"`
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	UsageMetadata *struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Response is one decoded chat answer.
type Response struct {
	Raw    json.RawMessage
	Text   string
	Tokens int
}

func (r *rawResponse) tokens() int {
	switch {
	case r.Usage != nil && r.Usage.TotalTokens > 0:
		return r.Usage.TotalTokens
	case r.UsageMetadata != nil:
		return r.UsageMetadata.TotalTokenCount
	case r.Usage != nil:
		return r.Usage.InputTokens + r.Usage.OutputTokens
	}
	return 0
}

var (
	truncatedReasons = map[string]bool{
		"length":     true,
		"max_tokens": true,
		"max_token":  true,
		"MAX_TOKENS": true,
	}
	filteredReasons = map[string]bool{
		"content_filter":     true,
		"refusal":            true,
		"SAFETY":             true,
		"PROHIBITED_CONTENT": true,
		"BLOCKLIST":          true,
		"SPII":               true,
		"RECITATION":         true,
	}
)

func finishError(reason string) error {
	switch {
	case truncatedReasons[reason]:
		return models.ErrContentTooLong
	case filteredReasons[reason]:
		return models.ErrContentFiltered
	}
	return nil
}

// extractResponse decodes a 200 payload. Usage is filled in even when the
// provider reports a generation failure.
func extractResponse(p *Profile, data []byte) (*Response, error) {
	var raw rawResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &models.ConnectorError{Code: http.StatusOK, Message: fmt.Sprintf("%s: invalid response: %v", p.Name, err)}
	}
	resp := &Response{Raw: json.RawMessage(data), Tokens: raw.tokens()}

	var (
		text string
		err  error
	)
	switch p.Dialect {
	case DialectGoogle:
		text, err = googleText(&raw)
	case DialectAnthropic:
		text, err = anthropicText(&raw)
	default:
		text, err = openAIText(&raw)
	}
	if err != nil {
		return resp, err
	}
	if p.ExtractJSON || p.JSONMode || p.Dialect != DialectOpenAI {
		text = helper.ExtractJSONFence(text)
	}
	if p.Dialect == DialectGoogle {
		text = helper.UnescapeInvalid(strings.TrimSpace(text))
	}
	resp.Text = text
	return resp, nil
}

func openAIText(raw *rawResponse) (string, error) {
	if len(raw.Choices) == 0 {
		if raw.Message != nil {
			return raw.Message.Content, nil
		}
		return "", &models.ConnectorError{Code: http.StatusOK, Message: "response has no choices"}
	}
	choice := raw.Choices[0]
	if err := finishError(choice.FinishReason); err != nil {
		return "", err
	}
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("%w: %s", models.ErrContentFiltered, choice.Message.Refusal)
	}
	return choice.Message.Content, nil
}

func anthropicText(raw *rawResponse) (string, error) {
	if err := finishError(raw.StopReason); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range raw.Content {
		if block.Type == "" || block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func googleText(raw *rawResponse) (string, error) {
	if raw.PromptFeedback != nil && raw.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", models.ErrContentFiltered, raw.PromptFeedback.BlockReason)
	}
	if len(raw.Candidates) == 0 {
		return "", &models.ConnectorError{Code: http.StatusOK, Message: "response has no candidates"}
	}
	candidate := raw.Candidates[0]
	if err := finishError(candidate.FinishReason); err != nil {
		return "", err
	}
	if len(candidate.Content.Parts) == 0 {
		return "", nil
	}
	return candidate.Content.Parts[0].Text, nil
}
