package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duasub/duasub/internal/core/tokenizer"
	"github.com/duasub/duasub/internal/engineerr"
)

// LLMProvider is the "LLM" translation backend (spec §4.6): an
// OpenAI-chat-completions-shaped HTTP endpoint, addressed generically by
// BaseURL so it also covers OpenRouter-style gateways, grounded in the
// teacher's ai.OpenAIAdapter/ai.OpenRouterAdapter SendBatch bodies.
type LLMProvider struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64

	MaxChars   int
	MaxEntries int
	MaxRetries int

	client *http.Client
}

// NewLLMProvider builds an LLMProvider with a connection-capped transport
// (keep-alive, max 20 idle conns / 3 per host) matching the budgets spec
// §4.6 and §6 name.
func NewLLMProvider(baseURL, apiKey, model string, temperature float64, maxChars, maxEntries, maxRetries int) *LLMProvider {
	return &LLMProvider{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
		MaxChars:    maxChars,
		MaxEntries:  maxEntries,
		MaxRetries:  maxRetries,
		client: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 3,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (p *LLMProvider) Name() string           { return "LLM" }
func (p *LLMProvider) MaxCharsPerBatch() int   { return p.MaxChars }
func (p *LLMProvider) MaxEntriesPerBatch() int { return p.MaxEntries }

// Close releases idle connections held by the provider's HTTP client (spec
// §4.2 cleanup: "the worker releases ... its translation HTTP client" on
// any terminal outcome).
func (p *LLMProvider) Close() {
	p.client.CloseIdleConnections()
}

type llmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llmRequest struct {
	Model       string       `json:"model"`
	Messages    []llmMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
}

type llmResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// separatorFence is prepended to the system prompt, asking the model to
// join translated lines with this token rather than return JSON — spec
// §4.6's parsing fallback chain handles a model that ignores the
// instruction and replies with plain newline-separated lines instead.
const separatorFence = "\n%%\n"

// TranslateBatch sends one HTTP request carrying every entry and parses
// the response with a fallback chain: split on "\n%%\n", then on "%%",
// then on newlines. If the parsed line count doesn't match the entry
// count, short responses are padded with the corresponding original text
// and any extra lines are truncated (spec §4.6: "never let a misaligned
// response drop or shift an entry").
func (p *LLMProvider) TranslateBatch(ctx context.Context, entries []Entry, systemPrompt string) ([]Result, error) {
	payload := make([]string, len(entries))
	for i, e := range entries {
		payload[i] = e.Text
	}
	userContent := strings.Join(payload, separatorFence)

	// max_tokens caps the reply at roughly the translated batch's own size
	// plus headroom for the separator fence and target-language expansion
	// (spec §6's wire contract: {model,messages,temperature,max_tokens}).
	maxTokens := tokenizer.NewEstimator().EstimateBatch(payload)*2 + 256

	reqBody := llmRequest{
		Model: p.Model,
		Messages: []llmMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: p.Temperature,
		MaxTokens:   maxTokens,
	}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, engineerr.New(engineerr.TranslationBatchFail, "marshal request: %v", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, engineerr.New(engineerr.Cancelled, "translation cancelled: %v", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		content, err := p.sendOnce(ctx, reqJSON)
		if err != nil {
			if engineerr.Is(err, engineerr.ContentFiltered) {
				return nil, err // not retried
			}
			lastErr = err
			continue
		}

		lines := splitTranslated(content, len(entries))
		results := make([]Result, len(entries))
		for i, e := range entries {
			if i < len(lines) && strings.TrimSpace(lines[i]) != "" {
				results[i] = Result{Index: e.Index, Text: lines[i], Ok: true}
			} else {
				results[i] = Result{Index: e.Index, Text: e.Text, Ok: false}
			}
		}
		return results, nil
	}

	return nil, engineerr.New(engineerr.TranslationBatchFail, "exhausted %d retries: %v", p.MaxRetries, lastErr)
}

func (p *LLMProvider) sendOnce(ctx context.Context, reqJSON []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(reqJSON))
	if err != nil {
		return "", engineerr.New(engineerr.TranslationBatchFail, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", engineerr.New(engineerr.TranslationBatchFail, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", engineerr.New(engineerr.TranslationBatchFail, "read response: %v", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", engineerr.New(engineerr.RateLimited, "rate limited: %s", string(body))
	}

	var apiResp llmResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", engineerr.New(engineerr.TranslationBatchFail, "parse response: %v", err)
	}

	if apiResp.Error != nil {
		if apiResp.Error.Type == "content_filter" || apiResp.Error.Code == "content_filter" {
			return "", engineerr.New(engineerr.ContentFiltered, "%s", apiResp.Error.Message)
		}
		if apiResp.Error.Code == "rate_limit_exceeded" || apiResp.Error.Type == "insufficient_quota" {
			return "", engineerr.New(engineerr.RateLimited, "%s", apiResp.Error.Message)
		}
		return "", engineerr.New(engineerr.TranslationBatchFail, "%s", apiResp.Error.Message)
	}

	if len(apiResp.Choices) == 0 {
		return "", engineerr.New(engineerr.TranslationBatchFail, "no choices in response")
	}

	choice := apiResp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", engineerr.New(engineerr.ContentFiltered, "response truncated by content filter")
	}
	return choice.Message.Content, nil
}

// splitTranslated tries the parsing fallback chain in order of
// preference, returning whichever split produces the expected number of
// parts (empty parts included), or the last attempt if none match exactly.
func splitTranslated(content string, want int) []string {
	candidates := [][]string{
		strings.Split(content, separatorFence),
		strings.Split(content, "%%"),
		strings.Split(content, "\n"),
	}
	var best []string
	for _, c := range candidates {
		trimmed := trimAll(c)
		if len(trimmed) == want {
			return trimmed
		}
		best = trimmed
	}
	return best
}

func trimAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimSpace(l)
	}
	return out
}

// backoff grows exponentially (1s, 2s, 4s, ...) capped at 60s, per spec
// §6's 429-retry policy. The Free provider's arithmetic 1s/2s/3s backoff
// (free.go) is a separate, correct policy for that provider.
func backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 60*time.Second {
			return 60 * time.Second
		}
	}
	return d
}
