package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duasub/duasub/internal/engineerr"
)

// freeSeparator joins entries sent to the "Free" provider and is the
// literal token its prompt asks the model to echo back between
// translations (spec §4.6).
const freeSeparator = "\n---SUBTITLE_SEPARATOR---\n"

// freeMaxChars is the Free provider's fixed character budget per batch;
// unlike the LLM provider's MaxChars it is not taken from configuration
// (spec §4.6).
const freeMaxChars = 4500

// FreeProvider is the "Free" translation backend (spec §4.6): a local
// Ollama-shaped chat endpoint, grounded in the teacher's
// ai.LocalLLMAdapter. Used standalone, or as Translator.Fallback behind
// LLMProvider when enable_free_fallback is set (spec §6).
type FreeProvider struct {
	Endpoint    string
	Model       string
	Temperature float64
	MaxRetries  int

	client *http.Client
}

// NewFreeProvider builds a FreeProvider against a local inference server.
func NewFreeProvider(endpoint, model string, temperature float64, maxRetries int) *FreeProvider {
	return &FreeProvider{
		Endpoint:    endpoint,
		Model:       model,
		Temperature: temperature,
		MaxRetries:  maxRetries,
		client:      &http.Client{Timeout: 300 * time.Second},
	}
}

func (p *FreeProvider) Name() string           { return "Free" }
func (p *FreeProvider) MaxCharsPerBatch() int   { return freeMaxChars }
func (p *FreeProvider) MaxEntriesPerBatch() int { return 0 } // unbounded entry count, char budget governs batching

// Close releases idle connections held by the provider's HTTP client (spec
// §4.2 cleanup: "the worker releases ... its translation HTTP client" on
// any terminal outcome).
func (p *FreeProvider) Close() {
	p.client.CloseIdleConnections()
}

type freeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type freeRequest struct {
	Model       string        `json:"model"`
	Messages    []freeMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

type freeResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

// TranslateBatch joins entries with freeSeparator, posts to the local
// /api/chat endpoint, and splits the response back apart on the same
// separator. Transient failures retry with an arithmetic 1s/2s/3s backoff
// (spec §4.6), since local inference servers often need a moment to warm
// up a freshly-loaded model.
func (p *FreeProvider) TranslateBatch(ctx context.Context, entries []Entry, systemPrompt string) ([]Result, error) {
	payload := make([]string, len(entries))
	for i, e := range entries {
		payload[i] = e.Text
	}
	userContent := strings.Join(payload, freeSeparator)

	reqBody := freeRequest{
		Model: p.Model,
		Messages: []freeMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Stream:      false,
		Temperature: p.Temperature,
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
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		content, err := p.sendOnce(ctx, reqJSON)
		if err != nil {
			lastErr = err
			continue
		}

		parts := trimAll(strings.Split(content, freeSeparator))
		results := make([]Result, len(entries))
		for i, e := range entries {
			if i < len(parts) && parts[i] != "" {
				results[i] = Result{Index: e.Index, Text: parts[i], Ok: true}
			} else {
				results[i] = Result{Index: e.Index, Text: e.Text, Ok: false}
			}
		}
		return results, nil
	}

	return nil, engineerr.New(engineerr.TranslationBatchFail, "exhausted %d retries against local endpoint: %v", p.MaxRetries, lastErr)
}

func (p *FreeProvider) sendOnce(ctx context.Context, reqJSON []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint+"/api/chat", bytes.NewReader(reqJSON))
	if err != nil {
		return "", engineerr.New(engineerr.TranslationBatchFail, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", engineerr.New(engineerr.TranslationBatchFail, "connect to %s: %v", p.Endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", engineerr.New(engineerr.TranslationBatchFail, "read response: %v", err)
	}

	var apiResp freeResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", engineerr.New(engineerr.TranslationBatchFail, "parse response: %v", err)
	}
	if apiResp.Error != "" {
		return "", engineerr.New(engineerr.TranslationBatchFail, "%s", apiResp.Error)
	}
	return apiResp.Message.Content, nil
}
