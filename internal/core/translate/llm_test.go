package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/duasub/duasub/internal/engineerr"
)

func chatResponseBody(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return b
}

func TestLLMProviderTranslateBatchParsesFenceSeparator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatResponseBody("olá\n%%\nmundo"))
	}))
	defer srv.Close()

	p := NewLLMProvider(srv.URL, "key", "gpt-test", 0.2, 4000, 50, 0)
	results, err := p.TranslateBatch(context.Background(), []Entry{{0, "hello"}, {1, "world"}}, "translate")
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if results[0].Text != "olá" || results[1].Text != "mundo" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestLLMProviderPadsShortResponseWithOriginals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatResponseBody("only-one-line"))
	}))
	defer srv.Close()

	p := NewLLMProvider(srv.URL, "key", "gpt-test", 0.2, 4000, 50, 0)
	results, err := p.TranslateBatch(context.Background(), []Entry{{0, "a"}, {1, "b"}, {2, "c"}}, "translate")
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if results[0].Text != "only-one-line" || !results[0].Ok {
		t.Errorf("expected first entry translated, got %+v", results[0])
	}
	if results[1].Ok || results[1].Text != "b" || results[2].Ok || results[2].Text != "c" {
		t.Errorf("expected remaining entries padded with originals, got %+v", results[1:])
	}
}

func TestLLMProviderContentFilterIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		b, _ := json.Marshal(map[string]any{
			"error": map[string]any{"message": "blocked", "type": "content_filter"},
		})
		w.Write(b)
	}))
	defer srv.Close()

	p := NewLLMProvider(srv.URL, "key", "gpt-test", 0.2, 4000, 50, 3)
	_, err := p.TranslateBatch(context.Background(), []Entry{{0, "hello"}}, "translate")
	if !engineerr.Is(err, engineerr.ContentFiltered) {
		t.Fatalf("expected ContentFiltered, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call (no retry), got %d", calls)
	}
}

func TestSplitTranslatedFallsBackThroughSeparatorChain(t *testing.T) {
	got := splitTranslated("a\nb\nc", 3)
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("expected newline-split fallback, got %v", got)
	}
}

func TestLLMProviderFinishReasonContentFilterIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		b, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{
					"message":       map[string]any{"content": "partial tr"},
					"finish_reason": "content_filter",
				},
			},
		})
		w.Write(b)
	}))
	defer srv.Close()

	p := NewLLMProvider(srv.URL, "key", "gpt-test", 0.2, 4000, 50, 3)
	_, err := p.TranslateBatch(context.Background(), []Entry{{0, "hello"}}, "translate")
	if !engineerr.Is(err, engineerr.ContentFiltered) {
		t.Fatalf("expected ContentFiltered for finish_reason=content_filter, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call (no retry), got %d", calls)
	}
}

func TestLLMProviderSendsMaxTokens(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write(chatResponseBody("olá"))
	}))
	defer srv.Close()

	p := NewLLMProvider(srv.URL, "key", "gpt-test", 0.2, 4000, 50, 0)
	if _, err := p.TranslateBatch(context.Background(), []Entry{{0, "hello"}}, "translate"); err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	mt, ok := gotBody["max_tokens"]
	if !ok {
		t.Fatal("expected max_tokens in request body")
	}
	if mt.(float64) <= 0 {
		t.Errorf("expected positive max_tokens, got %v", mt)
	}
}

func TestBackoffGrowsExponentiallyCappedAt60s(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tt := range cases {
		if got := backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
