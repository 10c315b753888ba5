package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFreeProviderSplitsOnSubtitleSeparator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := json.Marshal(map[string]any{
			"message": map[string]any{"content": "olá" + freeSeparator + "mundo"},
		})
		w.Write(b)
	}))
	defer srv.Close()

	p := NewFreeProvider(srv.URL, "llama3", 0.1, 0)
	results, err := p.TranslateBatch(context.Background(), []Entry{{0, "hello"}, {1, "world"}}, "translate")
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if results[0].Text != "olá" || results[1].Text != "mundo" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestFreeProviderMaxCharsIsFixedBudget(t *testing.T) {
	p := NewFreeProvider("http://localhost:11434", "llama3", 0.1, 0)
	if p.MaxCharsPerBatch() != 4500 {
		t.Errorf("expected fixed 4500-char budget, got %d", p.MaxCharsPerBatch())
	}
}

func TestFreeProviderRetriesOnTransientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		b, _ := json.Marshal(map[string]any{"message": map[string]any{"content": "ok"}})
		w.Write(b)
	}))
	defer srv.Close()

	p := NewFreeProvider(srv.URL, "llama3", 0.1, 2)
	results, err := p.TranslateBatch(context.Background(), []Entry{{0, "hi"}}, "translate")
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if attempts < 2 {
		t.Errorf("expected at least one retry, got %d attempts", attempts)
	}
	if results[0].Text != "ok" {
		t.Errorf("unexpected result: %+v", results[0])
	}
}
