package translate

import (
	"context"
	"errors"
	"testing"

	"github.com/duasub/duasub/internal/engineerr"
)

type stubProvider struct {
	name       string
	maxChars   int
	maxEntries int
	fn         func(ctx context.Context, entries []Entry, systemPrompt string) ([]Result, error)
	calls      int
}

func (s *stubProvider) Name() string           { return s.name }
func (s *stubProvider) MaxCharsPerBatch() int  { return s.maxChars }
func (s *stubProvider) MaxEntriesPerBatch() int { return s.maxEntries }
func (s *stubProvider) TranslateBatch(ctx context.Context, entries []Entry, systemPrompt string) ([]Result, error) {
	s.calls++
	return s.fn(ctx, entries, systemPrompt)
}

func echoUpper(entries []Entry) []Result {
	out := make([]Result, len(entries))
	for i, e := range entries {
		out[i] = Result{Index: e.Index, Text: "X:" + e.Text, Ok: true}
	}
	return out
}

func TestTranslateAllSplitsIntoMultipleBatchesByEntryCount(t *testing.T) {
	entries := []Entry{{0, "a"}, {1, "b"}, {2, "c"}, {3, "d"}, {4, "e"}}
	p := &stubProvider{name: "stub", maxChars: 1000, maxEntries: 2, fn: func(ctx context.Context, e []Entry, sp string) ([]Result, error) {
		return echoUpper(e), nil
	}}
	tr := &Translator{Primary: p}

	results, err := tr.TranslateAll(context.Background(), entries, "sys")
	if err != nil {
		t.Fatalf("TranslateAll: %v", err)
	}
	if p.calls != 3 { // batches of 2,2,1
		t.Errorf("expected 3 batch calls, got %d", p.calls)
	}
	for i, r := range results {
		if r.Text != "X:"+entries[i].Text || !r.Ok {
			t.Errorf("entry %d: got %+v", i, r)
		}
	}
}

func TestTranslateAllFallsBackToOriginalOnBatchFailure(t *testing.T) {
	entries := []Entry{{0, "hello"}, {1, "world"}}
	p := &stubProvider{name: "stub", maxChars: 1000, maxEntries: 10, fn: func(ctx context.Context, e []Entry, sp string) ([]Result, error) {
		return nil, errors.New("boom")
	}}
	tr := &Translator{Primary: p}

	results, err := tr.TranslateAll(context.Background(), entries, "sys")
	if err != nil {
		t.Fatalf("TranslateAll: %v", err)
	}
	for i, r := range results {
		if r.Ok || r.Text != entries[i].Text {
			t.Errorf("expected fallback to original text for entry %d, got %+v", i, r)
		}
	}
}

func TestTranslateAllTriesFallbackProviderOnPrimaryFailure(t *testing.T) {
	entries := []Entry{{0, "hello"}}
	primary := &stubProvider{name: "primary", maxChars: 1000, maxEntries: 10, fn: func(ctx context.Context, e []Entry, sp string) ([]Result, error) {
		return nil, engineerr.New(engineerr.TranslationBatchFail, "down")
	}}
	fallback := &stubProvider{name: "fallback", maxChars: 1000, maxEntries: 10, fn: func(ctx context.Context, e []Entry, sp string) ([]Result, error) {
		return echoUpper(e), nil
	}}
	tr := &Translator{Primary: primary, Fallback: fallback}

	results, err := tr.TranslateAll(context.Background(), entries, "sys")
	if err != nil {
		t.Fatalf("TranslateAll: %v", err)
	}
	if fallback.calls != 1 {
		t.Errorf("expected fallback to be tried once, got %d calls", fallback.calls)
	}
	if results[0].Text != "X:hello" {
		t.Errorf("expected fallback translation, got %q", results[0].Text)
	}
}

func TestTranslateAllDoesNotRetryContentFilteredBatch(t *testing.T) {
	entries := []Entry{{0, "hello"}}
	primary := &stubProvider{name: "primary", maxChars: 1000, maxEntries: 10, fn: func(ctx context.Context, e []Entry, sp string) ([]Result, error) {
		return nil, engineerr.New(engineerr.ContentFiltered, "blocked")
	}}
	fallback := &stubProvider{name: "fallback", maxChars: 1000, maxEntries: 10, fn: func(ctx context.Context, e []Entry, sp string) ([]Result, error) {
		return echoUpper(e), nil
	}}
	tr := &Translator{Primary: primary, Fallback: fallback}

	results, err := tr.TranslateAll(context.Background(), entries, "sys")
	if err != nil {
		t.Fatalf("TranslateAll: %v", err)
	}
	if fallback.calls != 0 {
		t.Error("expected fallback NOT to be tried for a content-filtered batch")
	}
	if results[0].Ok || results[0].Text != "hello" {
		t.Errorf("expected original text preserved, got %+v", results[0])
	}
}

func TestSplitBatchesRespectsCharBudget(t *testing.T) {
	entries := []Entry{{0, "12345"}, {1, "12345"}, {2, "12345"}}
	batches := splitBatches(entries, 10, 0)
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches under a 10-char budget, got %d", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Errorf("unexpected batch shapes: %+v", batches)
	}
}

func TestSplitBatchesNeverBlocksOnASingleOversizedEntry(t *testing.T) {
	entries := []Entry{{0, "this-entry-alone-exceeds-the-budget"}}
	batches := splitBatches(entries, 5, 0)
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Errorf("expected the oversized entry to still form its own batch, got %+v", batches)
	}
}
