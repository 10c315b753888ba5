// Package translate implements the Translator (spec §4.6): batching
// subtitle entries under a per-provider character/entry budget, sending
// them to an LLM-style translation backend, and falling back to the
// original text for any entry a batch could not account for.
//
// Grounded in the teacher's internal/core/ai package: the LLMProvider
// interface (provider.go), the per-provider SendBatch HTTP adapters
// (openai.go/openrouter.go/local.go), and ProviderError's retryable/
// non-retryable error taxonomy, retargeted from a single cloud/local
// dichotomy onto spec §4.6's two named providers "LLM" and "Free".
package translate

import (
	"context"

	"github.com/duasub/duasub/internal/engineerr"
)

// Entry is one subtitle line submitted for translation, addressed by
// Index so results can be matched back up even when a provider reorders or
// drops entries in its response.
type Entry struct {
	Index int
	Text  string
}

// Result is the translated counterpart of an Entry. Ok is false when the
// batch could not account for this entry and Text has been filled with
// the original text as a fallback (spec §4.6: "entries the provider's
// response could not be matched against are passed through untranslated").
type Result struct {
	Index int
	Text  string
	Ok    bool
}

// Provider is a translation backend. Implementations do not batch;
// TranslateBatch receives entries already within budget for a single
// request — see Translator.TranslateAll for the batching loop.
type Provider interface {
	Name() string
	TranslateBatch(ctx context.Context, entries []Entry, systemPrompt string) ([]Result, error)
	MaxCharsPerBatch() int
	MaxEntriesPerBatch() int
}

// Translator batches entries under a provider's budget and falls back to
// the original text for any entry a batch call fails to translate,
// optionally reading/writing a persistent Cache first.
type Translator struct {
	Primary  Provider
	Fallback Provider // optional second provider, e.g. "Free", tried if Primary's batch errors entirely
	Cache    *Cache    // optional; nil disables caching
	LangPair string    // cache key namespace, e.g. "en->pt-BR"
}

// TranslateAll splits entries into budget-respecting batches, translates
// each, and returns one Result per input entry in the original order.
// A whole-batch failure from Primary is retried once against Fallback (if
// set); if both fail, every entry in that batch falls back to its
// original text with Ok=false (spec §4.6: "partial failure never aborts
// the file — it degrades to untranslated text for the affected entries").
func (t *Translator) TranslateAll(ctx context.Context, entries []Entry, systemPrompt string, onBatch ...func(completed, total int)) ([]Result, error) {
	if t.Primary == nil {
		return nil, engineerr.New(engineerr.TranslationBatchFail, "no translation provider configured")
	}

	var batchCallback func(completed, total int)
	if len(onBatch) > 0 {
		batchCallback = onBatch[0]
	}

	results := make([]Result, len(entries))
	for i, e := range entries {
		results[i] = Result{Index: e.Index, Text: e.Text, Ok: false}
	}

	byIndex := make(map[int]int, len(entries))
	for i, e := range entries {
		byIndex[e.Index] = i
	}

	batches := splitBatches(entries, t.Primary.MaxCharsPerBatch(), t.Primary.MaxEntriesPerBatch())
	for batchIdx, batch := range batches {
		func() {
			if batchCallback != nil {
				defer batchCallback(batchIdx+1, len(batches))
			}

			toSend := batch
			cached := make([]Result, 0)
			if t.Cache != nil {
				toSend, cached = t.lookupCache(batch)
			}
			for _, r := range cached {
				if idx, ok := byIndex[r.Index]; ok {
					results[idx] = r
				}
			}
			if len(toSend) == 0 {
				return
			}

			translated, err := t.Primary.TranslateBatch(ctx, toSend, systemPrompt)
			if err != nil && engineerr.Is(err, engineerr.ContentFiltered) {
				// content filter is not retried against a fallback — spec §4.6:
				// "a content-filter rejection is final for that batch"
				return
			}
			if err != nil && t.Fallback != nil {
				translated, err = t.Fallback.TranslateBatch(ctx, toSend, systemPrompt)
			}
			if err != nil {
				return // batch degrades to original text, already the zero-value default
			}

			for _, r := range translated {
				idx, ok := byIndex[r.Index]
				if !ok {
					continue
				}
				results[idx] = r
				if t.Cache != nil && r.Ok {
					t.saveCache(r, toSend)
				}
			}
		}()
	}

	return results, nil
}

func (t *Translator) lookupCache(batch []Entry) (toSend []Entry, cached []Result) {
	for _, e := range batch {
		if hit, ok := t.Cache.GetExactMatch(e.Text, t.LangPair); ok {
			cached = append(cached, Result{Index: e.Index, Text: hit, Ok: true})
			continue
		}
		toSend = append(toSend, e)
	}
	return toSend, cached
}

func (t *Translator) saveCache(r Result, sent []Entry) {
	for _, e := range sent {
		if e.Index == r.Index {
			t.Cache.SaveTranslation(e.Text, r.Text, t.LangPair)
			return
		}
	}
}

// splitBatches groups entries into batches whose total character count and
// entry count both stay within the given budgets (spec §4.6: "batches
// entries under both a character budget and an entry-count budget,
// whichever is exhausted first").
func splitBatches(entries []Entry, maxChars, maxEntries int) [][]Entry {
	if len(entries) == 0 {
		return nil
	}
	var batches [][]Entry
	var current []Entry
	currentChars := 0

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}
	}

	for _, e := range entries {
		entryChars := len(e.Text)
		wouldOverflowChars := maxChars > 0 && currentChars+entryChars > maxChars && len(current) > 0
		wouldOverflowCount := maxEntries > 0 && len(current) >= maxEntries
		if wouldOverflowChars || wouldOverflowCount {
			flush()
		}
		current = append(current, e)
		currentChars += entryChars
	}
	flush()

	return batches
}
