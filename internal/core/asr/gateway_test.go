package asr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/duasub/duasub/internal/core/media"
	"github.com/duasub/duasub/internal/core/transcript"
)

// fakeModel returns a fixed one-sentence transcript ("hello", 0s-1s) and
// records each clip's base name in calls so tests can tell chunks apart.
type fakeModel struct {
	calls *[]string
}

func (m *fakeModel) Transcribe(ctx context.Context, audioPath string) (transcript.AlignedResult, error) {
	*m.calls = append(*m.calls, filepath.Base(audioPath))
	return transcript.AlignedResult{
		FullText: "hello",
		Sentences: []transcript.Sentence{
			{Text: "hello", StartS: 0, EndS: 1},
		},
	}, nil
}

type fakeLoader struct {
	calls *[]string
}

func (l *fakeLoader) Load(ctx context.Context, cacheDir, modelName string) (Model, error) {
	return &fakeModel{calls: l.calls}, nil
}

func TestEnsureModelLoadsOnceFromCompleteCache(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "weights.bin"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var calls []string
	g := NewGateway(dir, "tiny", &fakeLoader{calls: &calls}, &media.Adapter{}, []string{"weights.bin"})

	m1, err := g.ensureModel(context.Background())
	if err != nil {
		t.Fatalf("ensureModel: %v", err)
	}
	m2, err := g.ensureModel(context.Background())
	if err != nil {
		t.Fatalf("ensureModel (2nd): %v", err)
	}
	if m1 != m2 {
		t.Error("expected the same singleton model handle across calls")
	}
}

func TestCacheCompleteRequiresAllEssentialFiles(t *testing.T) {
	dir := t.TempDir()
	g := NewGateway(dir, "tiny", nil, nil, []string{"a.bin", "b.bin"})
	if g.cacheComplete() {
		t.Fatal("expected incomplete cache with no files present")
	}
	os.WriteFile(filepath.Join(dir, "a.bin"), []byte("x"), 0644)
	if g.cacheComplete() {
		t.Fatal("expected incomplete cache with only one of two files present")
	}
	os.WriteFile(filepath.Join(dir, "b.bin"), []byte("x"), 0644)
	if !g.cacheComplete() {
		t.Fatal("expected complete cache once all essential files exist")
	}
}

func TestDropOverlapStartRemovesEarlySentences(t *testing.T) {
	in := []transcript.Sentence{
		{Text: "a", StartS: 0, EndS: 1},
		{Text: "b", StartS: 4, EndS: 5},
		{Text: "c", StartS: 6, EndS: 7},
	}
	out := dropOverlapStart(in, 5)
	if len(out) != 1 || out[0].Text != "c" {
		t.Errorf("unexpected result: %+v", out)
	}
}

func TestNewGatewayDefaultChunkingMatchesSpec(t *testing.T) {
	g := NewGateway(t.TempDir(), "tiny", nil, nil, nil)
	if g.chunkSeconds != 120 || g.overlapSeconds != 15 {
		t.Errorf("default chunking = %.0f/%.0f, want 120/15", g.chunkSeconds, g.overlapSeconds)
	}
}

func TestChunkBoundariesFor310SecondFile(t *testing.T) {
	bounds, err := chunkBoundaries(310, 120, 15)
	if err != nil {
		t.Fatalf("chunkBoundaries: %v", err)
	}
	want := [][2]float64{{0, 120}, {105, 225}, {210, 310}}
	if len(bounds) != len(want) {
		t.Fatalf("got %d chunks, want %d: %v", len(bounds), len(want), bounds)
	}
	for i, b := range want {
		if bounds[i] != b {
			t.Errorf("chunk %d = %v, want %v", i, bounds[i], b)
		}
	}
}

func TestChunkBoundariesRejectsOverlapAtOrAboveChunkDuration(t *testing.T) {
	if _, err := chunkBoundaries(300, 120, 120); err == nil {
		t.Fatal("expected an error when overlap >= chunk duration")
	}
}

func TestChunkFileNameIsStableAndDistinct(t *testing.T) {
	cases := map[int]string{0: "chunk_0.wav", 1: "chunk_1.wav", 42: "chunk_42.wav"}
	for i, want := range cases {
		if got := chunkFileName(i); got != want {
			t.Errorf("chunkFileName(%d) = %q, want %q", i, got, want)
		}
	}
}
