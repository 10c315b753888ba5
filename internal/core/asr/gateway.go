// Package asr implements the Speech Recognizer Gateway (spec §4.4): a
// per-process singleton around an external speech-recognition model, a
// cross-process advisory lock coordinating first-time model downloads, and
// fixed-duration chunked transcription with overlap for long audio.
//
// Grounded in the teacher's internal/core/db singleton pattern
// (sync.Once/double-checked locking around a package-level handle) and its
// internal/core/dependencies archive-download flow, retargeted from
// mkvtoolnix/ffmpeg tool binaries onto an ASR model's cache files.
package asr

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/duasub/duasub/internal/core/media"
	"github.com/duasub/duasub/internal/core/transcript"
	"github.com/duasub/duasub/internal/engineerr"
	"github.com/duasub/duasub/internal/events"
)

// Gateway is the process-wide handle to the loaded ASR model. The zero
// value is not usable; construct with NewGateway.
type Gateway struct {
	cacheDir  string
	modelName string
	loader    ModelLoader
	essential []string // filenames that must exist in cacheDir for a cache hit
	media     *media.Adapter
	bus       *events.Bus

	mu       sync.Mutex // serializes Transcribe calls: one model, one caller at a time
	loadOnce sync.Once
	model    Model
	loadErr  error

	chunkSeconds   float64
	overlapSeconds float64
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithChunking overrides the default fixed chunk/overlap duration (spec
// §4.4: "fixed duration per chunk with overlap").
func WithChunking(chunkSeconds, overlapSeconds float64) Option {
	return func(g *Gateway) { g.chunkSeconds, g.overlapSeconds = chunkSeconds, overlapSeconds }
}

// WithEventBus attaches an events.Bus that download/precision-setting
// progress is published onto.
func WithEventBus(b *events.Bus) Option {
	return func(g *Gateway) { g.bus = b }
}

// NewGateway builds a Gateway for modelName, with essential being the list
// of filenames that must all be present in cacheDir for a cache hit (spec
// §4.4 step 3: "the model's essential files").
func NewGateway(cacheDir, modelName string, loader ModelLoader, m *media.Adapter, essential []string, opts ...Option) *Gateway {
	g := &Gateway{
		cacheDir:       cacheDir,
		modelName:      modelName,
		loader:         loader,
		essential:      essential,
		media:          m,
		chunkSeconds:   120,
		overlapSeconds: 15,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// cacheComplete reports whether every essential file is present under
// cacheDir (spec §4.4 step 3).
func (g *Gateway) cacheComplete() bool {
	for _, name := range g.essential {
		if _, err := os.Stat(filepath.Join(g.cacheDir, name)); err != nil {
			return false
		}
	}
	return true
}

// ensureModel implements the acquisition protocol of spec §4.4 steps 1-5:
//  1. Double-checked per-process lock around the singleton.
//  2. If already loaded in this process, reuse it.
//  3. Probe the on-disk cache; if complete, load directly.
//  4. Otherwise acquire the cross-process advisory lock keyed by model
//     name. If acquired, download+extract, then load. If another process
//     holds it, wait for the lock, release it immediately, re-probe the
//     cache, and load (the other process is assumed to have populated it).
//  5. Apply optional precision / attention-window settings; failures there
//     are warnings, not errors. These settings are applied only on the
//     paths through step 4; a model loaded straight from a complete cache
//     in step 3 keeps its loader's defaults.
func (g *Gateway) ensureModel(ctx context.Context) (Model, error) {
	g.loadOnce.Do(func() {
		if g.cacheComplete() {
			g.model, g.loadErr = g.loader.Load(ctx, g.cacheDir, g.modelName)
			return
		}

		lock, err := newFileLock(g.cacheDir, g.modelName)
		if err != nil {
			g.loadErr = engineerr.New(engineerr.ModelUnavailable, "cannot open model lock: %v", err)
			return
		}
		defer lock.Close()

		acquired, err := lock.TryLockExclusive()
		if err != nil {
			g.loadErr = engineerr.New(engineerr.ModelUnavailable, "cannot acquire model lock: %v", err)
			return
		}

		if acquired {
			defer lock.Unlock()
			if !g.cacheComplete() {
				if err := downloadModel(ctx, g.cacheDir, g.modelName, g.bus); err != nil {
					g.loadErr = err
					return
				}
			}
		} else {
			if err := lock.WaitAndRelease(); err != nil {
				g.loadErr = engineerr.New(engineerr.ModelUnavailable, "waiting for model lock: %v", err)
				return
			}
			if !g.cacheComplete() {
				g.loadErr = engineerr.New(engineerr.ModelUnavailable, "model cache incomplete after waiting for peer download")
				return
			}
		}

		g.model, g.loadErr = g.loader.Load(ctx, g.cacheDir, g.modelName)
		if g.loadErr != nil {
			return
		}

		if ps, ok := g.model.(PrecisionSetter); ok {
			if err := ps.SetPrecision("float16"); err != nil {
				g.publish(events.Status("", g.modelName, "warning: could not set model precision: "+err.Error()))
			}
		}
		if aw, ok := g.model.(AttentionWindowSetter); ok {
			if err := aw.SetAttentionWindowSize(1500); err != nil {
				g.publish(events.Status("", g.modelName, "warning: could not set attention window: "+err.Error()))
			}
		}
	})
	return g.model, g.loadErr
}

func (g *Gateway) publish(e events.Event) {
	if g.bus != nil {
		g.bus.Publish(e)
	}
}

// Transcribe runs full transcription of audioPath, chunking long audio into
// fixed-duration windows with overlap per spec §4.4:
//
//	step  = chunkSeconds - overlapSeconds
//	total = ceil((duration - overlapSeconds) / step)
//
// Each chunk after the first drops any sentence that starts within the
// leading overlapSeconds of that chunk, since it was already emitted (in
// full or in part) by the previous chunk. A chunk whose extraction or
// transcription fails is skipped, not fatal to the whole file — partial
// results are still returned with the error explaining what was lost.
func (g *Gateway) Transcribe(ctx context.Context, audioPath string, onChunk ...func(idx, total int)) (transcript.AlignedResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var chunkCallback func(idx, total int)
	if len(onChunk) > 0 {
		chunkCallback = onChunk[0]
	}

	model, err := g.ensureModel(ctx)
	if err != nil {
		return transcript.AlignedResult{}, err
	}

	duration, err := g.media.ProbeDuration(ctx, audioPath)
	if err != nil {
		return transcript.AlignedResult{}, err
	}

	if duration <= g.chunkSeconds {
		res, err := model.Transcribe(ctx, audioPath)
		if chunkCallback != nil {
			chunkCallback(1, 1)
		}
		return res, err
	}

	bounds, err := chunkBoundaries(duration, g.chunkSeconds, g.overlapSeconds)
	if err != nil {
		return transcript.AlignedResult{}, err
	}
	total := len(bounds)

	var out transcript.AlignedResult
	tmpDir, err := os.MkdirTemp("", "duasub-chunks-*")
	if err != nil {
		return transcript.AlignedResult{}, engineerr.New(engineerr.TranscriptionFailed, "cannot create chunk temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	var lastErr error
	for i, b := range bounds {
		start, end := b[0], b[1]

		clipPath := filepath.Join(tmpDir, chunkFileName(i))
		if err := g.media.ExtractClip(ctx, audioPath, start, end, clipPath); err != nil {
			lastErr = err
			continue
		}

		res, err := model.Transcribe(ctx, clipPath)
		if err != nil {
			lastErr = err
			continue
		}

		res.Shift(start)
		if i > 0 {
			res.Sentences = dropOverlapStart(res.Sentences, start+g.overlapSeconds)
		}
		out.Append(res)

		if chunkCallback != nil {
			chunkCallback(i+1, total)
		}
	}

	return out, lastErr
}

// chunkBoundaries computes the [start, end) window for each fixed-duration
// chunk spec §4.4/§8.7 describes:
//
//	step  = chunkSeconds - overlapSeconds
//	total = ceil((duration - overlapSeconds) / step)
//
// A 310s file at chunkSeconds=120, overlapSeconds=15 (step=105) yields three
// windows: [0,120), [105,225), [210,310).
func chunkBoundaries(duration, chunkSeconds, overlapSeconds float64) ([][2]float64, error) {
	step := chunkSeconds - overlapSeconds
	if step <= 0 {
		return nil, engineerr.New(engineerr.TranscriptionFailed, "overlap %.1fs must be smaller than chunk duration %.1fs", overlapSeconds, chunkSeconds)
	}
	total := int(math.Ceil((duration - overlapSeconds) / step))

	bounds := make([][2]float64, 0, total)
	for i := 0; i < total; i++ {
		start := float64(i) * step
		end := start + chunkSeconds
		if end > duration {
			end = duration
		}
		bounds = append(bounds, [2]float64{start, end})
	}
	return bounds, nil
}

func chunkFileName(i int) string {
	return "chunk_" + itoa(i) + ".wav"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// dropOverlapStart removes sentences that start before cutoffS — they fall
// within the leading overlap region re-transcribed from the previous chunk.
func dropOverlapStart(sentences []transcript.Sentence, cutoffS float64) []transcript.Sentence {
	out := sentences[:0:0]
	for _, s := range sentences {
		if s.StartS < cutoffS {
			continue
		}
		out = append(out, s)
	}
	return out
}
