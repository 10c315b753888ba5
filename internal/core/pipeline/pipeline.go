// Package pipeline implements the Pipeline Worker (spec §4.2): the
// per-job orchestration of Extract -> Transcribe -> Translate -> Burn,
// publishing progress onto the shared Event Bus and degrading to a
// Skipped or Failed terminal outcome rather than losing partial work.
//
// Grounded in the teacher's internal/core/pipeline/pipeline.go: the
// log/progress callback shape and buildSystemPrompt's glossary-placeholder
// injection are kept, retargeted from LLM-payload translation batches onto
// the Extract/Transcribe/Translate/Burn stage sequence that drives the
// Speech Recognizer Gateway, Translator, and Media Tool Adapter.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/duasub/duasub/internal/config"
	"github.com/duasub/duasub/internal/core/asr"
	"github.com/duasub/duasub/internal/core/linter"
	"github.com/duasub/duasub/internal/core/media"
	"github.com/duasub/duasub/internal/core/ner"
	"github.com/duasub/duasub/internal/core/subtitle"
	"github.com/duasub/duasub/internal/core/tokenizer"
	"github.com/duasub/duasub/internal/core/translate"
	"github.com/duasub/duasub/internal/engineerr"
	"github.com/duasub/duasub/internal/events"
)

// progress budget boundaries (spec §4.2's stage table).
const (
	pctExtractDone     = 10
	pctModelInit       = 12
	pctModelReady      = 20
	pctTranscribeDone  = 70
	pctTranslateStart  = 72
	pctTranslateDone   = 80
	pctBurnDone        = 100
)

// emptyAudioThresholdBytes is the artifact size below which an extracted
// audio track is treated as silence rather than content (spec §4.2: "an
// audio artifact under roughly 1KB produces an empty transcript and skips
// translation").
const emptyAudioThresholdBytes = 1024

// Job is one unit of work submitted to a Worker: a single input video,
// the cache directory its intermediate artifacts are written under, and
// the configuration snapshot it must run with (spec §6: "captured once at
// job submission").
type Job struct {
	ID       string
	InputPath string
	CacheDir  string
	Config    config.Snapshot
}

// Worker runs one Job's Extract/Transcribe/Translate/Burn sequence end to
// end. A single Worker value is stateless between jobs and safe to reuse
// across goroutines, since every call receives its own Job.
type Worker struct {
	Media      *media.Adapter
	Gateway    *asr.Gateway
	Translator *translate.Translator
	Bus        *events.Bus
}

// NewWorker builds a Worker around the shared collaborators a Scheduler
// hands every job (spec §4.1: the Media Tool Adapter, Speech Recognizer
// Gateway, and Translator are process-wide, not per-job).
func NewWorker(m *media.Adapter, gw *asr.Gateway, tr *translate.Translator, bus *events.Bus) *Worker {
	return &Worker{Media: m, Gateway: gw, Translator: tr, Bus: bus}
}

// Run executes job's full stage sequence, publishing Progress/Status/
// TimerTick events as it goes, and returns the terminal JobFinished event
// it also published (spec §4.2). Run never panics; a panic in a
// collaborator is the Scheduler's concern (utils.SafeRun), not this
// method's.
func (w *Worker) Run(ctx context.Context, job Job) events.Event {
	ext := filepath.Ext(job.InputPath)
	baseName := strings.TrimSuffix(filepath.Base(job.InputPath), ext)
	dir := filepath.Dir(job.InputPath)

	stopTimer := w.startTimer(job.ID, baseName)
	defer stopTimer()

	finish := func(outcome events.Outcome, detail string) events.Event {
		e := events.JobFinished(job.ID, job.InputPath, outcome, detail)
		w.publish(e)
		return e
	}
	fail := func(err error) events.Event {
		return finish(events.OutcomeFailed, err.Error())
	}

	if err := os.MkdirAll(job.CacheDir, 0755); err != nil {
		return fail(engineerr.New(engineerr.ExtractFailed, "cannot create cache directory: %v", err))
	}

	// Stage 1: Extract (0 -> 10)
	audioPath := filepath.Join(job.CacheDir, baseName+"_audio.wav")
	if err := w.Media.ExtractAudio(ctx, job.InputPath, audioPath); err != nil {
		return fail(err)
	}
	w.publish(events.Progress(job.ID, baseName, pctExtractDone))

	empty, err := isEmptyAudio(audioPath)
	if err != nil {
		return fail(engineerr.New(engineerr.ExtractFailed, "cannot stat extracted audio: %v", err))
	}

	var cues []subtitle.Cue
	if empty {
		// spec §4.2: an audio artifact under ~1KB produces an empty
		// transcript and a no-op translate, not a failure.
		w.publish(events.Progress(job.ID, baseName, pctTranslateDone))
	} else {
		if ctx.Err() != nil {
			return fail(engineerr.New(engineerr.Cancelled, "cancelled before transcription: %v", ctx.Err()))
		}
		w.publish(events.Progress(job.ID, baseName, pctModelInit))

		onChunk := func(idx, total int) {
			w.publish(events.Progress(job.ID, baseName, scaleProgress(idx, total, pctModelReady, pctTranscribeDone)))
		}
		aligned, err := w.Gateway.Transcribe(ctx, audioPath, onChunk)
		if err != nil && len(aligned.Sentences) == 0 {
			return fail(err)
		}
		if job.Config.RemoveHI {
			for i := range aligned.Sentences {
				aligned.Sentences[i].Text = subtitle.StripHearingImpairedTags(aligned.Sentences[i].Text)
			}
		}
		cues = subtitle.ConvertAlignedResult(aligned)

		outputSRTPath := filepath.Join(job.CacheDir, baseName+"_output.srt")
		if werr := os.WriteFile(outputSRTPath, []byte(subtitle.Emit(cues)), 0644); werr != nil {
			return fail(engineerr.New(engineerr.TranscriptionFailed, "cannot write transcript: %v", werr))
		}
		w.publish(events.Progress(job.ID, baseName, pctTranscribeDone))
	}

	// Stage 2: Translate (70 -> 80)
	var bilingual []subtitle.Cue
	if len(cues) > 0 && !job.Config.SkipTranslation {
		if ctx.Err() != nil {
			return fail(engineerr.New(engineerr.Cancelled, "cancelled before translation: %v", ctx.Err()))
		}

		texts := make([]string, len(cues))
		for i, c := range cues {
			texts[i] = c.Text()
		}
		prompt := buildSystemPrompt(job.Config.SystemPrompt, texts)

		cost := tokenizer.NewEstimator().EstimateCost(texts, job.Config.Model)
		w.publish(events.Status(job.ID, baseName, fmt.Sprintf("estimated %d input tokens, ~%s", cost.InputTokens, cost.FormattedCost)))

		entries := make([]translate.Entry, len(cues))
		for i, c := range cues {
			entries[i] = translate.Entry{Index: c.Index, Text: c.Text()}
		}

		onBatch := func(completed, total int) {
			w.publish(events.Progress(job.ID, baseName, scaleProgress(completed, total, pctTranslateStart, pctTranslateDone)))
		}
		results, err := w.Translator.TranslateAll(ctx, entries, prompt, onBatch)
		if err != nil {
			return fail(err)
		}

		translated := make([]string, len(cues))
		for i, r := range results {
			translated[i] = r.Text
		}
		bilingual = subtitle.Bilingual(cues, translated)

		if lint := linter.Check(translated, linter.CheckOptions{SourceLang: job.Config.SourceLang, TargetLang: job.Config.TargetLang}); !lint.PassedAll {
			w.publish(events.Status(job.ID, baseName, fmt.Sprintf("%d quality issue(s) flagged in translation", len(lint.Issues))))
		}

		bilingualSRTPath := filepath.Join(job.CacheDir, baseName+"_bilingual.srt")
		if werr := os.WriteFile(bilingualSRTPath, []byte(subtitle.Emit(bilingual)), 0644); werr != nil {
			return fail(engineerr.New(engineerr.TranslationBatchFail, "cannot write bilingual subtitles: %v", werr))
		}
	}
	w.publish(events.Progress(job.ID, baseName, pctTranslateDone))

	// Stage 3: Burn (80 -> 100), or skip.
	if len(bilingual) == 0 {
		w.publish(events.Progress(job.ID, baseName, pctBurnDone))
		return finish(events.OutcomeSkipped, "bilingual subtitles empty")
	}
	if job.Config.SkipBurn {
		w.publish(events.Progress(job.ID, baseName, pctBurnDone))
		return finish(events.OutcomeSkipped, "burn disabled by configuration")
	}
	if ctx.Err() != nil {
		return fail(engineerr.New(engineerr.Cancelled, "cancelled before burn: %v", ctx.Err()))
	}

	duration, err := w.Media.ProbeDuration(ctx, job.InputPath)
	if err != nil {
		return fail(err)
	}
	bilingualSRTPath := filepath.Join(job.CacheDir, baseName+"_bilingual.srt")
	outputPath := filepath.Join(dir, fmt.Sprintf("%s_subtitled_%s%s", baseName, timestamp(), ext))

	onBurnProgress := func(pct int) {
		w.publish(events.Progress(job.ID, baseName, pct))
	}
	if err := w.Media.Burn(ctx, job.InputPath, bilingualSRTPath, outputPath, media.DefaultBurnStyle(), duration, onBurnProgress); err != nil {
		return fail(err)
	}

	w.publish(events.Progress(job.ID, baseName, pctBurnDone))
	return finish(events.OutcomeCompleted, outputPath)
}

func (w *Worker) publish(e events.Event) {
	if w.Bus != nil {
		w.Bus.Publish(e)
	}
}

// startTimer begins a once-per-second TimerTick publisher and returns a
// func to stop it (spec §4.2: "started at stage-1 entry, stopped on any
// terminal outcome").
func (w *Worker) startTimer(jobID, baseName string) (stop func()) {
	start := time.Now()
	done := make(chan struct{})
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				w.publish(events.Tick(jobID, baseName, formatElapsed(now.Sub(start))))
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// formatElapsed renders d as MM:SS.
func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// scaleProgress maps completed/total onto the [lo, hi] percent range.
func scaleProgress(completed, total, lo, hi int) int {
	if total <= 0 {
		return hi
	}
	if completed >= total {
		return hi
	}
	span := hi - lo
	return lo + (span*completed)/total
}

// isEmptyAudio reports whether the extracted audio artifact is below the
// empty-audio threshold (spec §4.2).
func isEmptyAudio(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Size() < emptyAudioThresholdBytes, nil
}

// buildSystemPrompt fills the {{glossary}} placeholder in prompt with a
// Volatile Glossary derived from the source cue text via NER, since no
// project glossary is carried in the job's config snapshot (spec §4.6:
// "a Volatile Glossary built from the source text when no project
// glossary was supplied").
func buildSystemPrompt(prompt string, sourceTexts []string) string {
	entities := ner.NewScanner().ScanLines(sourceTexts)
	if len(entities) == 0 {
		return strings.Replace(prompt, "{{glossary}}", "", 1)
	}
	var b strings.Builder
	for _, e := range entities {
		fmt.Fprintf(&b, "- %s (%s)\n", e.Text, e.Type)
	}
	return strings.Replace(prompt, "{{glossary}}", b.String(), 1)
}

// timestamp renders the current time for the subtitled-output filename
// (spec §4.2: "dir/B_subtitled_YYYYMMDD_HHMMSS.ext").
func timestamp() string {
	return time.Now().Format("20060102_150405")
}
