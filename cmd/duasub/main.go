// Command duasub batch-processes one or more video files into
// bilingual-subtitled copies: extract audio, transcribe, translate, and
// burn captions back in, dispatched through a bounded-concurrency
// Scheduler and reported on a lipgloss-colorized terminal status line.
//
// Grounded in the teacher's cmd/bakasub/main.go: the --version short
// circuit and the top-level utils.SafeRun wrap are kept; the
// config.Exists/wizard/dashboard bubbletea flow is replaced with direct
// config.Load plus a flat Scheduler/event-drain loop, since duasub is a
// batch CLI rather than a persistent TUI application.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/duasub/duasub/internal/config"
	"github.com/duasub/duasub/internal/core/asr"
	"github.com/duasub/duasub/internal/core/media"
	"github.com/duasub/duasub/internal/core/pipeline"
	"github.com/duasub/duasub/internal/core/scheduler"
	"github.com/duasub/duasub/internal/core/translate"
	"github.com/duasub/duasub/internal/core/watch"
	"github.com/duasub/duasub/internal/events"
	"github.com/duasub/duasub/pkg/utils"
)

// asrModelName is the speech-recognition model duasub asks the external
// CLI runtime to load; the matching weights file is
// <cache_dir>/<asrModelName>.bin (spec §4.4's essential-files contract).
const asrModelName = "base"

var (
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFFF"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	tickStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")).Faint(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	skippedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F700FF"))
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("duasub %s\n", utils.Version)
		return
	}

	if err := utils.SafeRun(run); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	inputs, watchDir := parseArgs(os.Args[1:])
	if len(inputs) == 0 && watchDir == "" {
		fmt.Println("usage: duasub [--watch DIR] FILE [FILE...]")
		os.Exit(1)
	}

	snap := cfg.Snapshot()
	temperature := 0.3
	if profile, ok := cfg.PromptProfiles[cfg.ActiveProfile]; ok {
		temperature = profile.Temperature
	}

	if err := os.MkdirAll(snap.CacheDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating cache directory: %v\n", err)
		os.Exit(1)
	}

	mediaAdapter := &media.Adapter{BinDir: snap.BinPath}
	bus := events.NewBus(256)

	loader := asr.NewCLIModelLoader(snap.BinPath, "whisper-cli")
	gateway := asr.NewGateway(snap.CacheDir, asrModelName, loader, mediaAdapter,
		[]string{asrModelName + ".bin"}, asr.WithEventBus(bus), asr.WithChunking(120, 15))

	primary := translate.NewLLMProvider(snap.BaseURL, snap.APIKey, snap.Model, temperature,
		snap.MaxCharsPerBatch, snap.MaxEntriesPerBatch, snap.MaxRetries)

	var fallback translate.Provider
	if snap.EnableFreeFallback {
		fallback = translate.NewFreeProvider(snap.FreeEndpoint, snap.FreeModel, temperature, snap.MaxRetries)
	}

	cache, err := translate.OpenCache(filepath.Join(snap.CacheDir, "translations.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: translation cache unavailable, continuing without it: %v\n", err)
	}

	translator := &translate.Translator{
		Primary:  primary,
		Fallback: fallback,
		Cache:    cache,
		LangPair: snap.SourceLang + "->" + snap.TargetLang,
	}

	worker := pipeline.NewWorker(mediaAdapter, gateway, translator, bus)
	sched := scheduler.New(worker, bus, snap.MaxProcesses)
	sched.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println(statusStyle.Render("\nshutting down, finishing in-flight jobs..."))
		sched.StopAll()
	}()

	for _, path := range inputs {
		submit(sched, snap, path)
	}

	var watcher *watch.Watcher
	if watchDir != "" {
		existing, err := watch.ScanExisting(watchDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: cannot scan %s: %v\n", watchDir, err)
		}
		for _, path := range existing {
			submit(sched, snap, path)
		}

		watcher, err = watch.New(watchDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: cannot watch %s: %v\n", watchDir, err)
		} else {
			watcher.OnNewFile = func(path string) { submit(sched, snap, path) }
			watcher.OnError = func(err error) { fmt.Fprintf(os.Stderr, "watch error: %v\n", err) }
			if err := watcher.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: cannot start watcher: %v\n", err)
				watcher = nil
			}
		}
	}

	for watcher != nil || !sched.AllComplete() {
		for _, e := range sched.PollEvents() {
			fmt.Println(renderEvent(e))
		}
		time.Sleep(100 * time.Millisecond)
	}
	for _, e := range sched.PollEvents() {
		fmt.Println(renderEvent(e))
	}

	sched.StopAll()
	for _, e := range sched.Cleanup() {
		fmt.Println(renderEvent(e))
	}

	primary.Close()
	if fallback != nil {
		if closer, ok := fallback.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	if cache != nil {
		cache.Close()
	}
}

func submit(sched *scheduler.Scheduler, snap config.Snapshot, path string) {
	sched.Submit(scheduler.FileJob{
		InputPath: path,
		CacheDir:  snap.CacheDir,
		Config:    snap,
	})
}

// parseArgs splits a "--watch DIR" flag (in any position) from the
// positional video file paths.
func parseArgs(args []string) (inputs []string, watchDir string) {
	for i := 0; i < len(args); i++ {
		if args[i] == "--watch" && i+1 < len(args) {
			watchDir = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(args[i], "--watch=") {
			watchDir = strings.TrimPrefix(args[i], "--watch=")
			continue
		}
		inputs = append(inputs, args[i])
	}
	return inputs, watchDir
}

func renderEvent(e events.Event) string {
	switch e.Kind {
	case events.KindProgress:
		return progressStyle.Render(fmt.Sprintf("[%s] %3d%%", e.BaseName, e.Percent))
	case events.KindStatus:
		return statusStyle.Render(fmt.Sprintf("[%s] %s", e.BaseName, e.Text))
	case events.KindTimerTick:
		return tickStyle.Render(fmt.Sprintf("[%s] %s elapsed", e.BaseName, e.ElapsedMMSS))
	case events.KindDownloadStarted:
		return statusStyle.Render(fmt.Sprintf("downloading model %s...", e.ModelName))
	case events.KindDownloadProgress:
		return statusStyle.Render(fmt.Sprintf("model download %3d%% (%.1f/%.1f MB, %.1f MB/s)", e.DownloadPct, e.DownloadedMB, e.TotalMB, e.SpeedMBps))
	case events.KindDownloadComplete:
		return completedStyle.Render("model download complete")
	case events.KindDownloadError:
		return failedStyle.Render("model download failed: " + e.Msg)
	case events.KindJobFinished:
		switch e.Outcome {
		case events.OutcomeCompleted:
			return completedStyle.Render(fmt.Sprintf("[%s] done -> %s", e.InputPath, e.Detail))
		case events.OutcomeSkipped:
			return skippedStyle.Render(fmt.Sprintf("[%s] skipped: %s", e.InputPath, e.Detail))
		default:
			return failedStyle.Render(fmt.Sprintf("[%s] failed: %s", e.InputPath, e.Detail))
		}
	default:
		return fmt.Sprintf("%+v", e)
	}
}
