package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/duasub/duasub/internal/core/transcript"
	"github.com/duasub/duasub/internal/engineerr"
)

// cliWellKnownPaths mirrors the media.Adapter fallback locator (spec §4.3),
// applied here to the external speech-recognition CLI binary instead of
// ffmpeg/ffprobe — the ASR model runtime is an external collaborator (spec
// §1), so duasub ships an adapter for it rather than linking a runtime in.
var cliWellKnownPaths = []string{
	"/usr/bin",
	"/usr/local/bin",
	"/opt/homebrew/bin",
}

// CLIModelLoader is a ModelLoader that drives a whisper.cpp-shaped
// command-line binary: one process per transcription call, essential
// files are the cacheDir's ggml weight file(s), JSON segment output read
// back from a temp file.
type CLIModelLoader struct {
	// BinDir is checked before PATH and cliWellKnownPaths.
	BinDir string
	// Binary is the executable name to locate, e.g. "whisper-cli".
	Binary string
}

// NewCLIModelLoader builds a loader for the given binary name.
func NewCLIModelLoader(binDir, binary string) *CLIModelLoader {
	if binary == "" {
		binary = "whisper-cli"
	}
	return &CLIModelLoader{BinDir: binDir, Binary: binary}
}

func (l *CLIModelLoader) locate() (string, error) {
	if l.BinDir != "" {
		candidate := filepath.Join(l.BinDir, l.Binary)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(l.Binary); err == nil {
		return path, nil
	}
	for _, dir := range cliWellKnownPaths {
		candidate := filepath.Join(dir, l.Binary)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", engineerr.New(engineerr.ToolNotFound, "%s not found in BinDir, PATH, or well-known locations", l.Binary)
}

// Load resolves the CLI binary and pairs it with the cache directory
// holding modelName's weights file (already validated present by
// Gateway.ensureModel's cacheComplete check before Load is ever called).
func (l *CLIModelLoader) Load(ctx context.Context, cacheDir, modelName string) (Model, error) {
	binPath, err := l.locate()
	if err != nil {
		return nil, err
	}
	return &CLIModel{
		binPath:   binPath,
		cacheDir:  cacheDir,
		modelName: modelName,
		precision: "float32",
	}, nil
}

// CLIModel wraps one invocation of the external ASR CLI per Transcribe
// call. It optionally implements PrecisionSetter/AttentionWindowSetter
// (spec §4.4 step 5): both simply adjust flags passed on the next
// invocation, so a failure there is never possible and the gateway's
// warning path is for loaders whose underlying runtime can reject the
// setting outright.
type CLIModel struct {
	binPath   string
	cacheDir  string
	modelName string

	precision       string
	attentionWindow int
}

// SetPrecision selects the inference precision (spec §4.4 step 5: applied
// best-effort after load, "float16" by default).
func (m *CLIModel) SetPrecision(precision string) error {
	m.precision = precision
	return nil
}

// SetAttentionWindowSize selects the local attention window size in
// tokens, 0 meaning "use the runtime default".
func (m *CLIModel) SetAttentionWindowSize(size int) error {
	m.attentionWindow = size
	return nil
}

type cliSegment struct {
	Text   string  `json:"text"`
	Offsets struct {
		FromMS int64 `json:"from"`
		ToMS   int64 `json:"to"`
	} `json:"offsets"`
}

type cliTranscription struct {
	Transcription []cliSegment `json:"transcription"`
}

// Transcribe shells out to the CLI binary against audioPath, writing JSON
// segment output to a temp file and parsing it back into an AlignedResult.
// One sentence per segment; the CLI's own word-level tokens (if any) are
// not surfaced, matching transcript.Token's "purely informational" role.
func (m *CLIModel) Transcribe(ctx context.Context, audioPath string) (transcript.AlignedResult, error) {
	outDir, err := os.MkdirTemp("", "duasub-asr-*")
	if err != nil {
		return transcript.AlignedResult{}, engineerr.New(engineerr.TranscriptionFailed, "cannot create output temp dir: %v", err)
	}
	defer os.RemoveAll(outDir)

	outBase := filepath.Join(outDir, "result")
	weightsPath := filepath.Join(m.cacheDir, m.modelName+".bin")

	args := []string{
		"-m", weightsPath,
		"-f", audioPath,
		"-oj",
		"-of", outBase,
	}
	if m.precision == "float16" {
		args = append(args, "-fp16")
	}
	if m.attentionWindow > 0 {
		args = append(args, "-ac", fmt.Sprintf("%d", m.attentionWindow))
	}

	cmd := exec.CommandContext(ctx, m.binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return transcript.AlignedResult{}, engineerr.WithStderr(engineerr.TranscriptionFailed, stderr.String(), "%s failed: %v", m.binPath, err)
	}

	raw, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return transcript.AlignedResult{}, engineerr.New(engineerr.TranscriptionFailed, "cannot read transcription output: %v", err)
	}
	return parseCLIOutput(raw)
}

// parseCLIOutput converts the CLI binary's JSON segment output into an
// AlignedResult, one Sentence per non-empty segment.
func parseCLIOutput(raw []byte) (transcript.AlignedResult, error) {
	var parsed cliTranscription
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return transcript.AlignedResult{}, engineerr.New(engineerr.TranscriptionFailed, "cannot parse transcription output: %v", err)
	}

	var out transcript.AlignedResult
	for _, seg := range parsed.Transcription {
		text := seg.Text
		if text == "" {
			continue
		}
		start := float64(seg.Offsets.FromMS) / 1000
		end := float64(seg.Offsets.ToMS) / 1000
		out.Sentences = append(out.Sentences, transcript.Sentence{
			Text:   text,
			StartS: start,
			EndS:   end,
		})
		if out.FullText != "" {
			out.FullText += " "
		}
		out.FullText += text
	}
	return out, nil
}
