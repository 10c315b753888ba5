package asr

import (
	"testing"

	"github.com/duasub/duasub/internal/engineerr"
)

func TestNewCLIModelLoaderDefaultsBinary(t *testing.T) {
	l := NewCLIModelLoader("", "")
	if l.Binary != "whisper-cli" {
		t.Errorf("Binary = %q, want whisper-cli", l.Binary)
	}
}

func TestCLIModelLoaderLocateNotFound(t *testing.T) {
	l := NewCLIModelLoader(t.TempDir(), "duasub-nonexistent-binary-xyz")
	if _, err := l.locate(); !engineerr.Is(err, engineerr.ToolNotFound) {
		t.Errorf("expected ToolNotFound, got %v", err)
	}
}

func TestCLIModelSetPrecisionAndAttentionWindow(t *testing.T) {
	m := &CLIModel{precision: "float32"}
	if err := m.SetPrecision("float16"); err != nil {
		t.Fatalf("SetPrecision returned error: %v", err)
	}
	if m.precision != "float16" {
		t.Errorf("precision = %q, want float16", m.precision)
	}
	if err := m.SetAttentionWindowSize(1500); err != nil {
		t.Fatalf("SetAttentionWindowSize returned error: %v", err)
	}
	if m.attentionWindow != 1500 {
		t.Errorf("attentionWindow = %d, want 1500", m.attentionWindow)
	}
}

func TestParseCLIOutput(t *testing.T) {
	raw := []byte(`{
		"transcription": [
			{"text": "Hello there", "offsets": {"from": 0, "to": 1500}},
			{"text": "", "offsets": {"from": 1500, "to": 1600}},
			{"text": "General Kenobi", "offsets": {"from": 1600, "to": 3000}}
		]
	}`)
	result, err := parseCLIOutput(raw)
	if err != nil {
		t.Fatalf("parseCLIOutput returned error: %v", err)
	}
	if len(result.Sentences) != 2 {
		t.Fatalf("expected 2 non-empty sentences, got %d", len(result.Sentences))
	}
	if result.Sentences[0].Text != "Hello there" || result.Sentences[0].StartS != 0 || result.Sentences[0].EndS != 1.5 {
		t.Errorf("unexpected first sentence: %+v", result.Sentences[0])
	}
	if result.Sentences[1].StartS != 1.6 || result.Sentences[1].EndS != 3 {
		t.Errorf("unexpected second sentence timing: %+v", result.Sentences[1])
	}
	if result.FullText != "Hello there General Kenobi" {
		t.Errorf("FullText = %q", result.FullText)
	}
}

func TestParseCLIOutputMalformed(t *testing.T) {
	if _, err := parseCLIOutput([]byte("not json")); !engineerr.Is(err, engineerr.TranscriptionFailed) {
		t.Errorf("expected TranscriptionFailed for malformed output, got %v", err)
	}
}
