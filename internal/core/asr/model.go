package asr

import (
	"context"

	"github.com/duasub/duasub/internal/core/transcript"
)

// Model is the loaded, ready-to-use speech recognition model handle. The
// concrete implementation wraps whatever external ASR runtime the process
// is built against; duasub only depends on this interface (spec §1: the
// external speech-recognition model runtime is an external collaborator).
type Model interface {
	Transcribe(ctx context.Context, audioPath string) (transcript.AlignedResult, error)
}

// PrecisionSetter is implemented by models that support a runtime precision
// toggle (e.g. fp16/int8). Optional — spec §4.4 step 5: "failures to set
// these are warnings, not errors".
type PrecisionSetter interface {
	SetPrecision(precision string) error
}

// AttentionWindowSetter is implemented by models that support a local
// attention window size parameter. Optional, same warning-only contract.
type AttentionWindowSetter interface {
	SetAttentionWindowSize(size int) error
}

// ModelLoader loads a Model from files already verified present in the
// on-disk cache (spec §4.4 step 3/4: "Probe the on-disk cache for the
// model's essential files... if all present, load from cache").
type ModelLoader interface {
	Load(ctx context.Context, cacheDir, modelName string) (Model, error)
}
