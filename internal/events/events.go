// Package events defines the cross-worker progress/status event stream.
//
// PipelineEvent is a tagged variant; producers are Pipeline Workers (one per
// in-flight FileJob) plus the Speech Recognizer Gateway for download events.
// The Bus is multi-producer / single-consumer: many goroutines Publish, one
// caller Poll()s in bulk or ranges over Events().
package events

import "time"

// Outcome is the terminal state a job finished in.
type Outcome string

const (
	OutcomeCompleted Outcome = "Completed"
	OutcomeFailed    Outcome = "Failed"
	OutcomeSkipped   Outcome = "Skipped"
)

// Kind tags which variant a PipelineEvent carries.
type Kind string

const (
	KindProgress         Kind = "Progress"
	KindStatus           Kind = "Status"
	KindTimerTick        Kind = "TimerTick"
	KindDownloadStarted  Kind = "DownloadStarted"
	KindDownloadProgress Kind = "DownloadProgress"
	KindDownloadComplete Kind = "DownloadCompleted"
	KindDownloadError    Kind = "DownloadError"
	KindJobFinished      Kind = "JobFinished"
)

// Event is the single concrete type carrying all PipelineEvent variants.
// Only the fields relevant to Kind are populated; this mirrors how the
// teacher's LogEntry carries a Level plus a single Message rather than a
// Go union type (Go has none), while keeping field names aligned to spec §3.
type Event struct {
	Kind Kind

	// Progress / Status / TimerTick / JobFinished
	JobID    string
	BaseName string

	// Progress
	Percent int

	// Status
	Text string

	// TimerTick
	ElapsedMMSS string

	// DownloadStarted / DownloadProgress / DownloadError
	ModelName    string
	DownloadPct  int
	DownloadedMB float64
	TotalMB      float64
	SpeedMBps    float64
	Msg          string

	// JobFinished
	InputPath string
	Outcome   Outcome
	Detail    string

	At time.Time
}

// Progress builds a Progress event. Percent is clamped to [0, 100].
func Progress(jobID, baseName string, percent int) Event {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return Event{Kind: KindProgress, JobID: jobID, BaseName: baseName, Percent: percent}
}

// Status builds a Status event.
func Status(jobID, baseName, text string) Event {
	return Event{Kind: KindStatus, JobID: jobID, BaseName: baseName, Text: text}
}

// Tick builds a TimerTick event.
func Tick(jobID, baseName, elapsedMMSS string) Event {
	return Event{Kind: KindTimerTick, JobID: jobID, BaseName: baseName, ElapsedMMSS: elapsedMMSS}
}

// DownloadStarted builds a DownloadStarted event.
func DownloadStarted(modelName string) Event {
	return Event{Kind: KindDownloadStarted, ModelName: modelName}
}

// DownloadProgress builds a DownloadProgress event.
func DownloadProgress(percent int, downloadedMB, totalMB, speedMBps float64) Event {
	return Event{
		Kind:         KindDownloadProgress,
		DownloadPct:  percent,
		DownloadedMB: downloadedMB,
		TotalMB:      totalMB,
		SpeedMBps:    speedMBps,
	}
}

// DownloadCompleted builds a DownloadCompleted event.
func DownloadCompleted() Event {
	return Event{Kind: KindDownloadComplete}
}

// DownloadError builds a DownloadError event.
func DownloadError(msg string) Event {
	return Event{Kind: KindDownloadError, Msg: msg}
}

// JobFinished builds a terminal JobFinished event.
func JobFinished(jobID, inputPath string, outcome Outcome, detail string) Event {
	return Event{
		Kind:      KindJobFinished,
		JobID:     jobID,
		InputPath: inputPath,
		Outcome:   outcome,
		Detail:    detail,
	}
}
