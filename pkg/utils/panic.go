// Package utils provides small cross-cutting helpers shared by the
// Scheduler and the Pipeline Worker.
package utils

import (
	"fmt"
	"runtime/debug"
)

// Version is the build version reported by the CLI's --version flag.
const Version = "v1.0.0"

// SafeRun executes fn and converts any panic into an error instead of
// letting it crash the process.
//
// Grounded in the teacher's pkg/utils/panic.go RecoverPanic/SafeRun pair:
// the teacher recovers a panic by taking over the whole terminal with a
// BSOD screen and calling os.Exit(1), which fits a single-user TUI but
// not a Scheduler running up to CPU-count worker goroutines concurrently
// (spec §4.1) — one job's panic must fail that job, not the batch. The
// recovered value becomes a Failed JobFinished event (spec §3) instead of
// a process exit.
func SafeRun(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
	return nil
}
