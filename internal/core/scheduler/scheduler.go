// Package scheduler implements the Scheduler (spec §4.1): a
// bounded-concurrency FIFO dispatcher that admits FileJobs onto a fixed
// pool of Pipeline Worker goroutines, never running more than N at once,
// and guarantees that stopping it leaves no worker running, no job
// pending, and no event unpolled.
//
// Grounded in the teacher's pkg/utils panic-recovery idiom (every worker
// goroutine runs under utils.SafeRun, so one job's panic becomes a Failed
// JobFinished event instead of taking the whole batch down) and in the
// pack's worker-pool examples (job-queue-plus-semaphore shape) for the
// admit-on-slot-free FIFO dispatch loop; the mutex-guarded queue itself
// follows the same locking discipline as the teacher's LogBuffer circular
// buffer (internal/ui/execution/model.go), retargeted from log lines onto
// queued FileJobs.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duasub/duasub/internal/config"
	"github.com/duasub/duasub/internal/core/pipeline"
	"github.com/duasub/duasub/internal/events"
	"github.com/duasub/duasub/pkg/utils"
)

// stopGracePeriod is how long stop_all waits for in-flight jobs to finish
// on their own before forcibly cancelling them (spec §4.1/§5).
const stopGracePeriod = 5 * time.Second

// maxWorkerCeiling is the hard upper bound on concurrent workers
// regardless of configuration or CPU count (spec §4.1).
const maxWorkerCeiling = 12

// FileJob is one unit of admitted work (spec §3): an input video, the
// cache directory its artifacts are written under, and the configuration
// snapshot captured at submission time.
type FileJob struct {
	ID        string
	InputPath string
	CacheDir  string
	Config    config.Snapshot
}

// ClampWorkerCount computes N = min(configuredMax, CPU count), clamped to
// [1, 12], further capped by pendingTasks when there are fewer than
// maxWorkerCeiling tasks outstanding — spec §4.1's small-task heuristic:
// "one task gets one worker, two tasks get at most two workers", so a
// small batch never over-provisions idle goroutines. configuredMax <= 0
// means "derive from CPU count".
func ClampWorkerCount(configuredMax, numCPU, pendingTasks int) int {
	n := configuredMax
	if n <= 0 {
		n = numCPU
	}
	if n > numCPU {
		n = numCPU
	}
	if n < 1 {
		n = 1
	}
	if n > maxWorkerCeiling {
		n = maxWorkerCeiling
	}
	if pendingTasks > 0 && pendingTasks < n {
		n = pendingTasks
	}
	return n
}

// Scheduler dispatches FileJobs onto a bounded pool of goroutines running
// a shared Pipeline Worker. The zero value is not usable; construct with
// New.
type Scheduler struct {
	worker *pipeline.Worker
	bus    *events.Bus

	configuredMax int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []FileJob
	running map[string]context.CancelFunc
	n       int
	started bool
	stopped bool

	wg           sync.WaitGroup
	dispatchDone chan struct{}
}

// New builds a Scheduler around worker, publishing job-lifecycle events
// onto bus. configuredMax is the operator-configured worker cap from
// config.Snapshot.MaxProcesses; <= 0 derives N from runtime.NumCPU().
func New(worker *pipeline.Worker, bus *events.Bus, configuredMax int) *Scheduler {
	s := &Scheduler{
		worker:        worker,
		bus:           bus,
		configuredMax: configuredMax,
		running:       make(map[string]context.CancelFunc),
		dispatchDone:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	s.n = ClampWorkerCount(configuredMax, runtime.NumCPU(), 0)
	return s
}

// Start launches the dispatch loop. Calling Start more than once is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.dispatchLoop()
}

// Submit enqueues job for dispatch and returns its job_id, assigning one
// via uuid if the caller left ID empty. FIFO admission order is
// preserved; completion order is not (spec §4.1). Submitting after
// StopAll has been called is a no-op and returns "".
func (s *Scheduler) Submit(job FileJob) string {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ""
	}
	s.queue = append(s.queue, job)
	s.n = ClampWorkerCount(s.configuredMax, runtime.NumCPU(), len(s.queue)+len(s.running))
	s.cond.Broadcast()
	return job.ID
}

// SetMaxWorkers updates the configured worker cap. Per spec §4.1, this
// only changes how many *future* admissions the dispatch loop will run
// concurrently — jobs already running are never preempted.
func (s *Scheduler) SetMaxWorkers(configuredMax int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configuredMax = configuredMax
	s.n = ClampWorkerCount(configuredMax, runtime.NumCPU(), len(s.queue)+len(s.running))
	s.cond.Broadcast()
}

// PollEvents drains every event currently buffered on the bus.
func (s *Scheduler) PollEvents() []events.Event {
	if s.bus == nil {
		return nil
	}
	return s.bus.Poll()
}

// AllComplete reports whether nothing is queued and no worker is running.
func (s *Scheduler) AllComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && len(s.running) == 0
}

// dispatchLoop admits one queued job per free slot, running it under
// utils.SafeRun so a panic inside the Pipeline Worker fails only that job
// (spec §4.1 invariant: "at any instant, running workers <= N").
func (s *Scheduler) dispatchLoop() {
	for {
		s.mu.Lock()
		for !s.stopped && (len(s.queue) == 0 || len(s.running) >= s.n) {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.dispatchDone)
			return
		}
		job := s.queue[0]
		s.queue = s.queue[1:]
		jobCtx, cancel := context.WithCancel(context.Background())
		s.running[job.ID] = cancel
		s.mu.Unlock()

		s.wg.Add(1)
		go s.runJob(job, jobCtx, cancel)
	}
}

func (s *Scheduler) runJob(job FileJob, ctx context.Context, cancel context.CancelFunc) {
	defer s.wg.Done()
	defer cancel()
	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	pj := pipeline.Job{ID: job.ID, InputPath: job.InputPath, CacheDir: job.CacheDir, Config: job.Config}
	if err := utils.SafeRun(func() { s.worker.Run(ctx, pj) }); err != nil {
		if s.bus != nil {
			s.bus.Publish(events.JobFinished(job.ID, job.InputPath, events.OutcomeFailed, err.Error()))
		}
	}
}

// StopAll discards every queued-but-not-yet-running job as a cancelled
// JobFinished event, then gives running jobs stopGracePeriod to finish on
// their own before forcibly cancelling their contexts (spec §4.1: "graceful,
// then forced after roughly a five second grace period"). It blocks until
// every worker goroutine has returned.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	s.stopped = true
	pending := s.queue
	s.queue = nil
	runningCancels := make([]context.CancelFunc, 0, len(s.running))
	for _, cancel := range s.running {
		runningCancels = append(runningCancels, cancel)
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, job := range pending {
		if s.bus != nil {
			s.bus.Publish(events.JobFinished(job.ID, job.InputPath, events.OutcomeFailed, "cancelled"))
		}
	}

	if !s.started {
		return
	}

	graceful := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(graceful)
	}()

	select {
	case <-graceful:
	case <-time.After(stopGracePeriod):
		for _, cancel := range runningCancels {
			cancel()
		}
		<-graceful
	}

	<-s.dispatchDone
}

// Cleanup drains whatever events StopAll's JobFinished publishes left
// buffered, leaving the Scheduler's invariants (spec §4.1) fully
// satisfied: no worker running, no job pending, no event unpolled.
func (s *Scheduler) Cleanup() []events.Event {
	return s.PollEvents()
}
