package runsummary

import (
	"fmt"
	"sync"
	"time"

	"github.com/meridianci/meridian/internal/chrometracing"
	"github.com/meridianci/meridian/internal/turbopath"
)

// TaskExecutionSummary contains data about the state of a single task in a turbo run.
// Some fields are updated over time as the task prepares to execute and finishes execution.
type TaskExecutionSummary struct {
	startAt time.Time

	Duration time.Duration `json:"duration"`

	// Target which has just changed
	Label string `json:"-"`

	// Its current status
	Status string `json:"status"`

	// Error, only populated for failure statuses
	Err error `json:"error"`

	exitCode *int
}

// ExitCode returns the exit code the task's command finished with, or nil if
// it never reached the point of running a command (e.g. a cache hit).
func (t *TaskExecutionSummary) ExitCode() *int {
	return t.exitCode
}

// endTime returns when the task finished, derived from when it started plus
// how long it ran.
func (t *TaskExecutionSummary) endTime() time.Time {
	return t.startAt.Add(t.Duration)
}

// executionSummary tracks the aggregate state of every task attempted during
// a single `turbo run`, plus the bookkeeping needed to report on it afterward.
type executionSummary struct {
	mu sync.Mutex

	command         string
	repoPath        turbopath.RelativeSystemPath
	success         int
	failure         int
	cached          int
	attempted       int
	startedAt       time.Time
	endedAt         time.Time
	exitCode        int
	profileFilename string
}

// newExecutionSummary creates an executionSummary instance to track events in a `turbo run`.
func newExecutionSummary(command string, repoPath turbopath.RelativeSystemPath, start time.Time, profileFilename string) *executionSummary {
	if profileFilename != "" {
		chrometracing.EnableTracing()
	}

	return &executionSummary{
		command:         command,
		repoPath:        repoPath,
		startedAt:       start,
		profileFilename: profileFilename,
	}
}

// run starts the execution of a single task. It returns a function that can
// be used to update the state of the task with an outcome and optional exit
// code once it finishes.
func (es *executionSummary) run(taskID string) (func(outcome executionEventName, err error, exitCode *int), *TaskExecutionSummary) {
	start := time.Now()
	tracer := chrometracing.Event(taskID)

	taskExecutionSummary := &TaskExecutionSummary{
		startAt: start,
		Label:   taskID,
		Status:  targetBuilding.toString(),
	}

	tracerFn := func(outcome executionEventName, err error, exitCode *int) {
		defer tracer.Done()
		now := time.Now()

		es.mu.Lock()
		defer es.mu.Unlock()

		taskExecutionSummary.Duration = now.Sub(start)
		taskExecutionSummary.Status = outcome.toString()
		taskExecutionSummary.exitCode = exitCode
		if err != nil {
			taskExecutionSummary.Err = fmt.Errorf("running %v failed: %w", taskID, err)
		}

		switch outcome {
		case TargetBuildFailed:
			es.failure++
			es.attempted++
		case TargetCached:
			es.cached++
			es.attempted++
		case TargetBuilt:
			es.success++
			es.attempted++
		}
	}

	return tracerFn, taskExecutionSummary
}
