package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"videomorph/internal/diagnostics"
	"videomorph/internal/domain"
	"videomorph/internal/encoder"
)

var (
	// ErrAlreadyConverting is returned when Start is called outside idle state.
	ErrAlreadyConverting = errors.New("conversion already in progress")
	// ErrNothingQueued is returned when Start finds no queued task.
	ErrNothingQueued = errors.New("no queued tasks to convert")
	// ErrNoRunningJob is returned when a stop is requested while nothing runs.
	ErrNoRunningJob = errors.New("no running task")
)

// HistoryRecorder stores finished tasks.
type HistoryRecorder interface {
	Record(job domain.Job) error
}

// CoordinatorConfig wires the coordinator to its collaborators. Only Queue,
// Runner and Settings are required.
type CoordinatorConfig struct {
	Queue          *Queue
	Bus            *EventBus
	Runner         encoder.Runner
	Settings       func() domain.Settings
	CheckOutputDir func(dir string) error
	Shutdown       func() error
	History        HistoryRecorder
	Logger         *slog.Logger
}

// Coordinator drains the queue one task at a time through the encoder.
type Coordinator struct {
	queue      *Queue
	bus        *EventBus
	runner     encoder.Runner
	settings   func() domain.Settings
	checkDir   func(dir string) error
	shutdown   func() error
	history    HistoryRecorder
	logger     *slog.Logger
	removeFile func(name string) error
	now        func() time.Time

	mu          sync.Mutex
	state       domain.CoordinatorState
	cancelJob   context.CancelFunc
	jobDone     chan struct{}
	runDone     chan struct{}
	stopAll     bool
	runStarted  time.Time
	runFinished time.Time
}

// NewCoordinator creates an idle coordinator and routes queue events to its bus.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		queue:      cfg.Queue,
		bus:        cfg.Bus,
		runner:     cfg.Runner,
		settings:   cfg.Settings,
		checkDir:   cfg.CheckOutputDir,
		shutdown:   cfg.Shutdown,
		history:    cfg.History,
		logger:     cfg.Logger,
		removeFile: os.Remove,
		now:        time.Now,
		state:      domain.StateIdle,
	}
	if c.bus == nil {
		c.bus = NewEventBus(0)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.checkDir == nil {
		c.checkDir = diagnostics.NewChecker().CheckWritable
	}
	closed := make(chan struct{})
	close(closed)
	c.runDone = closed

	c.queue.emit = c.publish
	return c
}

// Queue exposes the task list driven by this coordinator.
func (c *Coordinator) Queue() *Queue {
	return c.queue
}

// Events returns buffered events after seq.
func (c *Coordinator) Events(since int64) []Event {
	return c.bus.Since(since)
}

// Subscribe registers l for every published event.
func (c *Coordinator) Subscribe(l Listener) {
	c.bus.Subscribe(l)
}

// State returns the coordinator state.
func (c *Coordinator) State() domain.CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins draining queued tasks in list order on a background goroutine.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.state != domain.StateIdle {
		c.mu.Unlock()
		return ErrAlreadyConverting
	}
	settings := c.settings()
	if err := c.checkDir(settings.OutputDir); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.queue.nextQueued(); !ok {
		c.mu.Unlock()
		return ErrNothingQueued
	}

	c.setStateLocked(domain.StateConverting)
	c.stopAll = false
	c.runStarted = c.now()
	c.runFinished = time.Time{}
	done := make(chan struct{})
	c.runDone = done
	c.mu.Unlock()

	c.logger.Info("conversion started", "output_dir", settings.OutputDir, "encoder", settings.Encoder)
	c.publishState(domain.StateConverting)
	go c.drain(settings, done)
	return nil
}

// Stop terminates the running task and returns once it is marked stopped.
// Draining continues with the next queued task.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	cancel, jobDone := c.cancelJob, c.jobDone
	c.mu.Unlock()
	if cancel == nil {
		return ErrNoRunningJob
	}

	cancel()
	<-jobDone
	return nil
}

// StopAll terminates the running task and ends the run. Remaining tasks stay
// queued so a later Start resumes from the next one.
func (c *Coordinator) StopAll() error {
	c.mu.Lock()
	if c.state != domain.StateConverting {
		c.mu.Unlock()
		return ErrNoRunningJob
	}
	c.stopAll = true
	c.setStateLocked(domain.StateStopping)
	cancel, runDone := c.cancelJob, c.runDone
	c.mu.Unlock()

	c.publishState(domain.StateStopping)
	if cancel != nil {
		cancel()
	}
	<-runDone
	return nil
}

// Wait blocks until the current run, if any, has finished.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	done := c.runDone
	c.mu.Unlock()
	<-done
}

// Totals aggregates progress over queued, running and done tasks weighted by
// media duration.
func (c *Coordinator) Totals() domain.Totals {
	c.mu.Lock()
	state := c.state
	started, finished := c.runStarted, c.runFinished
	c.mu.Unlock()

	jobs := c.queue.List()
	out := domain.Totals{State: state}
	var weight, weighted, pendingMedia, processedMedia float64
	for _, j := range jobs {
		switch j.Status {
		case domain.JobStatusQueued:
			out.Queued++
			weight += j.Duration
			pendingMedia += j.Duration
		case domain.JobStatusRunning:
			out.Running++
			weight += j.Duration
			weighted += j.Duration * j.Progress
			pendingMedia += j.Duration - j.Position
			processedMedia += j.Position
		case domain.JobStatusDone:
			out.Done++
			weight += j.Duration
			weighted += j.Duration * 100
			if !started.IsZero() && !j.StartedAt.Before(started) {
				processedMedia += j.Duration
			}
		case domain.JobStatusError:
			out.Failed++
		case domain.JobStatusStopped:
			out.Stopped++
		}
	}
	if weight > 0 {
		out.Progress = weighted / weight
	}

	switch {
	case started.IsZero():
	case state == domain.StateIdle && !finished.IsZero():
		out.Elapsed = finished.Sub(started)
	default:
		out.Elapsed = c.now().Sub(started)
	}
	if state != domain.StateIdle && processedMedia > 0 && pendingMedia > 0 {
		out.Remaining = time.Duration(pendingMedia / processedMedia * float64(out.Elapsed))
	}
	return out
}

func (c *Coordinator) drain(settings domain.Settings, done chan struct{}) {
	defer close(done)

	converted := 0
	for {
		c.mu.Lock()
		if c.stopAll {
			c.mu.Unlock()
			break
		}
		job, ok := c.queue.nextQueued()
		if !ok {
			c.mu.Unlock()
			break
		}
		ctx, cancel := context.WithCancel(context.Background())
		jobDone := make(chan struct{})
		c.cancelJob = cancel
		c.jobDone = jobDone
		c.mu.Unlock()

		status := c.convert(ctx, job, settings)
		cancel()

		c.mu.Lock()
		c.cancelJob = nil
		c.jobDone = nil
		close(jobDone)
		c.mu.Unlock()

		if status == domain.JobStatusDone {
			converted++
		}
	}

	c.mu.Lock()
	natural := !c.stopAll
	c.setStateLocked(domain.StateIdle)
	c.runFinished = c.now()
	c.mu.Unlock()

	c.logger.Info("conversion finished", "converted", converted, "stopped", !natural)
	c.publishState(domain.StateIdle)

	if natural && converted > 0 && settings.ShutdownOnFinish && c.shutdown != nil {
		c.logger.Info("shutting down after conversion")
		if err := c.shutdown(); err != nil {
			c.logger.Error("shutdown failed", "error", err)
			c.publish(Event{Type: EventTypeError, Message: fmt.Sprintf("shutdown failed: %v", err)})
		}
	}
}

// convert runs one task and returns the status it ended in.
func (c *Coordinator) convert(ctx context.Context, job domain.Job, settings domain.Settings) domain.JobStatus {
	start := c.now()
	id := job.ID
	job, err := c.queue.transition(id, domain.JobStatusRunning, func(j *domain.Job) {
		j.StartedAt = start.UTC()
		j.Progress = 0
		j.Position = 0
	})
	if err != nil {
		c.logger.Warn("task vanished before conversion", "job_id", id, "error", err)
		return ""
	}

	cmd, err := encoder.Build(job, encoder.OptionsFromSettings(settings))
	if err != nil {
		return c.finish(job.ID, domain.JobStatusError, err.Error(), start)
	}
	if _, err := c.queue.update(job.ID, func(j *domain.Job) { j.OutputPath = cmd.OutputPath }); err != nil {
		return ""
	}

	c.logger.Info("task started", "job_id", job.ID, "input", job.InputPath, "output", cmd.OutputPath)
	c.publish(Event{
		Type:    EventTypeStatus,
		JobID:   job.ID,
		Status:  domain.JobStatusRunning,
		Command: cmd.String(),
		Output:  cmd.OutputPath,
	})

	parser := encoder.NewTimeParser(job.Duration)
	runErr := encoder.Execute(ctx, c.runner, cmd, parser, func(p encoder.Progress) {
		elapsed := c.now().Sub(start)
		remaining := remainingFor(job.Duration, p.Position, elapsed)
		if _, err := c.queue.update(job.ID, func(j *domain.Job) {
			j.Progress = p.Percent
			j.Position = p.Position
			j.Elapsed = elapsed
			j.Remaining = remaining
		}); err != nil {
			return
		}
		totals := c.Totals()
		c.publish(Event{
			Type:      EventTypeProgress,
			JobID:     job.ID,
			Progress:  p.Percent,
			Remaining: remaining,
			Totals:    &totals,
		})
	})

	var encErr *encoder.EncoderError
	switch {
	case ctx.Err() != nil:
		c.discard(cmd.OutputPath)
		return c.finish(job.ID, domain.JobStatusStopped, "", start)
	case errors.As(runErr, &encErr):
		for _, line := range encErr.Log {
			c.publish(Event{Type: EventTypeLog, JobID: job.ID, Message: line})
		}
		return c.finish(job.ID, domain.JobStatusError, encErr.Error(), start)
	case runErr != nil:
		return c.finish(job.ID, domain.JobStatusError, runErr.Error(), start)
	}

	status := c.finish(job.ID, domain.JobStatusDone, "", start)
	if settings.DeleteInputOnFinish {
		c.discard(job.InputPath)
		if cmd.SubtitlePath != "" {
			c.discard(cmd.SubtitlePath)
		}
	}
	return status
}

// finish moves a running task to its terminal status and records it.
func (c *Coordinator) finish(id string, status domain.JobStatus, message string, start time.Time) domain.JobStatus {
	end := c.now()
	job, err := c.queue.transition(id, status, func(j *domain.Job) {
		j.FinishedAt = end.UTC()
		j.Elapsed = end.Sub(start)
		j.Remaining = 0
		j.Error = message
		if status == domain.JobStatusDone {
			j.Progress = 100
			j.Position = j.Duration
		}
	})
	if err != nil {
		c.logger.Warn("task finished after removal", "job_id", id, "status", status, "error", err)
		return status
	}

	switch status {
	case domain.JobStatusError:
		c.logger.Error("task failed", "job_id", id, "input", job.InputPath, "error", message)
	default:
		c.logger.Info("task finished", "job_id", id, "status", status, "elapsed", job.Elapsed)
	}
	c.publish(Event{Type: EventTypeStatus, JobID: id, Status: status, Message: message, Output: job.OutputPath})

	if c.history != nil {
		if err := c.history.Record(job); err != nil {
			c.logger.Warn("record history failed", "job_id", id, "error", err)
		}
	}
	return status
}

func (c *Coordinator) discard(path string) {
	if path == "" {
		return
	}
	if err := c.removeFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove file failed", "path", path, "error", err)
	}
}

func (c *Coordinator) setStateLocked(next domain.CoordinatorState) {
	if c.state == next {
		return
	}
	if !isValidStateTransition(c.state, next) {
		c.logger.Warn("invalid coordinator transition", "from", c.state, "to", next)
		return
	}
	c.state = next
}

func (c *Coordinator) publishState(state domain.CoordinatorState) {
	totals := c.Totals()
	c.publish(Event{Type: EventTypeState, State: state, Totals: &totals})
}

func (c *Coordinator) publish(e Event) {
	c.bus.Publish(e)
}

// remainingFor extrapolates the time left from the speed observed so far.
func remainingFor(duration, position float64, elapsed time.Duration) time.Duration {
	if position <= 0 || duration <= position {
		return 0
	}
	return time.Duration((duration - position) / position * float64(elapsed))
}
