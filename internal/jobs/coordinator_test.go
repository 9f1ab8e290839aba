package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"videomorph/internal/diagnostics"
	"videomorph/internal/domain"
	"videomorph/internal/encoder"
)

// script describes how the fake encoder behaves for one input.
type script struct {
	lines  []string
	err    error
	block  bool
	output bool
}

// scriptedRunner plays back scripts keyed by input path.
type scriptedRunner struct {
	mu      sync.Mutex
	scripts map[string]script
	order   []string
	started chan string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{scripts: map[string]script{}, started: make(chan string, 16)}
}

func (r *scriptedRunner) on(input string, s script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[input] = s
}

func (r *scriptedRunner) Run(ctx context.Context, cmd encoder.Command, onLine func(string)) error {
	input := cmd.Args[1]
	r.mu.Lock()
	s := r.scripts[input]
	r.order = append(r.order, input)
	r.mu.Unlock()

	if s.output {
		_ = os.WriteFile(cmd.OutputPath, []byte("partial"), 0o644)
	}
	for _, line := range s.lines {
		onLine(line)
	}
	r.started <- input
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func (r *scriptedRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return "exit status" }
func (e exitCodeError) ExitCode() int { return e.code }

type memoryHistory struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (h *memoryHistory) Record(job domain.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	return nil
}

type fixture struct {
	prober    *fakeProber
	runner    *scriptedRunner
	history   *memoryHistory
	coord     *Coordinator
	inputDir  string
	settings  domain.Settings
	shutdowns int
}

func newFixture(t *testing.T, mutate func(*domain.Settings)) *fixture {
	t.Helper()
	f := &fixture{
		prober:   newFakeProber(),
		runner:   newScriptedRunner(),
		history:  &memoryHistory{},
		inputDir: t.TempDir(),
		settings: domain.Settings{OutputDir: t.TempDir(), Encoder: domain.EncoderFFmpeg},
	}
	if mutate != nil {
		mutate(&f.settings)
	}
	f.coord = NewCoordinator(CoordinatorConfig{
		Queue:    NewQueue(f.prober),
		Runner:   f.runner,
		Settings: func() domain.Settings { return f.settings },
		Shutdown: func() error {
			f.shutdowns++
			return nil
		},
		History: f.history,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) add(t *testing.T, name string, duration float64, s script) domain.Job {
	t.Helper()
	path := mediaFile(t, f.prober, f.inputDir, name, duration)
	f.runner.on(path, s)
	job, err := f.coord.Queue().Add(context.Background(), path, mp4)
	if err != nil {
		t.Fatalf("Add(%s) error = %v", name, err)
	}
	return job
}

func (f *fixture) status(t *testing.T, id string) domain.Job {
	t.Helper()
	job, err := f.coord.Queue().Get(id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return job
}

func waitStarted(t *testing.T, r *scriptedRunner, want string) {
	t.Helper()
	select {
	case got := <-r.started:
		if got != want {
			t.Fatalf("started %s, want %s", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

// TestCoordinatorDrainsQueueInOrder checks a clean run end to end.
func TestCoordinatorDrainsQueueInOrder(t *testing.T) {
	f := newFixture(t, nil)
	a := f.add(t, "a.avi", 10, script{lines: []string{"time=00:00:05.00", "time=00:00:10.00"}})
	b := f.add(t, "b.avi", 20, script{lines: []string{"time=00:00:20.00"}})

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.coord.Wait()

	if got := f.runner.ran(); len(got) != 2 || got[0] != a.InputPath || got[1] != b.InputPath {
		t.Fatalf("run order = %v", got)
	}
	for _, id := range []string{a.ID, b.ID} {
		job := f.status(t, id)
		if job.Status != domain.JobStatusDone || job.Progress != 100 {
			t.Fatalf("job = %+v", job)
		}
		if !strings.HasPrefix(job.OutputPath, f.settings.OutputDir) {
			t.Fatalf("output = %q", job.OutputPath)
		}
	}
	if f.coord.State() != domain.StateIdle {
		t.Fatalf("state = %s", f.coord.State())
	}
	totals := f.coord.Totals()
	if totals.Progress != 100 || totals.Done != 2 || totals.Remaining != 0 {
		t.Fatalf("totals = %+v", totals)
	}
	if len(f.history.jobs) != 2 {
		t.Fatalf("history = %d", len(f.history.jobs))
	}
	if _, err := os.Stat(a.InputPath); err != nil {
		t.Fatalf("input must be kept by default: %v", err)
	}

	var progress, states int
	for _, e := range f.coord.Events(0) {
		switch e.Type {
		case EventTypeProgress:
			progress++
		case EventTypeState:
			states++
		}
	}
	if progress != 3 || states != 2 {
		t.Fatalf("progress events = %d, state events = %d", progress, states)
	}
}

// TestCoordinatorContinuesAfterError checks one failure does not stop the run.
func TestCoordinatorContinuesAfterError(t *testing.T) {
	f := newFixture(t, nil)
	bad := f.add(t, "bad.avi", 10, script{
		lines: []string{"Unknown encoder 'libx264'"},
		err:   exitCodeError{code: 1},
	})
	good := f.add(t, "good.avi", 10, script{})

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.coord.Wait()

	failed := f.status(t, bad.ID)
	if failed.Status != domain.JobStatusError {
		t.Fatalf("status = %s", failed.Status)
	}
	if failed.Error != "Conversion Library has Failed with Error: Unknown encoder 'libx264'" {
		t.Fatalf("error = %q", failed.Error)
	}
	if f.status(t, good.ID).Status != domain.JobStatusDone {
		t.Fatal("next task should still convert")
	}
	if totals := f.coord.Totals(); totals.Failed != 1 || totals.Done != 1 {
		t.Fatalf("totals = %+v", totals)
	}
}

// TestCoordinatorStopMarksTaskStopped checks Stop blocks and continues the run.
func TestCoordinatorStopMarksTaskStopped(t *testing.T) {
	f := newFixture(t, nil)
	slow := f.add(t, "slow.avi", 100, script{lines: []string{"time=00:00:10.00"}, block: true, output: true})
	next := f.add(t, "next.avi", 10, script{})

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitStarted(t, f.runner, slow.InputPath)

	running := f.status(t, slow.ID)
	if running.Status != domain.JobStatusRunning || running.Progress != 10 {
		t.Fatalf("running job = %+v", running)
	}

	if err := f.coord.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	stopped := f.status(t, slow.ID)
	if stopped.Status != domain.JobStatusStopped {
		t.Fatalf("status after Stop = %s", stopped.Status)
	}
	if _, err := os.Stat(stopped.OutputPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial output should be removed, stat err = %v", err)
	}

	f.coord.Wait()
	if f.status(t, next.ID).Status != domain.JobStatusDone {
		t.Fatal("draining should continue after Stop")
	}
	if err := f.coord.Stop(); !errors.Is(err, ErrNoRunningJob) {
		t.Fatalf("error = %v, want %v", err, ErrNoRunningJob)
	}
}

// TestCoordinatorStopAllKeepsQueue checks remaining tasks survive for a resume.
func TestCoordinatorStopAllKeepsQueue(t *testing.T) {
	f := newFixture(t, func(s *domain.Settings) { s.ShutdownOnFinish = true })
	first := f.add(t, "1.avi", 10, script{block: true})
	second := f.add(t, "2.avi", 10, script{})

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitStarted(t, f.runner, first.InputPath)
	if err := f.coord.Start(); !errors.Is(err, ErrAlreadyConverting) {
		t.Fatalf("error = %v, want %v", err, ErrAlreadyConverting)
	}

	if err := f.coord.StopAll(); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
	if f.coord.State() != domain.StateIdle {
		t.Fatalf("state = %s", f.coord.State())
	}
	if f.status(t, first.ID).Status != domain.JobStatusStopped {
		t.Fatal("running task should be stopped")
	}
	if f.status(t, second.ID).Status != domain.JobStatusQueued {
		t.Fatal("pending task should stay queued")
	}
	if f.shutdowns != 0 {
		t.Fatal("stop all must not shut the machine down")
	}

	if err := f.coord.Start(); err != nil {
		t.Fatalf("resume Start() error = %v", err)
	}
	f.coord.Wait()
	if f.status(t, second.ID).Status != domain.JobStatusDone {
		t.Fatal("resume should convert the next queued task")
	}
	if f.shutdowns != 1 {
		t.Fatalf("shutdowns = %d, want 1", f.shutdowns)
	}
}

// TestCoordinatorStartPreconditions checks errors that keep the coordinator idle.
func TestCoordinatorStartPreconditions(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.coord.Start(); !errors.Is(err, ErrNothingQueued) {
		t.Fatalf("error = %v, want %v", err, ErrNothingQueued)
	}
	if err := f.coord.StopAll(); !errors.Is(err, ErrNoRunningJob) {
		t.Fatalf("error = %v, want %v", err, ErrNoRunningJob)
	}

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.settings.OutputDir = filepath.Join(blocker, "out")
	f.add(t, "a.avi", 10, script{})

	if err := f.coord.Start(); !errors.Is(err, diagnostics.ErrDirectoryNotWritable) {
		t.Fatalf("error = %v, want %v", err, diagnostics.ErrDirectoryNotWritable)
	}
	if f.coord.State() != domain.StateIdle {
		t.Fatalf("state = %s", f.coord.State())
	}
}

// TestCoordinatorDeletesInputOnFinish checks cleanup of sources and subtitles.
func TestCoordinatorDeletesInputOnFinish(t *testing.T) {
	f := newFixture(t, func(s *domain.Settings) {
		s.DeleteInputOnFinish = true
		s.InsertSubtitles = true
	})
	job := f.add(t, "movie.avi", 10, script{})
	subtitle := filepath.Join(f.inputDir, "movie.srt")
	if err := os.WriteFile(subtitle, []byte("1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	failed := f.add(t, "broken.avi", 10, script{err: exitCodeError{code: 1}})

	if err := f.coord.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.coord.Wait()

	for _, p := range []string{job.InputPath, subtitle} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s should be deleted", p)
		}
	}
	if _, err := os.Stat(failed.InputPath); err != nil {
		t.Fatalf("failed input must be kept: %v", err)
	}
}

// TestCoordinatorTotalsWeightsByDuration checks the aggregate percentage.
func TestCoordinatorTotalsWeightsByDuration(t *testing.T) {
	f := newFixture(t, nil)
	done := f.add(t, "done.avi", 10, script{})
	half := f.add(t, "half.avi", 5, script{})
	failed := f.add(t, "failed.avi", 50, script{})

	q := f.coord.Queue()
	_, _ = q.transition(done.ID, domain.JobStatusRunning, nil)
	_, _ = q.transition(done.ID, domain.JobStatusDone, nil)
	_, _ = q.transition(half.ID, domain.JobStatusRunning, func(j *domain.Job) {
		j.Progress = 50
		j.Position = 2.5
	})
	_, _ = q.transition(failed.ID, domain.JobStatusRunning, nil)
	_, _ = q.transition(failed.ID, domain.JobStatusError, nil)

	totals := f.coord.Totals()
	want := (10*100 + 5*50) / 15.0
	if math.Abs(totals.Progress-want) > 1e-9 {
		t.Fatalf("progress = %v, want %v", totals.Progress, want)
	}
	if totals.Done != 1 || totals.Running != 1 || totals.Failed != 1 {
		t.Fatalf("totals = %+v", totals)
	}
}

// TestRemainingFor checks per-task time left extrapolation.
func TestRemainingFor(t *testing.T) {
	if got := remainingFor(100, 25, 10*time.Second); got != 30*time.Second {
		t.Fatalf("remaining = %s, want 30s", got)
	}
	if got := remainingFor(100, 0, time.Second); got != 0 {
		t.Fatalf("remaining without progress = %s", got)
	}
}
