package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"videomorph/internal/domain"
	"videomorph/internal/probe"
)

var (
	// ErrJobNotFound is returned for unknown task ids.
	ErrJobNotFound = errors.New("task not found")
	// ErrJobRunning is returned when mutating the task being converted.
	ErrJobRunning = errors.New("task is being converted")
	// ErrDuplicateJob is returned when the same file and quality are queued twice.
	ErrDuplicateJob = errors.New("task already in the list")
	// ErrInvalidTransition is returned for status changes the state machine forbids.
	ErrInvalidTransition = errors.New("invalid task transition")
)

const probeWorkers = 4

// Rejection records why one path of a batch add was not queued.
type Rejection struct {
	Path  string `json:"path"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// Queue is the ordered task list. Status changes follow the job state machine.
type Queue struct {
	mu     sync.RWMutex
	jobs   []domain.Job
	prober probe.Prober
	newID  func() string
	now    func() time.Time
	emit   func(Event)
}

// NewQueue creates an empty queue that probes files with prober.
func NewQueue(prober probe.Prober) *Queue {
	return &Queue{
		prober: prober,
		newID:  uuid.NewString,
		now:    time.Now,
		emit:   func(Event) {},
	}
}

// Add probes path and appends a queued task for profile.
func (q *Queue) Add(ctx context.Context, path string, profile domain.Profile) (domain.Job, error) {
	path = strings.TrimSpace(path)
	info, err := q.prober.Probe(ctx, path)
	if err != nil {
		return domain.Job{}, err
	}

	q.mu.Lock()
	job, err := q.insertLocked(path, profile, info)
	q.mu.Unlock()
	if err != nil {
		return domain.Job{}, err
	}

	q.emit(Event{Type: EventTypeQueue, JobID: job.ID, Status: job.Status, Message: "added"})
	return job, nil
}

// AddMany probes paths concurrently and queues them in input order.
func (q *Queue) AddMany(ctx context.Context, paths []string, profile domain.Profile) ([]domain.Job, []Rejection) {
	infos := make([]domain.MediaInfo, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeWorkers)
	for i, path := range paths {
		g.Go(func() error {
			infos[i], errs[i] = q.prober.Probe(gctx, strings.TrimSpace(path))
			return nil
		})
	}
	_ = g.Wait()

	var added []domain.Job
	var rejected []Rejection
	q.mu.Lock()
	for i, path := range paths {
		err := errs[i]
		if err == nil {
			var job domain.Job
			job, err = q.insertLocked(strings.TrimSpace(path), profile, infos[i])
			if err == nil {
				added = append(added, job)
				continue
			}
		}
		rejected = append(rejected, Rejection{Path: path, Error: err.Error(), Err: err})
	}
	q.mu.Unlock()

	for _, job := range added {
		q.emit(Event{Type: EventTypeQueue, JobID: job.ID, Status: job.Status, Message: "added"})
	}
	return added, rejected
}

// Remove deletes a non-running task.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if q.jobs[idx].Status == domain.JobStatusRunning {
		q.mu.Unlock()
		return ErrJobRunning
	}
	q.jobs = append(q.jobs[:idx], q.jobs[idx+1:]...)
	q.mu.Unlock()

	q.emit(Event{Type: EventTypeQueue, JobID: id, Message: "removed"})
	return nil
}

// Clear removes every task that is not running and returns how many went.
func (q *Queue) Clear() int {
	q.mu.Lock()
	kept := lo.Filter(q.jobs, func(j domain.Job, _ int) bool { return j.Status == domain.JobStatusRunning })
	removed := len(q.jobs) - len(kept)
	q.jobs = kept
	q.mu.Unlock()

	if removed > 0 {
		q.emit(Event{Type: EventTypeQueue, Message: fmt.Sprintf("cleared %d", removed)})
	}
	return removed
}

// SetProfile changes the target profile of a non-running task and queues it again.
func (q *Queue) SetProfile(id string, profile domain.Profile) (domain.Job, error) {
	job, err := q.mutate(id, func(j *domain.Job) error {
		if j.Status == domain.JobStatusRunning {
			return ErrJobRunning
		}
		if q.duplicateLocked(j.InputPath, profile.Quality, j.ID) {
			return fmt.Errorf("%w: %s (%s)", ErrDuplicateJob, j.InputPath, profile.Quality)
		}
		j.Profile = profile
		resetJob(j)
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	q.emit(Event{Type: EventTypeQueue, JobID: id, Status: job.Status, Message: "profile changed"})
	return job, nil
}

// Requeue puts a finished, failed or stopped task back in the queue.
func (q *Queue) Requeue(id string) (domain.Job, error) {
	job, err := q.mutate(id, func(j *domain.Job) error {
		if j.Status == domain.JobStatusRunning {
			return ErrJobRunning
		}
		if !isValidTransition(j.Status, domain.JobStatusQueued) {
			return fmt.Errorf("%w: cannot requeue %s task", ErrInvalidTransition, j.Status)
		}
		resetJob(j)
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	q.emit(Event{Type: EventTypeStatus, JobID: id, Status: job.Status})
	return job, nil
}

// List returns a snapshot in insertion order.
func (q *Queue) List() []domain.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]domain.Job(nil), q.jobs...)
}

// Get returns one task by id.
func (q *Queue) Get(id string) (domain.Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return q.jobs[idx], nil
}

// nextQueued returns the first queued task in list order.
func (q *Queue) nextQueued() (domain.Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return lo.Find(q.jobs, func(j domain.Job) bool { return j.Status == domain.JobStatusQueued })
}

// transition moves a task to status after validating the edge, then applies fn.
func (q *Queue) transition(id string, status domain.JobStatus, fn func(j *domain.Job)) (domain.Job, error) {
	return q.mutate(id, func(j *domain.Job) error {
		if j.Status != status && !isValidTransition(j.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
		}
		j.Status = status
		if fn != nil {
			fn(j)
		}
		return nil
	})
}

// update applies fn to a task without changing its status.
func (q *Queue) update(id string, fn func(j *domain.Job)) (domain.Job, error) {
	return q.mutate(id, func(j *domain.Job) error {
		fn(j)
		return nil
	})
}

func (q *Queue) mutate(id string, fn func(j *domain.Job) error) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job := q.jobs[idx]
	if err := fn(&job); err != nil {
		return domain.Job{}, err
	}
	q.jobs[idx] = job
	return job, nil
}

func (q *Queue) insertLocked(path string, profile domain.Profile, info domain.MediaInfo) (domain.Job, error) {
	if q.duplicateLocked(path, profile.Quality, "") {
		return domain.Job{}, fmt.Errorf("%w: %s (%s)", ErrDuplicateJob, path, profile.Quality)
	}
	job := domain.Job{
		ID:        q.newID(),
		InputPath: path,
		Profile:   profile,
		Duration:  info.Duration,
		Status:    domain.JobStatusQueued,
		CreatedAt: q.now().UTC(),
	}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *Queue) duplicateLocked(path, quality, skipID string) bool {
	return lo.ContainsBy(q.jobs, func(j domain.Job) bool {
		return j.ID != skipID && j.InputPath == path && j.Profile.Quality == quality
	})
}

func (q *Queue) indexLocked(id string) int {
	_, idx, ok := lo.FindIndexOf(q.jobs, func(j domain.Job) bool { return j.ID == id })
	if !ok {
		return -1
	}
	return idx
}

// resetJob clears run results so the task can be converted again.
func resetJob(j *domain.Job) {
	j.Status = domain.JobStatusQueued
	j.OutputPath = ""
	j.Progress = 0
	j.Position = 0
	j.Elapsed = 0
	j.Remaining = 0
	j.Error = ""
	j.StartedAt = time.Time{}
	j.FinishedAt = time.Time{}
}
