// Package jobs provides a generic retrying task runner for background work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrRunnerStopped is returned when a task is submitted to a stopped runner.
var ErrRunnerStopped = errors.New("task runner stopped")

// Task is a unit of retryable background work. Run is called once per attempt;
// returning an error schedules the next attempt according to the task's policy.
type Task interface {
	Name() string
	Run(ctx context.Context, attempt Attempt) error
}

// Attempt describes the attempt being run.
type Attempt struct {
	// Number is 1-based.
	Number int
	Max    int
	// NextRetryAt is when the runner will retry if this attempt fails, or nil
	// when this is the final attempt.
	NextRetryAt *time.Time
}

// IsFinal reports whether a failure of this attempt is terminal.
func (a Attempt) IsFinal() bool {
	return a.NextRetryAt == nil
}

// RetryPolicy bounds retries of one task.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff[i] is the delay before attempt i+2. The last entry repeats.
	Backoff []time.Duration
}

// DefaultRetryPolicy returns three attempts spaced 1, 5 and 15 minutes apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
	}
}

// Delay returns the wait after the given failed attempt.
func (p RetryPolicy) Delay(failedAttempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := failedAttempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the runner does not retry the task.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Config holds configuration for the runner.
type Config struct {
	// Workers is the number of tasks run concurrently.
	Workers int
	// QueueSize bounds tasks waiting for a worker.
	QueueSize int
	// TaskTimeout bounds a single attempt.
	TaskTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     5,
		QueueSize:   1000,
		TaskTimeout: 2 * time.Minute,
	}
}

type job struct {
	task    Task
	policy  RetryPolicy
	attempt int
}

// Runner executes tasks on a worker pool and owns their retry scheduling.
// Delayed retries live in memory; callers that need durability persist their
// own state and resubmit with SubmitAt after a restart.
type Runner struct {
	config Config
	logger zerolog.Logger
	queue  chan job
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	timers  map[*time.Timer]struct{}
	wg      sync.WaitGroup
}

// NewRunner creates a task runner. Call Start before submitting tasks.
func NewRunner(config Config, logger zerolog.Logger) *Runner {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	return &Runner{
		config: config,
		logger: logger.With().Str("component", "task_runner").Logger(),
		queue:  make(chan job, config.QueueSize),
		now:    time.Now,
		stopCh: make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Start launches the workers. Tasks run with ctx as their parent context.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("task runner already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.logger.Info().Int("workers", r.config.Workers).Msg("starting task runner")
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	return nil
}

// Stop cancels pending retries and waits for in-flight attempts to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	for t := range r.timers {
		t.Stop()
	}
	pending := len(r.timers)
	r.timers = make(map[*time.Timer]struct{})
	r.mu.Unlock()

	r.logger.Info().Int("dropped_retries", pending).Msg("stopping task runner")
	r.wg.Wait()
	r.logger.Info().Msg("task runner stopped")
}

// Submit queues the first attempt of task.
func (r *Runner) Submit(ctx context.Context, task Task, policy RetryPolicy) error {
	stopCh, ok := r.stopChannel()
	if !ok {
		return ErrRunnerStopped
	}
	select {
	case r.queue <- job{task: task, policy: policy, attempt: 1}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return ErrRunnerStopped
	}
}

// SubmitAt schedules attempt number attempt of task to run at the given time.
// It is used to resume tasks whose earlier attempts ran before a restart.
func (r *Runner) SubmitAt(task Task, policy RetryPolicy, attempt int, at time.Time) error {
	if attempt < 1 {
		attempt = 1
	}
	if !r.schedule(job{task: task, policy: policy, attempt: attempt}, at.Sub(r.now())) {
		return ErrRunnerStopped
	}
	return nil
}

func (r *Runner) stopChannel() (chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopCh, r.running
}

func (r *Runner) schedule(j job, delay time.Duration) bool {
	if delay < 0 {
		delay = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	stopCh := r.stopCh

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, t)
		r.mu.Unlock()

		select {
		case r.queue <- j:
		case <-stopCh:
		}
	})
	r.timers[t] = struct{}{}
	return true
}

func (r *Runner) worker(ctx context.Context, id int) {
	defer r.wg.Done()

	r.mu.Lock()
	stopCh := r.stopCh
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-r.queue:
			r.run(ctx, j)
		}
	}
}

func (r *Runner) run(ctx context.Context, j job) {
	maxAttempts := j.policy.maxAttempts()
	attempt := Attempt{Number: j.attempt, Max: maxAttempts}
	var delay time.Duration
	if j.attempt < maxAttempts {
		delay = j.policy.Delay(j.attempt)
		next := r.now().Add(delay)
		attempt.NextRetryAt = &next
	}

	logger := r.logger.With().
		Str("task", j.task.Name()).
		Int("attempt", attempt.Number).
		Int("max_attempts", maxAttempts).
		Logger()

	runCtx := ctx
	if r.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.TaskTimeout)
		defer cancel()
	}

	err := j.task.Run(runCtx, attempt)
	switch {
	case err == nil:
		logger.Debug().Msg("task completed")
	case IsPermanent(err):
		logger.Error().Err(err).Msg("task failed permanently")
	case attempt.IsFinal():
		logger.Error().Err(err).Msg("task failed, retries exhausted")
	default:
		logger.Warn().Err(err).Time("next_retry_at", *attempt.NextRetryAt).Msg("task failed, scheduling retry")
		next := j
		next.attempt++
		if !r.schedule(next, delay) {
			logger.Warn().Msg("runner stopped, retry dropped")
		}
	}
}
