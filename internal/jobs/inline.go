package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Inline runs the first attempt of each submitted task on the caller's
// goroutine. Later attempts are left to whichever long-running process
// resumes the task, so short-lived tools can share task code with the server.
type Inline struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewInline creates an Inline queue.
func NewInline(logger zerolog.Logger) *Inline {
	return &Inline{
		logger: logger.With().Str("component", "inline_tasks").Logger(),
		now:    time.Now,
	}
}

// Submit runs attempt one of task before returning. A failed attempt is
// logged, not returned: the task records its own retry state.
func (q *Inline) Submit(ctx context.Context, task Task, policy RetryPolicy) error {
	q.runAttempt(ctx, task, policy, 1)
	return nil
}

// SubmitAt runs the attempt immediately when it is due and otherwise leaves it
// for a later resume.
func (q *Inline) SubmitAt(task Task, policy RetryPolicy, attempt int, at time.Time) error {
	if attempt < 1 {
		attempt = 1
	}
	if at.After(q.now()) {
		return nil
	}
	q.runAttempt(context.Background(), task, policy, attempt)
	return nil
}

func (q *Inline) runAttempt(ctx context.Context, task Task, policy RetryPolicy, number int) {
	attempt := Attempt{Number: number, Max: policy.maxAttempts()}
	if number < attempt.Max {
		next := q.now().Add(policy.Delay(number))
		attempt.NextRetryAt = &next
	}

	if err := task.Run(ctx, attempt); err != nil {
		q.logger.Warn().
			Err(err).
			Str("task", task.Name()).
			Int("attempt", number).
			Bool("final", attempt.IsFinal()).
			Msg("inline task attempt failed")
	}
}
