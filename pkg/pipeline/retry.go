package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/pkg/llm"
)

var errStageTimeout = errors.New("stage timed out")

// withRetry calls fn under the stage timeout and retries transient oracle
// failures after an exponential backoff of BackoffBase * 2^(attempt-1).
func withRetry[T any](ctx context.Context, o *Orchestrator, r *run, stage models.Stage, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		r.result.Attempts[stage] = attempt

		callCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
		v, err := fn(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if timedOut && !llm.IsRetryable(err) {
			err = &llm.OracleError{Kind: llm.KindTimeout, Msg: fmt.Sprintf("%s exceeded %s", stage, o.config.StageTimeout), Err: errors.Join(errStageTimeout, err)}
		}
		if !llm.IsRetryable(err) || attempt > o.config.MaxRetries {
			return zero, err
		}

		backoff := o.config.BackoffBase << (attempt - 1)
		r.logger.Warn().
			Err(err).
			Str("stage", string(stage)).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Retrying stage")

		if err := sleep(ctx, backoff); err != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
