package analyzer

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
)

// autoRestart attempts to bring a crashed analyzer back with exponential
// backoff. It runs only when the restart policy is enabled; the default
// behavior after an unexpected exit is to stay inactive until the host
// explicitly starts again. Each attempt re-runs the full start path,
// including binary resolution.
func (s *Supervisor) autoRestart() {
	policy := s.config.Restart

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialBackoff
	bo.MaxInterval = policy.MaxBackoff
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		if State(s.state.Load()) != StateInactive {
			// Someone else brought it back (or is stopping it); either
			// way this restart loop is done.
			return nil
		}
		attempt++
		restartsTotal.Inc()
		s.log.Info("restarting analyzer after unexpected exit", "attempt", attempt)

		err := s.Start(context.Background())
		if err == nil || errors.Is(err, ErrAlreadyRunning) {
			return nil
		}
		s.log.Warn("analyzer restart attempt failed", "attempt", attempt, "err", err)
		return err
	}

	if err := backoff.Retry(op, backoff.WithMaxRetries(bo, uint64(policy.MaxAttempts))); err != nil {
		s.log.Error("analyzer restart attempts exhausted", "attempts", attempt, "err", err)
	}
}
