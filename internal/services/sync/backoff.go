package sync

import (
	"context"
	"time"

	"github.com/versofin/verso/internal/models"
)

// retryTransient runs fetch up to maxRetries times. Only transient provider
// errors (rate limit, timeout) are retried, with exponential backoff; auth
// errors and outages return immediately.
func (s *Service) retryTransient(ctx context.Context, fetch func() ([]*models.ProviderHolding, error)) ([]*models.ProviderHolding, error) {
	backoff := s.retryBase
	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		holdings, err := fetch()
		if err == nil {
			return holdings, nil
		}
		lastErr = err

		if !models.IsProviderTransient(err) {
			return nil, err
		}
		if attempt == s.maxRetries {
			break
		}

		s.logger.Debug().
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("Transient provider error, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, lastErr
}
