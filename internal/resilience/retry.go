package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// Attempts is the total number of tries, including the first. Default: 3.
	Attempts int

	// Initial is the delay before the second attempt. Default: 250ms.
	Initial time.Duration

	// Max caps the delay between attempts. Default: 5s.
	Max time.Duration

	// Multiplier scales the delay after each failed attempt. Default: 2.
	Multiplier float64
}

// Retry runs fn up to cfg.Attempts times, sleeping with exponential backoff
// between failures. The delay starts at cfg.Initial and is multiplied by
// cfg.Multiplier after each attempt, capped at cfg.Max. Backoff is
// deterministic; the operations wrapped here (device reopen, engine re-init)
// have a single caller each, so there is no thundering herd to jitter away.
//
// Retry returns nil as soon as fn succeeds. If ctx is cancelled while waiting
// between attempts, the context error is returned. Once all attempts are
// exhausted the last error is returned wrapped with the operation name.
func Retry(ctx context.Context, cfg RetryConfig, name string, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Initial <= 0 {
		cfg.Initial = 250 * time.Millisecond
	}
	if cfg.Max <= 0 {
		cfg.Max = 5 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}

	delay := cfg.Initial
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}

		slog.Warn("operation failed, backing off",
			"name", name,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.Max {
			delay = cfg.Max
		}
	}
	return fmt.Errorf("%s: %w (after %d attempts)", name, lastErr, cfg.Attempts)
}
