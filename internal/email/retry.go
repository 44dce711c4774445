package email

import (
	"context"
	"fmt"
	"time"
)

// RetryingSender retries a failed send with backoff. It stops early when
// the context is done.
type RetryingSender struct {
	next     Sender
	backoffs []time.Duration
}

func NewRetryingSender(next Sender, backoffs ...time.Duration) *RetryingSender {
	if len(backoffs) == 0 {
		backoffs = []time.Duration{1 * time.Second, 2 * time.Second}
	}
	return &RetryingSender{next: next, backoffs: backoffs}
}

func (r *RetryingSender) Send(ctx context.Context, msg Message) error {
	attempts := len(r.backoffs) + 1

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = r.next.Send(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("send aborted after %d attempts: %w", i+1, lastErr)
		case <-time.After(r.backoffs[i]):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
