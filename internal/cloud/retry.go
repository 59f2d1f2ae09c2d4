package cloud

import (
	"context"
	"fmt"
	"time"
)

// WaitPolicy is a bounded fixed-interval poll.
type WaitPolicy struct {
	Attempts int
	Interval time.Duration
}

// StopWait is the policy for waiting out a stop already in flight before
// issuing a fresh start command.
var StopWait = WaitPolicy{Attempts: 30, Interval: 2 * time.Second}

// Wait polls check until it reports done, the attempts run out, or the
// context is cancelled.
func (p WaitPolicy) Wait(ctx context.Context, check func(context.Context) (bool, error)) error {
	for attempt := 0; attempt < p.Attempts; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}
	return fmt.Errorf("condition not met after %d attempts", p.Attempts)
}
