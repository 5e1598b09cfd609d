// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// retryWithBackoff runs op up to maxAttempts times, sleeping baseBackoff,
// then twice that, and so on between attempts. The sleep is abandoned as
// soon as ctx is done.
//
// op returns (retry, err). A nil err ends the loop successfully; a non-nil
// err with retry false is returned immediately. When attempts run out the
// last error is returned.
func retryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			timer := time.NewTimer(baseBackoff << (attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-timer.C:
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// isTransientQueryError reports whether a failed engine query is worth
// repeating. The engine ran but exited non-zero, which happens while its
// storage is locked by a concurrent operation. A missing binary is not
// transient.
func isTransientQueryError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
