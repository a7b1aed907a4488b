package matlib

import (
	"fmt"
	"time"
)

// pollLock calls try until it succeeds or timeout elapses, sleeping with
// a doubling delay capped at 100ms between attempts.
func pollLock(timeout time.Duration, try func() error) error {
	deadline := time.Now().Add(timeout)
	delay := 10 * time.Millisecond
	for {
		if try() == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lock timeout after %v", timeout)
		}
		time.Sleep(delay)
		if delay < 100*time.Millisecond {
			delay *= 2
		}
	}
}
