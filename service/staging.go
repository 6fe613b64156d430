package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"regjournal/rollback"
)

var ErrStagingUnavailable = errors.New("service: staging directory unavailable")

// StagingGuard waits for dir to be reachable before each rollback step.
// It checks up to attempts times, sleeping interval in between, and gives
// up with ErrStagingUnavailable.
func StagingGuard(dir string, attempts int, interval time.Duration, log *slog.Logger) rollback.Guard {
	if attempts < 1 {
		attempts = 1
	}
	return func(ctx context.Context, s *rollback.Stack) error {
		for i := 1; ; i++ {
			info, err := os.Stat(dir)
			if err == nil && info.IsDir() {
				return nil
			}
			if i >= attempts {
				return fmt.Errorf("%w: %s", ErrStagingUnavailable, dir)
			}
			log.Warn("staging directory not accessible, waiting",
				"dir", dir, "attempt", i, "journal", s.PrimaryPath())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
}
